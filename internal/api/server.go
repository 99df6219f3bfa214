package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"notisync/internal/inbox"
	"notisync/internal/notification"
	"notisync/internal/prefs"
	logx "notisync/pkg/logx"
)

// Inbox is the read/write surface the API exposes.
type Inbox interface {
	Notifications() []notification.Notification
	All() []notification.Notification
	ByCategory(notification.Category) []notification.Notification
	UnreadCount() int
	Status() inbox.Status
	Refresh(ctx context.Context) error
	MarkRead(id string) bool
	MarkAllRead() int
}

// Preferences is the preference surface the API exposes.
type Preferences interface {
	Get() prefs.Prefs
	Set(ctx context.Context, partial prefs.Prefs) (prefs.Prefs, error)
	SoundEnabled() bool
	SetSoundEnabled(ctx context.Context, enabled bool) error
}

type Server struct {
	inbox Inbox
	prefs Preferences
	log   logx.Logger

	engine *gin.Engine
}

func NewServer(ib Inbox, p Preferences, log logx.Logger, opts ...ServerOption) *Server {
	s := &Server{inbox: ib, prefs: p, log: log.With(logx.String("comp", "api"))}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	v1 := r.Group("/v1")
	{
		v1.GET("/notifications", s.listNotifications)
		v1.POST("/notifications/read-all", s.markAllRead)
		v1.POST("/notifications/:id/read", s.markRead)
		v1.GET("/unread-count", s.unreadCount)
		v1.GET("/status", s.status)
		v1.POST("/refresh", s.refresh)
		v1.GET("/preferences", s.getPreferences)
		v1.PATCH("/preferences", s.patchPreferences)
		v1.GET("/sound", s.getSound)
		v1.PUT("/sound", s.putSound)
	}
	for _, o := range opts {
		o(s, r)
	}
	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("api listening", logx.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	<-errCh
	return nil
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("api request",
			logx.String("method", c.Request.Method),
			logx.String("path", c.FullPath()),
			logx.Int("status", c.Writer.Status()),
			logx.Duration("took", time.Since(start)),
		)
	}
}

func (s *Server) listNotifications(c *gin.Context) {
	var list []notification.Notification
	switch {
	case c.Query("category") != "":
		cat, ok := notification.ParseCategory(c.Query("category"))
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown category"})
			return
		}
		list = s.inbox.ByCategory(cat)
	case truthy(c.Query("all")):
		list = s.inbox.All()
	default:
		list = s.inbox.Notifications()
	}
	if list == nil {
		list = []notification.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"data": list})
}

func (s *Server) unreadCount(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"count": s.inbox.UnreadCount()})
}

func (s *Server) status(c *gin.Context) {
	st := s.inbox.Status()
	c.JSON(http.StatusOK, gin.H{
		"data":          st,
		"sound_enabled": s.prefs.SoundEnabled(),
	})
}

func (s *Server) refresh(c *gin.Context) {
	if err := s.inbox.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"count": s.inbox.UnreadCount()})
}

func (s *Server) markRead(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing id"})
		return
	}
	changed := s.inbox.MarkRead(id)
	c.JSON(http.StatusOK, gin.H{"changed": changed, "count": s.inbox.UnreadCount()})
}

func (s *Server) markAllRead(c *gin.Context) {
	n := s.inbox.MarkAllRead()
	c.JSON(http.StatusOK, gin.H{"changed": n, "count": s.inbox.UnreadCount()})
}

func (s *Server) getPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.prefs.Get(), "keys": notification.PrefKeys})
}

func (s *Server) patchPreferences(c *gin.Context) {
	var partial map[string]bool
	if err := c.ShouldBindJSON(&partial); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "body must be an object of booleans"})
		return
	}
	for k := range partial {
		if !knownPrefKey(k) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown preference " + strconv.Quote(k)})
			return
		}
	}
	out, err := s.prefs.Set(c.Request.Context(), prefs.Prefs(partial))
	if err != nil {
		// Applied in-process but not persisted.
		c.JSON(http.StatusOK, gin.H{"data": out, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": out})
}

func (s *Server) getSound(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": s.prefs.SoundEnabled()})
}

type soundRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) putSound(c *gin.Context) {
	var req soundRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": `body must be {"enabled": bool}`})
		return
	}
	if err := s.prefs.SetSoundEnabled(c.Request.Context(), *req.Enabled); err != nil {
		c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled, "warning": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": *req.Enabled})
}

func knownPrefKey(k string) bool {
	for _, key := range notification.PrefKeys {
		if key == k {
			return true
		}
	}
	return false
}

func truthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
