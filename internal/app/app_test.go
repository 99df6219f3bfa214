package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"notisync/internal/notification"
)

type fakeServer struct {
	mu    sync.Mutex
	items []map[string]any
	reads []string
	gets  atomic.Int64
}

func (f *fakeServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/notifications", func(w http.ResponseWriter, r *http.Request) {
		f.gets.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.URL.Query().Get("offset") != "0" && r.URL.Query().Get("offset") != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": f.items})
	})
	mux.HandleFunc("/notifications/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		f.mu.Lock()
		f.reads = append(f.reads, strings.TrimPrefix(r.URL.Path, "/notifications/"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	return mux
}

func (f *fakeServer) readCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.reads...)
}

type countingCue struct{ n atomic.Int64 }

func (c *countingCue) Play(context.Context) error { c.n.Add(1); return nil }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func writeConfig(t *testing.T, path, baseURL, fast, triggerRate string) {
	t.Helper()
	body := `user_id: u-1
logging:
  level: error
  console: true
feed:
  base_url: ` + baseURL + `
  token: t0ken
push:
  transport: none
poll:
  fast_interval: ` + fast + `
  slow_interval: 1m
  trigger_rate: ` + triggerRate + `
storage:
  driver: memory
sound:
  cue: none
api:
  enabled: true
  addr: 127.0.0.1:0
consumers: 2
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestAppEndToEnd(t *testing.T) {
	gin.SetMode(gin.TestMode)
	now := time.Now().UTC()
	fs := &fakeServer{items: []map[string]any{
		{"id": "n1", "type": notification.TypeOrderApproved, "title": "Approved", "created_at": now.Format(time.RFC3339)},
		{"id": "n2", "type": notification.TypeCollabMessage, "title": "Hi", "created_at": now.Add(-time.Minute).Format(time.RFC3339)},
	}}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	cfgPath := filepath.Join(t.TempDir(), "notisync.yaml")
	writeConfig(t, cfgPath, srv.URL, "10s", "1")

	cue := &countingCue{}
	a, err := New(cfgPath, WithCue(cue))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer func() { _ = a.Stop(context.Background(), StopAppStop) }()

	inboxes := a.Inboxes()
	if len(inboxes) != 2 {
		t.Fatalf("inboxes = %d", len(inboxes))
	}
	if refs := a.Registry().Refs("u-1"); refs != 2 {
		t.Fatalf("registry refs = %d, want 2", refs)
	}
	for _, ib := range inboxes {
		ib := ib
		waitFor(t, "first fetch", func() bool { return len(ib.All()) == 2 })
	}
	if cue.n.Load() != 0 {
		t.Fatalf("cold start played %d cues", cue.n.Load())
	}

	// API is wired to the first inbox.
	rec := httptest.NewRecorder()
	a.API().Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/notifications/n1/read", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("mark read via api: %d %s", rec.Code, rec.Body.String())
	}
	waitFor(t, "server read call", func() bool {
		calls := fs.readCalls()
		return len(calls) == 1 && calls[0] == "n1/read"
	})
	if inboxes[0].UnreadCount() != 1 {
		t.Fatalf("unread after read = %d", inboxes[0].UnreadCount())
	}

	// Preferences fan out to every inbox.
	if _, err := a.Prefs().Set(ctx, map[string]bool{notification.PrefCollabMessages: false}); err != nil {
		t.Fatalf("prefs set: %v", err)
	}
	for _, ib := range inboxes {
		ib := ib
		waitFor(t, "filtered view", func() bool { return len(ib.Notifications()) == 1 })
	}

	// Poll intervals hot-reload.
	if got := inboxes[0].Scheduler().Interval(); got != 10*time.Second {
		t.Fatalf("interval = %v", got)
	}
	time.Sleep(100 * time.Millisecond)
	writeConfig(t, cfgPath, srv.URL, "2s", "4")
	for _, ib := range inboxes {
		ib := ib
		waitFor(t, "interval reload", func() bool { return ib.Scheduler().Interval() == 2*time.Second })
		waitFor(t, "trigger pacing reload", func() bool {
			r, _ := ib.Scheduler().TriggerPacing()
			return r == 4
		})
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	p := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(p, []byte("user_id: u\nfeed:\n  base_url: \"\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(p); err == nil || !strings.Contains(err.Error(), "feed.base_url") {
		t.Fatalf("expected base_url error, got %v", err)
	}
}
