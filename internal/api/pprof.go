package api

import (
	hpprof "net/http/pprof"

	"github.com/gin-gonic/gin"
)

// ServerOption configures optional routes.
type ServerOption func(*Server, *gin.Engine)

// WithPprof mounts the runtime profiler under /debug/pprof. Bind the API to
// loopback when enabling it.
func WithPprof() ServerOption {
	return func(_ *Server, r *gin.Engine) {
		g := r.Group("/debug/pprof")
		g.GET("/", gin.WrapF(hpprof.Index))
		g.GET("/cmdline", gin.WrapF(hpprof.Cmdline))
		g.GET("/profile", gin.WrapF(hpprof.Profile))
		g.POST("/symbol", gin.WrapF(hpprof.Symbol))
		g.GET("/symbol", gin.WrapF(hpprof.Symbol))
		g.GET("/trace", gin.WrapF(hpprof.Trace))
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			g.GET("/"+name, gin.WrapH(hpprof.Handler(name)))
		}
	}
}
