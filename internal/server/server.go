package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aevon-lab/ledgerview/internal/freshness"
)

const healthPingTimeout = 2 * time.Second

// CacheStatter reports freshness cache counters for the health response.
type CacheStatter interface {
	Stats() freshness.Stats
}

// Options configures the HTTP server. DB and Cache may be nil.
type Options struct {
	Addr         string
	Mode         string // debug | release
	MaxBodyBytes int64
	DB           *sql.DB
	Cache        CacheStatter
}

// Server hosts the aggregate and detector routes plus /health and /metrics.
type Server struct {
	Engine *gin.Engine
	Addr   string
	db     *sql.DB
	cache  CacheStatter
}

func New(opts Options) *Server {
	if opts.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if opts.MaxBodyBytes > 0 {
		r.Use(limitBody(opts.MaxBodyBytes))
	}

	s := &Server{
		Engine: r,
		Addr:   opts.Addr,
		db:     opts.DB,
		cache:  opts.Cache,
	}

	r.GET("/health", s.healthHandler)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return s
}

// limitBody caps request bodies; oversized JSON fails to bind downstream.
func limitBody(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthPingTimeout)
	defer cancel()

	resp := gin.H{"status": "healthy", "database": "not_configured"}

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			slog.Error("[Server] Health check failed: database unreachable", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unreachable",
			})
			return
		}
		resp["database"] = "connected"
	}

	// Cache state is informational; a cold cache is still healthy.
	if s.cache != nil {
		st := s.cache.Stats()
		resp["cache"] = gin.H{
			"entries":     st.EntryCount,
			"max_entries": st.MaxEntries,
			"hits":        st.Hits,
			"misses":      st.Misses,
		}
	}

	c.JSON(http.StatusOK, resp)
}

// Run serves until ctx is cancelled, then shuts down within five seconds.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("[Server] Starting HTTP server", "address", s.Addr)

	go func() {
		<-ctx.Done()
		slog.Info("[Server] Stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("[Server] HTTP server forced to shutdown", "error", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
