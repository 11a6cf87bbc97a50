package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/smallbiznis/accounts-auth/internal/config"
)

const readHeaderTimeout = 5 * time.Second

// HTTPServer owns the listener lifecycle for the auth API. The listen address
// and shutdown grace period come from configuration.
type HTTPServer struct {
	engine          *gin.Engine
	addr            string
	shutdownTimeout time.Duration
}

// NewHTTPServer binds the router to the configured port.
func NewHTTPServer(cfg config.Config, router *gin.Engine) *HTTPServer {
	router.HandleMethodNotAllowed = true
	router.ForwardedByClientIP = true
	return &HTTPServer{
		engine:          router,
		addr:            ":" + cfg.HTTPPort,
		shutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Addr reports the listen address the server was configured with.
func (s *HTTPServer) Addr() string {
	return s.addr
}

// Run serves until ctx is done, then drains in-flight requests for up to the
// configured shutdown timeout.
func (s *HTTPServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.engine,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("listen on %s: %w", s.addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		grace := s.shutdownTimeout
		if grace <= 0 {
			grace = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
