package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fxstream/internal/api/http/middlewares"
)

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Addr string
	// TrustedProxies are the proxy IPs/CIDRs whose forwarding headers are
	// honored for the client IP. nil trusts none.
	TrustedProxies  []string
	ShutdownTimeout time.Duration
}

// Controller registers its routes on the router.
type Controller interface {
	RegisterRoutes(r *gin.Engine)
}

type Server struct {
	cfg         ServerConfig
	log         *slog.Logger
	controllers []Controller
	onShutdown  []func()
	srv         *http.Server
}

func NewServer(cfg ServerConfig, log *slog.Logger) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	return &Server{cfg: cfg, log: log}
}

func (s *Server) AddController(c ...Controller) {
	s.controllers = append(s.controllers, c...)
}

// OnShutdown registers f to run when shutdown begins, before the server
// waits for open requests. Streaming handlers are ended this way.
func (s *Server) OnShutdown(f func()) {
	s.onShutdown = append(s.onShutdown, f)
}

// Handler builds the router with all middlewares and controllers.
func (s *Server) Handler() (*gin.Engine, error) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	if err := r.SetTrustedProxies(s.cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}
	r.Use(gin.Recovery())
	r.Use(middlewares.RequestLogger(s.log))
	r.Use(middlewares.PrometheusMetrics)
	for _, c := range s.controllers {
		c.RegisterRoutes(r)
	}
	return r, nil
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	h, err := s.Handler()
	if err != nil {
		return err
	}

	// No WriteTimeout: streaming responses stay open indefinitely.
	s.srv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	for _, f := range s.onShutdown {
		s.srv.RegisterOnShutdown(f)
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
