// Package httpapi exposes the facade over HTTP with a chi router.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	glog "github.com/goliatone/go-logger/glog"

	squarebff "github.com/goliatone/go-square-bff"
)

const (
	defaultRequestTimeout  = 30 * time.Second
	defaultMaxBodyBytes    = 1 << 20 // 1 MiB
	defaultShutdownTimeout = 15 * time.Second
	readHeaderTimeout      = 10 * time.Second
)

type Config struct {
	// AdminToken guards the credential, webhook event and audit routes.
	// Those routes are not mounted when it is empty.
	AdminToken         string
	RequestTimeout     time.Duration
	MaxBodyBytes       int64
	ShutdownTimeout    time.Duration
	ExpiringSoonWindow time.Duration
}

type Option func(*Server)

func WithLogger(logger glog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMetricsHandler mounts handler at /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

// WithHealthCheck makes /healthz report 503 when check fails.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(s *Server) {
		s.health = check
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

type Server struct {
	facade  *squarebff.Facade
	cfg     Config
	logger  glog.Logger
	metrics http.Handler
	health  func(ctx context.Context) error
	now     func() time.Time
}

func NewServer(facade *squarebff.Facade, cfg Config, opts ...Option) (*Server, error) {
	if facade == nil {
		return nil, fmt.Errorf("httpapi: facade is required")
	}
	cfg.AdminToken = strings.TrimSpace(cfg.AdminToken)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	s := &Server{
		facade: facade,
		cfg:    cfg,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.logger = glog.Ensure(s.logger)
	return s, nil
}

// Routes builds the full router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.requestLogger,
		middleware.Recoverer,
		middleware.Timeout(s.cfg.RequestTimeout),
	)

	r.Get("/healthz", s.healthz)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", s.authorize)
		r.Get("/callback", s.callback)
		if s.adminEnabled() {
			r.With(s.requireAdmin).Post("/refresh/{merchantID}", s.refreshCredential)
		}
	})

	r.Post("/webhooks/square", s.receiveWebhook)

	if s.adminEnabled() {
		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/credentials", s.listCredentials)
			r.Get("/credentials/{merchantID}", s.getCredential)
			r.Delete("/credentials/{merchantID}", s.revokeCredential)
			r.Get("/webhooks/events/{eventID}", s.getWebhookEvent)
			r.Put("/webhooks/events/{eventID}/status", s.updateWebhookStatus)
			r.Get("/audit", s.listAudit)
		})
	} else {
		s.logger.Warn("admin token not configured; admin routes disabled")
	}
	return r
}

// Serve listens on addr until ctx is cancelled, then drains in-flight
// requests for at most the shutdown timeout.
func (s *Server) Serve(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, listener)
}

func (s *Server) ServeListener(ctx context.Context, listener net.Listener) error {
	srv := &http.Server{
		BaseContext:       func(net.Listener) context.Context { return ctx },
		Handler:           s.Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", listener.Addr().String())
		serveErr <- srv.Serve(listener)
	}()

	select {
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("httpapi: shutdown: %w", err)
	}
	s.logger.Info("http server stopped")
	return nil
}

func (s *Server) adminEnabled() bool {
	return s.cfg.AdminToken != ""
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Error("health check failed", "error", err.Error())
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
