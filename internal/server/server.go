// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/selector"
	"github.com/xkilldash9x/formpilot/internal/stream"
)

// Sessions is the session manager surface the HTTP routes call.
type Sessions interface {
	Open(ctx context.Context) (id string, vp browser.Viewport, err error)
	Close(ctx context.Context, id string) error
	Navigate(ctx context.Context, id, url string) error
	ClickAt(ctx context.Context, id string, x, y float64, button string) error
	ElementAt(ctx context.Context, id string, x, y float64) (*selector.Descriptor, error)
	Screenshot(ctx context.Context, id string) ([]byte, error)
}

// ManagerSessions adapts a browser.Manager to Sessions.
type ManagerSessions struct {
	*browser.Manager
}

func (m ManagerSessions) Open(ctx context.Context) (string, browser.Viewport, error) {
	s, err := m.Create(ctx)
	if err != nil {
		return "", browser.Viewport{}, err
	}
	return s.ID(), s.Viewport(), nil
}

// Acquire adapts Manager.Acquire to stream.AcquireFunc.
func (m ManagerSessions) Acquire(id string) (stream.Session, func(), error) {
	s, release, err := m.Manager.Acquire(id)
	if err != nil {
		return nil, nil, err
	}
	return s, release, nil
}

// Server serves the session control surface: session lifecycle, element
// picking, screenshot pulls and the frame stream.
type Server struct {
	cfg      config.ServerConfig
	sessions Sessions
	streams  *stream.Handler
	auth     *tokenVerifier
	logger   *zap.Logger
}

// New builds a server. streams may be nil, which disables the stream route.
func New(cfg config.ServerConfig, sessions Sessions, streams *stream.Handler, logger *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		sessions: sessions,
		streams:  streams,
		logger:   logger.Named("server"),
	}
	if cfg.JWTSecret != "" {
		s.auth = newTokenVerifier(cfg.JWTSecret)
	}
	return s
}

// Routes returns the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.accessLog)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/sessions", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleCreate)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleClose)
			r.Post("/navigate", s.handleNavigate)
			r.Post("/click", s.handleClick)
			r.Get("/element", s.handleElementAt)
			r.Get("/screenshot", s.handleScreenshot)
			if s.streams != nil {
				r.Get("/stream", s.handleStream)
			}
		})
	})
	return r
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	serverErr := make(chan error, 1)
	go func() {
		s.logger.Info("Serving session control surface.", zap.String("listen", s.cfg.Listen), zap.Bool("auth", s.auth != nil))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	case err, ok := <-serverErr:
		if !ok {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served.",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)))
	})
}
