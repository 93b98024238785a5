package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Veraticus/the-books-must-balance/internal/classify"
	"github.com/Veraticus/the-books-must-balance/internal/engine"
)

const (
	defaultMaxUpload       = 10 << 20
	defaultShutdownTimeout = 10 * time.Second
)

// Deps are the collaborators the server routes to.
type Deps struct {
	Importer     *engine.Importer
	Orchestrator *classify.Orchestrator
	Auth         Authenticator
	Pinger       Pinger
	Recorder     HTTPRecorder
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
	// MaxUploadBytes caps import file size; zero means 10 MiB.
	MaxUploadBytes int64
}

// Options are the listener settings.
type Options struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	TLSConfig    *tls.Config // serve HTTPS when set
}

// Server is the HTTP front of the service.
type Server struct {
	echo   *echo.Echo
	logger *slog.Logger
}

// NewServer builds the router.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxUpload := deps.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewValidator()
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(RequestID())
	if deps.Recorder != nil {
		e.Use(Instrument(deps.Recorder))
	}
	e.Use(PanicRecovery(logger))

	h := &Handler{
		importer:     deps.Importer,
		orchestrator: deps.Orchestrator,
		pinger:       deps.Pinger,
		logger:       logger,
		maxUpload:    maxUpload,
	}

	e.GET("/healthz", h.Health)
	if deps.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := e.Group("/api/v1", RequireAuth(deps.Auth))
	v1.POST("/transactions/import", h.Import)
	v1.POST("/classify", h.Classify)
	v1.GET("/categories", h.Categories)

	return &Server{echo: e, logger: logger}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, opts Options) error {
	srv := &http.Server{
		Addr:         opts.Address,
		Handler:      s.echo,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
		TLSConfig:    opts.TLSConfig,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "address", opts.Address, "tls", opts.TLSConfig != nil)
		var err error
		if opts.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
