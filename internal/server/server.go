package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 5555
	DefaultShutdownTimeout = 5 * time.Second

	readHeaderTimeout = 10 * time.Second
)

type Config struct {
	Host            string
	Port            int
	DefaultModel    string
	ShutdownTimeout time.Duration
}

// Models is the loader as seen by the server process, which also owns the
// model's release on shutdown.
type Models interface {
	ModelManager
	Close() error
}

type Server struct {
	cfg         Config
	models      Models
	transcriber Transcriber
	logger      *zap.Logger

	ready chan struct{}
	mu    sync.Mutex
	addr  net.Addr
}

func New(cfg Config, models Models, transcriber Transcriber, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	return &Server{
		cfg:         cfg,
		models:      models,
		transcriber: transcriber,
		logger:      logger,
		ready:       make(chan struct{}),
	}
}

// Ready is closed once the default model is loaded and the listener accepts
// connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr returns the bound address, or nil before Run has bound the port.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run binds the port, loads the default model, then serves until ctx is
// done. A bind or preload failure is returned before any request is
// served. On shutdown in-flight requests get the shutdown timeout to finish
// before their contexts are cancelled, and the model is released last.
func (s *Server) Run(ctx context.Context) error {
	address := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("bind %s: %w", address, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()

	s.logger.Info("preloading default model", zap.String("model", s.cfg.DefaultModel))
	if _, err := s.models.EnsureLoaded(ctx, s.cfg.DefaultModel); err != nil {
		_ = ln.Close()
		return fmt.Errorf("preload default model: %w", err)
	}

	baseCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	httpServer := &http.Server{
		Handler:           NewHandler(s.models, s.transcriber, s.logger).Routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	status := s.models.Status()
	s.logger.Info("whisperd listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("model", status.ModelName),
		zap.String("device", status.Device),
	)
	close(s.ready)

	select {
	case err := <-serveErr:
		s.release()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown deadline exceeded; cancelling in-flight requests", zap.Error(err))
		cancelRequests()
		_ = httpServer.Close()
	}

	s.release()
	s.logger.Info("stopped")
	return nil
}

func (s *Server) release() {
	if err := s.models.Close(); err != nil {
		s.logger.Warn("failed to release model", zap.Error(err))
	}
}
