package service

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Server roombox-api HTTP listener. Requests inherit the base context, so Stop cancels work
// still running in handlers once the drain deadline passes.
type Server struct {
	name       string
	httpServer *http.Server
	logger     *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

func NewServer(addr string, handler http.Handler, logger *zap.Logger) *Server {
	return &Server{
		name: "roombox-api",
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
			ErrorLog:          zap.NewStdLog(logger.Named("http")),
		},
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Start blocks serving until Stop; a clean shutdown returns nil.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.logger.Info("HTTP server listening",
		zap.String("server", s.name),
		zap.String("addr", ln.Addr().String()),
	)
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Addr the bound address once Start is listening ("" before that). Useful with ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Ready closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Stop drains in-flight requests until ctx expires, then closes remaining connections.
func (s *Server) Stop(ctx context.Context) error {
	start := time.Now()
	err := s.httpServer.Shutdown(ctx)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger.Warn("HTTP drain deadline passed, closing connections",
			zap.String("server", s.name),
			zap.Duration("waited", time.Since(start)),
		)
		return s.httpServer.Close()
	}
	s.logger.Info("HTTP server stopped",
		zap.String("server", s.name),
		zap.Duration("drain", time.Since(start)),
		zap.Error(err),
	)
	return err
}
