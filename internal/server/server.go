package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/healthpages/shellgate/internal/config"
)

const (
	// readHeaderTimeout bounds slow-header clients; intercepted fetches
	// themselves are bounded by the origin client's timeout.
	readHeaderTimeout = 10 * time.Second
	// idleTimeout stays generous because event streams hold their
	// connection open between lifecycle broadcasts.
	idleTimeout = 120 * time.Second
	// drainTimeout caps how long shutdown waits for in-flight fetches.
	drainTimeout = 5 * time.Second
)

// Server owns the gateway's HTTP listener. Worker routes and the intercepted
// fetch catch-all share one handler; shutdown drains in-flight requests.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	once       sync.Once
}

// New builds the listener from the configured bind address.
func New(cfg config.Config, logger *slog.Logger, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("server: handler required")
	}
	return &Server{
		logger: logger.With(slog.String("agent", "server")),
		httpServer: &http.Server{
			Addr:              net.JoinHostPort(cfg.Server.Listen.Address, strconv.Itoa(cfg.Server.Listen.Port)),
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
			IdleTimeout:       idleTimeout,
		},
	}, nil
}

// Run serves until the context is cancelled, then drains and returns the
// context's error. A listener failure surfaces immediately.
func (s *Server) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", slog.String("address", s.httpServer.Addr))
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server: listen: %w", err)
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := s.drain(drainCtx); err != nil {
		return err
	}
	return ctx.Err()
}

// drain runs at most once so cascading cancellations do not race a second
// Shutdown against the first.
func (s *Server) drain(ctx context.Context) error {
	var err error
	s.once.Do(func() {
		s.logger.Info("gateway draining")
		err = s.httpServer.Shutdown(ctx)
	})
	return err
}
