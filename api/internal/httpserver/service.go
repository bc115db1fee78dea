package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"leafscan/api/internal/logging"
)

// HTTPServer is the part of *http.Server the service drives.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func NewServer(addr string, h http.Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}
}

// Service runs an HTTPServer as a supervised service and shuts it down
// gracefully when its context ends.
type Service struct {
	server          HTTPServer
	shutdownTimeout time.Duration
	name            string
}

func NewService(server HTTPServer, name string, shutdownTimeout time.Duration) *Service {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	if name == "" {
		name = "http-server"
	}
	return &Service{server: server, shutdownTimeout: shutdownTimeout, name: name}
}

func (s *Service) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logging.Info().Str("service", s.name).Msg("listening")

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("%s failed: %w", s.name, err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("%s shutdown failed: %w", s.name, err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *Service) String() string { return s.name }
