package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

const DefaultShutdownTimeout = 10 * time.Second

type Server struct {
	*http.Server
	// CleanUpFuncs are called concurrently once the HTTP server has stopped
	// accepting requests.
	CleanUpFuncs    []func(ctx context.Context)
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
	// CertFile and KeyFile enable TLS when both are set.
	CertFile string
	KeyFile  string
}

func (s *Server) AddCleanupFunc(f func(context.Context)) {
	s.CleanUpFuncs = append(s.CleanUpFuncs, f)
}

// Start serves until ctx is done, then shuts the server down and runs the
// cleanup functions, all bounded by ShutdownTimeout.
func (s *Server) Start(ctx context.Context) error {
	if s.Logger == nil {
		s.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	if s.ShutdownTimeout <= 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	s.Server.BaseContext = func(_ net.Listener) context.Context {
		return ctx
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		done <- s.shutdown()
	}()

	s.Logger.Info(fmt.Sprintf("server started at %s", s.Server.Addr))

	var err error
	if s.CertFile != "" && s.KeyFile != "" {
		err = s.ListenAndServeTLS(s.CertFile, s.KeyFile)
	} else {
		err = s.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server exit: %w", err)
	}

	return <-done
}

func (s *Server) shutdown() error {
	s.Logger.Info("server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.ShutdownTimeout)
	defer cancel()

	// cleanup runs even when the HTTP shutdown fails
	shutdownErr := s.Server.Shutdown(shutdownCtx)

	var wg sync.WaitGroup
	for _, cf := range s.CleanUpFuncs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cf(shutdownCtx)
		}()
	}
	cleaned := make(chan struct{})
	go func() {
		wg.Wait()
		close(cleaned)
	}()

	select {
	case <-cleaned:
	case <-shutdownCtx.Done():
		return fmt.Errorf("graceful shutdown timed out: %w", shutdownCtx.Err())
	}
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown: %w", shutdownErr)
	}
	s.Logger.Info("server shutdown gracefully")
	return nil
}
