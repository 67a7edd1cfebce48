package cacheproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// Server is the proxy's client-facing listener. It terminates no TLS
// of its own: clients speak plaintext HTTP/1.1 or cleartext HTTP/2
// (h2c, prior-knowledge) over a raw TCP or Unix socket, auto-detected
// per connection. Any TLS a deployment wants in front of this listener
// is terminated by something else upstream of it.
type Server struct {
	Logger  *slog.Logger
	Service *Service

	httpSrv *http.Server
}

// NewServer wraps svc in an h2c-capable plain HTTP server.
func NewServer(logger *slog.Logger, svc *Service) *Server {
	h2s := &http2.Server{}
	handler := h2c.NewHandler(svc, h2s)
	return &Server{
		Logger:  logger,
		Service: svc,
		httpSrv: &http.Server{Handler: handler},
	}
}

// RunTCP listens on addr until ctx is cancelled.
func (s *Server) RunTCP(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("cacheproxy: listen tcp %s: %w", addr, err)
	}
	return s.serve(ctx, ln)
}

// RunUnix listens on a Unix socket at path, removing any stale socket
// file left from a previous run and setting permissions to 0666 so
// any local client can connect, matching the original proxy's socket
// policy.
func (s *Server) RunUnix(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("cacheproxy: remove stale socket %s: %w", path, err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return fmt.Errorf("cacheproxy: listen unix %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return fmt.Errorf("cacheproxy: chmod socket %s: %w", path, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			if s.Logger != nil {
				s.Logger.Warn("proxy server shutdown error", "err", err)
			}
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
