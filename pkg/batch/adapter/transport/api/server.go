package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	logger "github.com/tigerroll/promptbatch/pkg/batch/support/util/logger"
)

const readHeaderTimeout = 10 * time.Second

// Server runs the HTTP API. No write timeout is set so the event stream stays open.
type Server struct {
	server *http.Server
	addr   net.Addr
}

// NewServer creates a Server listening on address.
func NewServer(address string, handler http.Handler) *Server {
	return &Server{
		server: &http.Server{
			Addr:              address,
			Handler:           handler,
			ReadHeaderTimeout: readHeaderTimeout,
		},
	}
}

// Start binds the listen address and serves in the background. Bind errors are returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	logger.Infof("HTTP API listening on %s.", s.addr)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("HTTP server stopped: %v", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Infof("Shutting down HTTP API.")
	return s.server.Shutdown(ctx)
}
