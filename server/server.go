// Package server runs the broker's HTTP listener: routes registered on a
// ServeMux, wrapped in request logging, gzip and optional CORS, with
// graceful shutdown on SIGINT and SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rush86999/atomagent/logging"
)

const shutdownTimeout = 2 * time.Second

// Server wraps an HTTP server.
//
// Usage:
//
//	s := server.New(server.WithMux(handlers.Register))
//	s.Start()
type Server struct {
	// Hostname or IP to bind to.
	host string

	// Port to listen on.
	port int

	// Location of certificate file, if TLS to be used.
	certFile string

	// Location of key file, if TLS to be used.
	keyFile string

	// Context that is propagated to handlers.
	baseContext context.Context

	httpServer *http.Server

	// Routes, before middleware.
	httpMux *http.ServeMux

	// httpMux with middleware applied.
	handler http.Handler
}

// Addr is the address the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.host, strconv.Itoa(s.port))
}

// Handler returns the fully wrapped handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serving requests. Blocks until Shutdown is called.
func (s *Server) Start() error {
	addr := s.Addr()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return s.baseContext
		},
	}

	done := make(chan struct{})
	go func() {
		gracefulStop := make(chan os.Signal, 1)
		signal.Notify(gracefulStop, syscall.SIGTERM, syscall.SIGINT)
		sig := <-gracefulStop
		logging.Infow(s.baseContext, "server: graceful shutdown triggered", "signal", sig.String())
		_ = s.Shutdown()
		close(done)
	}()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	defer ln.Close()

	if s.certFile != "" {
		s.httpServer.TLSConfig = safeTLSConfig()
		logging.Infow(s.baseContext, "server: listening", "url", "https://"+addr)
		err = s.httpServer.ServeTLS(ln, s.certFile, s.keyFile)
	} else {
		logging.Infow(s.baseContext, "server: listening", "url", "http://"+addr)
		err = s.httpServer.Serve(ln)
	}

	if !errors.Is(err, http.ErrServerClosed) {
		return err // The server wasn't shutdown gracefully.
	}

	<-done
	return nil
}

// Shutdown gracefully shuts down the server, waiting up to two seconds for
// open requests.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(s.baseContext, shutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		logging.Errorw(ctx, "server: shutdown error", "error", err)
	} else {
		logging.Infow(ctx, "server: connections drained")
	}
	return err
}
