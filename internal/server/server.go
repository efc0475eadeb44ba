// Package server runs the accept loop shared by the line protocol listeners.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
)

// shutdownTimeout is the maximum time to wait for in-flight connections
// during graceful shutdown.
const shutdownTimeout = 30 * time.Second

// Handler serves one accepted connection. It owns conn and must close it.
type Handler interface {
	ServeConn(ctx context.Context, conn net.Conn, log *slog.Logger)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, conn net.Conn, log *slog.Logger)

func (f HandlerFunc) ServeConn(ctx context.Context, conn net.Conn, log *slog.Logger) {
	f(ctx, conn, log)
}

// Server accepts TCP connections and runs one Handler goroutine per
// connection.
type Server struct {
	name     string
	addr     string
	handler  Handler
	listener net.Listener

	// wg tracks in-flight connection goroutines for graceful shutdown.
	wg sync.WaitGroup
}

// New creates a Server named name (used in logs) for addr.
func New(name, addr string, h Handler) *Server {
	return &Server{name: name, addr: addr, handler: h}
}

// Listen binds the listener so Addr is known before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until ctx is cancelled, then stops accepting and
// waits up to 30 seconds for in-flight connections to finish. Open
// connections are closed on cancellation so blocked reads return.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New(s.name + " is not listening")
	}
	ln := s.listener
	slog.Info(s.name+" listening", "addr", ln.Addr().String())

	var (
		mu    sync.Mutex
		conns = make(map[net.Conn]struct{})
	)

	go func() {
		<-ctx.Done()
		slog.Info("shutting down " + s.name)
		ln.Close()
		mu.Lock()
		for c := range conns {
			c.Close()
		}
		mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				s.waitForConns()
				return nil
			default:
				if errors.Is(err, net.ErrClosed) {
					return err
				}
				slog.Error("accept error", "server", s.name, "error", err)
				continue
			}
		}

		mu.Lock()
		conns[conn] = struct{}{}
		if ctx.Err() != nil {
			conn.Close()
		}
		mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				mu.Lock()
				delete(conns, conn)
				mu.Unlock()
			}()

			log := slog.With("server", s.name, "cid", uuid.NewString(), "remote", conn.RemoteAddr().String())
			log.Debug("connection accepted")
			s.handler.ServeConn(ctx, conn, log)
			log.Debug("connection closed")
		}()
	}
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// waitForConns waits for all in-flight connections to complete,
// with a maximum timeout to prevent indefinite blocking.
func (s *Server) waitForConns() {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("all connections completed", "server", s.name)
	case <-time.After(shutdownTimeout):
		slog.Warn("shutdown timeout reached, forcing close", "server", s.name)
	}
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
