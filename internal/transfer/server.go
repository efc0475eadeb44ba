// Package transfer implements the transfer server: it accepts messages over
// the submission protocol from any client, and forwards them to the mailbox
// servers of the recipient domains found through the directory.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shineum/dmail/internal/protocol"
	"github.com/shineum/dmail/internal/secure"
	"github.com/shineum/dmail/internal/server"
)

var metricAccepted = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "dmail_transfer_messages_accepted_total",
		Help: "Messages accepted from clients and queued for forwarding.",
	},
)

// ServerConfig holds the configuration for a transfer server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":16501").
	ListenAddr string

	Router RouterConfig
}

// Server is a transfer server.
type Server struct {
	router *Router
	srv    *server.Server
}

// New creates a transfer Server with the given configuration.
func New(cfg ServerConfig) *Server {
	s := &Server{router: NewRouter(cfg.Router)}
	s.srv = server.New("transfer server", cfg.ListenAddr, s)
	return s
}

// Listen binds the listener so Addr is known before Serve.
func (s *Server) Listen() error {
	return s.srv.Listen()
}

// Serve runs the forwarding workers and accepts client connections until
// ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.router.Run(ctx)
	}()
	err := s.srv.Serve(ctx)
	wg.Wait()
	return err
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	return s.srv.Addr()
}

// ServeConn runs the submission protocol for one client. A message is
// queued as soon as "send" succeeds; the "ok" is written only once the
// queue took it.
func (s *Server) ServeConn(ctx context.Context, conn net.Conn, log *slog.Logger) {
	defer conn.Close()

	engine := protocol.NewSubmission()
	queued := false
	sess := &server.Session{
		Conn:   secure.NewConn(conn),
		Engine: engine,
		Log:    log,
		BeforeReply: func(protocol.Reply) error {
			if queued {
				return nil
			}
			msg := engine.Message()
			if msg == nil {
				return nil
			}
			queued = true
			if err := s.router.Enqueue(ctx, msg); err != nil {
				return fmt.Errorf("queueing message: %w", err)
			}
			metricAccepted.Inc()
			log.Info("message queued", "from", msg.From, "to", msg.Recipients())
			return nil
		},
	}
	if err := sess.Run(); err != nil {
		log.Debug("session ended", "error", err)
	}
}
