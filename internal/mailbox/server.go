// Package mailbox implements a mailbox server: it accepts mail for the
// users of one domain over the submission protocol, stores it in memory,
// and serves it to its users over the secured access protocol.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shineum/dmail/internal/auth"
	"github.com/shineum/dmail/internal/directory"
	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/protocol"
	"github.com/shineum/dmail/internal/secure"
	"github.com/shineum/dmail/internal/server"
	"github.com/shineum/dmail/internal/store"
)

var (
	metricDelivered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dmail_mailbox_messages_delivered_total",
			Help: "Messages stored into user mailboxes, counted per user.",
		},
	)
	metricLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmail_mailbox_logins_total",
			Help: "Access protocol logins by result: ok, unknownuser, badpassword.",
		},
		[]string{"result"},
	)
	metricHandshakes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dmail_mailbox_handshakes_total",
			Help: "Secure channel handshakes by result: ok, failed.",
		},
		[]string{"result"},
	)
)

// ServerConfig holds the configuration for a mailbox server.
type ServerConfig struct {
	// ID identifies the server's key pair to clients.
	ID string

	// Domain is the mail domain this server owns.
	Domain string

	// DMTPListen and DMAPListen are the listen addresses of the submission
	// and access protocols.
	DMTPListen string
	DMAPListen string

	// Advertise is the submission endpoint registered with the directory.
	// If empty, the DMTP listener address is used.
	Advertise string

	// Root is the root of the directory tree. If nil the server does not
	// register itself.
	Root directory.Remote

	Users *auth.Registry

	// Key decrypts the client's handshake message.
	Key secure.Decrypter

	// Store holds the mailboxes. If nil an empty store is used.
	Store *store.Store
}

// Server is a mailbox server.
type Server struct {
	config ServerConfig
	store  *store.Store
	creds  protocol.Credentials
	dmtp   *server.Server
	dmap   *server.Server
}

// New creates a mailbox Server with the given configuration.
func New(cfg ServerConfig) (*Server, error) {
	if cfg.Domain == "" {
		return nil, errors.New("mailbox server needs a domain")
	}
	if cfg.Users == nil {
		return nil, errors.New("mailbox server needs a user registry")
	}
	if cfg.Key == nil {
		return nil, errors.New("mailbox server needs a private key")
	}
	st := cfg.Store
	if st == nil {
		st = store.New()
	}
	s := &Server{
		config: cfg,
		store:  st,
		creds:  countingCredentials{cfg.Users},
	}
	s.dmtp = server.New("mailbox DMTP server", cfg.DMTPListen, server.HandlerFunc(s.serveDMTP))
	s.dmap = server.New("mailbox DMAP server", cfg.DMAPListen, server.HandlerFunc(s.serveDMAP))
	return s, nil
}

// Listen binds both listeners.
func (s *Server) Listen() error {
	if err := s.dmtp.Listen(); err != nil {
		return err
	}
	return s.dmap.Listen()
}

// Serve registers the server with the directory and serves both protocols
// until ctx is cancelled. A failed registration is logged; the server keeps
// running so it can still be reached by address.
func (s *Server) Serve(ctx context.Context) error {
	if s.config.Root != nil {
		advertise := s.config.Advertise
		if advertise == "" {
			advertise = server.AdvertiseAddr(s.DMTPAddr())
		}
		if err := s.config.Root.RegisterMailboxServer(ctx, s.config.Domain, advertise); err != nil {
			slog.Error("registering mailbox server failed", "domain", s.config.Domain, "address", advertise, "error", err)
		} else {
			slog.Info("registered mailbox server", "domain", s.config.Domain, "address", advertise)
		}
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, srv := range []*server.Server{s.dmtp, s.dmap} {
		i, srv := i, srv
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = srv.Serve(ctx)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// ListenAndServe combines Listen and Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve(ctx)
}

// DMTPAddr returns the submission listener address.
func (s *Server) DMTPAddr() string { return s.dmtp.Addr() }

// DMAPAddr returns the access listener address.
func (s *Server) DMAPAddr() string { return s.dmap.Addr() }

// Store returns the server's mailbox store.
func (s *Server) Store() *store.Store { return s.store }

// serveDMTP accepts mail for the local domain. Once "send" succeeds the
// message is stored for every known local recipient, once per user.
func (s *Server) serveDMTP(ctx context.Context, conn net.Conn, log *slog.Logger) {
	defer conn.Close()

	engine := protocol.NewValidatingSubmission(s.config.Domain, s.config.Users)
	stored := false
	sess := &server.Session{
		Conn:   secure.NewConn(conn),
		Engine: engine,
		Log:    log,
		BeforeReply: func(protocol.Reply) error {
			if stored {
				return nil
			}
			if msg := engine.Message(); msg != nil {
				stored = true
				s.deliver(log, msg)
			}
			return nil
		},
	}
	if err := sess.Run(); err != nil {
		log.Debug("session ended", "error", err)
	}
}

func (s *Server) deliver(log *slog.Logger, msg *mail.Message) {
	seen := make(map[string]bool)
	for _, rcpt := range msg.To {
		user, domain, ok := mail.SplitAddress(rcpt)
		if !ok || !strings.EqualFold(domain, s.config.Domain) || seen[user] {
			continue
		}
		seen[user] = true
		if !s.config.Users.Exists(user) {
			continue
		}
		mb := s.store.Mailbox(user)
		id := mb.Add(msg.Clone())
		metricDelivered.Inc()
		log.Info("message stored", "user", user, "id", id, "from", msg.From, "mailbox_size", mb.Len())
	}
}

// serveDMAP serves the access protocol. After "startsecure" is answered the
// handshake runs on the same connection; any failure closes it.
func (s *Server) serveDMAP(ctx context.Context, conn net.Conn, log *slog.Logger) {
	defer conn.Close()

	lc := secure.NewConn(conn)
	engine := protocol.NewAccess(s.config.ID, s.creds, protocol.MailboxesFunc(func(user string) protocol.Mailbox {
		return s.store.Mailbox(user)
	}))
	sess := &server.Session{
		Conn:   lc,
		Engine: engine,
		Log:    log,
		AfterReply: func(protocol.Reply) error {
			if !engine.SecurePending() {
				return nil
			}
			if err := secure.ServerHandshake(lc, s.config.Key); err != nil {
				metricHandshakes.WithLabelValues("failed").Inc()
				return fmt.Errorf("secure handshake: %w", err)
			}
			metricHandshakes.WithLabelValues("ok").Inc()
			return nil
		},
	}
	if err := sess.Run(); err != nil {
		log.Info("access session aborted", "error", err)
	}
}

// countingCredentials counts login attempts by outcome.
type countingCredentials struct {
	users *auth.Registry
}

func (c countingCredentials) Verify(user, password string) error {
	err := c.users.Verify(user, password)
	switch {
	case err == nil:
		metricLogins.WithLabelValues("ok").Inc()
	case errors.Is(err, auth.ErrUnknownUser):
		metricLogins.WithLabelValues("unknownuser").Inc()
	default:
		metricLogins.WithLabelValues("badpassword").Inc()
	}
	return err
}
