package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/shineum/dmail/internal/metrics"
	"github.com/shineum/dmail/internal/server"
)

// RPCPath is where a nameserver serves the directory functions.
const RPCPath = "/directory/"

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

// ServerConfig holds the configuration of a nameserver.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., ":8080").
	ListenAddr string

	// Advertise is the host:port other nodes use to reach this one. If
	// empty, the listener address is used.
	Advertise string

	// Zone is the domain this node owns. Empty for the root.
	Zone string

	// Root is the reference of the root node, required for zone nodes.
	Root string
}

// Server serves one directory node over HTTP, together with its metrics.
type Server struct {
	config   ServerConfig
	node     *Node
	reg      *prometheus.Registry
	listener net.Listener
	srv      *http.Server
}

// NewServer creates a nameserver. It does not listen yet.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Zone != "" && cfg.Root == "" {
		return nil, fmt.Errorf("zone nameserver %q needs a root reference", cfg.Zone)
	}
	return &Server{config: cfg, reg: prometheus.NewRegistry()}, nil
}

// RefFor returns the reference of a nameserver advertised at hostport.
func RefFor(hostport string) string {
	return "http://" + hostport + RPCPath
}

// Listen binds the listener and creates the node.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return err
	}
	advertise := s.config.Advertise
	if advertise == "" {
		advertise = server.AdvertiseAddr(ln.Addr().String())
	}
	s.node = NewNode(s.config.Zone, RefFor(advertise))

	rpc, err := Handler(s.node, RPCPath, s.reg)
	if err != nil {
		ln.Close()
		return err
	}
	mux := http.NewServeMux()
	mux.Handle(RPCPath, rpc)
	mux.Handle(metrics.Path, metrics.Handler(s.reg))

	s.listener = ln
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	return nil
}

// Serve serves until ctx is cancelled. A zone node first registers itself
// with the root; a failed registration is logged and the node keeps serving.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("nameserver is not listening")
	}
	slog.Info("nameserver listening", "addr", s.Addr(), "zone", s.config.Zone, "ref", s.node.Ref())

	errc := make(chan error, 1)
	go func() {
		errc <- s.srv.Serve(s.listener)
	}()

	if s.config.Zone != "" {
		root := NewClient(s.config.Root, nil)
		if err := root.RegisterNameserver(ctx, s.config.Zone, s.node); err != nil {
			slog.Error("registering zone with root failed", "zone", s.config.Zone, "root", s.config.Root, "error", err)
		} else {
			slog.Info("registered zone with root", "zone", s.config.Zone, "root", s.config.Root)
		}
	}

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		slog.Info("shutting down nameserver")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
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
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
