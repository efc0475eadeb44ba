// Package monitoring sends fire-and-forget usage datagrams to a monitoring
// collector: one "<host>:<port> <sender>" datagram per processed message.
package monitoring

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// Reporter sends datagrams to a collector. A nil *Reporter discards reports.
type Reporter struct {
	local string

	mu   sync.Mutex
	conn net.Conn
}

// NewReporter creates a Reporter for the collector at addr, identifying this
// server as local ("host:port"). An empty addr returns nil.
func NewReporter(addr, local string) (*Reporter, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to open monitoring socket: %w", err)
	}
	return &Reporter{local: local, conn: conn}, nil
}

// Report sends one datagram for sender. Failures are logged and dropped.
func (r *Reporter) Report(sender string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return
	}
	if _, err := r.conn.Write([]byte(r.local + " " + sender)); err != nil {
		slog.Debug("monitoring report dropped", "sender", sender, "error", err)
	}
}

// Close releases the socket.
func (r *Reporter) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
