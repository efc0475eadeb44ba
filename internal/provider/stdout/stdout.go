// Package stdout implements a Provider that prints undeliverable messages to
// standard output.
package stdout

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/provider"
)

const separator = "========================================\n"

// Provider prints one report per undeliverable message. Concurrent reports
// are never interleaved.
type Provider struct {
	mu sync.Mutex
	w  io.Writer
}

// New creates a Provider writing to os.Stdout.
func New() *Provider {
	return NewWithWriter(os.Stdout)
}

// NewWithWriter creates a Provider writing to w.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{w: w}
}

// Send prints the report. It always returns nil.
func (p *Provider) Send(_ context.Context, msg *mail.Message, reason string) error {
	out := separator + provider.Report(msg, reason) + separator

	p.mu.Lock()
	defer p.mu.Unlock()
	_, _ = io.Copy(p.w, strings.NewReader(out))
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}
