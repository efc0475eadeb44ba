// Package provider defines the dead-letter backends of the transfer server.
// A message the mail routing could not deliver anywhere, such as a bounce
// whose own sender domain cannot be resolved, is handed to a Provider
// instead of being dropped.
package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/shineum/dmail/internal/mail"
)

// Provider is the interface that dead-letter backends must implement.
type Provider interface {
	// Send records or forwards an undeliverable message. reason is a short
	// machine readable cause such as "unresolvable".
	Send(ctx context.Context, msg *mail.Message, reason string) error

	// Name returns the human-readable name of this provider.
	Name() string
}

// Report renders msg and reason as the plain text block every backend
// records: a header per field, a blank line, then the data.
func Report(msg *mail.Message, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Undeliverable: %s\n", reason)
	fmt.Fprintf(&b, "From: %s\n", msg.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	if msg.Hash != "" {
		fmt.Fprintf(&b, "Hash: %s\n", msg.Hash)
	}
	b.WriteString("\n" + msg.Data + "\n")
	return b.String()
}
