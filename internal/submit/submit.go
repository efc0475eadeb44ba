// Package submit replays a message to a submission protocol server: a
// mailbox server when forwarding, or a transfer server when a user sends.
package submit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/proxy"

	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/protocol"
	"github.com/shineum/dmail/internal/secure"
)

// DefaultTimeout bounds one complete replay.
const DefaultTimeout = 30 * time.Second

var ErrGreeting = errors.New("unexpected greeting")

// Result describes how the peer answered a replay.
type Result struct {
	// UnknownRecipients lists the local user names the peer rejected.
	// The message was still accepted for the remaining recipients.
	UnknownRecipients []string

	// Declined is the first error response other than unknown recipients.
	// If set, the peer did not accept the message.
	Declined string
}

// Delivered reports whether the peer accepted the message.
func (r Result) Delivered() bool {
	return r.Declined == ""
}

// NewDialer returns a direct dialer, or one tunnelling through the SOCKS5
// proxy at socksAddr if set.
func NewDialer(socksAddr string, timeout time.Duration) (proxy.Dialer, error) {
	netDialer := &net.Dialer{Timeout: timeout}
	if socksAddr == "" {
		return netDialer, nil
	}
	d, err := proxy.SOCKS5("tcp", socksAddr, nil, netDialer)
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}
	return d, nil
}

// Client replays messages over connections from its dialer.
type Client struct {
	dialer  proxy.Dialer
	timeout time.Duration
}

// New creates a Client. A nil dialer dials directly; a zero timeout uses
// DefaultTimeout.
func New(dialer proxy.Dialer, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if dialer == nil {
		dialer = &net.Dialer{Timeout: timeout}
	}
	return &Client{dialer: dialer, timeout: timeout}
}

// Lines returns the request lines that submit msg. The hash line is left
// out when msg carries no hash.
func Lines(msg *mail.Message) []string {
	lines := []string{
		"begin",
		"from " + msg.From,
		"to " + msg.Recipients(),
		"subject " + msg.Subject,
		"data " + msg.Data,
	}
	if msg.Hash != "" {
		lines = append(lines, "hash "+msg.Hash)
	}
	return append(lines, "send", "quit")
}

func (c *Client) dial(ctx context.Context, addr string) (net.Conn, error) {
	if d, ok := c.dialer.(proxy.ContextDialer); ok {
		return d.DialContext(ctx, "tcp", addr)
	}
	return c.dialer.Dial("tcp", addr)
}

// Deliver connects to addr and submits msg. An error means the exchange
// broke off (dial failure, bad greeting, connection reset); responses of the
// peer are reported in Result.
func (c *Client) Deliver(ctx context.Context, addr string, msg *mail.Message) (Result, error) {
	conn, err := c.dial(ctx, addr)
	if err != nil {
		return Result{}, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return Result{}, err
	}

	lc := secure.NewConn(conn)
	greeting, err := lc.ReadLine()
	if err != nil {
		return Result{}, fmt.Errorf("reading greeting from %s: %w", addr, err)
	}
	if !strings.HasPrefix(greeting, "ok "+protocol.DMTPVersion) {
		return Result{}, fmt.Errorf("%w from %s: %q", ErrGreeting, addr, greeting)
	}

	var res Result
	for _, line := range Lines(msg) {
		if err := lc.WriteLine(line); err != nil {
			return res, fmt.Errorf("writing to %s: %w", addr, err)
		}
		resp, err := lc.ReadLine()
		if err != nil {
			return res, fmt.Errorf("reading from %s: %w", addr, err)
		}
		if !protocol.IsError(resp) {
			continue
		}
		if unknown := protocol.ParseUnknownRecipients(resp); unknown != nil {
			res.UnknownRecipients = append(res.UnknownRecipients, unknown...)
			continue
		}
		if res.Declined == "" {
			res.Declined = resp
		}
		if protocol.IsProtocolError(resp) {
			break
		}
	}
	return res, nil
}
