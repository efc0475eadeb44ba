// Package client is the message client library: it sends signed messages
// through a transfer server and reads the user's mailbox over the secured
// access protocol.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/shineum/dmail/internal/mail"
	"github.com/shineum/dmail/internal/protocol"
	"github.com/shineum/dmail/internal/secure"
	"github.com/shineum/dmail/internal/submit"
)

// DefaultTimeout bounds one exchange with a server.
const DefaultTimeout = 30 * time.Second

var (
	ErrRejected = errors.New("rejected by server")
	ErrLogin    = errors.New("login failed")
)

// Config holds the identity and endpoints of a client.
type Config struct {
	// Email is the sender address of outgoing messages.
	Email string

	// TransferAddr is the submission endpoint of a transfer server.
	TransferAddr string

	// MailboxAddr is the access endpoint of the user's mailbox server.
	MailboxAddr string

	User     string
	Password string

	// Signer computes and checks message integrity codes.
	Signer *secure.Signer

	// Keys resolves mailbox server ids to public keys.
	Keys secure.KeyRing

	Timeout time.Duration
}

// Client sends and reads messages for one user.
type Client struct {
	cfg    Config
	submit *submit.Client
}

// New creates a Client.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{cfg: cfg, submit: submit.New(nil, cfg.Timeout)}
}

// Send signs a message from the configured address and submits it to the
// transfer server.
func (c *Client) Send(ctx context.Context, to []string, subject, data string) (*mail.Message, error) {
	msg := &mail.Message{From: c.cfg.Email, To: to, Subject: subject, Data: data}
	if c.cfg.Signer != nil {
		hash, err := c.cfg.Signer.Sign(msg)
		if err != nil {
			return nil, err
		}
		msg.Hash = hash
	}

	res, err := c.submit.Deliver(ctx, c.cfg.TransferAddr, msg)
	if err != nil {
		return nil, err
	}
	if !res.Delivered() {
		return nil, fmt.Errorf("%w: %s", ErrRejected, res.Declined)
	}
	return msg, nil
}

// Verify reports whether msg carries a valid integrity code.
func (c *Client) Verify(msg *mail.Message) (bool, error) {
	if c.cfg.Signer == nil {
		return false, errors.New("no integrity key configured")
	}
	return c.cfg.Signer.Verify(msg)
}

// Inbox is an open, secured and logged in access protocol session.
type Inbox struct {
	conn net.Conn
	lc   *secure.Conn
}

// OpenInbox connects to the mailbox server, secures the channel and logs in.
func (c *Client) OpenInbox(ctx context.Context) (*Inbox, error) {
	d := net.Dialer{Timeout: c.cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.MailboxAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.cfg.MailboxAddr, err)
	}
	if err := conn.SetDeadline(time.Now().Add(c.cfg.Timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	in := &Inbox{conn: conn, lc: secure.NewConn(conn)}
	if err := in.open(c.cfg.Keys, c.cfg.User, c.cfg.Password); err != nil {
		conn.Close()
		return nil, err
	}
	return in, nil
}

func (in *Inbox) open(keys secure.KeyRing, user, password string) error {
	greeting, err := in.lc.ReadLine()
	if err != nil {
		return fmt.Errorf("reading greeting: %w", err)
	}
	if !strings.HasPrefix(greeting, "ok "+protocol.DMAPVersion) {
		return fmt.Errorf("unexpected greeting %q", greeting)
	}
	if err := secure.StartSecure(in.lc, keys); err != nil {
		return err
	}

	resp, err := in.request("login " + user + " " + password)
	if err != nil {
		return err
	}
	if resp != "ok" {
		return fmt.Errorf("%w: %s", ErrLogin, resp)
	}
	return nil
}

func (in *Inbox) request(line string) (string, error) {
	if err := in.lc.WriteLine(line); err != nil {
		return "", err
	}
	return in.lc.ReadLine()
}

// readUntilOK reads response lines up to the terminating "ok". An error
// line ends the response early.
func (in *Inbox) readUntilOK(first string) ([]string, error) {
	var lines []string
	line := first
	for {
		if line == "ok" {
			return lines, nil
		}
		if protocol.IsError(line) || line == protocol.NoDataNotice {
			return nil, fmt.Errorf("%w: %s", ErrRejected, line)
		}
		lines = append(lines, line)

		var err error
		if line, err = in.lc.ReadLine(); err != nil {
			return nil, err
		}
	}
}

// List returns the summaries of all messages in the mailbox.
func (in *Inbox) List() ([]mail.Summary, error) {
	first, err := in.request("list")
	if err != nil {
		return nil, err
	}
	lines, err := in.readUntilOK(first)
	if err != nil {
		return nil, err
	}

	summaries := make([]mail.Summary, 0, len(lines))
	for _, l := range lines {
		idText, rest, _ := strings.Cut(l, " ")
		from, subject, _ := strings.Cut(rest, " ")
		id, err := strconv.Atoi(idText)
		if err != nil {
			return nil, fmt.Errorf("malformed list line %q", l)
		}
		summaries = append(summaries, mail.Summary{ID: id, From: from, Subject: subject})
	}
	return summaries, nil
}

// Show returns one message.
func (in *Inbox) Show(id int) (*mail.Message, error) {
	first, err := in.request("show " + strconv.Itoa(id))
	if err != nil {
		return nil, err
	}
	lines, err := in.readUntilOK(first)
	if err != nil {
		return nil, err
	}

	msg := &mail.Message{}
	for _, l := range lines {
		field, value, _ := strings.Cut(l, " ")
		switch field {
		case "from":
			msg.From = value
		case "to":
			msg.To = mail.ParseAddressList(value)
		case "subject":
			msg.Subject = value
		case "data":
			msg.Data = value
		case "hash":
			msg.Hash = value
		}
	}
	return msg, nil
}

// Delete removes one message.
func (in *Inbox) Delete(id int) error {
	resp, err := in.request("delete " + strconv.Itoa(id))
	if err != nil {
		return err
	}
	if resp != "ok" {
		return fmt.Errorf("%w: %s", ErrRejected, resp)
	}
	return nil
}

// Close logs out, ends the session and closes the connection.
func (in *Inbox) Close() error {
	_, err := in.request("quit")
	if cerr := in.conn.Close(); err == nil {
		err = cerr
	}
	return err
}
