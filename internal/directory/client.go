package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mjl-/sherpa"
	sherpaclient "github.com/mjl-/sherpa/client"
)

var defaultHTTPClient = &http.Client{Timeout: 30 * time.Second}

// functions lists the API so the client never fetches sherpa.json.
var functions = []string{"RegisterNameserver", "RegisterMailboxServer", "GetNameserver", "Lookup", "Nameservers", "Addresses"}

// Client is a Remote reached over the sherpa RPC at a base URL such as
// "http://ns-planet:8080/directory/".
type Client struct {
	base string
	hc   *http.Client
	rpc  *sherpaclient.Client
}

// NewClient returns a handle on the node at base. A nil hc uses a client with
// a 30 second timeout, which also bounds every call: the sherpa client does
// not attach ctx to its requests.
func NewClient(base string, hc *http.Client) *Client {
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	if hc == nil {
		hc = defaultHTTPClient
	}
	rpc := &sherpaclient.Client{BaseURL: base, Functions: functions, HTTPClient: hc}
	return &Client{base: base, hc: hc, rpc: rpc}
}

func (c *Client) Ref() string {
	return c.base
}

func (c *Client) RegisterNameserver(ctx context.Context, domain string, ns Remote) error {
	return c.call(ctx, "RegisterNameserver", nil, domain, ns.Ref())
}

func (c *Client) RegisterMailboxServer(ctx context.Context, domain, address string) error {
	return c.call(ctx, "RegisterMailboxServer", nil, domain, address)
}

func (c *Client) GetNameserver(ctx context.Context, label string) (Remote, error) {
	return c.child(ctx, label)
}

func (c *Client) child(ctx context.Context, label string) (*Client, error) {
	var ref string
	if err := c.call(ctx, "GetNameserver", &ref, label); err != nil {
		return nil, err
	}
	return NewClient(ref, c.hc), nil
}

// Zone walks from the node at c, one label at a time from the right, to the
// node owning zone. An empty zone is c itself.
func (c *Client) Zone(ctx context.Context, zone string) (*Client, error) {
	if zone == "" {
		return c, nil
	}
	labels, err := splitDomain(zone)
	if err != nil {
		return nil, err
	}
	node := c
	for i := len(labels) - 1; i >= 0; i-- {
		if node, err = node.child(ctx, labels[i]); err != nil {
			return nil, fmt.Errorf("zone %s: %w", zone, err)
		}
	}
	return node, nil
}

func (c *Client) Lookup(ctx context.Context, label string) (string, error) {
	var addr string
	if err := c.call(ctx, "Lookup", &addr, label); err != nil {
		return "", err
	}
	return addr, nil
}

// Nameservers lists the sub-zones of the remote node.
func (c *Client) Nameservers(ctx context.Context) ([]string, error) {
	var labels []string
	err := c.call(ctx, "Nameservers", &labels)
	return labels, err
}

// Addresses lists the mailbox endpoints of the remote node.
func (c *Client) Addresses(ctx context.Context) ([]Address, error) {
	var addrs []Address
	err := c.call(ctx, "Addresses", &addrs)
	return addrs, err
}

// call invokes fn. ctx is checked before the request is sent.
func (c *Client) call(ctx context.Context, fn string, result any, params ...any) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("calling %s at %s: %w", fn, c.base, err)
	}
	if params == nil {
		// Encoded as [] rather than null.
		params = []any{}
	}
	err := c.rpc.Call(ctx, result, fn, params...)
	if err == nil {
		return nil
	}
	var serr *sherpa.Error
	if errors.As(err, &serr) {
		return remoteError(c.base, fn, serr)
	}
	return fmt.Errorf("calling %s at %s: %w", fn, c.base, err)
}

// remoteError maps a sherpa error back to the matching sentinel.
func remoteError(base, fn string, e *sherpa.Error) error {
	switch e.Code {
	case codeAlreadyRegistered:
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, e.Message)
	case codeInvalidDomain:
		return fmt.Errorf("%w: %s", ErrInvalidDomain, e.Message)
	case codeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, e.Message)
	}
	return fmt.Errorf("remote %s at %s failed (%s): %s", fn, base, e.Code, e.Message)
}
