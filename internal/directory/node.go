// Package directory implements the hierarchical nameserver tree that maps
// mail domains to mailbox endpoints. Every node owns one zone, knows the
// nodes of its direct sub-zones and the mailbox endpoints of its direct
// labels. Registrations are forwarded down the tree one label per hop.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
)

var (
	ErrAlreadyRegistered = errors.New("already registered")
	ErrInvalidDomain     = errors.New("invalid domain")
	ErrNotFound          = errors.New("not found")
	ErrUnresolvable      = errors.New("domain could not be resolved")
)

// Remote is a handle on a directory node, local or reached over the network.
type Remote interface {
	// Ref is the reference other nodes use to reach this node.
	Ref() string

	// RegisterNameserver registers ns as the node owning domain.
	RegisterNameserver(ctx context.Context, domain string, ns Remote) error

	// RegisterMailboxServer registers the mailbox endpoint of domain.
	RegisterMailboxServer(ctx context.Context, domain, address string) error

	// GetNameserver returns the node registered under exactly one label,
	// or ErrNotFound.
	GetNameserver(ctx context.Context, label string) (Remote, error)

	// Lookup returns the mailbox endpoint registered under exactly one
	// label, or ErrNotFound.
	Lookup(ctx context.Context, label string) (string, error)
}

// Address is one mailbox endpoint registration.
type Address struct {
	Label   string
	Address string
}

// Node is a directory node held in this process.
type Node struct {
	zone string
	ref  string

	mu        sync.Mutex
	children  map[string]Remote
	mailboxes map[string]string
}

// NewNode creates an empty node for zone, reachable as ref. The root node
// has an empty zone.
func NewNode(zone, ref string) *Node {
	return &Node{
		zone:      zone,
		ref:       ref,
		children:  make(map[string]Remote),
		mailboxes: make(map[string]string),
	}
}

func (n *Node) Ref() string  { return n.ref }
func (n *Node) Zone() string { return n.zone }

// splitDomain returns the lowercased labels of domain, rightmost last.
func splitDomain(domain string) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrInvalidDomain)
	}
	labels := strings.Split(strings.ToLower(domain), ".")
	for _, l := range labels {
		if l == "" || strings.ContainsAny(l, " \t/@") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDomain, domain)
		}
	}
	return labels, nil
}

// route decides where a registration for domain goes. With one label left
// it returns that label and a nil next hop. With more labels it returns the
// child owning the rightmost label and the domain without that label.
func (n *Node) route(domain string) (label string, next Remote, rest string, err error) {
	labels, err := splitDomain(domain)
	if err != nil {
		return "", nil, "", err
	}
	if len(labels) == 1 {
		return labels[0], nil, "", nil
	}

	top := labels[len(labels)-1]
	n.mu.Lock()
	child, ok := n.children[top]
	n.mu.Unlock()
	if !ok {
		return "", nil, "", fmt.Errorf("%w: no nameserver for zone %s below %q", ErrInvalidDomain, top, n.zone)
	}
	return "", child, strings.Join(labels[:len(labels)-1], "."), nil
}

func (n *Node) RegisterNameserver(ctx context.Context, domain string, ns Remote) error {
	label, next, rest, err := n.route(domain)
	if err != nil {
		return err
	}
	if next != nil {
		return next.RegisterNameserver(ctx, rest, ns)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkFree(label); err != nil {
		return err
	}
	n.children[label] = ns
	slog.Info("registered nameserver", "zone", n.zone, "label", label, "ref", ns.Ref())
	return nil
}

func (n *Node) RegisterMailboxServer(ctx context.Context, domain, address string) error {
	label, next, rest, err := n.route(domain)
	if err != nil {
		return err
	}
	if next != nil {
		return next.RegisterMailboxServer(ctx, rest, address)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if err := n.checkFree(label); err != nil {
		return err
	}
	n.mailboxes[label] = address
	slog.Info("registered mailbox server", "zone", n.zone, "label", label, "address", address)
	return nil
}

// checkFree fails if label is taken by a sub-zone or a mailbox server. A
// label names one or the other, never both. n.mu must be held.
func (n *Node) checkFree(label string) error {
	if _, ok := n.children[label]; ok {
		return fmt.Errorf("%w: %s is a nameserver in zone %q", ErrAlreadyRegistered, label, n.zone)
	}
	if _, ok := n.mailboxes[label]; ok {
		return fmt.Errorf("%w: %s is a mailbox server in zone %q", ErrAlreadyRegistered, label, n.zone)
	}
	return nil
}

func (n *Node) GetNameserver(ctx context.Context, label string) (Remote, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if child, ok := n.children[strings.ToLower(label)]; ok {
		return child, nil
	}
	return nil, fmt.Errorf("%w: nameserver %s in zone %q", ErrNotFound, label, n.zone)
}

func (n *Node) Lookup(ctx context.Context, label string) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if addr, ok := n.mailboxes[strings.ToLower(label)]; ok {
		return addr, nil
	}
	return "", fmt.Errorf("%w: mailbox %s in zone %q", ErrNotFound, label, n.zone)
}

// Nameservers returns the labels of the registered sub-zones, sorted.
func (n *Node) Nameservers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	labels := make([]string, 0, len(n.children))
	for l := range n.children {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

// Addresses returns the registered mailbox endpoints, sorted by label.
func (n *Node) Addresses() []Address {
	n.mu.Lock()
	defer n.mu.Unlock()
	addrs := make([]Address, 0, len(n.mailboxes))
	for l, a := range n.mailboxes {
		addrs = append(addrs, Address{Label: l, Address: a})
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i].Label < addrs[j].Label })
	return addrs
}
