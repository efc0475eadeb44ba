package directory

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mjl-/sherpa"
	"github.com/mjl-/sherpadoc"
	"github.com/mjl-/sherpaprom"
	"github.com/prometheus/client_golang/prometheus"
)

// Error codes used on the wire.
const (
	codeAlreadyRegistered = "user:alreadyRegistered"
	codeInvalidDomain     = "user:invalidDomain"
	codeNotFound          = "user:notFound"
	codeServer            = "server:error"
)

// APIVersion is reported in sherpa.json.
const APIVersion = "0.1.0"

type ctxKey struct{}

// API exposes a Node as sherpa functions. The node is taken from the
// request context, set by Handler.
type API struct{}

func xnode(ctx context.Context) *Node {
	n, ok := ctx.Value(ctxKey{}).(*Node)
	if !ok {
		panic(&sherpa.Error{Code: codeServer, Message: "no directory node in context"})
	}
	return n
}

// xcheck turns a directory error into a sherpa error carrying its code.
func xcheck(err error) {
	if err == nil {
		return
	}
	code := codeServer
	switch {
	case errors.Is(err, ErrAlreadyRegistered):
		code = codeAlreadyRegistered
	case errors.Is(err, ErrInvalidDomain):
		code = codeInvalidDomain
	case errors.Is(err, ErrNotFound):
		code = codeNotFound
	}
	panic(&sherpa.Error{Code: code, Message: err.Error()})
}

// RegisterNameserver registers the node at ref as owner of domain.
func (API) RegisterNameserver(ctx context.Context, domain, ref string) {
	if ref == "" {
		xcheck(fmt.Errorf("%w: empty nameserver reference", ErrInvalidDomain))
	}
	xcheck(xnode(ctx).RegisterNameserver(ctx, domain, NewClient(ref, nil)))
}

// RegisterMailboxServer registers address as mailbox endpoint of domain.
func (API) RegisterMailboxServer(ctx context.Context, domain, address string) {
	xcheck(xnode(ctx).RegisterMailboxServer(ctx, domain, address))
}

// GetNameserver returns the reference of the sub-zone node for label.
func (API) GetNameserver(ctx context.Context, label string) string {
	ns, err := xnode(ctx).GetNameserver(ctx, label)
	xcheck(err)
	return ns.Ref()
}

// Lookup returns the mailbox endpoint registered for label.
func (API) Lookup(ctx context.Context, label string) string {
	addr, err := xnode(ctx).Lookup(ctx, label)
	xcheck(err)
	return addr
}

// Nameservers lists the labels of registered sub-zones.
func (API) Nameservers(ctx context.Context) []string {
	return xnode(ctx).Nameservers()
}

// Addresses lists the registered mailbox endpoints.
func (API) Addresses(ctx context.Context) []Address {
	return xnode(ctx).Addresses()
}

// Handler serves node's RPC functions under path. Call metrics are
// registered with reg.
func Handler(node *Node, path string, reg prometheus.Registerer) (http.Handler, error) {
	collector, err := sherpaprom.NewCollector("dmaildirectory", reg)
	if err != nil {
		return nil, fmt.Errorf("creating rpc metrics collector: %w", err)
	}
	doc := &sherpadoc.Section{
		Name: "Directory",
		Docs: "Nameserver tree mapping mail domains to mailbox endpoints.",
	}
	h, err := sherpa.NewHandler(path, APIVersion, API{}, doc, &sherpa.HandlerOpts{Collector: collector, AdjustFunctionNames: "none"})
	if err != nil {
		return nil, fmt.Errorf("creating rpc handler: %w", err)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), ctxKey{}, node)
		h.ServeHTTP(w, r.WithContext(ctx))
	}), nil
}
