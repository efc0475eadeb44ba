package directory

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var metricResolve = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dmail_directory_resolve_total",
		Help: "Domain resolutions by result: ok, unresolvable.",
	},
	[]string{"result"},
)

// Resolve walks the tree from root to the mailbox endpoint of domain: one
// GetNameserver call per label from the right, then Lookup of the leftmost
// label at the last node reached. Any absence or remote failure makes the
// whole resolution fail with ErrUnresolvable.
func Resolve(ctx context.Context, root Remote, domain string) (string, error) {
	addr, err := resolve(ctx, root, domain)
	if err != nil {
		metricResolve.WithLabelValues("unresolvable").Inc()
		return "", fmt.Errorf("%w: %s: %w", ErrUnresolvable, domain, err)
	}
	metricResolve.WithLabelValues("ok").Inc()
	return addr, nil
}

func resolve(ctx context.Context, root Remote, domain string) (string, error) {
	if root == nil {
		return "", fmt.Errorf("no root nameserver")
	}
	labels, err := splitDomain(domain)
	if err != nil {
		return "", err
	}

	node := root
	for i := len(labels) - 1; i > 0; i-- {
		if node, err = node.GetNameserver(ctx, labels[i]); err != nil {
			return "", err
		}
	}
	return node.Lookup(ctx, labels[0])
}
