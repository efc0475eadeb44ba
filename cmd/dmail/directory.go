package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/shineum/dmail/internal/config"
	"github.com/shineum/dmail/internal/directory"
)

// zoneArg returns the zone named on the command line, the root when none.
func zoneArg(args []string) (string, error) {
	switch len(args) {
	case 0:
		return "", nil
	case 1:
		return args[0], nil
	default:
		return "", usageError("[zone]")
	}
}

func runNameservers(ctx context.Context, cfg *config.Config, args []string) error {
	zone, err := zoneArg(args)
	if err != nil {
		return err
	}
	return listNameservers(ctx, os.Stdout, cfg.Nameserver.Root, zone)
}

func runAddresses(ctx context.Context, cfg *config.Config, args []string) error {
	zone, err := zoneArg(args)
	if err != nil {
		return err
	}
	return listAddresses(ctx, os.Stdout, cfg.Nameserver.Root, zone)
}

func zoneClient(ctx context.Context, root, zone string) (*directory.Client, error) {
	if root == "" {
		return nil, errors.New("no directory root configured, set DIRECTORY_ROOT")
	}
	return directory.NewClient(root, nil).Zone(ctx, zone)
}

// listNameservers prints the sub-zones registered at zone, one per line.
func listNameservers(ctx context.Context, w io.Writer, root, zone string) error {
	zc, err := zoneClient(ctx, root, zone)
	if err != nil {
		return err
	}
	labels, err := zc.Nameservers(ctx)
	if err != nil {
		return err
	}
	for _, l := range labels {
		fmt.Fprintln(w, l)
	}
	return nil
}

// listAddresses prints the mailbox servers registered at zone.
func listAddresses(ctx context.Context, w io.Writer, root, zone string) error {
	zc, err := zoneClient(ctx, root, zone)
	if err != nil {
		return err
	}
	addrs, err := zc.Addresses(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tADDRESS")
	for _, a := range addrs {
		fmt.Fprintf(tw, "%s\t%s\n", a.Label, a.Address)
	}
	return tw.Flush()
}
