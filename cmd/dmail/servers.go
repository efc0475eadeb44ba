package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shineum/dmail/internal/auth"
	"github.com/shineum/dmail/internal/config"
	"github.com/shineum/dmail/internal/directory"
	"github.com/shineum/dmail/internal/keys"
	"github.com/shineum/dmail/internal/mailbox"
	"github.com/shineum/dmail/internal/monitoring"
	"github.com/shineum/dmail/internal/provider"
	"github.com/shineum/dmail/internal/provider/graph"
	"github.com/shineum/dmail/internal/provider/ses"
	"github.com/shineum/dmail/internal/provider/stdout"
	"github.com/shineum/dmail/internal/server"
	"github.com/shineum/dmail/internal/submit"
	"github.com/shineum/dmail/internal/transfer"
)

func runNameserver(ctx context.Context, cfg *config.Config, _ []string) error {
	srv, err := directory.NewServer(directory.ServerConfig{
		ListenAddr: cfg.Nameserver.Listen,
		Advertise:  cfg.Nameserver.Advertise,
		Zone:       cfg.Nameserver.Zone,
		Root:       cfg.Nameserver.Root,
	})
	if err != nil {
		return err
	}

	slog.Info("starting nameserver",
		"listen", cfg.Nameserver.Listen,
		"zone", cfg.Nameserver.Zone,
		"root", cfg.Nameserver.Root,
	)
	// The node serves its own metrics next to the RPC endpoint.
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	slog.Info("nameserver stopped")
	return nil
}

func runTransfer(ctx context.Context, cfg *config.Config, _ []string) error {
	tc := cfg.Transfer
	if tc.Root == "" {
		return errors.New("transfer server needs a directory root")
	}

	dialer, err := submit.NewDialer(tc.SocksProxy, tc.DialTimeout)
	if err != nil {
		return err
	}

	advertise := tc.Advertise
	if advertise == "" {
		advertise = server.AdvertiseAddr(tc.Listen)
	}
	mailer := tc.Mailer
	if mailer == "" {
		mailer = transfer.DefaultMailer(advertise)
	}

	reporter, err := monitoring.NewReporter(cfg.Monitoring.Addr, advertise)
	if err != nil {
		return err
	}
	defer reporter.Close()

	// Select dead-letter provider
	deadLetter, err := selectProvider(ctx, cfg)
	if err != nil {
		return err
	}

	srv := transfer.New(transfer.ServerConfig{
		ListenAddr: tc.Listen,
		Router: transfer.RouterConfig{
			Root:       directory.NewClient(tc.Root, nil),
			Deliverer:  submit.New(dialer, tc.DialTimeout),
			Mailer:     mailer,
			Reporter:   reporter,
			DeadLetter: deadLetter,
			QueueSize:  tc.QueueSize,
			Workers:    tc.Workers,
		},
	})

	if err := serveMetrics(ctx, cfg); err != nil {
		return err
	}

	slog.Info("starting transfer server",
		"listen", tc.Listen,
		"root", tc.Root,
		"mailer", mailer,
		"workers", tc.Workers,
		"queue_size", tc.QueueSize,
		"socks_proxy", tc.SocksProxy,
		"dead_letter", deadLetter.Name(),
		"monitoring", cfg.Monitoring.Addr,
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	slog.Info("transfer server stopped")
	return nil
}

func runMailbox(ctx context.Context, cfg *config.Config, _ []string) error {
	mc := cfg.Mailbox
	if mc.ID == "" || mc.UsersFile == "" {
		return errors.New("mailbox server needs an id and a users file")
	}

	users, err := auth.LoadRegistry(mc.UsersFile)
	if err != nil {
		return err
	}
	key, err := keys.LoadPrivateKey(keys.PrivateKeyPath(cfg.Keys.Dir, mc.ID))
	if err != nil {
		return err
	}

	var root directory.Remote
	if mc.Root != "" {
		root = directory.NewClient(mc.Root, nil)
	} else {
		slog.Warn("no directory root configured, mailbox server will not register")
	}

	srv, err := mailbox.New(mailbox.ServerConfig{
		ID:         mc.ID,
		Domain:     mc.Domain,
		DMTPListen: mc.DMTPListen,
		DMAPListen: mc.DMAPListen,
		Advertise:  mc.Advertise,
		Root:       root,
		Users:      users,
		Key:        key,
	})
	if err != nil {
		return err
	}

	if err := serveMetrics(ctx, cfg); err != nil {
		return err
	}

	slog.Info("starting mailbox server",
		"id", mc.ID,
		"domain", mc.Domain,
		"dmtp_listen", mc.DMTPListen,
		"dmap_listen", mc.DMAPListen,
		"users", len(users.Users()),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	slog.Info("mailbox server stopped")
	return nil
}

// runGenkeys writes a key pair for the id given as argument and, when a
// path is configured, a fresh integrity key.
func runGenkeys(_ context.Context, cfg *config.Config, args []string) error {
	if len(args) != 1 {
		return usageError("<server-id>")
	}
	id := args[0]
	if err := keys.GenerateKeyPair(cfg.Keys.Dir, id); err != nil {
		return err
	}
	slog.Info("generated key pair",
		"private", keys.PrivateKeyPath(cfg.Keys.Dir, id),
		"public", keys.PublicKeyPath(cfg.Keys.Dir, id),
	)

	if cfg.Keys.HMACFile != "" {
		if err := keys.GenerateSecret(cfg.Keys.HMACFile); err != nil {
			return err
		}
		slog.Info("generated integrity key", "path", cfg.Keys.HMACFile)
	}
	return nil
}

// selectProvider chooses the dead-letter backend for undeliverable bounces.
func selectProvider(ctx context.Context, cfg *config.Config) (provider.Provider, error) {
	switch cfg.DeadLetter.Provider {
	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("SES provider selected but SES_REGION, SES_SENDER and SES_RECIPIENT are required")
		}
		s := cfg.DeadLetter.SES
		slog.Info("using AWS SES dead-letter provider",
			"region", s.Region,
			"sender", s.Sender,
			"recipient", s.Recipient,
		)
		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		return ses.New(initCtx, ses.SESProviderConfig{
			Region:          s.Region,
			AccessKeyID:     s.AccessKeyID,
			SecretAccessKey: s.SecretAccessKey,
			Sender:          s.Sender,
			Recipient:       s.Recipient,
		})

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, GRAPH_SENDER and GRAPH_RECIPIENT are required")
		}
		g := cfg.DeadLetter.Graph
		slog.Info("using Microsoft Graph dead-letter provider",
			"tenant_id", g.TenantID,
			"sender", g.Sender,
			"recipient", g.Recipient,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     g.TenantID,
			ClientID:     g.ClientID,
			ClientSecret: g.ClientSecret,
			Sender:       g.Sender,
			Recipient:    g.Recipient,
		})

	case "stdout", "":
		slog.Info("using stdout dead-letter provider")
		return stdout.New(), nil

	default:
		return nil, errors.New("unknown dead-letter provider " + cfg.DeadLetter.Provider)
	}
}
