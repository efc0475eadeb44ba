// Package main is the entry point for the dmail servers and client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/awnumar/memguard"

	"github.com/shineum/dmail/internal/config"
	"github.com/shineum/dmail/internal/metrics"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, cfg *config.Config, args []string) error

	// flags registers command specific flags. May be nil.
	flags func(fs *flag.FlagSet)
}

var commands = []command{
	{"nameserver", "run a directory node (root when no zone is configured)", runNameserver, nil},
	{"transfer", "run a transfer server", runTransfer, nil},
	{"mailbox", "run a mailbox server", runMailbox, nil},
	{"genkeys", "generate a server key pair and the integrity key", runGenkeys, nil},
	{"nameservers", "list the sub-zones of a zone", runNameservers, nil},
	{"addresses", "list the mailbox servers of a zone", runAddresses, nil},
	{"send", "send a message through the transfer server", runSend, sendFlags},
	{"inbox", "list the messages in the mailbox", runInbox, nil},
	{"show", "print one message", runShow, nil},
	{"delete", "delete one message", runDelete, nil},
	{"verify", "check the integrity code of one message", runVerify, nil},
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	defer memguard.Purge()

	if len(args) == 0 {
		usage()
		return 2
	}
	var cmd *command
	for i := range commands {
		if commands[i].name == args[0] {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		usage()
		return 2
	}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	configPath := fs.String("config", "", "path to YAML configuration file (optional)")
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return 1
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := cmd.run(ctx, cfg, fs.Args()); err != nil {
		var uerr usageError
		if errors.As(err, &uerr) {
			fmt.Fprintf(os.Stderr, "usage: dmail %s [-config file] %s\n", cmd.name, uerr)
			return 2
		}
		slog.Error(cmd.name+" failed", "error", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: dmail <command> [-config file] [args]")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-10s %s\n", c.name, c.usage)
	}
}

// usageError carries the argument synopsis of a command.
type usageError string

func (e usageError) Error() string { return string(e) }

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// serveMetrics starts the Prometheus endpoint when one is configured. It
// stops with ctx.
func serveMetrics(ctx context.Context, cfg *config.Config) error {
	if cfg.Metrics.Listen == "" {
		return nil
	}
	srv, err := metrics.Listen(cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	go func() {
		if err := srv.Serve(ctx); err != nil {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return nil
}
