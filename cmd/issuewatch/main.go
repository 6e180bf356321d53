// issuewatch keeps a live connection to an Issues & Insights tracker,
// surfaces its events as notifications, refreshes the dashboard when issues
// change and optionally journals every event to Postgres.
//
// Usage: issuewatch --config configs/issuewatch.example.yaml [--email you@example.com]
//
// The password for --email is read from ISSUEWATCH_PASSWORD.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/rickgao/issuewatch/internal/config"
	"github.com/rickgao/issuewatch/internal/logging"
	"github.com/rickgao/issuewatch/internal/version"
)

const passwordEnv = "ISSUEWATCH_PASSWORD"

type options struct {
	configPath string
	email      string
	logLevel   string
	verbose    bool
}

func main() {
	var opts options
	flag.StringVarP(&opts.configPath, "config", "c", "", "path to config file (defaults apply when empty)")
	flag.StringVar(&opts.email, "email", "", "sign in with this email; password from "+passwordEnv)
	flag.StringVar(&opts.logLevel, "log-level", "", "override logging.level")
	flag.BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issuewatch:", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "issuewatch:", err)
		os.Exit(1)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	logger.Info("starting issuewatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", opts.configPath,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	a, err := newApp(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		os.Exit(1)
	}

	if err := a.signIn(ctx, opts.email, os.Getenv(passwordEnv)); err != nil {
		logger.Error("sign in failed", "error", err)
		a.close(context.Background())
		os.Exit(1)
	}

	if err := a.run(ctx); err != nil {
		logger.Error("issuewatch exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info("issuewatch stopped")
}

func loadConfig(opts options) (*config.Config, error) {
	var cfg *config.Config
	if opts.configPath == "" {
		cfg = config.Default()
	} else {
		var err error
		if cfg, err = config.LoadAndValidate(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.logLevel != "" {
		if _, err := logging.ParseLevel(opts.logLevel); err != nil {
			return nil, err
		}
		cfg.Logging.Level = opts.logLevel
	}
	if opts.verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}
