// streamtest opens the live-update channel and prints every state change and
// inbound message to the console.
// Usage: go run ./cmd/streamtest --config configs/issuewatch.example.yaml
//
// The token comes from --token, then ISSUEWATCH_TOKEN, then the cached
// session file. Without one the channel opens anonymously.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/rickgao/issuewatch/internal/auth"
	"github.com/rickgao/issuewatch/internal/config"
	"github.com/rickgao/issuewatch/internal/realtime"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config file (defaults apply when empty)")
	token := flag.String("token", os.Getenv("ISSUEWATCH_TOKEN"), "bearer token for the channel")
	verbose := flag.BoolP("verbose", "v", false, "print full message JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	// Load config
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadAndValidate(*configPath); err != nil {
			logger.Error("failed to load config", "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal")
		cancel()
	}()

	credential := *token
	if credential == "" {
		if sess, err := auth.NewStore(cfg.Session.Path).Load(); err == nil {
			credential = sess.Token
			logger.Info("using cached session", "path", cfg.Session.Path)
		}
	}

	rc := realtime.DefaultConfig()
	rc.URL = cfg.Realtime.URL
	rc.BaseDelay = cfg.Realtime.ReconnectBaseDelay
	rc.MaxAttempts = *cfg.Realtime.MaxReconnectAttempts
	rc.HeartbeatInterval = cfg.Realtime.HeartbeatInterval

	mgr, err := realtime.New(rc,
		realtime.WithLogger(logger),
		realtime.WithNotifier(printer{verbose: *verbose}),
	)
	if err != nil {
		logger.Error("failed to create realtime manager", "error", err)
		os.Exit(1)
	}

	cancelSub := mgr.Subscribe(func(s realtime.State) {
		fmt.Printf("[STATE] connected=%t connecting=%t connections=%d\n",
			s.Connected, s.Connecting, s.ConnectionCount)
	})
	defer cancelSub()

	logger.Info("connecting", "url", rc.URL, "with_token", credential != "")
	mgr.Connect(credential)

	// Stats printer
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := mgr.State()
				attrs := []any{"connected", s.Connected, "connection_count", s.ConnectionCount}
				if s.LastMessage != nil {
					attrs = append(attrs, "last_type", s.LastMessage.Type, "last_at", s.LastMessage.ReceivedAt)
				}
				logger.Info("stats", attrs...)
			}
		}
	}()

	logger.Info("streaming started - press Ctrl+C to stop")

	<-ctx.Done()

	logger.Info("shutting down...")
	mgr.Disconnect()
	logger.Info("shutdown complete")
}

// printer writes channel events to stdout.
type printer struct {
	verbose bool
}

func (p printer) Opened(s realtime.State) {
	fmt.Printf("[OPEN] connection #%d\n", s.ConnectionCount)
}

func (p printer) Lost(l realtime.Loss) {
	switch {
	case l.Deliberate:
		fmt.Println("[CLOSED] server closed the channel")
	case l.Exhausted():
		fmt.Printf("[LOST] %v, giving up\n", l.Err)
	default:
		fmt.Printf("[LOST] %v, retry %d in %s\n", l.Err, l.Attempt, l.RetryIn)
	}
}

func (p printer) Closed(realtime.State) {
	fmt.Println("[CLOSED] disconnected")
}

func (p printer) Received(m realtime.Message) {
	if p.verbose {
		var pretty any
		if err := json.Unmarshal(m.Raw, &pretty); err == nil {
			data, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Printf("[%s] %s\n", m.Type, data)
			return
		}
	}

	switch m.Type {
	case realtime.TypeConnected:
		fmt.Printf("[CONNECTED] %s\n", m.Text)
	case realtime.TypeIssueCreated, realtime.TypeIssueUpdated:
		if is, err := m.Issue(); err == nil {
			fmt.Printf("[%s] id=%s title=%q status=%s severity=%s by=%s\n",
				m.Type, is.ID, is.Title, is.Status, is.Severity, m.Actor())
			return
		}
		fmt.Printf("[%s] target=%s by=%s\n", m.Type, m.Target(), m.Actor())
	default:
		fmt.Printf("[%s] target=%s by=%s\n", m.Type, m.Target(), m.Actor())
	}
}
