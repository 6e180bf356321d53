package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/issuewatch/internal/api"
	"github.com/rickgao/issuewatch/internal/auth"
	"github.com/rickgao/issuewatch/internal/config"
	"github.com/rickgao/issuewatch/internal/database"
	"github.com/rickgao/issuewatch/internal/journal"
	"github.com/rickgao/issuewatch/internal/notify"
	"github.com/rickgao/issuewatch/internal/poller"
	"github.com/rickgao/issuewatch/internal/realtime"
)

const shutdownTimeout = 15 * time.Second

// app holds the long-lived components of one issuewatch process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	client  *api.Client
	auth    *auth.Authenticator
	toasts  *notify.Center
	live    *realtime.Manager
	poller  *poller.Poller
	pool    *pgxpool.Pool   // nil unless the journal is enabled
	journal *journal.Writer // nil unless the journal is enabled
	health  *http.Server    // nil when health.port is 0
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	a.client = api.NewClient(cfg.API.BaseURL,
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, cfg.API.RetryDelay),
		api.WithTokenSource(api.TokenFunc(func() string { return a.auth.Token() })),
	)
	a.auth = auth.NewAuthenticator(a.client, auth.NewStore(cfg.Session.Path), logger)

	a.toasts = notify.NewCenter(
		notify.WithDefaultDuration(cfg.Notifications.Duration),
		notify.WithLogger(logger),
	)
	a.toasts.Subscribe(toastLogger(logger))

	live, err := realtime.New(realtimeConfig(cfg.Realtime),
		realtime.WithLogger(logger),
		realtime.WithNotifier(notify.NewRealtimeNotifier(a.toasts, logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("create realtime manager: %w", err)
	}
	a.live = live

	a.poller = poller.New(pollerConfig(cfg.Poller), a.client,
		poller.SnapshotHandlerFunc(a.handleSnapshot), logger,
		poller.WithErrorHandler(func(err error) { a.auth.ObserveError(err) }),
	)

	if cfg.Journal.Enabled {
		if err := a.openJournal(ctx); err != nil {
			return nil, err
		}
	}

	// A server-side sign out invalidates the token the channel was opened with.
	a.auth.OnLogout(a.live.Disconnect)

	for _, t := range []string{realtime.TypeIssueCreated, realtime.TypeIssueUpdated, realtime.TypeIssueDeleted} {
		a.live.Handle(t, a.handleIssueEvent)
	}

	if cfg.Health.Port > 0 {
		a.health = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Health.Port),
			Handler:           newHealthHandler(a.healthSources()),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return a, nil
}

func (a *app) openJournal(ctx context.Context) error {
	db := a.cfg.Journal.Database
	a.logger.Info("connecting to database",
		"host", db.Host,
		"port", db.Port,
		"database", db.Name,
	)

	pool, err := database.Connect(ctx, db)
	if err != nil {
		return fmt.Errorf("connect journal database: %w", err)
	}
	if err := journal.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return err
	}
	a.pool = pool
	a.journal = journal.NewWriter(journal.Config{
		BatchSize:     a.cfg.Journal.BatchSize,
		FlushInterval: a.cfg.Journal.FlushInterval,
		BufferSize:    a.cfg.Journal.BufferSize,
	}, pool, a.logger)
	a.logger.Info("database connected")
	return nil
}

// signIn restores the cached session, or signs in with email and password
// when given. Without either the channel opens anonymously.
func (a *app) signIn(ctx context.Context, email, password string) error {
	if hs, err := a.client.Health(ctx); err != nil {
		a.logger.Warn("tracker health check failed", "error", err)
	} else {
		a.logger.Info("tracker reachable", "service", hs.Service, "status", hs.Status)
	}

	if err := a.auth.Init(ctx); err != nil {
		a.logger.Warn("cached session could not be verified", "error", err)
	}

	if email != "" && !a.auth.IsAuthenticated() {
		if password == "" {
			return fmt.Errorf("--email given but %s is empty", passwordEnv)
		}
		if err := a.auth.Login(ctx, email, password); err != nil {
			return err
		}
	}

	if u, ok := a.auth.User(); ok {
		a.logger.Info("signed in", "user", u.Email, "role", u.Role)
	} else {
		a.logger.Warn("not signed in, live updates may be rejected")
	}
	return nil
}

// run starts every component and blocks until ctx is cancelled.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.journal != nil {
		if err := a.journal.Start(gctx); err != nil {
			return fmt.Errorf("start journal: %w", err)
		}
	}
	if err := a.poller.Start(gctx); err != nil {
		return fmt.Errorf("start poller: %w", err)
	}

	if a.health != nil {
		g.Go(func() error {
			a.logger.Info("starting health server", "addr", a.health.Addr)
			if err := a.health.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health server: %w", err)
			}
			return nil
		})
	}

	a.live.Connect(a.auth.Token())

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.close(shutdownCtx)
		return nil
	})

	return g.Wait()
}

// close stops components in reverse dependency order.
func (a *app) close(ctx context.Context) {
	a.live.Disconnect()

	if err := a.poller.Stop(ctx); err != nil {
		a.logger.Debug("poller stop", "error", err)
	}
	if a.journal != nil {
		if err := a.journal.Stop(ctx); err != nil {
			a.logger.Debug("journal stop", "error", err)
		}
		stats := a.journal.Stats()
		a.logger.Info("journal totals",
			"inserts", stats.Inserts,
			"conflicts", stats.Conflicts,
			"errors", stats.Errors,
		)
	}
	if a.pool != nil {
		a.pool.Close()
	}
	if a.health != nil {
		a.health.Shutdown(ctx)
	}
	a.toasts.Clear()
}

func (a *app) handleIssueEvent(msg realtime.Message) {
	a.poller.Trigger(msg.Type)
	if a.journal != nil {
		a.journal.Record(msg)
	}
}

func (a *app) handleSnapshot(s poller.Snapshot) error {
	d := s.Dashboard
	a.logger.Info("dashboard refreshed",
		"reason", s.Reason,
		"issues", len(s.Issues),
		"total_open", d.TotalOpen,
	)
	return nil
}

func (a *app) healthSources() healthSources {
	src := healthSources{
		live:   a.live,
		poller: a.poller,
		auth:   a.auth,
	}
	if a.journal != nil {
		src.journal = a.journal
		src.db = a.pool
	}
	return src
}

func realtimeConfig(rc config.RealtimeConfig) realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.URL = rc.URL
	if rc.ReconnectBaseDelay > 0 {
		cfg.BaseDelay = rc.ReconnectBaseDelay
	}
	if rc.MaxReconnectAttempts != nil {
		cfg.MaxAttempts = *rc.MaxReconnectAttempts
	}
	if rc.HeartbeatInterval > 0 {
		cfg.HeartbeatInterval = rc.HeartbeatInterval
	}
	if rc.HandshakeTimeout > 0 {
		cfg.HandshakeTimeout = rc.HandshakeTimeout
	}
	if rc.WriteTimeout > 0 {
		cfg.WriteTimeout = rc.WriteTimeout
	}
	return cfg
}

func pollerConfig(pc config.PollerConfig) poller.Config {
	cfg := poller.DefaultConfig()
	if pc.Interval > 0 {
		cfg.Interval = pc.Interval
	}
	if pc.Timeout > 0 {
		cfg.Timeout = pc.Timeout
	}
	if pc.Debounce > 0 {
		cfg.Debounce = pc.Debounce
	}
	return cfg
}

// toastLogger logs each toast once, when it first appears.
func toastLogger(logger *slog.Logger) func([]notify.Toast) {
	seen := make(map[string]bool)
	return func(toasts []notify.Toast) {
		live := make(map[string]bool, len(toasts))
		for _, t := range toasts {
			live[t.ID] = true
			if seen[t.ID] {
				continue
			}
			level := slog.LevelInfo
			switch t.Kind {
			case notify.KindWarning:
				level = slog.LevelWarn
			case notify.KindError:
				level = slog.LevelError
			}
			logger.Log(context.Background(), level, "toast", "kind", t.Kind, "message", t.Message)
		}
		seen = live
	}
}
