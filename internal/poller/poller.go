package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/issuewatch/internal/clock"
	"github.com/rickgao/issuewatch/internal/model"
)

// Source fetches tracker data. Implemented by *api.Client.
type Source interface {
	ListIssues(ctx context.Context, filter model.IssueFilter) ([]model.Issue, error)
	DashboardStats(ctx context.Context) (model.DashboardData, error)
}

// Snapshot is the result of one refresh.
type Snapshot struct {
	Issues    []model.Issue
	Dashboard model.DashboardData
	Reason    string // "start", "interval" or the Trigger reason
	FetchedAt time.Time
}

// SnapshotHandler receives fetched snapshots.
type SnapshotHandler interface {
	HandleSnapshot(snapshot Snapshot) error
}

// SnapshotHandlerFunc is a function adapter for SnapshotHandler.
type SnapshotHandlerFunc func(Snapshot) error

func (f SnapshotHandlerFunc) HandleSnapshot(s Snapshot) error {
	return f(s)
}

// Config holds poller configuration.
type Config struct {
	Interval time.Duration // Refresh interval (default: 1m)
	Timeout  time.Duration // Per-refresh timeout (default: 10s)
	Debounce time.Duration // Delay applied to triggered refreshes (default: 500ms)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval: time.Minute,
		Timeout:  10 * time.Second,
		Debounce: 500 * time.Millisecond,
	}
}

// Stats reports refresh counters.
type Stats struct {
	Refreshes   int64
	Failures    int64
	LastRefresh time.Time
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock sets the clock driving the interval and debounce.
func WithClock(c clock.Clock) Option {
	return func(p *Poller) {
		if c != nil {
			p.clock = c
		}
	}
}

// WithErrorHandler sets a callback for failed refreshes.
func WithErrorHandler(fn func(error)) Option {
	return func(p *Poller) {
		p.onError = fn
	}
}

// Poller periodically fetches dashboard data via the REST API.
type Poller struct {
	cfg     Config
	source  Source
	handler SnapshotHandler
	logger  *slog.Logger
	clock   clock.Clock
	onError func(error)

	trigger chan string

	refreshes atomic.Int64
	failures  atomic.Int64
	lastMu    sync.Mutex
	last      time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a new Poller.
func New(cfg Config, source Source, handler SnapshotHandler, logger *slog.Logger, opts ...Option) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Poller{
		cfg:     cfg,
		source:  source,
		handler: handler,
		logger:  logger.With("component", "poller"),
		clock:   clock.Real(),
		trigger: make(chan string, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start begins the polling loop. The first refresh runs immediately.
func (p *Poller) Start(ctx context.Context) error {
	if p.cfg.Interval <= 0 {
		return fmt.Errorf("poller interval must be positive, got %v", p.cfg.Interval)
	}
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("dashboard poller started",
		"interval", p.cfg.Interval,
		"debounce", p.cfg.Debounce,
	)

	return nil
}

// Stop gracefully shuts down the poller.
func (p *Poller) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("dashboard poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a refresh. At most one triggered refresh is pending at a
// time; further calls before it runs are absorbed. Never blocks.
func (p *Poller) Trigger(reason string) {
	select {
	case p.trigger <- reason:
	default:
	}
}

// Stats returns refresh counters.
func (p *Poller) Stats() Stats {
	p.lastMu.Lock()
	last := p.last
	p.lastMu.Unlock()
	return Stats{
		Refreshes:   p.refreshes.Load(),
		Failures:    p.failures.Load(),
		LastRefresh: last,
	}
}

// run is the main polling loop.
func (p *Poller) run() {
	defer p.wg.Done()

	ticker := p.clock.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	p.refresh("start")

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C():
			p.refresh("interval")
		case reason := <-p.trigger:
			if !p.debounce() {
				return
			}
			p.refresh(reason)
		}
	}
}

// debounce waits out the debounce window and absorbs triggers that arrived
// during it. Returns false if the poller is stopping.
func (p *Poller) debounce() bool {
	if p.cfg.Debounce > 0 {
		select {
		case <-p.ctx.Done():
			return false
		case <-p.clock.After(p.cfg.Debounce):
		}
	}
	select {
	case <-p.trigger:
	default:
	}
	return true
}

// refresh fetches issues and dashboard statistics concurrently.
func (p *Poller) refresh(reason string) {
	start := p.clock.Now()

	ctx := p.ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(p.ctx, p.cfg.Timeout)
		defer cancel()
	}

	var (
		issues    []model.Issue
		dashboard model.DashboardData
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		issues, err = p.source.ListIssues(gctx, model.IssueFilter{})
		if err != nil {
			return fmt.Errorf("list issues: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		dashboard, err = p.source.DashboardStats(gctx)
		if err != nil {
			return fmt.Errorf("dashboard stats: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		p.failures.Add(1)
		if p.ctx.Err() == nil {
			p.logger.Warn("refresh failed", "reason", reason, "err", err)
			if p.onError != nil {
				p.onError(err)
			}
		}
		return
	}

	snapshot := Snapshot{
		Issues:    issues,
		Dashboard: dashboard,
		Reason:    reason,
		FetchedAt: p.clock.Now(),
	}

	if p.handler != nil {
		if err := p.handler.HandleSnapshot(snapshot); err != nil {
			p.logger.Warn("snapshot handler failed", "err", err)
		}
	}

	p.refreshes.Add(1)
	p.lastMu.Lock()
	p.last = snapshot.FetchedAt
	p.lastMu.Unlock()

	p.logger.Debug("refresh complete",
		"reason", reason,
		"issues", len(issues),
		"total_open", dashboard.TotalOpen,
		"duration", p.clock.Now().Sub(start),
	)
}
