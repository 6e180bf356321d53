package poller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rickgao/issuewatch/internal/api"
	"github.com/rickgao/issuewatch/internal/clock"
	"github.com/rickgao/issuewatch/internal/model"
)

// mockSource returns a fixed issue list.
type mockSource struct {
	issues    []model.Issue
	err       error
	listCalls atomic.Int32
	statCalls atomic.Int32
}

func (m *mockSource) ListIssues(ctx context.Context, _ model.IssueFilter) ([]model.Issue, error) {
	m.listCalls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.issues, nil
}

func (m *mockSource) DashboardStats(ctx context.Context) (model.DashboardData, error) {
	m.statCalls.Add(1)
	if m.err != nil {
		return model.DashboardData{}, m.err
	}
	return model.ComputeDashboard(m.issues), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitSnapshot(t *testing.T, ch <-chan Snapshot) Snapshot {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for snapshot")
		return Snapshot{}
	}
}

func expectNoSnapshot(t *testing.T, ch <-chan Snapshot) {
	t.Helper()
	select {
	case s := <-ch:
		t.Fatalf("unexpected snapshot (reason %q)", s.Reason)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestPoller_Refresh(t *testing.T) {
	// Test server returns two issues.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"3f1c2b9e-8d4a-4c1e-9b7a-2e5f6a7b8c9d","title":"a","status":"OPEN","severity":"HIGH","created_by":"0b6f0e36-6a7c-4d6b-9f4e-1a2b3c4d5e6f","created_at":"2024-03-01T10:00:00","updated_at":"2024-03-01T10:00:00"},
			{"id":"4f1c2b9e-8d4a-4c1e-9b7a-2e5f6a7b8c9d","title":"b","status":"DONE","severity":"LOW","created_by":"0b6f0e36-6a7c-4d6b-9f4e-1a2b3c4d5e6f","created_at":"2024-03-01T10:00:00","updated_at":"2024-03-01T10:00:00"}
		]`))
	}))
	defer server.Close()

	client := api.NewClient(server.URL, api.WithTimeout(5*time.Second))

	var got Snapshot
	handler := SnapshotHandlerFunc(func(s Snapshot) error {
		got = s
		return nil
	})

	p := New(DefaultConfig(), client, handler, discardLogger())

	// Call refresh directly.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	p.ctx = ctx

	p.refresh("manual")

	if len(got.Issues) != 2 {
		t.Fatalf("issues = %d, want 2", len(got.Issues))
	}
	if got.Dashboard.TotalOpen != 1 || got.Reason != "manual" {
		t.Errorf("snapshot = %+v", got)
	}
	if s := p.Stats(); s.Refreshes != 1 || s.Failures != 0 || s.LastRefresh.IsZero() {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPoller_RefreshError(t *testing.T) {
	src := &mockSource{err: &api.APIError{StatusCode: 401}}

	var handled atomic.Bool
	var observed error
	p := New(DefaultConfig(), src,
		SnapshotHandlerFunc(func(Snapshot) error { handled.Store(true); return nil }),
		discardLogger(),
		WithErrorHandler(func(err error) { observed = err }),
	)
	p.ctx = context.Background()

	p.refresh("manual")

	if handled.Load() {
		t.Error("handler called after failed refresh")
	}
	if !api.IsUnauthorized(observed) {
		t.Errorf("observed error = %v", observed)
	}
	if s := p.Stats(); s.Failures != 1 || s.Refreshes != 0 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestPoller_HandlerErrorStillCounts(t *testing.T) {
	src := &mockSource{}
	p := New(DefaultConfig(), src,
		SnapshotHandlerFunc(func(Snapshot) error { return errors.New("sink full") }),
		discardLogger(),
	)
	p.ctx = context.Background()
	p.refresh("manual")

	if s := p.Stats(); s.Refreshes != 1 {
		t.Errorf("Refreshes = %d, want 1", s.Refreshes)
	}
	if src.listCalls.Load() != 1 || src.statCalls.Load() != 1 {
		t.Errorf("calls = %d/%d, want 1/1", src.listCalls.Load(), src.statCalls.Load())
	}
}

func TestPoller_IntervalAndTrigger(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	src := &mockSource{}
	snapshots := make(chan Snapshot, 16)

	cfg := Config{Interval: time.Minute, Timeout: time.Second, Debounce: 500 * time.Millisecond}
	p := New(cfg, src, SnapshotHandlerFunc(func(s Snapshot) error {
		snapshots <- s
		return nil
	}), discardLogger(), WithClock(clk))

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop(context.Background())

	if s := waitSnapshot(t, snapshots); s.Reason != "start" {
		t.Errorf("first reason = %q", s.Reason)
	}

	// Interval tick.
	clk.WaitForTimers(1)
	clk.Advance(time.Minute)
	if s := waitSnapshot(t, snapshots); s.Reason != "interval" {
		t.Errorf("tick reason = %q", s.Reason)
	}

	// A burst of triggers collapses into one debounced refresh.
	p.Trigger("issue_created")
	p.Trigger("issue_updated")
	p.Trigger("issue_deleted")
	clk.WaitForTimers(2)
	expectNoSnapshot(t, snapshots)

	clk.Advance(500 * time.Millisecond)
	if s := waitSnapshot(t, snapshots); s.Reason != "issue_created" {
		t.Errorf("triggered reason = %q", s.Reason)
	}
	expectNoSnapshot(t, snapshots)
}

func TestPoller_StartStop(t *testing.T) {
	src := &mockSource{}
	var called atomic.Bool
	handler := SnapshotHandlerFunc(func(Snapshot) error {
		called.Store(true)
		return nil
	})

	cfg := Config{Interval: 100 * time.Millisecond, Timeout: 5 * time.Second}
	p := New(cfg, src, handler, nil)

	ctx := context.Background()
	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Wait for at least one poll.
	time.Sleep(150 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	if err := p.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if !called.Load() {
		t.Error("handler was never called")
	}
}

func TestPoller_StartInvalidInterval(t *testing.T) {
	p := New(Config{}, &mockSource{}, nil, nil)
	if err := p.Start(context.Background()); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestPoller_TriggerNeverBlocks(t *testing.T) {
	p := New(DefaultConfig(), &mockSource{}, nil, nil)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			p.Trigger("burst")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Trigger blocked")
	}
}
