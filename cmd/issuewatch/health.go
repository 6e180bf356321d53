package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rickgao/issuewatch/internal/journal"
	"github.com/rickgao/issuewatch/internal/poller"
	"github.com/rickgao/issuewatch/internal/realtime"
	"github.com/rickgao/issuewatch/internal/version"
)

// healthSources are the components /health reports on. journal and db are
// nil when journaling is off.
type healthSources struct {
	live    interface{ State() realtime.State }
	poller  interface{ Stats() poller.Stats }
	auth    interface{ IsAuthenticated() bool }
	journal interface{ Stats() journal.Metrics }
	db      interface {
		Ping(ctx context.Context) error
	}
}

type healthReport struct {
	Status        string         `json:"status"`
	Service       string         `json:"service"`
	Version       string         `json:"version"`
	Authenticated bool           `json:"authenticated"`
	Components    map[string]any `json:"components"`
}

// newHealthHandler serves /health. Status is healthy while the live channel
// is open, degraded while it is connecting or down, and unhealthy (503) when
// the journal database does not answer.
func newHealthHandler(src healthSources) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		report := healthReport{
			Status:        "healthy",
			Service:       "issuewatch",
			Version:       version.Version,
			Authenticated: src.auth.IsAuthenticated(),
			Components:    make(map[string]any),
		}

		s := src.live.State()
		live := map[string]any{
			"connected":        s.Connected,
			"connecting":       s.Connecting,
			"connection_count": s.ConnectionCount,
		}
		if s.LastMessage != nil {
			live["last_message_type"] = s.LastMessage.Type
			live["last_message_at"] = s.LastMessage.ReceivedAt
		}
		report.Components["realtime"] = live
		if !s.Connected {
			report.Status = "degraded"
		}

		ps := src.poller.Stats()
		report.Components["poller"] = map[string]any{
			"refreshes":    ps.Refreshes,
			"failures":     ps.Failures,
			"last_refresh": ps.LastRefresh,
		}

		if src.journal != nil {
			js := src.journal.Stats()
			jr := map[string]any{
				"inserts":   js.Inserts,
				"conflicts": js.Conflicts,
				"errors":    js.Errors,
				"buffered":  js.Buffered,
			}
			if src.db != nil {
				if err := src.db.Ping(ctx); err != nil {
					report.Status = "unhealthy"
					jr["database"] = "disconnected"
					jr["error"] = err.Error()
				} else {
					jr["database"] = "connected"
				}
			}
			report.Components["journal"] = jr
		}

		w.Header().Set("Content-Type", "application/json")
		if report.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(report)
	})

	return mux
}
