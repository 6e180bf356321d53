package notify

import (
	"fmt"
	"log/slog"

	"github.com/rickgao/issuewatch/internal/realtime"
)

// RealtimeNotifier turns realtime channel events into toasts.
type RealtimeNotifier struct {
	center *Center
	logger *slog.Logger
}

var _ realtime.Notifier = (*RealtimeNotifier)(nil)

// NewRealtimeNotifier returns a notifier that posts to center.
func NewRealtimeNotifier(center *Center, logger *slog.Logger) *RealtimeNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &RealtimeNotifier{center: center, logger: logger.With("component", "notify")}
}

// Opened is silent; the server's connected message produces the toast.
func (n *RealtimeNotifier) Opened(s realtime.State) {
	n.logger.Debug("realtime open", "connection_count", s.ConnectionCount)
}

// Lost warns about abnormal closes and reports when reconnecting stops.
func (n *RealtimeNotifier) Lost(l realtime.Loss) {
	switch {
	case l.Deliberate:
	case l.Exhausted():
		n.center.Error("Real-time updates unavailable", 0)
	case l.Attempt == 1:
		n.center.Warning(fmt.Sprintf("Connection lost, reconnecting in %s", l.RetryIn), 0)
	}
}

// Closed is silent; the user asked for the disconnect.
func (n *RealtimeNotifier) Closed(s realtime.State) {
	n.logger.Debug("realtime closed", "connection_count", s.ConnectionCount)
}

// Received shows a toast for each known message type.
func (n *RealtimeNotifier) Received(m realtime.Message) {
	switch m.Type {
	case realtime.TypeConnected:
		n.center.Success("Connected to real-time updates", 0)
	case realtime.TypeIssueCreated:
		n.center.Info("New issue created", 0)
	case realtime.TypeIssueUpdated:
		n.center.Info(byActor("Issue updated", m.UpdatedBy), 0)
	case realtime.TypeIssueDeleted:
		n.center.Warning(byActor("Issue deleted", m.DeletedBy), 0)
	default:
		n.logger.Debug("unknown realtime message type", "type", m.Type)
	}
}

func byActor(what, actor string) string {
	if actor == "" {
		return what
	}
	return what + " by " + actor
}
