package journal

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/issuewatch/internal/realtime"
)

// keySpace namespaces event keys so they never collide with other
// name-based UUIDs.
var keySpace = uuid.MustParse("6f1c7c1e-2f55-4c8e-9d43-5a8e3b1f0a27")

// Event is one row of issue_events.
type Event struct {
	Key        uuid.UUID
	Type       string
	IssueID    *string
	Actor      *string
	Payload    []byte // frame as received, stored as jsonb
	OccurredAt *time.Time
	ReceivedAt time.Time
}

// NewEvent converts a decoded message into a row. The key is a SHA-1 name
// UUID of the raw frame.
func NewEvent(msg realtime.Message) Event {
	payload := msg.Raw
	if len(payload) == 0 {
		// Messages built in code have no raw frame.
		payload, _ = json.Marshal(msg)
	}

	ev := Event{
		Key:        uuid.NewSHA1(keySpace, payload),
		Type:       msg.Type,
		Payload:    payload,
		ReceivedAt: msg.ReceivedAt,
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now()
	}
	if id := msg.Target(); id != "" {
		ev.IssueID = &id
	}
	if actor := msg.Actor(); actor != "" {
		ev.Actor = &actor
	}
	if ts, ok := msg.Time(); ok {
		ev.OccurredAt = &ts
	}
	return ev
}
