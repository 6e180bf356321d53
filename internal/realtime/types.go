package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/issuewatch/internal/model"
)

// Errors
var (
	ErrMissingType = errors.New("message has no type")
	ErrInvalidURL  = errors.New("invalid realtime url")

	ErrConnClosed     = errors.New("connection closed")
	ErrWriteQueueFull = errors.New("write queue full")
)

// CloseNormal is the close code that marks a deliberate shutdown. A close
// with any other code triggers the reconnect policy.
const CloseNormal = websocket.CloseNormalClosure

// HeartbeatFrame is the literal payload sent while the channel is open.
const HeartbeatFrame = "ping"

// Inbound message types.
const (
	TypeConnected    = "connected"
	TypeIssueCreated = "issue_created"
	TypeIssueUpdated = "issue_updated"
	TypeIssueDeleted = "issue_deleted"
)

// Config configures a Manager.
type Config struct {
	URL               string        // e.g. ws://localhost:8000/ws
	TokenParam        string        // query parameter carrying the credential
	BaseDelay         time.Duration // delay before the first reconnect attempt
	MaxAttempts       int           // reconnect attempts before giving up (0 = never reconnect)
	HeartbeatInterval time.Duration
	HandshakeTimeout  time.Duration
	WriteTimeout      time.Duration
}

// DefaultConfig returns the reference reconnect and heartbeat behavior.
func DefaultConfig() Config {
	return Config{
		URL:               "ws://localhost:8000/ws",
		TokenParam:        "token",
		BaseDelay:         5 * time.Second,
		MaxAttempts:       5,
		HeartbeatInterval: 30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
	}
}

// State is the observable connection state. A new value is published on
// every transition; values are never mutated after publication.
type State struct {
	Connected       bool
	Connecting      bool
	LastMessage     *Message // last decoded inbound message, nil if none
	ConnectionCount int      // successful opens since the manager was created
}

// Phase is the manager's internal lifecycle phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseOpen
	PhaseRetryPending
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseOpen:
		return "open"
	case PhaseRetryPending:
		return "retry_pending"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Message is a decoded inbound frame. Only Type is required; the other
// fields are present depending on the type.
type Message struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Text      string          `json:"message,omitempty"` // human readable text (connected)
	Timestamp string          `json:"timestamp,omitempty"`
	UpdatedBy string          `json:"updated_by,omitempty"`
	DeletedBy string          `json:"deleted_by,omitempty"`
	IssueID   string          `json:"issue_id,omitempty"`

	Raw        []byte    `json:"-"` // frame as received
	ReceivedAt time.Time `json:"-"`
}

// decodeMessage parses a raw frame. Frames that are not JSON objects with a
// non-empty "type" are rejected.
func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, ErrMissingType
	}
	msg.Raw = append([]byte(nil), data...)
	return msg, nil
}

// Actor returns who caused the event, if the server said.
func (m Message) Actor() string {
	if m.UpdatedBy != "" {
		return m.UpdatedBy
	}
	return m.DeletedBy
}

// Target returns the ID of the issue the event concerns, from issue_id or
// from the payload's id field.
func (m Message) Target() string {
	if m.IssueID != "" {
		return m.IssueID
	}
	if len(m.Data) == 0 {
		return ""
	}
	var ref struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(m.Data, &ref); err != nil {
		return ""
	}
	return ref.ID
}

// TargetUUID parses Target as a UUID.
func (m Message) TargetUUID() (uuid.UUID, bool) {
	id, err := uuid.Parse(m.Target())
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// Issue decodes the payload of issue_created and issue_updated messages.
func (m Message) Issue() (model.Issue, error) {
	var is model.Issue
	if len(m.Data) == 0 {
		return is, fmt.Errorf("%s message has no data", m.Type)
	}
	if err := json.Unmarshal(m.Data, &is); err != nil {
		return is, fmt.Errorf("decode issue: %w", err)
	}
	return is, nil
}

// Time returns the event timestamp, if present and parseable.
func (m Message) Time() (time.Time, bool) {
	if m.Timestamp == "" {
		return time.Time{}, false
	}
	ts, err := model.ParseTimestamp(m.Timestamp)
	if err != nil {
		return time.Time{}, false
	}
	return ts.Time, true
}

// IsIssueEvent reports whether the message is an issue lifecycle notification.
func (m Message) IsIssueEvent() bool {
	switch m.Type {
	case TypeIssueCreated, TypeIssueUpdated, TypeIssueDeleted:
		return true
	}
	return false
}

// Handler consumes decoded messages of one type.
type Handler func(Message)

// Loss describes a connection loss that was not caused by Disconnect.
type Loss struct {
	Err        error         // cause reported by the socket or dialer
	Deliberate bool          // the server closed with CloseNormal
	Attempt    int           // number of the scheduled reconnect attempt, 0 if none
	RetryIn    time.Duration // delay before that attempt
}

// Exhausted reports whether the manager gave up without scheduling a reconnect
// after an abnormal close.
func (l Loss) Exhausted() bool {
	return !l.Deliberate && l.Attempt == 0
}

// Notifier receives fire-and-forget notifications about the channel. Calls
// are made in transition order, outside the manager's lock; a panicking
// Notifier is logged and otherwise ignored.
type Notifier interface {
	Opened(s State)
	Lost(l Loss)
	// Closed reports a Disconnect that closed the channel or cancelled a
	// pending attempt. s is the idle state it published.
	Closed(s State)
	Received(m Message)
}

type nopNotifier struct{}

func (nopNotifier) Opened(State)     {}
func (nopNotifier) Lost(Loss)        {}
func (nopNotifier) Closed(State)     {}
func (nopNotifier) Received(Message) {}
