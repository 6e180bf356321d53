package notify

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rickgao/issuewatch/internal/clock"
)

// DefaultDuration is how long a toast stays visible unless told otherwise.
const DefaultDuration = 5 * time.Second

// Kind is the toast severity.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindWarning Kind = "warning"
	KindInfo    Kind = "info"
)

// Toast is one visible notification.
type Toast struct {
	ID        string
	Kind      Kind
	Message   string
	Duration  time.Duration // 0 means sticky
	CreatedAt time.Time
}

// Option configures a Center.
type Option func(*Center)

// WithClock sets the clock used for auto-removal.
func WithClock(c clock.Clock) Option {
	return func(n *Center) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithDefaultDuration sets the duration used when callers pass 0.
func WithDefaultDuration(d time.Duration) Option {
	return func(n *Center) {
		if d > 0 {
			n.defaultDuration = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Center) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// Center is the ordered list of visible toasts.
type Center struct {
	clock           clock.Clock
	defaultDuration time.Duration
	logger          *slog.Logger

	// notifyMu orders subscriber deliveries.
	notifyMu sync.Mutex

	mu     sync.Mutex
	toasts []Toast
	timers map[string]clock.Timer
	subs   map[uint64]func([]Toast)
	nextID uint64
}

// NewCenter creates an empty Center.
func NewCenter(opts ...Option) *Center {
	c := &Center{
		clock:           clock.Real(),
		defaultDuration: DefaultDuration,
		logger:          slog.Default(),
		timers:          make(map[string]clock.Timer),
		subs:            make(map[uint64]func([]Toast)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Success shows a success toast. d == 0 uses the default duration and
// d < 0 keeps the toast until removed. Returns the toast ID.
func (c *Center) Success(msg string, d time.Duration) string { return c.add(KindSuccess, msg, d) }

// Error shows an error toast.
func (c *Center) Error(msg string, d time.Duration) string { return c.add(KindError, msg, d) }

// Warning shows a warning toast.
func (c *Center) Warning(msg string, d time.Duration) string { return c.add(KindWarning, msg, d) }

// Info shows an info toast.
func (c *Center) Info(msg string, d time.Duration) string { return c.add(KindInfo, msg, d) }

func (c *Center) add(kind Kind, msg string, d time.Duration) string {
	switch {
	case d == 0:
		d = c.defaultDuration
	case d < 0:
		d = 0
	}

	t := Toast{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   msg,
		Duration:  d,
		CreatedAt: c.clock.Now(),
	}

	c.mu.Lock()
	c.toasts = append(c.toasts, t)
	if d > 0 {
		id := t.ID
		c.timers[id] = c.clock.AfterFunc(d, func() { c.expire(id) })
	}
	c.mu.Unlock()

	c.logger.Debug("toast added", "kind", kind, "message", msg)
	c.publish()
	return t.ID
}

func (c *Center) expire(id string) {
	c.mu.Lock()
	delete(c.timers, id)
	removed := c.removeLocked(id)
	c.mu.Unlock()

	if removed {
		c.publish()
	}
}

// Remove dismisses a toast. Unknown IDs are ignored.
func (c *Center) Remove(id string) {
	c.mu.Lock()
	if timer, ok := c.timers[id]; ok {
		timer.Stop()
		delete(c.timers, id)
	}
	removed := c.removeLocked(id)
	c.mu.Unlock()

	if removed {
		c.publish()
	}
}

func (c *Center) removeLocked(id string) bool {
	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i:i], c.toasts[i+1:]...)
			return true
		}
	}
	return false
}

// Clear dismisses every toast.
func (c *Center) Clear() {
	c.mu.Lock()
	for id, timer := range c.timers {
		timer.Stop()
		delete(c.timers, id)
	}
	c.toasts = nil
	c.mu.Unlock()

	c.publish()
}

// List returns the visible toasts, oldest first.
func (c *Center) List() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Toast(nil), c.toasts...)
}

// Subscribe calls fn with the current list and again after every change.
// fn must not call back into the Center.
func (c *Center) Subscribe(fn func([]Toast)) (cancel func()) {
	c.notifyMu.Lock()
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = fn
	snapshot := append([]Toast(nil), c.toasts...)
	c.mu.Unlock()
	fn(snapshot)
	c.notifyMu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Center) publish() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	snapshot := append([]Toast(nil), c.toasts...)
	subs := make([]func([]Toast), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(snapshot)
	}
}
