package realtime

import (
	"sync/atomic"
)

type subscriber struct {
	id     uint64
	fn     func(State)
	active atomic.Bool
}

type sink struct {
	id      uint64
	msgType string
	fn      Handler
	active  atomic.Bool
}

type deliveryKind int

const (
	deliverState deliveryKind = iota
	deliverMessage
	deliverOpened
	deliverLost
	deliverClosed
)

// delivery is one queued notification. Targets are captured when the
// delivery is queued; a target cancelled before delivery is skipped.
type delivery struct {
	kind  deliveryKind
	state State
	msg   Message
	loss  Loss

	subs  []*subscriber
	sinks []*sink
}

// publishLocked replaces the state and queues it for every subscriber.
// Caller must hold m.mu.
func (m *Manager) publishLocked(s State) {
	m.state = s
	m.enqueueLocked(delivery{kind: deliverState, state: s, subs: m.subscribersLocked()})
}

func (m *Manager) subscribersLocked() []*subscriber {
	out := make([]*subscriber, len(m.subs))
	copy(out, m.subs)
	return out
}

func (m *Manager) sinksLocked(msgType string) []*sink {
	registered := m.sinks[msgType]
	out := make([]*sink, len(registered))
	copy(out, registered)
	return out
}

func (m *Manager) enqueueLocked(d delivery) {
	m.queue = append(m.queue, d)
}

// flush delivers queued notifications in order, outside the lock. Only one
// goroutine delivers at a time; a call made while another goroutine (or an
// outer frame of the same goroutine) is delivering returns immediately and
// its deliveries are picked up by the active loop.
func (m *Manager) flush() {
	m.mu.Lock()
	if m.delivering {
		m.mu.Unlock()
		return
	}
	m.delivering = true
	for len(m.queue) > 0 {
		d := m.queue[0]
		m.queue[0] = delivery{}
		m.queue = m.queue[1:]
		m.mu.Unlock()

		m.deliver(d)

		m.mu.Lock()
	}
	m.queue = nil
	m.delivering = false
	m.mu.Unlock()
}

func (m *Manager) deliver(d delivery) {
	switch d.kind {
	case deliverState:
		for _, s := range d.subs {
			if s.active.Load() {
				m.guard("subscriber", func() { s.fn(d.state) })
			}
		}
	case deliverMessage:
		for _, s := range d.sinks {
			if s.active.Load() {
				m.guard("handler", func() { s.fn(d.msg) })
			}
		}
		m.guard("notifier", func() { m.notifier.Received(d.msg) })
	case deliverOpened:
		m.guard("notifier", func() { m.notifier.Opened(d.state) })
	case deliverLost:
		m.guard("notifier", func() { m.notifier.Lost(d.loss) })
	case deliverClosed:
		m.guard("notifier", func() { m.notifier.Closed(d.state) })
	}
}

// guard runs fn and logs a panic instead of propagating it.
func (m *Manager) guard(who string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("callback panicked", "callback", who, "panic", r)
		}
	}()
	fn()
}

// Subscribe registers fn for every state transition. The current state is
// delivered first. Subscribers are called in registration order. The
// returned cancel func is idempotent.
func (m *Manager) Subscribe(fn func(State)) (cancel func()) {
	m.mu.Lock()
	m.nextID++
	sub := &subscriber{id: m.nextID, fn: fn}
	sub.active.Store(true)
	m.subs = append(m.subs, sub)
	m.enqueueLocked(delivery{kind: deliverState, state: m.state, subs: []*subscriber{sub}})
	m.mu.Unlock()
	m.flush()

	return func() {
		sub.active.Store(false)
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, r := range m.subs {
			if r == sub {
				m.subs = append(m.subs[:i:i], m.subs[i+1:]...)
				break
			}
		}
	}
}

// Handle registers h for inbound messages of msgType. Handlers for one type
// run in registration order. The returned cancel func is idempotent.
func (m *Manager) Handle(msgType string, h Handler) (cancel func()) {
	m.mu.Lock()
	m.nextID++
	s := &sink{id: m.nextID, msgType: msgType, fn: h}
	s.active.Store(true)
	m.sinks[msgType] = append(m.sinks[msgType], s)
	m.mu.Unlock()

	return func() {
		s.active.Store(false)
		m.mu.Lock()
		defer m.mu.Unlock()
		registered := m.sinks[msgType]
		for i, r := range registered {
			if r == s {
				m.sinks[msgType] = append(registered[:i:i], registered[i+1:]...)
				break
			}
		}
		if len(m.sinks[msgType]) == 0 {
			delete(m.sinks, msgType)
		}
	}
}
