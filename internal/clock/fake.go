package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake is a manually advanced Clock. Safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*waiter
	changed *sync.Cond
}

type waiter struct {
	deadline time.Time
	interval time.Duration // non-zero for tickers
	fn       func()        // AfterFunc callback
	ch       chan time.Time
	stopped  bool
	fired    bool
}

// NewFake returns a Fake clock frozen at start.
func NewFake(start time.Time) *Fake {
	f := &Fake{now: start}
	f.changed = sync.NewCond(&f.mu)
	return f
}

// Now returns the fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// After returns a channel that receives once the clock passes now+d.
func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if d <= 0 {
		ch <- f.now
		return ch
	}
	f.addLocked(&waiter{deadline: f.now.Add(d), ch: ch})
	return ch
}

// AfterFunc registers fn to run during the Advance call that passes now+d.
func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	w := &waiter{deadline: f.now.Add(d), fn: fn}
	f.addLocked(w)
	f.mu.Unlock()
	return &fakeTimer{clock: f, w: w}
}

// NewTicker returns a ticker firing every d of fake time.
func (f *Fake) NewTicker(d time.Duration) Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}
	ch := make(chan time.Time, 1)
	f.mu.Lock()
	w := &waiter{deadline: f.now.Add(d), interval: d, ch: ch}
	f.addLocked(w)
	f.mu.Unlock()
	return &fakeTicker{clock: f, w: w}
}

func (f *Fake) addLocked(w *waiter) {
	f.waiters = append(f.waiters, w)
	f.changed.Broadcast()
}

// Advance moves time forward by d and fires every waiter whose deadline
// is reached, in deadline order. Callbacks run on the calling goroutine
// without the clock lock held, so they may register new timers; those
// fire too if their deadline falls within the advanced window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDueLocked(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if next.deadline.After(f.now) {
			f.now = next.deadline
		}
		at := f.now
		if next.interval > 0 {
			next.deadline = next.deadline.Add(next.interval)
		} else {
			next.fired = true
			f.removeLocked(next)
		}
		f.mu.Unlock()

		if next.fn != nil {
			next.fn()
		} else {
			select {
			case next.ch <- at:
			default:
			}
		}
	}
}

func (f *Fake) nextDueLocked(target time.Time) *waiter {
	var due []*waiter
	for _, w := range f.waiters {
		if !w.stopped && !w.deadline.After(target) {
			due = append(due, w)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
	return due[0]
}

func (f *Fake) removeLocked(w *waiter) {
	for i, x := range f.waiters {
		if x == w {
			f.waiters = append(f.waiters[:i], f.waiters[i+1:]...)
			break
		}
	}
	f.changed.Broadcast()
}

// Pending returns the number of live timers and tickers.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pendingLocked()
}

func (f *Fake) pendingLocked() int {
	n := 0
	for _, w := range f.waiters {
		if !w.stopped {
			n++
		}
	}
	return n
}

// WaitForTimers blocks until at least n timers or tickers are pending.
func (f *Fake) WaitForTimers(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for f.pendingLocked() < n {
		f.changed.Wait()
	}
}

type fakeTimer struct {
	clock *Fake
	w     *waiter
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.w.stopped || t.w.fired {
		return false
	}
	t.w.stopped = true
	t.clock.removeLocked(t.w)
	return true
}

type fakeTicker struct {
	clock *Fake
	w     *waiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.ch }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if !t.w.stopped {
		t.w.stopped = true
		t.clock.removeLocked(t.w)
	}
}
