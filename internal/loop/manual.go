package loop

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler for tests. Posted work only runs when
// RunPending or Advance is called, and timers follow a virtual clock.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    int
}

// NewManual creates a manual scheduler whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the virtual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
	return true
}

// Do runs fn inline. Work it posts stays queued until RunPending.
func (m *Manual) Do(fn func()) error {
	fn()
	return nil
}

func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	return m.addTimer(d, 0, fn)
}

func (m *Manual) Every(d time.Duration, fn func()) Timer {
	return m.addTimer(d, d, fn)
}

// Pending returns the number of queued tasks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// ActiveTimers returns the number of timers that have not fired or been stopped.
func (m *Manual) ActiveTimers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// RunPending runs queued tasks, including tasks they post, until the queue is
// empty. It returns how many tasks ran.
func (m *Manual) RunPending() int {
	n := 0
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return n
		}
		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		fn()
		n++
	}
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and draining the queue after each one.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].deadline.Equal(m.timers[j].deadline) {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].deadline.Before(m.timers[j].deadline)
		})
		if len(m.timers) == 0 || m.timers[0].deadline.After(target) {
			m.now = target
			m.mu.Unlock()
			m.RunPending()
			return
		}
		t := m.timers[0]
		m.now = t.deadline
		if t.period > 0 {
			t.deadline = t.deadline.Add(t.period)
		} else {
			m.timers = m.timers[1:]
		}
		m.queue = append(m.queue, func() {
			if !t.stopped {
				t.fn()
			}
		})
		m.mu.Unlock()
		m.RunPending()
	}
}

func (m *Manual) addTimer(d, period time.Duration, fn func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, deadline: m.now.Add(d), period: period, fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

type manualTimer struct {
	m        *Manual
	deadline time.Time
	period   time.Duration
	fn       func()
	seq      int
	stopped  bool
}

func (t *manualTimer) Stop() bool {
	t.m.mu.Lock()
	defer t.m.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	for i, other := range t.m.timers {
		if other == t {
			t.m.timers = append(t.m.timers[:i], t.m.timers[i+1:]...)
			return true
		}
	}
	// Already fired (one-shot); the queued callback, if any, is dropped.
	return false
}
