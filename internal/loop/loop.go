// Package loop provides the single control context that owns all session
// mutation. Work posted from any goroutine runs serially, in post order, on
// one goroutine; timers deliver their callbacks onto the same goroutine.
package loop

import (
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned when work is submitted to a loop that has been closed.
var ErrClosed = errors.New("control loop closed")

// Timer is a pending one-shot or periodic callback.
type Timer interface {
	// Stop cancels the timer. A callback that was already queued but has not
	// run yet is dropped. Reports whether the timer was still active.
	Stop() bool
}

// Scheduler is the contract every control context satisfies.
type Scheduler interface {
	// Post queues fn to run on the control context and returns immediately.
	// It reports false if the scheduler no longer accepts work.
	Post(fn func()) bool

	// Do runs fn on the control context and waits for it to return.
	// It must not be called from the control context itself.
	Do(fn func()) error

	// AfterFunc runs fn on the control context once d has elapsed.
	AfterFunc(d time.Duration, fn func()) Timer

	// Every runs fn on the control context every d until stopped.
	Every(d time.Duration, fn func()) Timer
}

// Loop is a goroutine-backed Scheduler with an unbounded FIFO, so posting
// from inside a running task never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	closed  bool
	started bool

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a loop. Call Start before posting work that must run.
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Start begins the worker goroutine. Safe to call multiple times.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.started || l.closed {
		return
	}
	l.started = true
	l.wg.Add(1)
	go l.run()
}

// Close stops accepting work, lets the worker finish the task in hand and
// waits for it to exit. Queued work that has not started is discarded.
func (l *Loop) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.queue = nil
	close(l.done)
	l.mu.Unlock()
	l.wg.Wait()
}

func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return true
}

func (l *Loop) Do(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		// The task may still have run; only report closure if it did not.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

func (l *Loop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped.CompareAndSwap(false, true) {
				fn()
			}
		})
	})
	return t
}

func (l *Loop) Every(d time.Duration, fn func()) Timer {
	t := &loopTicker{quit: make(chan struct{})}
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-t.quit:
				return
			case <-l.done:
				return
			case <-ticker.C:
				l.Post(func() {
					if !t.stopped.Load() {
						fn()
					}
				})
			}
		}
	}()
	return t
}

func (l *Loop) run() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			l.mu.Lock()
			if l.closed || len(l.queue) == 0 {
				l.mu.Unlock()
				break
			}
			fn := l.queue[0]
			l.queue[0] = nil
			l.queue = l.queue[1:]
			l.mu.Unlock()
			safeRun(fn)
		}
	}
}

// safeRun keeps one misbehaving task from taking the control context down.
func safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("control loop task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

type loopTimer struct {
	timer   *time.Timer
	stopped atomic.Bool
}

func (t *loopTimer) Stop() bool {
	t.timer.Stop()
	return t.stopped.CompareAndSwap(false, true)
}

type loopTicker struct {
	quit    chan struct{}
	stopped atomic.Bool
}

func (t *loopTicker) Stop() bool {
	if !t.stopped.CompareAndSwap(false, true) {
		return false
	}
	close(t.quit)
	return true
}
