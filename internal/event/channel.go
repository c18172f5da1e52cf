// Package event provides replay-latest broadcast channels.
//
// A Channel holds one current value. Subscribing delivers that value to the
// new handler immediately, then every later Publish, in publish order.
// Channels are independent of each other: there is no ordering between
// publishes on different channels.
//
//	ch := event.NewChannel[*Mesh]("mesh", nil)
//	cancel := ch.Subscribe(func(m *Mesh) { render(m) })
//	defer cancel()
//	ch.Publish(mesh)
package event

import (
	"log/slog"
	"runtime/debug"
	"sync"
)

// Handler receives values published on a Channel.
type Handler[T any] func(T)

type subscription[T any] struct {
	id      uint64
	handler Handler[T]
}

// Channel is a replay-latest, multi-subscriber broadcast channel.
// It is safe for concurrent use. Handlers run synchronously on the
// publishing goroutine and must not publish on the same channel.
type Channel[T any] struct {
	name string

	// deliver serializes Publish dispatch against Subscribe replay so a new
	// subscriber never observes values out of order.
	deliver sync.Mutex

	mu     sync.Mutex
	value  T
	subs   []subscription[T]
	nextID uint64
}

// NewChannel creates a channel holding initial until the first publish.
func NewChannel[T any](name string, initial T) *Channel[T] {
	return &Channel[T]{name: name, value: initial}
}

// Name returns the channel name used in logs.
func (c *Channel[T]) Name() string { return c.name }

// Subscribe registers h, delivers the current value to it and returns a
// function that removes the subscription. The cancel function is idempotent
// and may be called from inside a handler.
func (c *Channel[T]) Subscribe(h Handler[T]) (cancel func()) {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription[T]{id: id, handler: h})
	current := c.value
	c.mu.Unlock()

	c.safeCall(h, current)

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

// Publish replaces the current value and delivers it to every subscriber in
// registration order before returning.
func (c *Channel[T]) Publish(v T) {
	c.deliver.Lock()
	defer c.deliver.Unlock()

	c.mu.Lock()
	c.value = v
	subs := make([]subscription[T], len(c.subs))
	copy(subs, c.subs)
	c.mu.Unlock()

	for _, sub := range subs {
		c.safeCall(sub.handler, v)
	}
}

// Value returns the current value.
func (c *Channel[T]) Value() T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// SubscriberCount returns the number of active subscriptions.
func (c *Channel[T]) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *Channel[T]) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, sub := range c.subs {
		if sub.id == id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// safeCall recovers a panicking handler so the remaining subscribers still
// receive the value.
func (c *Channel[T]) safeCall(h Handler[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event handler panicked",
				"channel", c.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	h(v)
}
