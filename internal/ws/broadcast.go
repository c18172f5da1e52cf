package ws

import (
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/scanner"
)

type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() {
	close(c.send)
}

// Broadcaster fans bus publishes and feedback pulses out to websocket
// clients. Bus handlers run on the control context, so delivery never
// blocks: a client whose buffer is full is disconnected.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	closed  bool

	sessionID string
	bus       *scanner.Bus
	seq       atomic.Uint64
	log       *logging.Logger
	unsub     []func()
}

// NewBroadcaster subscribes to every channel of bus.
func NewBroadcaster(sessionID string, bus *scanner.Bus, log *logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.Nop()
	}
	b := &Broadcaster{
		clients:   make(map[*client]bool),
		sessionID: sessionID,
		bus:       bus,
		log:       log.WithComponent("ws"),
	}
	b.unsub = []func(){
		bus.State.Subscribe(func(s scanner.State) {
			b.broadcast(MsgState, StatePayload{State: s})
		}),
		bus.Statistics.Subscribe(func(fs *engine.FrameStats) {
			b.broadcast(MsgStatistics, fs)
		}),
		bus.PointCloud.Subscribe(func(pc *engine.PointCloud) {
			b.broadcast(MsgPointCloud, pc)
		}),
		bus.Mesh.Subscribe(func(m *engine.Mesh) {
			b.broadcast(MsgMesh, m)
		}),
		bus.Scene.Subscribe(func(sc *engine.Scene) {
			b.broadcast(MsgScene, sc)
		}),
		bus.Cancellation.Subscribe(func(c *scanner.Cancellation) {
			if c != nil {
				b.broadcast(MsgCancellation, c)
			}
		}),
		bus.Diagnostics.Subscribe(func(d *scanner.Diagnostic) {
			if d != nil {
				b.broadcast(MsgDiagnostic, d)
			}
		}),
	}
	return b
}

// Actuate forwards a feedback pulse to every client.
func (b *Broadcaster) Actuate(p feedback.Pulse) {
	b.broadcast(MsgFeedback, FeedbackPayload{Pulse: p})
}

// AddClient registers conn and queues a snapshot as its first message.
func (b *Broadcaster) AddClient(conn *websocket.Conn) *client {
	c := newClient(conn)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		c.close()
		return c
	}
	b.clients[c] = true

	// Queued under the lock so no broadcast can overtake the snapshot. The
	// snapshot carries the last broadcast seq.
	data, err := b.encode(MsgSnapshot, b.seq.Load(), SnapshotPayload{SessionID: b.sessionID, Snapshot: b.bus.Snapshot()})
	if err == nil {
		select {
		case c.send <- data:
		default:
		}
	}
	return c
}

func (b *Broadcaster) RemoveClient(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
}

// SendTo queues a message for a single client. Direct messages carry seq 0
// and do not advance the broadcast sequence. It reports false if the client
// is gone or too slow.
func (b *Broadcaster) SendTo(c *client, typ MessageType, payload interface{}) bool {
	data, err := b.encode(typ, 0, payload)
	if err != nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.clients[c] {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Close unsubscribes from the bus and disconnects every client.
func (b *Broadcaster) Close() {
	for _, u := range b.unsub {
		u()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
}

func (b *Broadcaster) encode(typ MessageType, seq uint64, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(WSMessage{Type: typ, Seq: seq, Payload: payload})
	if err != nil {
		b.log.Error("marshal ws message", "type", string(typ), "error", err)
	}
	return data, err
}

func (b *Broadcaster) broadcast(typ MessageType, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if len(b.clients) == 0 {
		return
	}
	data, err := b.encode(typ, b.seq.Add(1), payload)
	if err != nil {
		return
	}

	var slow []*client
	for c := range b.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	if len(slow) > 0 {
		go b.removeSlow(slow)
	}
}

func (b *Broadcaster) removeSlow(clients []*client) {
	for _, c := range clients {
		b.log.Warn("ws client too slow, disconnecting")
		b.RemoveClient(c)
	}
}
