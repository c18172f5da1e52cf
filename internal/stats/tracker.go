// Package stats keeps lifetime scan counters by observing a session bus and
// persisting them to disk.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/scanner"
)

const defaultSaveInterval = 30 * time.Second

type EventType int

const (
	EventState EventType = iota
	EventFrames
	EventPointCloud
	EventMesh
	EventScene
	EventCancellation
	EventDiagnostic
)

// Event is one bus observation, flattened for the tracker goroutine.
type Event struct {
	Type EventType
	// Key identifies the artifact. A replay of the latest value of a type
	// carries the same key and is counted once.
	Key      string
	State    scanner.State
	Frames   engine.FrameStats
	Points   int
	Faces    int
	Vertices int
	Source   string
	Command  string
	At       time.Time
}

// Tracker aggregates bus events into Stats on its own goroutine and saves
// them periodically.
type Tracker struct {
	persist  *Store
	interval time.Duration
	log      *logging.Logger

	events chan Event

	mu        sync.Mutex
	stats     *Stats
	dirty     bool
	lastKey   map[EventType]string
	lastState scanner.State
}

// NewTracker loads existing stats and returns a tracker. The caller must run
// Run in a goroutine. A non-positive interval uses 30s.
func NewTracker(persist *Store, interval time.Duration, log *logging.Logger) (*Tracker, error) {
	st, err := persist.Load()
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = defaultSaveInterval
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Tracker{
		persist:  persist,
		interval: interval,
		log:      log.WithComponent("stats"),
		events:   make(chan Event, 256),
		stats:    st,
		lastKey:  make(map[EventType]string),
	}, nil
}

// Events returns the channel events are delivered on.
func (t *Tracker) Events() chan<- Event { return t.events }

// Observe subscribes to every channel of bus. Handlers never block the
// control context: when the buffer is full the event is dropped and logged.
// The returned function unsubscribes.
func (t *Tracker) Observe(bus *scanner.Bus) (cancel func()) {
	cancels := []func(){
		bus.State.Subscribe(func(s scanner.State) {
			t.offer(Event{Type: EventState, State: s})
		}),
		bus.Statistics.Subscribe(func(fs *engine.FrameStats) {
			if fs != nil {
				t.offer(Event{Type: EventFrames, Frames: *fs})
			}
		}),
		bus.PointCloud.Subscribe(func(pc *engine.PointCloud) {
			if pc != nil {
				t.offer(Event{Type: EventPointCloud, Key: "pc:" + pc.ID, Points: pc.PointCount, At: pc.CapturedAt})
			}
		}),
		bus.Mesh.Subscribe(func(m *engine.Mesh) {
			if m != nil {
				t.offer(Event{Type: EventMesh, Key: "mesh:" + m.ID, Faces: m.FaceCount, Vertices: m.VertexCount})
			}
		}),
		bus.Scene.Subscribe(func(sc *engine.Scene) {
			if sc != nil {
				t.offer(Event{Type: EventScene, Key: "scene:" + sc.ID, At: sc.FinishedAt})
			}
		}),
		bus.Cancellation.Subscribe(func(c *scanner.Cancellation) {
			if c != nil {
				key := fmt.Sprintf("cancel:%d:%d", c.Seq, c.At.UnixNano())
				t.offer(Event{Type: EventCancellation, Key: key, Source: c.Source, At: c.At})
			}
		}),
		bus.Diagnostics.Subscribe(func(d *scanner.Diagnostic) {
			if d != nil {
				key := fmt.Sprintf("diag:%s:%d", d.Command, d.At.UnixNano())
				t.offer(Event{Type: EventDiagnostic, Key: key, Command: d.Command, At: d.At})
			}
		}),
	}
	return func() {
		for _, c := range cancels {
			c()
		}
	}
}

func (t *Tracker) offer(ev Event) {
	select {
	case t.events <- ev:
	default:
		t.log.Warn("stats event dropped, buffer full", "type", int(ev.Type))
	}
}

// Run processes events and saves dirty stats every interval. It blocks
// until ctx is canceled, then saves one last time.
func (t *Tracker) Run(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.drain()
			t.save()
			return
		case ev := <-t.events:
			t.process(ev)
		case <-ticker.C:
			t.save()
		}
	}
}

// Stats returns a copy of the current counters.
func (t *Tracker) Stats() *Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats.clone()
}

func (t *Tracker) drain() {
	for {
		select {
		case ev := <-t.events:
			t.process(ev)
		default:
			return
		}
	}
}

func (t *Tracker) process(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ev.Key != "" {
		if t.lastKey[ev.Type] == ev.Key {
			return
		}
		t.lastKey[ev.Type] = ev.Key
	}

	st := t.stats
	switch ev.Type {
	case EventState:
		if ev.State == scanner.Scanning && t.lastState != scanner.Scanning {
			st.ScansStarted++
			st.LastScanAt = time.Now().UTC()
		}
		t.lastState = ev.State
	case EventFrames:
		st.MaxSucceededFrames = max(st.MaxSucceededFrames, ev.Frames.SucceededCount)
		st.MaxLostTracking = max(st.MaxLostTracking, ev.Frames.LostTrackingCount)
	case EventPointCloud:
		st.ScansCompleted++
		st.MaxPointCount = max(st.MaxPointCount, ev.Points)
	case EventMesh:
		st.MeshesGenerated++
		st.MaxFaceCount = max(st.MaxFaceCount, ev.Faces)
		st.MaxVertexCount = max(st.MaxVertexCount, ev.Vertices)
	case EventScene:
		st.ScenesFinalized++
	case EventCancellation:
		st.ScansCanceled++
		if ev.Source == scanner.CancelSourceEngine {
			st.CanceledByEngine++
		}
	case EventDiagnostic:
		st.Failures++
		st.FailuresPerCommand[ev.Command]++
	default:
		return
	}
	t.dirty = true
}

func (t *Tracker) save() {
	t.mu.Lock()
	if !t.dirty {
		t.mu.Unlock()
		return
	}
	snapshot := t.stats.clone()
	t.dirty = false
	t.mu.Unlock()

	if err := t.persist.Save(snapshot); err != nil {
		t.log.Error("saving stats", "path", t.persist.Path(), "error", err)
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}
