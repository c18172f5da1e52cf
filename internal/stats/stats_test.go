package stats

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/scanner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreLoadMissing(t *testing.T) {
	st, err := NewStore(t.TempDir()).Load()
	require.NoError(t, err)
	assert.Equal(t, statsVersion, st.Version)
	assert.NotNil(t, st.FailuresPerCommand)
}

func TestStoreSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := NewStore(dir)

	st := newStats()
	st.ScansStarted = 3
	st.FailuresPerCommand["finalize"] = 2
	require.NoError(t, store.Save(st))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.ScansStarted)
	assert.Equal(t, 2, loaded.FailuresPerCommand["finalize"])
	assert.False(t, loaded.LastUpdated.IsZero())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestStoreLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, statsFileName), []byte("{"), 0o600))
	_, err := NewStore(dir).Load()
	assert.ErrorContains(t, err, "parsing stats")
}

func TestDefaultStatsDir(t *testing.T) {
	t.Setenv("XDG_STATE_HOME", "/tmp/state")
	assert.Equal(t, "/tmp/state/kiwiscan/stats.json", NewStore("").Path())
}

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(NewStore(t.TempDir()), time.Hour, nil)
	require.NoError(t, err)
	return tr
}

func TestProcessCountsOncePerKey(t *testing.T) {
	tr := newTracker(t)

	tr.process(Event{Type: EventState, State: scanner.Ready})
	tr.process(Event{Type: EventState, State: scanner.Scanning})
	tr.process(Event{Type: EventState, State: scanner.Scanning})
	tr.process(Event{Type: EventFrames, Frames: engine.FrameStats{SucceededCount: 40, LostTrackingCount: 3}})
	tr.process(Event{Type: EventFrames, Frames: engine.FrameStats{SucceededCount: 50, LostTrackingCount: 2}})
	tr.process(Event{Type: EventPointCloud, Key: "pc:1", Points: 900})
	tr.process(Event{Type: EventPointCloud, Key: "pc:1", Points: 900})
	tr.process(Event{Type: EventState, State: scanner.Viewing})
	tr.process(Event{Type: EventMesh, Key: "mesh:1", Faces: 10, Vertices: 7})
	tr.process(Event{Type: EventMesh, Key: "mesh:2", Faces: 30, Vertices: 17})
	tr.process(Event{Type: EventScene, Key: "scene:1"})
	tr.process(Event{Type: EventCancellation, Key: "c1", Source: scanner.CancelSourceEngine})
	tr.process(Event{Type: EventCancellation, Key: "c2", Source: scanner.CancelSourceCommand})
	tr.process(Event{Type: EventDiagnostic, Key: "d1", Command: "finalize"})

	st := tr.Stats()
	assert.Equal(t, 1, st.ScansStarted)
	assert.Equal(t, 1, st.ScansCompleted)
	assert.Equal(t, 50, st.MaxSucceededFrames)
	assert.Equal(t, 3, st.MaxLostTracking)
	assert.Equal(t, 900, st.MaxPointCount)
	assert.Equal(t, 2, st.MeshesGenerated)
	assert.Equal(t, 30, st.MaxFaceCount)
	assert.Equal(t, 17, st.MaxVertexCount)
	assert.Equal(t, 1, st.ScenesFinalized)
	assert.Equal(t, 2, st.ScansCanceled)
	assert.Equal(t, 1, st.CanceledByEngine)
	assert.Equal(t, 1, st.Failures)
	assert.Equal(t, 1, st.FailuresPerCommand["finalize"])
}

func TestProcessKeyMemoryIsBounded(t *testing.T) {
	tr := newTracker(t)

	for i := 0; i < 1000; i++ {
		tr.process(Event{Type: EventMesh, Key: fmt.Sprintf("mesh:%d", i), Faces: i})
	}
	tr.process(Event{Type: EventMesh, Key: "mesh:999", Faces: 999})
	tr.process(Event{Type: EventDiagnostic, Key: "d1", Command: "prepare"})
	tr.process(Event{Type: EventDiagnostic, Key: "d1", Command: "prepare"})

	assert.Equal(t, 1000, tr.Stats().MeshesGenerated)
	assert.Equal(t, 1, tr.Stats().Failures)
	tr.mu.Lock()
	assert.Len(t, tr.lastKey, 2)
	tr.mu.Unlock()
}

func TestStatsReturnsCopy(t *testing.T) {
	tr := newTracker(t)
	tr.process(Event{Type: EventDiagnostic, Key: "d", Command: "prepare"})
	st := tr.Stats()
	st.FailuresPerCommand["prepare"] = 99
	assert.Equal(t, 1, tr.Stats().FailuresPerCommand["prepare"])
}

func TestObserveBusAndSaveOnShutdown(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	tr, err := NewTracker(store, time.Hour, nil)
	require.NoError(t, err)

	bus := scanner.NewBus()
	stop := tr.Observe(bus)
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tr.Run(ctx)
		close(done)
	}()

	bus.State.Publish(scanner.Scanning)
	bus.Statistics.Publish(&engine.FrameStats{SucceededCount: 12})
	bus.PointCloud.Publish(&engine.PointCloud{ID: "p", PointCount: 1200})
	bus.Cancellation.Publish(&scanner.Cancellation{Seq: 1, Source: scanner.CancelSourceCommand, At: time.Now()})

	require.Eventually(t, func() bool {
		st := tr.Stats()
		return st.ScansStarted == 1 && st.ScansCompleted == 1 && st.ScansCanceled == 1
	}, 2*time.Second, time.Millisecond)

	// A second observer replays current values; they must not double count.
	stop2 := tr.Observe(bus)
	stop2()

	cancel()
	<-done

	saved, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, saved.ScansCompleted)
	assert.Equal(t, 1, saved.ScansCanceled)
	assert.Equal(t, 12, saved.MaxSucceededFrames)
	assert.Equal(t, 1, saved.ScansStarted)
}
