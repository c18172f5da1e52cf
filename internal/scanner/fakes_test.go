package scanner

import (
	"testing"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/loop"
	"github.com/kiwi-scanner/sdk/internal/settings"
	"github.com/stretchr/testify/require"
)

// Fakes are only touched from the manual scheduler, so they need no locking.

type fakeCapture struct {
	cfg    engine.CaptureConfig
	cb     engine.CaptureCallbacks
	starts int
	stops  []engine.StopReason
	closed bool
}

func (f *fakeCapture) Start()                   { f.starts++ }
func (f *fakeCapture) Stop(r engine.StopReason) { f.stops = append(f.stops, r) }
func (f *fakeCapture) Close() error             { f.closed = true; return nil }

func (f *fakeCapture) stopCount(r engine.StopReason) int {
	n := 0
	for _, s := range f.stops {
		if s == r {
			n++
		}
	}
	return n
}

type fakeRecon struct {
	pc       *engine.PointCloud
	params   engine.MeshingParameters
	cb       engine.ReconstructionCallbacks
	scene    *engine.Scene
	finishes int
	closed   bool
}

func (f *fakeRecon) Finish() *engine.Scene {
	f.finishes++
	return f.scene
}

func (f *fakeRecon) Close() error { f.closed = true; return nil }

type fakeEngines struct {
	captures   []*fakeCapture
	recons     []*fakeRecon
	captureErr error
	reconErr   error
	// scene is handed to every reconstruction created afterwards.
	scene *engine.Scene
}

func (e *fakeEngines) captureFactory(cfg engine.CaptureConfig, cb engine.CaptureCallbacks) (engine.CaptureEngine, error) {
	if e.captureErr != nil {
		return nil, e.captureErr
	}
	f := &fakeCapture{cfg: cfg, cb: cb}
	e.captures = append(e.captures, f)
	return f, nil
}

func (e *fakeEngines) reconFactory(pc *engine.PointCloud, params engine.MeshingParameters, cb engine.ReconstructionCallbacks) (engine.ReconstructionEngine, error) {
	if e.reconErr != nil {
		return nil, e.reconErr
	}
	f := &fakeRecon{pc: pc, params: params, cb: cb, scene: e.scene}
	e.recons = append(e.recons, f)
	return f, nil
}

func (e *fakeEngines) lastCapture() *fakeCapture {
	if len(e.captures) == 0 {
		return nil
	}
	return e.captures[len(e.captures)-1]
}

func (e *fakeEngines) lastRecon() *fakeRecon {
	if len(e.recons) == 0 {
		return nil
	}
	return e.recons[len(e.recons)-1]
}

type pulseRecorder struct {
	pulses []feedback.Pulse
}

func (r *pulseRecorder) Actuate(p feedback.Pulse) { r.pulses = append(r.pulses, p) }

func (r *pulseRecorder) count(p feedback.Pulse) int {
	n := 0
	for _, got := range r.pulses {
		if got == p {
			n++
		}
	}
	return n
}

type harness struct {
	t        *testing.T
	sched    *loop.Manual
	engines  *fakeEngines
	pulses   *pulseRecorder
	settings *settings.Store
	s        *Session

	states  []State
	cancels []*Cancellation
	diags   []*Diagnostic
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		sched:    loop.NewManual(time.Unix(0, 0)),
		engines:  &fakeEngines{},
		pulses:   &pulseRecorder{},
		settings: settings.NewStore(settings.Defaults()),
	}
	h.s = New(Options{
		Settings:       h.settings,
		Capture:        h.engines.captureFactory,
		Reconstruction: h.engines.reconFactory,
		Actuator:       h.pulses,
		Scheduler:      h.sched,
	})
	bus := h.s.Bus()
	bus.State.Subscribe(func(s State) { h.states = append(h.states, s) })
	bus.Cancellation.Subscribe(func(c *Cancellation) {
		if c != nil {
			h.cancels = append(h.cancels, c)
		}
	})
	bus.Diagnostics.Subscribe(func(d *Diagnostic) {
		if d != nil {
			h.diags = append(h.diags, d)
		}
	})
	t.Cleanup(func() { h.s.Close() })
	return h
}

// frames delivers frame callbacks with succeeded counts from..to through the
// capture callbacks, then drains the control context.
func (h *harness) frames(from, to int) {
	h.t.Helper()
	cb := h.engines.lastCapture().cb
	for i := from; i <= to; i++ {
		cb.OnFrameProcessed(engine.FrameStats{SucceededCount: i})
	}
	h.sched.RunPending()
}

// toViewing prepares, starts and completes a scan, returning the point cloud.
func (h *harness) toViewing() *engine.PointCloud {
	h.t.Helper()
	require.NoError(h.t, h.s.Prepare())
	require.NoError(h.t, h.s.Start())
	pc := &engine.PointCloud{ID: "pc-1", PointCount: 4200}
	h.engines.lastCapture().cb.OnScanComplete(pc)
	h.sched.RunPending()
	require.Equal(h.t, Viewing, h.s.State())
	return pc
}
