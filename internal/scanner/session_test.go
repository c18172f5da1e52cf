package scanner

import (
	"sync"
	"testing"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine/sim"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/loop"
	"github.com/kiwi-scanner/sdk/internal/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncPulses struct {
	mu     sync.Mutex
	pulses []feedback.Pulse
}

func (s *syncPulses) Actuate(p feedback.Pulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses = append(s.pulses, p)
}

func (s *syncPulses) has(p feedback.Pulse) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, got := range s.pulses {
		if got == p {
			return true
		}
	}
	return false
}

func newSimSession(t *testing.T, cfg sim.Config, stopAfter int) (*Session, *syncPulses) {
	t.Helper()
	store := settings.NewStore(settings.Defaults())
	store.Update(func(s *settings.Settings) { s.Scanning.StopAfterFrames = stopAfter })
	pulses := &syncPulses{}
	s := New(Options{
		Settings:       store,
		Capture:        sim.NewCaptureFactory(cfg),
		Reconstruction: sim.NewReconstructionFactory(cfg),
		Actuator:       pulses,
		Feedback:       feedback.Timing{TickInterval: 5 * time.Millisecond, SuccessDelay: 5 * time.Millisecond},
	})
	t.Cleanup(func() { s.Close() })
	return s, pulses
}

func fastSim() sim.Config {
	return sim.Config{
		FrameInterval:     2 * time.Millisecond,
		PointsPerFrame:    10,
		LostTrackingEvery: 5,
		MeshPasses:        2,
		MeshInterval:      5 * time.Millisecond,
	}
}

func TestSession_FullScanWithSimulatedEngines(t *testing.T) {
	s, pulses := newSimSession(t, fastSim(), 8)

	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())

	require.Eventually(t, func() bool { return s.State() == Viewing }, 5*time.Second, time.Millisecond)
	pc := s.Bus().PointCloud.Value()
	require.NotNil(t, pc)
	assert.GreaterOrEqual(t, pc.PointCount, 80)

	require.Eventually(t, func() bool {
		m := s.Bus().Mesh.Value()
		return m != nil && m.Pass == 2
	}, 5*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return pulses.has(feedback.PulseSuccess) }, 5*time.Second, time.Millisecond)

	require.NoError(t, s.FinalizeViewer())
	assert.Equal(t, Ready, s.State())
	scene := s.Bus().Scene.Value()
	require.NotNil(t, scene)
	assert.Same(t, pc, scene.PointCloud)
	assert.Nil(t, s.ViewerSurface())
}

func TestSession_CancelWithSimulatedEngines(t *testing.T) {
	s, pulses := newSimSession(t, fastSim(), 1000)

	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool {
		st := s.Bus().Statistics.Value()
		return st != nil && st.SucceededCount > 3
	}, 5*time.Second, time.Millisecond)

	require.NoError(t, s.Cancel())
	assert.Equal(t, Ready, s.State())

	// Give the engine time to deliver its own cancel confirmation.
	time.Sleep(20 * time.Millisecond)
	c := s.Bus().Cancellation.Value()
	require.NotNil(t, c)
	assert.Equal(t, uint64(1), c.Seq)
	assert.Equal(t, CancelSourceCommand, c.Source)
	assert.True(t, pulses.has(feedback.PulseError))
	assert.False(t, pulses.has(feedback.PulseSuccess))
}

func TestSession_FailingReconstructionReportsDiagnostic(t *testing.T) {
	cfg := fastSim()
	cfg.FailFinish = true
	s, _ := newSimSession(t, cfg, 3)

	require.NoError(t, s.Prepare())
	require.NoError(t, s.Start())
	require.Eventually(t, func() bool { return s.State() == Viewing }, 5*time.Second, time.Millisecond)

	assert.ErrorIs(t, s.FinalizeViewer(), ErrNoScene)
	assert.Equal(t, Viewing, s.State())
	d := s.Bus().Diagnostics.Value()
	require.NotNil(t, d)
	assert.Equal(t, string(CmdFinalize), d.Command)
}

func TestSession_CommandsAfterCloseFail(t *testing.T) {
	s, _ := newSimSession(t, fastSim(), 50)
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Prepare(), loop.ErrClosed)
	assert.NoError(t, s.Close())
}

func TestSession_SurfacesAreNilAfterClose(t *testing.T) {
	s, _ := newSimSession(t, fastSim(), 1000)
	require.NoError(t, s.Prepare())
	require.NotNil(t, s.CaptureSurface())

	require.NoError(t, s.Close())
	assert.Nil(t, s.CaptureSurface())
	assert.Nil(t, s.ViewerSurface())
}

func TestSession_ConcurrentCommands(t *testing.T) {
	s, _ := newSimSession(t, fastSim(), 1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = s.Prepare()
				_ = s.Cancel()
			}
		}()
	}
	wg.Wait()

	require.NoError(t, s.Prepare())
	assert.Equal(t, Scanning, s.State())
	assert.NotNil(t, s.CaptureSurface())
	assert.NotEmpty(t, s.ID())
}
