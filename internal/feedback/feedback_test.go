package feedback

import (
	"testing"
	"time"

	"github.com/kiwi-scanner/sdk/internal/loop"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	pulses []Pulse
}

func (r *recorder) Actuate(p Pulse) { r.pulses = append(r.pulses, p) }

func (r *recorder) count(p Pulse) int {
	n := 0
	for _, got := range r.pulses {
		if got == p {
			n++
		}
	}
	return n
}

func setup() (*Controller, *loop.Manual, *recorder) {
	sched := loop.NewManual(time.Unix(0, 0))
	rec := &recorder{}
	return New(sched, rec, DefaultTiming(), nil), sched, rec
}

func TestScanningBegan_TicksEvery125ms(t *testing.T) {
	c, sched, rec := setup()

	c.ScanningBegan()
	assert.Equal(t, Active, c.State())
	assert.Empty(t, rec.pulses, "first pulse waits one interval")

	sched.Advance(time.Second)
	assert.Equal(t, 8, rec.count(PulseSelection))
}

func TestScanningBegan_IdempotentWhileActive(t *testing.T) {
	c, sched, rec := setup()

	c.ScanningBegan()
	c.ScanningBegan()
	assert.Equal(t, 1, sched.ActiveTimers())

	sched.Advance(500 * time.Millisecond)
	assert.Equal(t, 4, rec.count(PulseSelection))
}

func TestScanningFinished_DelaysSuccess(t *testing.T) {
	c, sched, rec := setup()
	c.ScanningBegan()
	sched.Advance(250 * time.Millisecond)

	c.ScanningFinished()
	assert.Equal(t, Idle, c.State())
	assert.Zero(t, rec.count(PulseSuccess))

	sched.Advance(99 * time.Millisecond)
	assert.Zero(t, rec.count(PulseSuccess))
	sched.Advance(time.Millisecond)
	assert.Equal(t, 1, rec.count(PulseSuccess))

	sched.Advance(time.Second)
	assert.Equal(t, 2, rec.count(PulseSelection), "tick stopped at finish")
	assert.Equal(t, []Pulse{PulseSelection, PulseSelection, PulseSuccess}, rec.pulses)
}

func TestScanningCanceled_ImmediateError(t *testing.T) {
	c, sched, rec := setup()
	c.ScanningBegan()
	sched.Advance(125 * time.Millisecond)

	c.ScanningCanceled()
	assert.Equal(t, Idle, c.State())
	assert.Equal(t, []Pulse{PulseSelection, PulseError}, rec.pulses)

	sched.Advance(time.Second)
	assert.Len(t, rec.pulses, 2)
	assert.Zero(t, sched.ActiveTimers())
}

func TestStopWhileIdle_NoPulse(t *testing.T) {
	c, sched, rec := setup()

	c.ScanningFinished()
	c.ScanningCanceled()
	c.Stop()
	sched.Advance(time.Second)

	assert.Empty(t, rec.pulses)
	assert.Equal(t, Idle, c.State())
}

func TestStop_Silent(t *testing.T) {
	c, sched, rec := setup()
	c.ScanningBegan()
	c.Stop()
	sched.Advance(time.Second)
	assert.Empty(t, rec.pulses)
}

func TestSuccessSurvivesRestart(t *testing.T) {
	c, sched, rec := setup()
	c.ScanningBegan()
	c.ScanningFinished()
	c.ScanningBegan()

	sched.Advance(100 * time.Millisecond)
	assert.Equal(t, []Pulse{PulseSuccess}, rec.pulses)
	sched.Advance(25 * time.Millisecond)
	assert.Equal(t, []Pulse{PulseSuccess, PulseSelection}, rec.pulses)
}

func TestCountdownImpact(t *testing.T) {
	c, _, rec := setup()
	c.CountdownCountedDown()
	assert.Equal(t, []Pulse{PulseImpact}, rec.pulses)
	assert.Equal(t, Idle, c.State())
}

func TestZeroTimingUsesDefaults(t *testing.T) {
	c := New(loop.NewManual(time.Unix(0, 0)), nil, Timing{}, nil)
	assert.Equal(t, DefaultTiming(), c.Timing())
	c.CountdownCountedDown()
}

func TestFanout(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	f := NewFanout(a)
	f.Add(b)
	f.Actuate(PulseError)
	assert.Equal(t, []Pulse{PulseError}, a.pulses)
	assert.Equal(t, []Pulse{PulseError}, b.pulses)
}

func TestPulseNames(t *testing.T) {
	data, err := PulseImpact.MarshalJSON()
	assert.NoError(t, err)
	assert.JSONEq(t, `"impact"`, string(data))
	assert.Equal(t, "unknown", Pulse(42).String())
}
