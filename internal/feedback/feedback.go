// Package feedback drives haptic-style pulses in step with the scan phase: a
// light selection pulse on every tick while scanning, a success pulse shortly
// after a scan finishes, an error pulse when it is canceled.
//
// A Controller must only be used from the control context its scheduler
// belongs to.
package feedback

import (
	"encoding/json"
	"time"

	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/loop"
)

// Pulse is one actuation.
type Pulse int

const (
	PulseSelection Pulse = iota
	PulseSuccess
	PulseError
	PulseImpact
)

var pulseNames = map[Pulse]string{
	PulseSelection: "selection",
	PulseSuccess:   "success",
	PulseError:     "error",
	PulseImpact:    "impact",
}

func (p Pulse) String() string {
	if s, ok := pulseNames[p]; ok {
		return s
	}
	return "unknown"
}

func (p Pulse) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// State is the controller phase.
type State int

const (
	Idle State = iota
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Timing holds the controller intervals.
type Timing struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	SuccessDelay time.Duration `yaml:"success_delay"`
}

// DefaultTiming ticks eight times a second and delays success by 100ms.
func DefaultTiming() Timing {
	return Timing{
		TickInterval: 125 * time.Millisecond,
		SuccessDelay: 100 * time.Millisecond,
	}
}

// Controller is the idle/active feedback machine.
type Controller struct {
	sched    loop.Scheduler
	actuator Actuator
	timing   Timing
	log      *logging.Logger

	state State
	tick  loop.Timer
}

// New creates an idle controller. Zero timing fields fall back to
// DefaultTiming; a nil actuator discards pulses.
func New(sched loop.Scheduler, actuator Actuator, timing Timing, log *logging.Logger) *Controller {
	d := DefaultTiming()
	if timing.TickInterval <= 0 {
		timing.TickInterval = d.TickInterval
	}
	if timing.SuccessDelay <= 0 {
		timing.SuccessDelay = d.SuccessDelay
	}
	if actuator == nil {
		actuator = ActuatorFunc(func(Pulse) {})
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{
		sched:    sched,
		actuator: actuator,
		timing:   timing,
		log:      log.WithComponent("feedback"),
	}
}

// State returns the current phase.
func (c *Controller) State() State { return c.state }

// Timing returns the effective intervals.
func (c *Controller) Timing() Timing { return c.timing }

// ScanningBegan starts the selection tick. The first pulse fires one tick
// interval later. Calling it while active does nothing.
func (c *Controller) ScanningBegan() {
	if c.state == Active {
		return
	}
	c.state = Active
	c.tick = c.sched.Every(c.timing.TickInterval, func() {
		c.fire(PulseSelection)
	})
	c.log.Debug("feedback active", "tick", c.timing.TickInterval)
}

// ScanningFinished stops the tick and schedules a success pulse. The pending
// pulse is not canceled by later transitions.
func (c *Controller) ScanningFinished() {
	if !c.deactivate() {
		return
	}
	c.sched.AfterFunc(c.timing.SuccessDelay, func() {
		c.fire(PulseSuccess)
	})
}

// ScanningCanceled stops the tick and fires an error pulse immediately.
func (c *Controller) ScanningCanceled() {
	if !c.deactivate() {
		return
	}
	c.fire(PulseError)
}

// CountdownCountedDown fires one impact pulse regardless of phase.
func (c *Controller) CountdownCountedDown() {
	c.fire(PulseImpact)
}

// Stop returns to idle without any pulse.
func (c *Controller) Stop() {
	c.deactivate()
}

func (c *Controller) deactivate() bool {
	if c.state == Idle {
		return false
	}
	c.state = Idle
	if c.tick != nil {
		c.tick.Stop()
		c.tick = nil
	}
	c.log.Debug("feedback idle")
	return true
}

func (c *Controller) fire(p Pulse) {
	c.log.Debug("pulse", "pulse", p.String())
	c.actuator.Actuate(p)
}
