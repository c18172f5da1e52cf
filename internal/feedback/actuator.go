package feedback

import (
	"sync"

	"github.com/kiwi-scanner/sdk/internal/logging"
)

// Actuator performs pulses. It is called on the control context and must
// not block.
type Actuator interface {
	Actuate(p Pulse)
}

// ActuatorFunc adapts a function to Actuator.
type ActuatorFunc func(Pulse)

func (f ActuatorFunc) Actuate(p Pulse) { f(p) }

// Fanout forwards every pulse to each registered actuator in order.
type Fanout struct {
	mu        sync.RWMutex
	actuators []Actuator
}

// NewFanout creates a fanout over the given actuators.
func NewFanout(actuators ...Actuator) *Fanout {
	return &Fanout{actuators: actuators}
}

// Add registers another actuator.
func (f *Fanout) Add(a Actuator) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actuators = append(f.actuators, a)
}

func (f *Fanout) Actuate(p Pulse) {
	f.mu.RLock()
	actuators := f.actuators
	f.mu.RUnlock()
	for _, a := range actuators {
		a.Actuate(p)
	}
}

// LogActuator writes every pulse to a logger at DEBUG.
type LogActuator struct {
	Log *logging.Logger
}

func (a LogActuator) Actuate(p Pulse) {
	a.Log.Debug("haptic pulse", "pulse", p.String())
}
