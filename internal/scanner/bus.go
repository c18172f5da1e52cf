package scanner

import (
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/event"
)

// Cancellation sources.
const (
	CancelSourceCommand = "command"
	CancelSourceEngine  = "engine"
)

// Cancellation is published each time a scan is canceled, by the host or by
// the capture engine.
type Cancellation struct {
	Seq    uint64    `json:"seq"`
	Source string    `json:"source"`
	At     time.Time `json:"at"`
}

// Diagnostic reports a recoverable failure. The operation that produced it
// left the session state unchanged.
type Diagnostic struct {
	Command string    `json:"command"`
	Error   string    `json:"error"`
	At      time.Time `json:"at"`
}

// Bus is the set of replay-latest channels observers subscribe to. Only the
// controller publishes, always from the control context.
type Bus struct {
	State        *event.Channel[State]
	PointCloud   *event.Channel[*engine.PointCloud]
	Mesh         *event.Channel[*engine.Mesh]
	Scene        *event.Channel[*engine.Scene]
	Statistics   *event.Channel[*engine.FrameStats]
	Cancellation *event.Channel[*Cancellation]
	Diagnostics  *event.Channel[*Diagnostic]
}

// NewBus creates a bus in its initial state: Ready, every slot empty.
func NewBus() *Bus {
	return &Bus{
		State:        event.NewChannel("state", Ready),
		PointCloud:   event.NewChannel[*engine.PointCloud]("point_cloud", nil),
		Mesh:         event.NewChannel[*engine.Mesh]("mesh", nil),
		Scene:        event.NewChannel[*engine.Scene]("scene", nil),
		Statistics:   event.NewChannel[*engine.FrameStats]("statistics", nil),
		Cancellation: event.NewChannel[*Cancellation]("cancellation", nil),
		Diagnostics:  event.NewChannel[*Diagnostic]("diagnostic", nil),
	}
}

// Snapshot is the current value of every channel.
type Snapshot struct {
	State        State              `json:"state"`
	PointCloud   *engine.PointCloud `json:"pointCloud"`
	Mesh         *engine.Mesh       `json:"mesh"`
	Scene        *engine.Scene      `json:"scene"`
	Statistics   *engine.FrameStats `json:"statistics"`
	Cancellation *Cancellation      `json:"cancellation"`
	Diagnostic   *Diagnostic        `json:"diagnostic"`
}

// Snapshot reads every channel. Values published concurrently may be
// observed from different points in time.
func (b *Bus) Snapshot() Snapshot {
	return Snapshot{
		State:        b.State.Value(),
		PointCloud:   b.PointCloud.Value(),
		Mesh:         b.Mesh.Value(),
		Scene:        b.Scene.Value(),
		Statistics:   b.Statistics.Value(),
		Cancellation: b.Cancellation.Value(),
		Diagnostic:   b.Diagnostics.Value(),
	}
}
