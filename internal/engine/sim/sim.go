// Package sim provides goroutine-backed capture and reconstruction engines
// that behave like hardware engines: they report progress from their own
// goroutines, so every callback arrives off the control context.
package sim

import (
	"time"
)

// Config tunes the simulated engines.
type Config struct {
	// FrameInterval is the time between processed frames.
	FrameInterval time.Duration `yaml:"frame_interval"`
	// PointsPerFrame is how many points each succeeded frame contributes.
	PointsPerFrame int `yaml:"points_per_frame"`
	// LostTrackingEvery makes every Nth frame lose tracking. 0 disables.
	LostTrackingEvery int `yaml:"lost_tracking_every"`
	// MeshPasses is the number of refinement passes a reconstruction emits.
	MeshPasses int `yaml:"mesh_passes"`
	// MeshInterval is the time between refinement passes.
	MeshInterval time.Duration `yaml:"mesh_interval"`
	// FailFinish makes every reconstruction return no scene.
	FailFinish bool `yaml:"fail_finish"`
}

// DefaultConfig returns a config that finishes a 50-frame scan in about two
// seconds.
func DefaultConfig() Config {
	return Config{
		FrameInterval:     40 * time.Millisecond,
		PointsPerFrame:    1200,
		LostTrackingEvery: 9,
		MeshPasses:        3,
		MeshInterval:      300 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FrameInterval <= 0 {
		c.FrameInterval = d.FrameInterval
	}
	if c.PointsPerFrame <= 0 {
		c.PointsPerFrame = d.PointsPerFrame
	}
	if c.MeshPasses <= 0 {
		c.MeshPasses = d.MeshPasses
	}
	if c.MeshInterval <= 0 {
		c.MeshInterval = d.MeshInterval
	}
	return c
}
