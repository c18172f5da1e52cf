// Package settings holds the numeric configuration the session reads when it
// configures engines: the capture auto-stop threshold and meshing quality.
//
// Writes are not range-checked. Validate reports out-of-range values so
// callers can warn, but the stored value is always exactly what was written.
package settings

import (
	"errors"
	"fmt"
	"sync"
)

// Documented bounds for the meshing parameters.
const (
	MinResolution = 1
	MaxResolution = 10

	MinSmoothness = 1
	MaxSmoothness = 10

	MinSurfaceTrimming = 0
	MaxSurfaceTrimming = 10
)

// ScanningSettings controls capture.
type ScanningSettings struct {
	// StopAfterFrames is the succeeded-frame count at which capture is
	// finished automatically.
	StopAfterFrames int `yaml:"stop_after_frames" json:"stopAfterFrames"`
}

// MeshingSettings is copied into the meshing parameters of every new
// reconstruction engine.
type MeshingSettings struct {
	// Resolution of the reconstructed mesh vertices, 1-10. Higher values
	// produce more vertices and take longer to reconstruct.
	Resolution int `yaml:"resolution" json:"resolution"`

	// Smoothness of the reconstructed vertex positions, 1-10.
	Smoothness int `yaml:"smoothness" json:"smoothness"`

	// SurfaceTrimmingAmount trims low-density regions, 0-10. 0 disables trimming.
	SurfaceTrimmingAmount int `yaml:"surface_trimming_amount" json:"surfaceTrimmingAmount"`
}

// Settings groups scanning and meshing configuration.
type Settings struct {
	Scanning ScanningSettings `yaml:"scanning" json:"scanning"`
	Meshing  MeshingSettings  `yaml:"meshing" json:"meshing"`
}

// Defaults returns the shipped defaults. Resolution defaults to the top of
// its range.
func Defaults() Settings {
	return Settings{
		Scanning: ScanningSettings{StopAfterFrames: 50},
		Meshing: MeshingSettings{
			Resolution:            10,
			Smoothness:            2,
			SurfaceTrimmingAmount: 5,
		},
	}
}

// Validate returns one error per field outside its documented range, joined.
// It never modifies s.
func (s Settings) Validate() error {
	var errs []error
	if s.Scanning.StopAfterFrames < 1 {
		errs = append(errs, fmt.Errorf("scanning.stop_after_frames = %d, must be positive", s.Scanning.StopAfterFrames))
	}
	errs = append(errs,
		checkRange("meshing.resolution", s.Meshing.Resolution, MinResolution, MaxResolution),
		checkRange("meshing.smoothness", s.Meshing.Smoothness, MinSmoothness, MaxSmoothness),
		checkRange("meshing.surface_trimming_amount", s.Meshing.SurfaceTrimmingAmount, MinSurfaceTrimming, MaxSurfaceTrimming),
	)
	return errors.Join(errs...)
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return fmt.Errorf("%s = %d, outside %d-%d", field, v, lo, hi)
	}
	return nil
}

// Store is a mutable Settings record shared between the host and the session.
// It is safe for concurrent use.
type Store struct {
	mu sync.RWMutex
	s  Settings
}

// NewStore creates a store holding initial.
func NewStore(initial Settings) *Store {
	return &Store{s: initial}
}

// Get returns a snapshot of all settings.
func (st *Store) Get() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}

// Set replaces all settings as given.
func (st *Store) Set(s Settings) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s = s
}

// Update applies fn to the stored settings under the write lock and returns
// the result.
func (st *Store) Update(fn func(*Settings)) Settings {
	st.mu.Lock()
	defer st.mu.Unlock()
	fn(&st.s)
	return st.s
}

func (st *Store) Scanning() ScanningSettings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Scanning
}

func (st *Store) Meshing() MeshingSettings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s.Meshing
}
