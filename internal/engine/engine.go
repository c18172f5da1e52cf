// Package engine defines the contracts of the external capture and
// reconstruction engines the session drives, and the opaque artifacts they
// exchange. The SDK never looks inside point clouds, meshes or scenes beyond
// their ids and counts.
package engine

import (
	"encoding/json"
	"time"
)

// PointCloud is the raw result of a capture.
type PointCloud struct {
	ID         string    `json:"id"`
	PointCount int       `json:"pointCount"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Mesh is one refinement pass produced by a reconstruction engine.
type Mesh struct {
	ID          string `json:"id"`
	FaceCount   int    `json:"faceCount"`
	VertexCount int    `json:"vertexCount"`
	Pass        int    `json:"pass"`
}

// Scene is the finished output of a reconstruction.
type Scene struct {
	ID         string      `json:"id"`
	PointCloud *PointCloud `json:"pointCloud,omitempty"`
	Mesh       *Mesh       `json:"mesh,omitempty"`
	FinishedAt time.Time   `json:"finishedAt"`
}

// FrameStats is reported by the capture engine after every processed frame.
type FrameStats struct {
	SucceededCount               int `json:"succeededCount"`
	LostTrackingCount            int `json:"lostTrackingCount"`
	ConsecutiveLostTrackingCount int `json:"consecutiveLostTrackingCount"`
}

// StopReason tells the capture engine why it is being stopped.
type StopReason int

const (
	StopFinished StopReason = iota
	StopCanceled
)

func (r StopReason) String() string {
	switch r {
	case StopFinished:
		return "finished"
	case StopCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (r StopReason) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// CaptureConfig is applied once when a capture engine is created.
type CaptureConfig struct {
	ShowsDismissButton      bool
	ShowsMirrorModeButton   bool
	GeneratesTexturedMeshes bool
}

// DefaultCaptureConfig hides the engine's own dismiss and mirror-mode
// affordances and enables textured meshes.
func DefaultCaptureConfig() CaptureConfig {
	return CaptureConfig{
		ShowsDismissButton:      false,
		ShowsMirrorModeButton:   false,
		GeneratesTexturedMeshes: true,
	}
}

// CaptureCallbacks receives capture results. Engines may call these from any
// goroutine.
type CaptureCallbacks interface {
	OnCanceled()
	OnScanComplete(pc *PointCloud)
	OnFrameProcessed(stats FrameStats)
}

// CaptureEngine produces frames until stopped.
type CaptureEngine interface {
	Start()
	Stop(reason StopReason)
	// Close releases the engine. No callbacks are expected afterwards.
	Close() error
}

// CaptureFactory creates a capture engine that reports to cb. The engine
// holds cb as a non-owning back reference.
type CaptureFactory func(cfg CaptureConfig, cb CaptureCallbacks) (CaptureEngine, error)

// MeshingParameters are fixed for the lifetime of a reconstruction engine.
type MeshingParameters struct {
	Resolution            int `json:"resolution"`
	Smoothness            int `json:"smoothness"`
	SurfaceTrimmingAmount int `json:"surfaceTrimmingAmount"`
}

// ReconstructionCallbacks receives meshes as refinement proceeds. Engines may
// call it from any goroutine, any number of times.
type ReconstructionCallbacks interface {
	OnMeshGenerated(mesh *Mesh)
}

// ReconstructionEngine turns a point cloud into a mesh and, on request, a
// finished scene.
type ReconstructionEngine interface {
	// Finish returns the finished scene, or nil if none could be produced.
	Finish() *Scene
	Close() error
}

// ReconstructionFactory creates a reconstruction engine for pc.
type ReconstructionFactory func(pc *PointCloud, params MeshingParameters, cb ReconstructionCallbacks) (ReconstructionEngine, error)
