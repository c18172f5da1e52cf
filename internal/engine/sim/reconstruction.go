package sim

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwi-scanner/sdk/internal/engine"
)

// Reconstruction simulates a meshing engine that refines its mesh in passes.
type Reconstruction struct {
	cfg    Config
	pc     *engine.PointCloud
	params engine.MeshingParameters
	cb     engine.ReconstructionCallbacks

	mu     sync.Mutex
	latest *engine.Mesh
	closed bool
	stop   chan struct{}
	wg     sync.WaitGroup
}

// NewReconstructionFactory returns a factory producing simulated
// reconstruction engines. Refinement starts as soon as the engine exists.
func NewReconstructionFactory(cfg Config) engine.ReconstructionFactory {
	cfg = cfg.withDefaults()
	return func(pc *engine.PointCloud, params engine.MeshingParameters, cb engine.ReconstructionCallbacks) (engine.ReconstructionEngine, error) {
		if pc == nil {
			return nil, errors.New("sim: reconstruction needs a point cloud")
		}
		r := &Reconstruction{
			cfg:    cfg,
			pc:     pc,
			params: params,
			cb:     cb,
			stop:   make(chan struct{}),
		}
		r.wg.Add(1)
		go r.refine()
		return r, nil
	}
}

// Parameters returns the meshing parameters the engine was built with.
func (r *Reconstruction) Parameters() engine.MeshingParameters { return r.params }

// Finish returns the finished scene built from the most refined mesh, or nil
// when the engine is configured to fail or has been closed.
func (r *Reconstruction) Finish() *engine.Scene {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.FailFinish || r.closed {
		return nil
	}
	if r.latest == nil {
		r.latest = r.meshForPass(r.cfg.MeshPasses)
	}
	return &engine.Scene{
		ID:         uuid.NewString(),
		PointCloud: r.pc,
		Mesh:       r.latest,
		FinishedAt: time.Now(),
	}
}

func (r *Reconstruction) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)
	r.mu.Unlock()
	r.wg.Wait()
	return nil
}

func (r *Reconstruction) refine() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.MeshInterval)
	defer ticker.Stop()

	for pass := 1; pass <= r.cfg.MeshPasses; pass++ {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		mesh := r.meshForPass(pass)
		r.mu.Lock()
		r.latest = mesh
		r.mu.Unlock()
		r.cb.OnMeshGenerated(mesh)
	}
}

// meshForPass derives plausible counts from the point cloud and meshing
// parameters: resolution scales vertex density, trimming removes up to 30%.
func (r *Reconstruction) meshForPass(pass int) *engine.Mesh {
	vertices := r.pc.PointCount * clamp(r.params.Resolution, 1, 10) / 10
	vertices = vertices * pass / r.cfg.MeshPasses
	vertices -= vertices * clamp(r.params.SurfaceTrimmingAmount, 0, 10) * 3 / 100
	if vertices < 3 {
		vertices = 3
	}
	return &engine.Mesh{
		ID:          uuid.NewString(),
		VertexCount: vertices,
		FaceCount:   2*vertices - 4 + 2*clamp(r.params.Smoothness, 1, 10),
		Pass:        pass,
	}
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
