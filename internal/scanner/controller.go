package scanner

import (
	"fmt"
	"time"

	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/loop"
	"github.com/kiwi-scanner/sdk/internal/settings"
)

// Deps are the collaborators a Controller drives.
type Deps struct {
	Scheduler      loop.Scheduler
	Bus            *Bus
	Settings       *settings.Store
	Feedback       *feedback.Controller
	Capture        engine.CaptureFactory
	Reconstruction engine.ReconstructionFactory
	Log            *logging.Logger

	// Now stamps cancellations and diagnostics. Defaults to time.Now.
	Now func() time.Time
}

// Controller is the session state machine. It owns at most one capture
// engine (only while Scanning) and at most one reconstruction engine (only
// while Viewing).
//
// Every method must run on the control context. Engine callbacks are
// re-posted onto it by relays before any controller code sees them.
type Controller struct {
	sched      loop.Scheduler
	bus        *Bus
	settings   *settings.Store
	feedback   *feedback.Controller
	newCapture engine.CaptureFactory
	newRecon   engine.ReconstructionFactory
	log        *logging.Logger
	now        func() time.Time

	state     State
	capture   *captureHandle
	recon     *reconHandle
	cancelSeq uint64

	onDismissCapture func()
	onDismissViewer  func()
}

type captureHandle struct {
	engine            engine.CaptureEngine
	autoStopScheduled bool
	finishRequested   bool
}

type reconHandle struct {
	engine engine.ReconstructionEngine
	pc     *engine.PointCloud
}

// NewController creates a controller in Ready.
func NewController(d Deps) *Controller {
	if d.Bus == nil {
		d.Bus = NewBus()
	}
	if d.Settings == nil {
		d.Settings = settings.NewStore(settings.Defaults())
	}
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Feedback == nil {
		d.Feedback = feedback.New(d.Scheduler, nil, feedback.DefaultTiming(), d.Log)
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Controller{
		sched:      d.Scheduler,
		bus:        d.Bus,
		settings:   d.Settings,
		feedback:   d.Feedback,
		newCapture: d.Capture,
		newRecon:   d.Reconstruction,
		log:        d.Log.WithComponent("controller"),
		now:        d.Now,
	}
}

func (c *Controller) State() State { return c.state }

// Prepare opens a capture engine and enters Scanning. With a capture engine
// already open it only re-asserts Scanning.
func (c *Controller) Prepare() error {
	if c.capture != nil {
		c.setState(Scanning)
		return nil
	}
	if c.state != Ready {
		return c.invalid(CmdPrepare)
	}
	if err := c.openCapture(); err != nil {
		return c.diagnose(string(CmdPrepare), err)
	}
	c.setState(Scanning)
	return nil
}

func (c *Controller) Start() error {
	if c.state != Scanning || c.capture == nil {
		return c.invalid(CmdStart)
	}
	c.capture.engine.Start()
	c.feedback.ScanningBegan()
	c.log.Info("capture started")
	return nil
}

// FinishManual asks the capture engine to finish. The engine is stopped at
// most once; the session leaves Scanning when the scan-complete callback
// arrives.
func (c *Controller) FinishManual() error {
	if c.state != Scanning || c.capture == nil {
		return c.invalid(CmdFinish)
	}
	h := c.capture
	if h.finishRequested {
		return nil
	}
	h.finishRequested = true
	h.engine.Stop(engine.StopFinished)
	c.log.Info("capture finishing")
	return nil
}

func (c *Controller) Cancel() error {
	if c.state != Scanning || c.capture == nil {
		return c.invalid(CmdCancel)
	}
	c.capture.engine.Stop(engine.StopCanceled)
	c.releaseCapture()
	c.publishCancellation(CancelSourceCommand)
	c.feedback.ScanningCanceled()
	c.setState(Ready)
	return nil
}

// FinalizeViewer publishes the finished scene and returns to Ready. Without
// a reconstruction engine, or when it yields no scene, the failure is
// published as a diagnostic and the session stays in Viewing.
func (c *Controller) FinalizeViewer() error {
	if c.state != Viewing {
		return c.invalid(CmdFinalize)
	}
	if c.recon == nil {
		return c.diagnose(string(CmdFinalize), ErrNoReconstruction)
	}
	scene := c.recon.engine.Finish()
	if scene == nil {
		return c.diagnose(string(CmdFinalize), ErrNoScene)
	}
	c.bus.Scene.Publish(scene)
	c.releaseRecon()
	c.log.Info("scene finalized", "scene", scene.ID)
	c.setState(Ready)
	return nil
}

// Rescan discards the captured point cloud and mesh, releases every engine
// and starts over in Scanning. The finished scene is kept.
func (c *Controller) Rescan() error {
	c.bus.PointCloud.Publish(nil)
	c.bus.Mesh.Publish(nil)
	c.releaseRecon()
	c.releaseCapture()
	c.feedback.Stop()
	if err := c.openCapture(); err != nil {
		c.setState(Ready)
		return c.diagnose(string(CmdRescan), err)
	}
	c.setState(Scanning)
	return nil
}

// ShowViewer opens a fresh reconstruction engine over the current point
// cloud, using the settings as they are now.
func (c *Controller) ShowViewer() error {
	if c.state == Scanning {
		return c.invalid(CmdShowViewer)
	}
	pc := c.bus.PointCloud.Value()
	if pc == nil {
		return c.diagnose(string(CmdShowViewer), ErrNoPointCloud)
	}
	// The open viewer survives a failed rebuild.
	h, err := c.newReconstruction(pc)
	if err != nil {
		return c.diagnose(string(CmdShowViewer), err)
	}
	prev := c.recon
	c.recon = h
	c.closeRecon(prev)
	c.setState(Viewing)
	return nil
}

// CountdownCountedDown forwards a countdown step to the feedback controller.
func (c *Controller) CountdownCountedDown() error {
	c.feedback.CountdownCountedDown()
	return nil
}

// CaptureSurface returns the open capture engine, or nil.
func (c *Controller) CaptureSurface() engine.CaptureEngine {
	if c.capture == nil {
		return nil
	}
	return c.capture.engine
}

// ViewerSurface returns the open reconstruction engine, or nil.
func (c *Controller) ViewerSurface() engine.ReconstructionEngine {
	if c.recon == nil {
		return nil
	}
	return c.recon.engine
}

// OnDismissCapture sets the callback run whenever the capture engine is
// released. nil clears it.
func (c *Controller) OnDismissCapture(fn func()) { c.onDismissCapture = fn }

// OnDismissViewer sets the callback run whenever the reconstruction engine is
// released. nil clears it.
func (c *Controller) OnDismissViewer(fn func()) { c.onDismissViewer = fn }

// Close releases every engine and silences feedback. The state is left as
// is; the controller must not be used afterwards.
func (c *Controller) Close() {
	c.releaseCapture()
	c.releaseRecon()
	c.feedback.Stop()
}

func (c *Controller) onFrameProcessed(h *captureHandle, stats engine.FrameStats) {
	if !c.liveCapture(h, "frame_processed") {
		return
	}
	c.bus.Statistics.Publish(&stats)

	limit := c.settings.Scanning().StopAfterFrames
	if stats.SucceededCount < limit || h.autoStopScheduled {
		return
	}
	h.autoStopScheduled = true
	c.log.Info("auto-stop threshold reached", "succeeded", stats.SucceededCount, "limit", limit)
	// Never stop the engine from inside its own callback.
	c.sched.Post(func() {
		if c.capture != h || c.state != Scanning {
			c.log.Debug("auto-stop dropped, capture no longer active")
			return
		}
		if err := c.FinishManual(); err != nil {
			c.log.Debug("auto-stop finish rejected", "error", err)
		}
	})
}

func (c *Controller) onScanComplete(h *captureHandle, pc *engine.PointCloud) {
	if !c.liveCapture(h, "scan_complete") {
		return
	}
	c.releaseCapture()
	if pc == nil {
		// Nothing to view: the scan ends without output.
		c.feedback.Stop()
		c.diagnose("scan_complete", ErrNoPointCloud)
		c.setState(Ready)
		return
	}
	c.bus.PointCloud.Publish(pc)
	c.feedback.ScanningFinished()
	if err := c.openReconstruction(pc); err != nil {
		c.diagnose("scan_complete", err)
	}
	c.setState(Viewing)
}

func (c *Controller) onCanceled(h *captureHandle) {
	if !c.liveCapture(h, "canceled") {
		return
	}
	c.releaseCapture()
	c.publishCancellation(CancelSourceEngine)
	c.feedback.ScanningCanceled()
	c.setState(Ready)
}

func (c *Controller) onMeshGenerated(h *reconHandle, mesh *engine.Mesh) {
	if c.recon != h || c.state != Viewing {
		c.log.Debug("ignoring stale callback", "callback", "mesh_generated", "state", c.state.String())
		return
	}
	c.bus.Mesh.Publish(mesh)
	if mesh != nil {
		c.log.Info("mesh generated",
			"faces", mesh.FaceCount, "vertices", mesh.VertexCount, "pass", mesh.Pass)
	}
}

func (c *Controller) liveCapture(h *captureHandle, callback string) bool {
	if c.capture == h && c.state == Scanning {
		return true
	}
	c.log.Debug("ignoring stale callback", "callback", callback, "state", c.state.String())
	return false
}

func (c *Controller) openCapture() error {
	if c.newCapture == nil {
		return ErrNoEngine
	}
	h := &captureHandle{}
	eng, err := c.newCapture(engine.DefaultCaptureConfig(), captureRelay{c: c, h: h})
	if err != nil {
		return fmt.Errorf("create capture engine: %w", err)
	}
	h.engine = eng
	c.capture = h
	return nil
}

func (c *Controller) openReconstruction(pc *engine.PointCloud) error {
	h, err := c.newReconstruction(pc)
	if err != nil {
		return err
	}
	c.recon = h
	return nil
}

// newReconstruction builds an engine over pc without touching the current
// handle.
func (c *Controller) newReconstruction(pc *engine.PointCloud) (*reconHandle, error) {
	if c.newRecon == nil {
		return nil, ErrNoEngine
	}
	m := c.settings.Meshing()
	params := engine.MeshingParameters{
		Resolution:            m.Resolution,
		Smoothness:            m.Smoothness,
		SurfaceTrimmingAmount: m.SurfaceTrimmingAmount,
	}
	h := &reconHandle{pc: pc}
	eng, err := c.newRecon(pc, params, reconRelay{c: c, h: h})
	if err != nil {
		return nil, fmt.Errorf("create reconstruction engine: %w", err)
	}
	h.engine = eng
	c.log.Info("reconstruction started",
		"point_cloud", pc.ID, "points", pc.PointCount,
		"resolution", params.Resolution, "smoothness", params.Smoothness,
		"trimming", params.SurfaceTrimmingAmount)
	return h, nil
}

func (c *Controller) releaseCapture() {
	h := c.capture
	if h == nil {
		return
	}
	c.capture = nil
	if err := h.engine.Close(); err != nil {
		c.log.Warn("closing capture engine", "error", err)
	}
	if c.onDismissCapture != nil {
		c.onDismissCapture()
	}
}

func (c *Controller) releaseRecon() {
	h := c.recon
	c.recon = nil
	c.closeRecon(h)
}

func (c *Controller) closeRecon(h *reconHandle) {
	if h == nil {
		return
	}
	if err := h.engine.Close(); err != nil {
		c.log.Warn("closing reconstruction engine", "error", err)
	}
	if c.onDismissViewer != nil {
		c.onDismissViewer()
	}
}

// setState publishes only actual changes.
func (c *Controller) setState(s State) {
	prev := c.state
	c.state = s
	if c.bus.State.Value() == s {
		return
	}
	c.log.Info("state changed", "from", prev.String(), "to", s.String())
	c.bus.State.Publish(s)
}

func (c *Controller) publishCancellation(source string) {
	c.cancelSeq++
	c.bus.Cancellation.Publish(&Cancellation{Seq: c.cancelSeq, Source: source, At: c.now()})
	c.log.Info("scan canceled", "source", source)
}

func (c *Controller) invalid(cmd Command) error {
	c.log.Debug("command ignored", "command", string(cmd), "state", c.state.String())
	return &StateError{Command: cmd, State: c.state}
}

func (c *Controller) diagnose(op string, err error) error {
	c.bus.Diagnostics.Publish(&Diagnostic{Command: op, Error: err.Error(), At: c.now()})
	c.log.Error("operation failed", "operation", op, "state", c.state.String(), "error", err)
	return fmt.Errorf("%s: %w", op, err)
}

// captureRelay marshals capture callbacks onto the control context, tagged
// with the handle they were registered for.
type captureRelay struct {
	c *Controller
	h *captureHandle
}

func (r captureRelay) OnCanceled() {
	r.c.sched.Post(func() { r.c.onCanceled(r.h) })
}

func (r captureRelay) OnScanComplete(pc *engine.PointCloud) {
	r.c.sched.Post(func() { r.c.onScanComplete(r.h, pc) })
}

func (r captureRelay) OnFrameProcessed(stats engine.FrameStats) {
	r.c.sched.Post(func() { r.c.onFrameProcessed(r.h, stats) })
}

type reconRelay struct {
	c *Controller
	h *reconHandle
}

func (r reconRelay) OnMeshGenerated(mesh *engine.Mesh) {
	r.c.sched.Post(func() { r.c.onMeshGenerated(r.h, mesh) })
}
