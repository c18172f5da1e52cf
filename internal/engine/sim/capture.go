package sim

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiwi-scanner/sdk/internal/engine"
)

// Capture simulates a depth-camera capture engine.
type Capture struct {
	cfg      Config
	settings engine.CaptureConfig
	cb       engine.CaptureCallbacks

	mu      sync.Mutex
	running bool
	closed  bool
	stop    chan struct{}
	wg      sync.WaitGroup
	stats   engine.FrameStats
	frames  int
}

// NewCaptureFactory returns a factory producing simulated capture engines.
func NewCaptureFactory(cfg Config) engine.CaptureFactory {
	cfg = cfg.withDefaults()
	return func(settings engine.CaptureConfig, cb engine.CaptureCallbacks) (engine.CaptureEngine, error) {
		return &Capture{cfg: cfg, settings: settings, cb: cb}, nil
	}
}

// Config returns the capture configuration the engine was created with.
func (c *Capture) Config() engine.CaptureConfig { return c.settings }

// Start begins producing frames. Starting a running or closed engine does
// nothing.
func (c *Capture) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running || c.closed {
		return
	}
	c.running = true
	c.stop = make(chan struct{})
	c.wg.Add(1)
	go c.run(c.stop)
}

// Stop halts frame production and reports the outcome asynchronously:
// a finished stop delivers the accumulated point cloud, a canceled stop
// delivers OnCanceled.
func (c *Capture) Stop(reason engine.StopReason) {
	c.halt()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	stats := c.stats
	c.mu.Unlock()

	go func() {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}
		switch reason {
		case engine.StopFinished:
			c.cb.OnScanComplete(&engine.PointCloud{
				ID:         uuid.NewString(),
				PointCount: stats.SucceededCount * c.cfg.PointsPerFrame,
				CapturedAt: time.Now(),
			})
		case engine.StopCanceled:
			c.cb.OnCanceled()
		}
	}()
}

// Close stops the engine without reporting anything.
func (c *Capture) Close() error {
	c.halt()
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *Capture) halt() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Capture) run(stop <-chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.cb.OnFrameProcessed(c.advance())
		}
	}
}

func (c *Capture) advance() engine.FrameStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	if c.cfg.LostTrackingEvery > 0 && c.frames%c.cfg.LostTrackingEvery == 0 {
		c.stats.LostTrackingCount++
		c.stats.ConsecutiveLostTrackingCount++
	} else {
		c.stats.SucceededCount++
		c.stats.ConsecutiveLostTrackingCount = 0
	}
	return c.stats
}
