package scanner

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/kiwi-scanner/sdk/internal/engine"
	"github.com/kiwi-scanner/sdk/internal/feedback"
	"github.com/kiwi-scanner/sdk/internal/logging"
	"github.com/kiwi-scanner/sdk/internal/loop"
	"github.com/kiwi-scanner/sdk/internal/settings"
)

// Options configures a Session.
type Options struct {
	// Settings is shared with the host. nil starts from settings.Defaults.
	Settings *settings.Store

	Capture        engine.CaptureFactory
	Reconstruction engine.ReconstructionFactory

	// Actuator receives feedback pulses. nil discards them.
	Actuator feedback.Actuator
	Feedback feedback.Timing

	Logger *logging.Logger

	// Scheduler is the control context. nil makes the session run its own
	// loop, closed by Close.
	Scheduler loop.Scheduler
}

// Session is the host-facing API. Its methods are safe for concurrent use;
// each command runs on the control context and returns once it has been
// applied.
//
// Bus handlers run on the control context, so they must not call Session
// commands synchronously.
type Session struct {
	id       string
	sched    loop.Scheduler
	own      *loop.Loop
	bus      *Bus
	settings *settings.Store
	ctrl     *Controller
	log      *logging.Logger

	closeOnce sync.Once
}

// New creates a session in Ready.
func New(opts Options) *Session {
	id := uuid.NewString()
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	log = log.WithSession(id)

	s := &Session{
		id:       id,
		sched:    opts.Scheduler,
		bus:      NewBus(),
		settings: opts.Settings,
		log:      log,
	}
	if s.settings == nil {
		s.settings = settings.NewStore(settings.Defaults())
	}
	if s.sched == nil {
		s.own = loop.New()
		s.own.Start()
		s.sched = s.own
	}

	fb := feedback.New(s.sched, opts.Actuator, opts.Feedback, log)
	s.ctrl = NewController(Deps{
		Scheduler:      s.sched,
		Bus:            s.bus,
		Settings:       s.settings,
		Feedback:       fb,
		Capture:        opts.Capture,
		Reconstruction: opts.Reconstruction,
		Log:            log,
	})
	log.Info("session created")
	return s
}

func (s *Session) ID() string { return s.id }

// Bus exposes the observable channels.
func (s *Session) Bus() *Bus { return s.bus }

// Settings exposes the settings store. Changes apply to engines created
// afterwards.
func (s *Session) Settings() *settings.Store { return s.settings }

// State returns the last published state.
func (s *Session) State() State { return s.bus.State.Value() }

func (s *Session) Prepare() error        { return s.run(s.ctrl.Prepare) }
func (s *Session) Start() error          { return s.run(s.ctrl.Start) }
func (s *Session) FinishManual() error   { return s.run(s.ctrl.FinishManual) }
func (s *Session) Cancel() error         { return s.run(s.ctrl.Cancel) }
func (s *Session) Rescan() error         { return s.run(s.ctrl.Rescan) }
func (s *Session) FinalizeViewer() error { return s.run(s.ctrl.FinalizeViewer) }
func (s *Session) ShowViewer() error     { return s.run(s.ctrl.ShowViewer) }

// CountdownCountedDown fires the countdown impact pulse.
func (s *Session) CountdownCountedDown() error { return s.run(s.ctrl.CountdownCountedDown) }

// Exec runs the named command.
func (s *Session) Exec(cmd Command) error {
	switch cmd {
	case CmdPrepare:
		return s.Prepare()
	case CmdStart:
		return s.Start()
	case CmdFinish:
		return s.FinishManual()
	case CmdCancel:
		return s.Cancel()
	case CmdRescan:
		return s.Rescan()
	case CmdFinalize:
		return s.FinalizeViewer()
	case CmdShowViewer:
		return s.ShowViewer()
	case CmdCountdown:
		return s.CountdownCountedDown()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
	}
}

// CaptureSurface returns the open capture engine, or nil. It is always nil
// after Close.
func (s *Session) CaptureSurface() engine.CaptureEngine {
	var eng engine.CaptureEngine
	if err := s.sched.Do(func() { eng = s.ctrl.CaptureSurface() }); err != nil {
		s.log.Debug("capture surface unavailable", "error", err)
	}
	return eng
}

// ViewerSurface returns the open reconstruction engine, or nil. It is always
// nil after Close.
func (s *Session) ViewerSurface() engine.ReconstructionEngine {
	var eng engine.ReconstructionEngine
	if err := s.sched.Do(func() { eng = s.ctrl.ViewerSurface() }); err != nil {
		s.log.Debug("reconstruction surface unavailable", "error", err)
	}
	return eng
}

// OnDismissCapture registers fn to run on the control context whenever the
// capture engine is released.
func (s *Session) OnDismissCapture(fn func()) error {
	return s.sched.Do(func() { s.ctrl.OnDismissCapture(fn) })
}

// OnDismissViewer registers fn to run on the control context whenever the
// reconstruction engine is released.
func (s *Session) OnDismissViewer(fn func()) error {
	return s.sched.Do(func() { s.ctrl.OnDismissViewer(fn) })
}

// Close releases every engine and, when the session owns its loop, stops it.
// Commands issued after Close on an owned loop return loop.ErrClosed.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.sched.Do(s.ctrl.Close)
		if s.own != nil {
			s.own.Close()
		}
		s.log.Info("session closed")
	})
	return err
}

func (s *Session) run(cmd func() error) error {
	var err error
	if derr := s.sched.Do(func() { err = cmd() }); derr != nil {
		return derr
	}
	return err
}
