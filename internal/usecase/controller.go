package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"voicescope/internal/domain"
	"voicescope/internal/observe"
	"voicescope/internal/ports"
)

// ErrNoActiveSession is returned by Stop when nothing is running.
var ErrNoActiveSession = domain.ErrNoActiveSession

// Config controls how sessions capture audio and launch the engine.
type Config struct {
	Audio  ports.AudioConfig
	Engine ports.EngineConfig
}

// SessionController owns the capture session lifecycle. At most one
// session runs at a time; Start while running restarts.
type SessionController struct {
	source   ports.FrameSource
	launcher ports.EngineLauncher
	results  ResultSink
	events   ports.EventSink
	metrics  *observe.Metrics
	log      *slog.Logger
	cfg      Config

	generation atomic.Uint64

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex

	mu      sync.Mutex
	current *activeSession
	message string
}

func NewSessionController(
	source ports.FrameSource,
	launcher ports.EngineLauncher,
	results ResultSink,
	events ports.EventSink,
	metrics *observe.Metrics,
	log *slog.Logger,
	cfg Config,
) *SessionController {
	if metrics == nil {
		metrics = observe.Discard()
	}
	if log == nil {
		log = slog.Default()
	}
	return &SessionController{
		source:   source,
		launcher: launcher,
		results:  results,
		events:   events,
		metrics:  metrics,
		log:      log,
		cfg:      cfg,
	}
}

// Start begins a new capture session under a fresh generation. A running
// session is stopped first.
func (c *SessionController) Start(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	previous := c.takeCurrent()
	if previous != nil {
		previous.quiet.Store(true)
		c.stopSession(previous)
	}

	gen := domain.Generation(c.generation.Add(1))
	c.results.Advance(gen)
	id := uuid.NewString()
	log := c.log.With("session", id, "generation", gen)

	// The session outlives the caller's request.
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	capture, err := c.source.Open(sessionCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		if !errors.Is(err, domain.ErrDeviceUnavailable) {
			err = fmt.Errorf("%w: %v", domain.ErrDeviceUnavailable, err)
		}
		log.Error("audio device unavailable", "err", err)
		c.fail(domain.ErrorCodeDevice, domain.SessionReasonDeviceUnavailable, err)
		return err
	}

	transport, err := c.launcher.Launch(sessionCtx, c.cfg.Engine)
	if err != nil {
		_ = capture.Close()
		cancel()
		if !errors.Is(err, domain.ErrEngineLaunch) {
			err = fmt.Errorf("%w: %v", domain.ErrEngineLaunch, err)
		}
		log.Error("processing engine launch failed", "err", err)
		c.fail(domain.ErrorCodeEngine, domain.SessionReasonEngineLaunchFailed, err)
		return err
	}

	active := newActiveSession(id, gen, cancel, capture, transport)

	c.mu.Lock()
	c.current = active
	c.message = ""
	c.mu.Unlock()

	c.metrics.ActiveSessions.Add(ctx, 1)
	go c.runProducer(active, log)

	reason := domain.SessionReasonSessionStarted
	if previous != nil {
		reason = domain.SessionReasonSessionRestarted
	}
	log.Info("capture session started")
	c.events.SessionStateChanged(domain.SessionStateRunning, reason)
	return nil
}

// Stop ends the running session and waits until capture and engine are
// released. ctx bounds the wait.
func (c *SessionController) Stop(ctx context.Context) error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	active, err := c.getCurrent()
	if err != nil {
		return err
	}

	active.setState(domain.SessionStateStopping)
	c.events.SessionStateChanged(domain.SessionStateStopping, domain.SessionReasonSessionStopped)
	active.requestStop()

	select {
	case <-active.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current backend status.
func (c *SessionController) Status() domain.Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	gen := domain.Generation(c.generation.Load())
	if c.current == nil {
		return domain.Status{State: domain.SessionStateIdle, Generation: gen, Message: c.message}
	}
	state := c.current.getState()
	return domain.Status{
		State:      state,
		Active:     state != domain.SessionStateIdle,
		Generation: c.current.gen,
		SessionID:  c.current.id,
	}
}

// Generation returns the most recently allocated session generation.
func (c *SessionController) Generation() domain.Generation {
	return domain.Generation(c.generation.Load())
}

// Running reports whether a session is currently producing frames.
func (c *SessionController) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.getState() == domain.SessionStateRunning
}

func (c *SessionController) runProducer(active *activeSession, log *slog.Logger) {
	defer close(active.done)

	reason, cause := pumpFrames(active, c.results, c.metrics, log)
	c.release(active, log)

	switch {
	case reason != "":
		c.finishSession(active, reason, cause)
	case active.quiet.Load():
		c.finishSession(active, "", nil)
	default:
		c.finishSession(active, domain.SessionReasonSessionStopped, nil)
	}
}

// release closes the engine and the capture device. Errors are logged only.
func (c *SessionController) release(active *activeSession, log *slog.Logger) {
	if err := active.transport.Close(); err != nil {
		log.Warn("processing engine did not stop cleanly", "err", err)
	}
	if err := active.capture.Close(); err != nil {
		log.Warn("audio capture did not stop cleanly", "err", err)
		c.events.SessionError(domain.ErrorCodeStop, "failed to stop audio capture cleanly")
	}
	active.cancel()
	c.metrics.ActiveSessions.Add(context.Background(), -1)
}

// stopSession requests a stop and waits for the producer to exit.
func (c *SessionController) stopSession(active *activeSession) {
	active.requestStop()
	<-active.done
}

// finishSession moves active to idle exactly once. A non-empty reason
// reports the transition and a non-nil cause marks it session-fatal.
func (c *SessionController) finishSession(active *activeSession, reason domain.SessionStateReason, cause error) {
	active.finishOnce.Do(func() {
		active.setState(domain.SessionStateIdle)

		c.mu.Lock()
		if c.current == active {
			c.current = nil
		}
		if cause != nil {
			c.message = cause.Error()
		}
		c.mu.Unlock()

		if reason == "" {
			return
		}
		if cause != nil {
			c.metrics.RecordSessionError(context.Background(), string(reason))
			c.log.Error("capture session ended", "session", active.id, "generation", active.gen, "reason", reason, "err", cause)
			c.events.SessionError(errorCodeFor(reason), cause.Error())
		} else {
			c.log.Info("capture session stopped", "session", active.id, "generation", active.gen)
		}
		c.events.SessionStateChanged(domain.SessionStateIdle, reason)
	})
}

// fail reports a session that never reached running.
func (c *SessionController) fail(code domain.ErrorCode, reason domain.SessionStateReason, err error) {
	c.mu.Lock()
	c.message = err.Error()
	c.mu.Unlock()

	c.metrics.RecordSessionError(context.Background(), string(reason))
	c.events.SessionError(code, err.Error())
	c.events.SessionStateChanged(domain.SessionStateIdle, reason)
}

func (c *SessionController) takeCurrent() *activeSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	active := c.current
	c.current = nil
	return active
}

func (c *SessionController) getCurrent() (*activeSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil, ErrNoActiveSession
	}
	return c.current, nil
}

func errorCodeFor(reason domain.SessionStateReason) domain.ErrorCode {
	switch reason {
	case domain.SessionReasonDeviceUnavailable:
		return domain.ErrorCodeDevice
	case domain.SessionReasonEngineLaunchFailed, domain.SessionReasonEngineExited:
		return domain.ErrorCodeEngine
	case domain.SessionReasonProtocolError:
		return domain.ErrorCodeProtocol
	case domain.SessionReasonStreamFault:
		return domain.ErrorCodeStream
	default:
		return domain.ErrorCodeStartup
	}
}
