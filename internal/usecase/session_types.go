package usecase

import (
	"sync"
	"sync/atomic"

	"voicescope/internal/domain"
	"voicescope/internal/ports"
)

// ResultSink receives feature frames for the presentation loop.
type ResultSink interface {
	Advance(gen domain.Generation)
	Publish(gen domain.Generation, frame domain.FeatureFrame) bool
}

type activeSession struct {
	id     string
	gen    domain.Generation
	cancel func()

	capture   ports.CaptureStream
	transport ports.Transport

	// stop is closed when a stop was requested; done is closed once the
	// producer has exited and released capture and engine.
	stop     chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	done     chan struct{}

	// quiet suppresses the idle transition when a restart replaces the
	// session.
	quiet atomic.Bool

	finishOnce sync.Once

	stateMu sync.Mutex
	state   domain.SessionState
}

func newActiveSession(id string, gen domain.Generation, cancel func(), capture ports.CaptureStream, transport ports.Transport) *activeSession {
	return &activeSession{
		id:        id,
		gen:       gen,
		cancel:    cancel,
		capture:   capture,
		transport: transport,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		state:     domain.SessionStateRunning,
	}
}

func (s *activeSession) requestStop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stop)
	})
}

func (s *activeSession) stopRequested() bool {
	return s.stopped.Load()
}

func (s *activeSession) setState(state domain.SessionState) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.state = state
}

func (s *activeSession) getState() domain.SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}
