package display

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"voicescope/internal/domain"
	"voicescope/internal/observe"
	"voicescope/internal/ports"
	"voicescope/internal/resultslot"
)

// Source is the result slot read by the presenter.
type Source interface {
	DrainLatest() (resultslot.Result, bool)
}

// SessionView reports whether a capture session is running.
type SessionView interface {
	Running() bool
}

// Presenter turns the latest feature frame into a Display and hands it to
// renderers. When nothing new arrived it keeps showing the previous display.
type Presenter struct {
	source    Source
	session   SessionView
	renderers []ports.Renderer
	metrics   *observe.Metrics

	mu      sync.RWMutex
	current domain.Display
}

func NewPresenter(source Source, session SessionView, metrics *observe.Metrics, renderers ...ports.Renderer) *Presenter {
	if metrics == nil {
		metrics = observe.Discard()
	}
	return &Presenter{
		source:    source,
		session:   session,
		renderers: renderers,
		metrics:   metrics,
		current:   Idle(),
	}
}

// Tick drains the slot once and renders if the display changed.
func (p *Presenter) Tick() {
	running := p.session.Running()

	p.mu.Lock()
	next := p.current
	if result, ok := p.source.DrainLatest(); ok {
		next = Build(result.Generation, result.Frame, running)
	} else if !running && next.State != domain.DisplayStopped {
		next.State = domain.DisplayStopped
		next.Label = LabelStopped
	}
	changed := !sameDisplay(p.current, next)
	p.current = next
	p.mu.Unlock()

	if !changed {
		return
	}
	p.metrics.DisplaysRendered.Add(context.Background(), 1)
	for _, r := range p.renderers {
		r.Render(next)
	}
}

// Current returns the last display.
func (p *Presenter) Current() domain.Display {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

func sameDisplay(a, b domain.Display) bool {
	return a.Generation == b.Generation &&
		a.State == b.State &&
		a.RMS == b.RMS &&
		a.ZCR == b.ZCR &&
		a.Scale == b.Scale &&
		slices.Equal(a.Spectrum, b.Spectrum)
}

// Loop calls Presenter.Tick on a fixed cadence.
type Loop struct {
	presenter *Presenter
	interval  time.Duration
	log       *slog.Logger
}

func NewLoop(presenter *Presenter, interval time.Duration, log *slog.Logger) *Loop {
	if interval <= 0 {
		interval = domain.PresentationInterval
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{presenter: presenter, interval: interval, log: log}
}

// Run ticks until ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.log.Debug("presentation loop started", "interval", l.interval)
	for {
		select {
		case <-ctx.Done():
			l.log.Debug("presentation loop stopped")
			return nil
		case <-ticker.C:
			l.presenter.Tick()
		}
	}
}
