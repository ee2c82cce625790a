// Package resultslot hands feature frames from the session producer to the
// presentation loop. It holds at most one unread value; a newer value
// replaces an older one and neither side ever blocks.
package resultslot

import (
	"sync"
	"sync/atomic"

	"voicescope/internal/domain"
)

// Result is a drained feature frame tagged with the session generation that
// produced it.
type Result struct {
	Generation domain.Generation
	Frame      domain.FeatureFrame
}

// Stats are lifetime counters for a slot.
type Stats struct {
	Published   uint64 `json:"published"`
	Drained     uint64 `json:"drained"`
	Overwritten uint64 `json:"overwritten"`
	Stale       uint64 `json:"stale"`
}

type Slot struct {
	mu      sync.Mutex
	gen     domain.Generation
	pending *Result

	published   atomic.Uint64
	drained     atomic.Uint64
	overwritten atomic.Uint64
	stale       atomic.Uint64
}

func New() *Slot {
	return &Slot{}
}

// Advance makes gen the only accepted generation and discards any unread
// value from an earlier one.
func (s *Slot) Advance(gen domain.Generation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.gen = gen
	if s.pending != nil && s.pending.Generation != gen {
		s.pending = nil
	}
}

// Publish stores frame as the latest value. It returns false when gen is
// not the current generation.
func (s *Slot) Publish(gen domain.Generation, frame domain.FeatureFrame) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		s.stale.Add(1)
		return false
	}
	if s.pending != nil {
		s.overwritten.Add(1)
	}
	s.pending = &Result{Generation: gen, Frame: frame}
	s.published.Add(1)
	return true
}

// DrainLatest returns the newest unread value and clears the slot.
func (s *Slot) DrainLatest() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return Result{}, false
	}
	r := *s.pending
	s.pending = nil
	s.drained.Add(1)
	return r, true
}

func (s *Slot) Stats() Stats {
	return Stats{
		Published:   s.published.Load(),
		Drained:     s.drained.Load(),
		Overwritten: s.overwritten.Load(),
		Stale:       s.stale.Load(),
	}
}
