package usecase

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"voicescope/internal/domain"
	"voicescope/internal/observe"
	"voicescope/internal/resultslot"
)

func TestPumpFramesReportsNonFaultReadError(t *testing.T) {
	t.Parallel()

	session := newActiveSession("s", 1, func() {}, &errorStream{err: errors.New("device gone")}, newFakeTransport())
	reason, err := pumpFrames(session, resultslot.New(), observe.Discard(), slog.Default())

	if reason != domain.SessionReasonStreamFault || err == nil {
		t.Fatalf("expected stream fault exit, got %q %v", reason, err)
	}
}

func TestPumpFramesEndsAfterConsecutiveFaultsAndLogsEachOnce(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil)).With("generation", 1)
	stream := &errorStream{err: fmt.Errorf("%w: underrun", domain.ErrStreamFault)}
	session := newActiveSession("s", 1, func() {}, stream, newFakeTransport())

	reason, err := pumpFrames(session, resultslot.New(), observe.Discard(), log)
	if reason != domain.SessionReasonStreamFault || !errors.Is(err, domain.ErrStreamFault) {
		t.Fatalf("expected stream fault exit, got %q %v", reason, err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != maxConsecutiveFaults {
		t.Fatalf("expected %d warnings, got %q", maxConsecutiveFaults, buf.String())
	}
	for _, line := range lines {
		if n := strings.Count(line, "generation="); n != 1 {
			t.Fatalf("generation logged %d times in %q", n, line)
		}
	}
}

func TestPumpFramesReturnsQuietlyWhenStopped(t *testing.T) {
	t.Parallel()

	session := newActiveSession("s", 1, func() {}, &fakeStream{}, newFakeTransport())
	session.requestStop()

	reason, err := pumpFrames(session, resultslot.New(), observe.Discard(), slog.Default())
	if reason != "" || err != nil {
		t.Fatalf("expected clean exit, got %q %v", reason, err)
	}
}

func TestPumpFramesDropsResultsForStaleGeneration(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.respond = func(frame domain.AudioFrame) (domain.FeatureFrame, error) {
		if frame.Seq == 3 {
			return domain.FeatureFrame{}, fmt.Errorf("%w: done", domain.ErrProtocol)
		}
		return domain.FeatureFrame{RMS: 1}, nil
	}
	slot := resultslot.New()
	slot.Advance(2)

	session := newActiveSession("s", 1, func() {}, &fakeStream{}, transport)
	reason, _ := pumpFrames(session, slot, observe.Discard(), slog.Default())

	if reason != domain.SessionReasonProtocolError {
		t.Fatalf("expected protocol error, got %q", reason)
	}
	if _, ok := slot.DrainLatest(); ok {
		t.Fatalf("stale generation must never reach the slot")
	}
	if stats := slot.Stats(); stats.Stale != 2 {
		t.Fatalf("expected 2 stale publishes, got %+v", stats)
	}
}

type errorStream struct {
	err error
}

func (e *errorStream) ReadFrame() (domain.AudioFrame, error) {
	return domain.AudioFrame{}, e.err
}

func (e *errorStream) Close() error { return nil }
