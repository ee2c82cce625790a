package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"voicescope/internal/domain"
	"voicescope/internal/observe"
)

// maxConsecutiveFaults is the number of back-to-back stream faults that end
// a session. A single fault only loses its frame.
const maxConsecutiveFaults = 2

// pumpFrames forwards frames from capture to the engine and publishes each
// answer until a stop is requested or a session-fatal error occurs. It
// returns the reason and cause of a fatal exit, or an empty reason when
// the session was stopped.
func pumpFrames(
	session *activeSession,
	results ResultSink,
	metrics *observe.Metrics,
	log *slog.Logger,
) (domain.SessionStateReason, error) {
	ctx := context.Background()
	faults := 0

	for {
		select {
		case <-session.stop:
			return "", nil
		case <-session.transport.Done():
			return domain.SessionReasonEngineExited, errors.New("processing engine exited")
		default:
		}

		frame, err := session.capture.ReadFrame()
		if err != nil {
			if session.stopRequested() {
				return "", nil
			}
			if !errors.Is(err, domain.ErrStreamFault) {
				return domain.SessionReasonStreamFault, err
			}
			faults++
			metrics.RecordStreamFault(ctx)
			log.Warn("audio frame lost", "consecutive", faults, "err", err)
			if faults >= maxConsecutiveFaults {
				return domain.SessionReasonStreamFault, err
			}
			continue
		}
		faults = 0

		if session.stopRequested() {
			return "", nil
		}

		started := time.Now()
		features, err := session.transport.Send(frame)
		if err != nil {
			if session.stopRequested() {
				return "", nil
			}
			select {
			case <-session.transport.Done():
				return domain.SessionReasonEngineExited, err
			default:
			}
			return domain.SessionReasonProtocolError, err
		}
		metrics.EngineRoundTrip.Record(ctx, time.Since(started).Seconds())

		if results.Publish(session.gen, features) {
			metrics.FramesProcessed.Add(ctx, 1)
		}
	}
}
