package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"voicescope/internal/domain"
)

// Analyzer computes the features of one frame of samples.
type Analyzer interface {
	Analyze(samples []float32) domain.FeatureFrame
}

// Serve runs the engine side of the protocol: it answers every request
// read from r with one response written to w until r reaches EOF or ctx is
// cancelled. Malformed requests are logged and left unanswered.
func Serve(ctx context.Context, r io.Reader, w io.Writer, codec Codec, analyzer Analyzer) error {
	br := bufio.NewReaderSize(r, 64<<10)
	bw := bufio.NewWriterSize(w, 64<<10)

	var served uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		samples, err := codec.ReadRequest(br)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				slog.Debug("engine input closed", "frames", served)
				return nil
			case errors.Is(err, errFrameTooLarge):
				return err
			case errors.Is(err, domain.ErrProtocol):
				slog.Warn("skipping malformed request", "err", err)
				continue
			default:
				return fmt.Errorf("read request: %w", err)
			}
		}

		if err := codec.WriteResponse(bw, analyzer.Analyze(samples)); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
		served++
	}
}
