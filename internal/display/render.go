// Package display turns feature frames into what the presentation surfaces
// show: a mirrored spectrum, a y-axis scale and a status readout.
package display

import (
	"fmt"

	"voicescope/internal/domain"
)

// Status readout texts.
const (
	LabelPeak      = "IMPACT DETECTED"
	LabelVoice     = "HUMAN VOICE"
	LabelListening = "... listening ..."
	LabelStopped   = "Stopped"
)

// Mirror returns the spectrum reversed followed by the spectrum itself, so
// the plot is symmetric around zero frequency.
func Mirror(spectrum []float64) []float64 {
	n := len(spectrum)
	out := make([]float64, 2*n)
	for i, v := range spectrum {
		out[n-1-i] = v
		out[n+i] = v
	}
	return out
}

// Frequencies returns n x-axis points spaced evenly from -rate/2 to +rate/2
// inclusive.
func Frequencies(n int, rate float64) []float64 {
	out := make([]float64, n)
	switch n {
	case 0:
		return out
	case 1:
		return out
	}
	lo, hi := -rate/2, rate/2
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Scale returns the y-axis ceiling: the spectrum peak with headroom, never
// below the minimum scale.
func Scale(spectrum []float64) float64 {
	peak := 0.0
	for _, v := range spectrum {
		if v > peak {
			peak = v
		}
	}
	if s := peak * domain.DisplayHeadroom; s > domain.MinDisplayScale {
		return s
	}
	return domain.MinDisplayScale
}

// Classify picks the readout state for frame. Peak wins over voice, which
// wins over listening.
func Classify(frame domain.FeatureFrame, running bool) domain.DisplayState {
	switch {
	case !running:
		return domain.DisplayStopped
	case frame.IsPeak:
		return domain.DisplayPeak
	case frame.IsVoice:
		return domain.DisplayVoice
	default:
		return domain.DisplayListening
	}
}

func Label(state domain.DisplayState) string {
	switch state {
	case domain.DisplayPeak:
		return LabelPeak
	case domain.DisplayVoice:
		return LabelVoice
	case domain.DisplayListening:
		return LabelListening
	default:
		return LabelStopped
	}
}

func StatsLine(rms float64, zcr int) string {
	return fmt.Sprintf("RMS: %.4f | ZCR: %d", rms, zcr)
}

// Build renders one feature frame.
func Build(gen domain.Generation, frame domain.FeatureFrame, running bool) domain.Display {
	state := Classify(frame, running)
	mirrored := Mirror(frame.Spectrum)
	return domain.Display{
		Generation:  gen,
		State:       state,
		Label:       Label(state),
		Spectrum:    mirrored,
		Frequencies: Frequencies(len(mirrored), domain.SampleRate),
		Scale:       Scale(frame.Spectrum),
		RMS:         frame.RMS,
		ZCR:         frame.ZCR,
		Stats:       StatsLine(frame.RMS, frame.ZCR),
	}
}

// Idle is the display shown before any frame has arrived.
func Idle() domain.Display {
	return domain.Display{
		State: domain.DisplayStopped,
		Label: LabelStopped,
		Scale: domain.MinDisplayScale,
		Stats: StatsLine(0, 0),
	}
}
