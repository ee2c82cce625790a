package dsp

import (
	"math"
	"testing"

	"voicescope/internal/domain"
)

func TestSilentFrameHasNoEnergyOrEvents(t *testing.T) {
	t.Parallel()

	a := NewAnalyzer(domain.SpectrumBins, DefaultPolicy())
	got := a.Analyze(make([]float32, domain.FrameSize))

	if got.RMS != 0 || got.ZCR != 0 || got.IsVoice || got.IsPeak {
		t.Fatalf("unexpected features for silence: rms=%v zcr=%d voice=%v peak=%v", got.RMS, got.ZCR, got.IsVoice, got.IsPeak)
	}
	if len(got.Spectrum) != domain.SpectrumBins {
		t.Fatalf("expected %d bins, got %d", domain.SpectrumBins, len(got.Spectrum))
	}
	for i, v := range got.Spectrum {
		if v != 0 {
			t.Fatalf("bin %d should be zero, got %v", i, v)
		}
	}
}

func TestAlternatingFrameCrossesEverySample(t *testing.T) {
	t.Parallel()

	samples := make([]float32, domain.FrameSize)
	for i := range samples {
		samples[i] = 1
		if i%2 == 1 {
			samples[i] = -1
		}
	}

	if got := ZeroCrossings(samples); got != domain.FrameSize-1 {
		t.Fatalf("expected %d crossings, got %d", domain.FrameSize-1, got)
	}
	if got := RMS(samples); math.Abs(got-1) > 1e-9 {
		t.Fatalf("expected rms 1, got %v", got)
	}
}

func TestRMSOfEmptyFrame(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
	if got := ZeroCrossings([]float32{1}); got != 0 {
		t.Fatalf("expected 0 crossings, got %d", got)
	}
}

func TestSpectrumPeaksAtToneFrequency(t *testing.T) {
	t.Parallel()

	const tone = 1000.0
	samples := make([]float32, domain.FrameSize)
	for i := range samples {
		samples[i] = float32(0.5 * math.Sin(2*math.Pi*tone*float64(i)/domain.SampleRate))
	}

	var s Spectrum
	bins := domain.FrameSize/2 + 1
	mags := s.Compute(samples, bins)

	best := 0
	for i, v := range mags {
		if v < 0 {
			t.Fatalf("bin %d is negative: %v", i, v)
		}
		if v > mags[best] {
			best = i
		}
	}
	want := int(tone * domain.FrameSize / domain.SampleRate)
	if best != want {
		t.Fatalf("expected peak at bin %d, got %d", want, best)
	}
}

func TestDownsampleAveragesGroups(t *testing.T) {
	t.Parallel()

	got := downsample([]float64{1, 3, 5, 7}, make([]float64, 2))
	if got[0] != 2 || got[1] != 6 {
		t.Fatalf("unexpected downsample: %v", got)
	}

	up := downsample([]float64{4, 8}, make([]float64, 4))
	if up[0] != 4 || up[3] != 8 {
		t.Fatalf("unexpected upsample: %v", up)
	}
}

func TestClassifierVoiceHysteresis(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()
	c := NewClassifier(policy)

	for i := 0; i < policy.VoiceEnterFrames-1; i++ {
		if voice, _ := c.Classify(0.05, 100); voice {
			t.Fatalf("voice switched on after only %d frames", i+1)
		}
	}
	if voice, _ := c.Classify(0.05, 100); !voice {
		t.Fatalf("expected voice after %d frames", policy.VoiceEnterFrames)
	}

	// One quiet frame must not flip it off.
	if voice, _ := c.Classify(0, 0); !voice {
		t.Fatalf("single quiet frame should not end voice")
	}
	for i := 0; i < policy.VoiceExitFrames; i++ {
		c.Classify(0, 0)
	}
	if voice, _ := c.Classify(0, 0); voice {
		t.Fatalf("expected voice to end after sustained silence")
	}
}

func TestClassifierPeakIsSingleFrame(t *testing.T) {
	t.Parallel()

	c := NewClassifier(DefaultPolicy())
	if _, peak := c.Classify(0.8, 50); !peak {
		t.Fatalf("expected peak for loud transient")
	}
	if _, peak := c.Classify(0.01, 50); peak {
		t.Fatalf("peak must not persist into quiet frame")
	}
}
