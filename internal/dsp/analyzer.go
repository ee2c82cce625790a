package dsp

import "voicescope/internal/domain"

// Analyzer computes a FeatureFrame per AudioFrame. It keeps hysteresis
// state between frames and must be used from one goroutine.
type Analyzer struct {
	bins       int
	spectrum   Spectrum
	classifier *Classifier
}

func NewAnalyzer(bins int, policy Policy) *Analyzer {
	if bins <= 0 {
		bins = domain.SpectrumBins
	}
	return &Analyzer{bins: bins, classifier: NewClassifier(policy)}
}

func (a *Analyzer) Analyze(samples []float32) domain.FeatureFrame {
	rms := RMS(samples)
	zcr := ZeroCrossings(samples)
	voice, peak := a.classifier.Classify(rms, zcr)
	return domain.FeatureFrame{
		Spectrum: a.spectrum.Compute(samples, a.bins),
		RMS:      rms,
		ZCR:      zcr,
		IsVoice:  voice,
		IsPeak:   peak,
	}
}
