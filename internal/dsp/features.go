// Package dsp computes per-frame acoustic features for the reference
// processing engine.
package dsp

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// RMS returns the root-mean-square amplitude of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// ZeroCrossings counts sign changes between consecutive samples. Zero is
// treated as non-negative, so silence has no crossings.
func ZeroCrossings(samples []float32) int {
	count := 0
	for i := 1; i < len(samples); i++ {
		if (samples[i-1] >= 0) != (samples[i] >= 0) {
			count++
		}
	}
	return count
}

// Spectrum computes Hann-windowed DFT magnitudes and averages them down to
// bins values covering 0..SampleRate/2.
type Spectrum struct {
	n   int
	fft *fourier.FFT

	seq    []float64
	coeffs []complex128
	mags   []float64
}

func (s *Spectrum) Compute(samples []float32, bins int) []float64 {
	out := make([]float64, bins)
	if len(samples) < 2 || bins <= 0 {
		return out
	}

	if s.fft == nil || s.n != len(samples) {
		s.n = len(samples)
		s.fft = fourier.NewFFT(s.n)
		s.seq = make([]float64, s.n)
		s.coeffs = make([]complex128, s.n/2+1)
		s.mags = make([]float64, s.n/2+1)
	}

	for i, v := range samples {
		s.seq[i] = float64(v)
	}
	window.Hann(s.seq)
	s.coeffs = s.fft.Coefficients(s.coeffs, s.seq)
	for i, c := range s.coeffs {
		s.mags[i] = cmplx.Abs(c)
	}

	return downsample(s.mags, out)
}

// downsample averages src into len(dst) contiguous groups.
func downsample(src, dst []float64) []float64 {
	n, m := len(src), len(dst)
	for j := range dst {
		start := j * n / m
		end := (j + 1) * n / m
		if end <= start {
			end = start + 1
		}
		if end > n {
			end = n
		}
		var sum float64
		for _, v := range src[start:end] {
			sum += v
		}
		dst[j] = sum / float64(end-start)
	}
	return dst
}
