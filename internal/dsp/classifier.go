package dsp

// Policy holds the replaceable thresholds used to flag frames.
type Policy struct {
	// VoiceRMS is the minimum energy of a voiced frame.
	VoiceRMS float64
	// VoiceZCRMin and VoiceZCRMax bound the zero crossings per frame that
	// are consistent with voiced speech.
	VoiceZCRMin int
	VoiceZCRMax int
	// VoiceEnterFrames consecutive voiced frames switch voice on;
	// VoiceExitFrames consecutive unvoiced frames switch it off again.
	VoiceEnterFrames int
	VoiceExitFrames  int
	// PeakRMS is the energy of a single-frame transient.
	PeakRMS float64
}

// DefaultPolicy returns thresholds tuned for 100ms frames at 44.1kHz.
func DefaultPolicy() Policy {
	return Policy{
		VoiceRMS:         0.02,
		VoiceZCRMin:      20,
		VoiceZCRMax:      600,
		VoiceEnterFrames: 3,
		VoiceExitFrames:  3,
		PeakRMS:          0.3,
	}
}

// Classifier turns per-frame energy and zero crossings into voice and
// peak flags. Voice uses hysteresis so a single odd frame does not flip it.
type Classifier struct {
	policy Policy

	inVoice    bool
	voiceRun   int
	silenceRun int
}

func NewClassifier(policy Policy) *Classifier {
	if policy.VoiceEnterFrames <= 0 {
		policy.VoiceEnterFrames = 1
	}
	if policy.VoiceExitFrames <= 0 {
		policy.VoiceExitFrames = 1
	}
	return &Classifier{policy: policy}
}

func (c *Classifier) Classify(rms float64, zcr int) (voice bool, peak bool) {
	peak = c.policy.PeakRMS > 0 && rms >= c.policy.PeakRMS
	voiced := !peak &&
		rms >= c.policy.VoiceRMS && rms > 0 &&
		zcr >= c.policy.VoiceZCRMin && zcr <= c.policy.VoiceZCRMax

	if c.inVoice {
		if voiced {
			c.silenceRun = 0
		} else {
			c.silenceRun++
			if c.silenceRun >= c.policy.VoiceExitFrames {
				c.inVoice = false
				c.silenceRun = 0
			}
		}
	} else {
		if voiced {
			c.voiceRun++
			if c.voiceRun >= c.policy.VoiceEnterFrames {
				c.inVoice = true
				c.voiceRun = 0
			}
		} else {
			c.voiceRun = 0
		}
	}

	return c.inVoice, peak
}
