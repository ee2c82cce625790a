package domain

import "time"

// Capture parameters are fixed for the pipeline.
const (
	SampleRate = 44100
	Channels   = 1
	FrameSize  = 4410

	// FrameDuration is the wall-clock length of one AudioFrame.
	FrameDuration = time.Duration(FrameSize) * time.Second / time.Duration(SampleRate)

	// SpectrumBins is the display length produced by the reference engine.
	SpectrumBins = 256

	PresentationInterval = 50 * time.Millisecond
	DisplayHeadroom      = 1.2
	MinDisplayScale      = 10.0
)

// SessionState models the capture session lifecycle.
type SessionState string

const (
	SessionStateIdle     SessionState = "idle"
	SessionStateStarting SessionState = "starting"
	SessionStateRunning  SessionState = "running"
	SessionStateStopping SessionState = "stopping"
)

// SessionStateReason provides a structured reason for state transitions.
type SessionStateReason string

const (
	SessionReasonMicCold            SessionStateReason = "mic_cold"
	SessionReasonSessionStarted     SessionStateReason = "session_started"
	SessionReasonSessionRestarted   SessionStateReason = "session_restarted"
	SessionReasonSessionStopped     SessionStateReason = "session_stopped"
	SessionReasonDeviceUnavailable  SessionStateReason = "device_unavailable"
	SessionReasonEngineLaunchFailed SessionStateReason = "engine_launch_failed"
	SessionReasonProtocolError      SessionStateReason = "protocol_error"
	SessionReasonStreamFault        SessionStateReason = "stream_fault"
	SessionReasonEngineExited       SessionStateReason = "engine_exited"
)

// ErrorCode identifies the class of a session error surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup  ErrorCode = "startup"
	ErrorCodeDevice   ErrorCode = "device"
	ErrorCodeEngine   ErrorCode = "engine"
	ErrorCodeProtocol ErrorCode = "protocol"
	ErrorCodeStream   ErrorCode = "stream"
	ErrorCodeStop     ErrorCode = "stop"
)

// Generation identifies one session. Values only ever increase.
type Generation uint64

// AudioFrame is one block of mono samples in capture order.
// It must not be modified once captured.
type AudioFrame struct {
	Seq        uint64
	Samples    []float32
	CapturedAt time.Time
}

// Duration returns the wall-clock length of the frame at SampleRate.
func (f AudioFrame) Duration() time.Duration {
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(SampleRate)
}

// FeatureFrame is the processing engine's answer for exactly one AudioFrame.
type FeatureFrame struct {
	Spectrum []float64 `json:"spectrum"`
	RMS      float64   `json:"rms"`
	ZCR      int       `json:"zcr"`
	IsVoice  bool      `json:"is_voice"`
	IsPeak   bool      `json:"is_peak"`
}

// Status summarizes the current runtime status.
type Status struct {
	State      SessionState `json:"state"`
	Active     bool         `json:"active"`
	Generation Generation   `json:"generation"`
	SessionID  string       `json:"sessionId,omitempty"`
	Message    string       `json:"message,omitempty"`
}
