package ports

import (
	"context"
	"time"

	"voicescope/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	FrameSize   int
	InputFormat string
	InputDevice string
}

// CaptureStream is an open input device delivering fixed-size frames.
type CaptureStream interface {
	// ReadFrame blocks for the next frame. It returns an error wrapping
	// domain.ErrStreamFault when a frame was lost.
	ReadFrame() (domain.AudioFrame, error)
	Close() error
}

// FrameSource opens capture streams. Open fails with an error wrapping
// domain.ErrDeviceUnavailable when no device can be opened.
type FrameSource interface {
	Open(ctx context.Context, cfg AudioConfig) (CaptureStream, error)
}

// EngineConfig describes how to launch the processing engine.
type EngineConfig struct {
	Command         string
	Args            []string
	Codec           string
	ResponseTimeout time.Duration
	StopGrace       time.Duration
}

// Transport is a synchronous request/response channel to the processing
// engine. At most one Send is outstanding at any time.
type Transport interface {
	Send(frame domain.AudioFrame) (domain.FeatureFrame, error)
	Close() error
	// Done is closed once the engine process has exited.
	Done() <-chan struct{}
}

// EngineLauncher starts processing engines. Launch fails with an error
// wrapping domain.ErrEngineLaunch when the process cannot be started.
type EngineLauncher interface {
	Launch(ctx context.Context, cfg EngineConfig) (Transport, error)
}

// EventSink emits backend state/events to the UI.
type EventSink interface {
	SessionStateChanged(state domain.SessionState, reason domain.SessionStateReason)
	SessionError(code domain.ErrorCode, detail string)
}

// Renderer receives every new display produced by the presentation loop.
type Renderer interface {
	Render(display domain.Display)
}
