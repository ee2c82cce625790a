package domain

import "errors"

var (
	// ErrDeviceUnavailable means no input device could be opened.
	ErrDeviceUnavailable = errors.New("audio input device unavailable")

	// ErrStreamFault is a transient capture overrun or underrun. The
	// affected frame is lost.
	ErrStreamFault = errors.New("audio stream fault")

	// ErrEngineLaunch means the processing engine process could not be started.
	ErrEngineLaunch = errors.New("processing engine launch failed")

	// ErrProtocol covers malformed, missing or late engine responses and
	// broken channels. It is always session-fatal.
	ErrProtocol = errors.New("engine protocol error")

	// ErrChannelClosed is wrapped together with ErrProtocol when the engine
	// pipe is closed or broken.
	ErrChannelClosed = errors.New("engine channel closed")

	ErrNoActiveSession = errors.New("no active capture session")
)
