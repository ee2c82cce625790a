package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"voicescope/internal/domain"
	"voicescope/internal/ports"
)

const (
	startProbe = 250 * time.Millisecond
	stopGrace  = 1200 * time.Millisecond

	bytesPerSample = 4
	frameBacklog   = 2
)

// FFMPEGSource captures mono float32 microphone frames using ffmpeg.
type FFMPEGSource struct {
	command string
}

func NewFFMPEGSource(command string) *FFMPEGSource {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGSource{command: command}
}

func (c *FFMPEGSource) Open(ctx context.Context, cfg ports.AudioConfig) (ports.CaptureStream, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = domain.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = domain.Channels
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = domain.FrameSize
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "f32le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create ffmpeg stdout pipe: %v", domain.ErrDeviceUnavailable, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start ffmpeg: %v", domain.ErrDeviceUnavailable, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("%w: ffmpeg exited before capture started: %v: %s", domain.ErrDeviceUnavailable, err, stringsTrimSpaceSafe(stderr.String()))
		}
		return nil, fmt.Errorf("%w: ffmpeg exited before capture started", domain.ErrDeviceUnavailable)
	case <-time.After(startProbe):
	}

	frameDuration := time.Duration(cfg.FrameSize) * time.Second / time.Duration(cfg.SampleRate)
	stream := &ffmpegStream{
		stdout:    stdout,
		stderr:    &stderr,
		process:   cmd.Process,
		waitErr:   waitErr,
		frameSize: cfg.FrameSize,
		timeout:   frameDuration,
		frames:    make(chan domain.AudioFrame, frameBacklog),
		dead:      make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *bytes.Buffer

	process *os.Process
	waitErr <-chan error

	frameSize int
	timeout   time.Duration

	frames  chan domain.AudioFrame
	overrun atomic.Bool

	dead    chan struct{}
	deadErr error

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) readLoop() {
	defer close(s.dead)

	buf := make([]byte, s.frameSize*bytesPerSample)
	var seq uint64
	for {
		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			s.deadErr = err
			return
		}
		seq++
		frame := domain.AudioFrame{
			Seq:        seq,
			Samples:    decodeFloat32LE(buf),
			CapturedAt: time.Now(),
		}

		select {
		case s.frames <- frame:
		default:
			// Consumer fell behind: drop the oldest frame, keep the newest.
			select {
			case <-s.frames:
			default:
			}
			s.frames <- frame
			s.overrun.Store(true)
		}
	}
}

// ReadFrame returns the next captured frame, waiting at most one frame
// duration.
func (s *ffmpegStream) ReadFrame() (domain.AudioFrame, error) {
	if s.overrun.Swap(false) {
		return domain.AudioFrame{}, fmt.Errorf("%w: overrun, frame dropped", domain.ErrStreamFault)
	}

	select {
	case frame := <-s.frames:
		return frame, nil
	default:
	}

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case frame := <-s.frames:
		return frame, nil
	case <-s.dead:
		select {
		case frame := <-s.frames:
			return frame, nil
		default:
		}
		return domain.AudioFrame{}, fmt.Errorf("%w: capture ended: %v", domain.ErrStreamFault, s.deadErr)
	case <-timer.C:
		return domain.AudioFrame{}, fmt.Errorf("%w: underrun, no frame within %s", domain.ErrStreamFault, s.timeout)
	}
}

func (s *ffmpegStream) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(stopGrace):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}

		if s.stopErr != nil && s.stderr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, stringsTrimSpaceSafe(s.stderr.String()))
		}
	})

	return s.stopErr
}

func decodeFloat32LE(buf []byte) []float32 {
	samples := make([]float32, len(buf)/bytesPerSample)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*bytesPerSample:]))
	}
	return samples
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
