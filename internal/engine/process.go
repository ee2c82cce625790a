package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"voicescope/internal/domain"
	"voicescope/internal/ports"
)

const (
	defaultResponseTimeout = 2 * time.Second
	defaultStopGrace       = 1200 * time.Millisecond
)

// ProcessLauncher starts engine executables and connects them over their
// standard streams.
type ProcessLauncher struct {
	logger *slog.Logger
}

func NewProcessLauncher(logger *slog.Logger) *ProcessLauncher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessLauncher{logger: logger}
}

func (l *ProcessLauncher) Launch(ctx context.Context, cfg ports.EngineConfig) (ports.Transport, error) {
	return l.Start(ctx, cfg)
}

// Start launches the engine named by cfg.Command and returns its transport.
func (l *ProcessLauncher) Start(ctx context.Context, cfg ports.EngineConfig) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineLaunch, err)
	}
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, fmt.Errorf("%w: no engine command configured", domain.ErrEngineLaunch)
	}
	codec, err := NewCodec(cfg.Codec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrEngineLaunch, err)
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = defaultResponseTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}

	cmd := exec.Command(cfg.Command, cfg.Args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", domain.ErrEngineLaunch, err)
	}
	// Plain os pipes so that Wait never closes a stream we are still reading.
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		return nil, fmt.Errorf("%w: stdout pipe: %v", domain.ErrEngineLaunch, err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW)
		return nil, fmt.Errorf("%w: stderr pipe: %v", domain.ErrEngineLaunch, err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		closeAll(stdoutR, stdoutW, stderrR, stderrW)
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrEngineLaunch, cfg.Command, err)
	}
	closeAll(stdoutW, stderrW)

	p := &Process{
		cmd:     cmd,
		codec:   codec,
		stdin:   stdin,
		stdout:  stdoutR,
		w:       bufio.NewWriterSize(stdin, 64<<10),
		r:       bufio.NewReaderSize(stdoutR, 64<<10),
		timeout: cfg.ResponseTimeout,
		grace:   cfg.StopGrace,
		done:    make(chan struct{}),
		logger:  l.logger.With("engine", cfg.Command, "pid", cmd.Process.Pid),
	}

	go p.logStderr(stderrR)
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()

	p.logger.Info("processing engine started", "codec", codec.Name())
	return p, nil
}

// Process is a running engine reached through a Codec over stdin/stdout.
type Process struct {
	cmd    *exec.Cmd
	codec  Codec
	stdin  io.WriteCloser
	stdout *os.File
	w      *bufio.Writer
	r      *bufio.Reader

	timeout time.Duration
	grace   time.Duration
	logger  *slog.Logger

	// mu serializes round trips; failed poisons the channel after the
	// first error since a desynchronized stream cannot be recovered.
	mu     sync.Mutex
	failed error

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

type roundTripResult struct {
	features domain.FeatureFrame
	err      error
}

// Send exchanges one frame for its features. Any failure is final: the
// returned error wraps domain.ErrProtocol and every later call returns it.
func (p *Process) Send(frame domain.AudioFrame) (domain.FeatureFrame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed != nil {
		return domain.FeatureFrame{}, p.failed
	}

	result := make(chan roundTripResult, 1)
	go func() {
		features, err := p.roundTrip(frame.Samples)
		result <- roundTripResult{features: features, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-result:
		if res.err != nil {
			p.failed = classifyErr(res.err)
			return domain.FeatureFrame{}, p.failed
		}
		return res.features, nil
	case <-timer.C:
		p.failed = fmt.Errorf("%w: no response to frame %d within %s", domain.ErrProtocol, frame.Seq, p.timeout)
		return domain.FeatureFrame{}, p.failed
	}
}

func (p *Process) roundTrip(samples []float32) (domain.FeatureFrame, error) {
	if err := p.codec.WriteRequest(p.w, samples); err != nil {
		return domain.FeatureFrame{}, err
	}
	return p.codec.ReadResponse(p.r)
}

// Done is closed once the engine process has exited.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Close ends the engine: stdin is closed, the process is interrupted and,
// if it has not exited within the grace period, killed.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		_ = p.stdin.Close()
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Signal(os.Interrupt)
		}

		select {
		case <-p.done:
		case <-time.After(p.grace):
			p.logger.Warn("processing engine did not exit in time, killing")
			if p.cmd.Process != nil {
				_ = p.cmd.Process.Kill()
			}
			<-p.done
		}

		if err := p.stdout.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			p.closeErr = err
		}
		if p.closeErr == nil {
			p.closeErr = normalizeExitErr(p.waitErr)
		}
		p.logger.Info("processing engine stopped")
	})
	return p.closeErr
}

func (p *Process) logStderr(stderr *os.File) {
	defer stderr.Close()

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"), strings.Contains(line, "level=ERROR"):
			p.logger.Error("engine: " + line)
		case strings.Contains(line, "[WARN"), strings.Contains(line, "level=WARN"):
			p.logger.Warn("engine: " + line)
		case strings.Contains(line, "[INFO]"), strings.Contains(line, "level=INFO"):
			p.logger.Info("engine: " + line)
		default:
			p.logger.Debug("engine: " + line)
		}
	}
}

// classifyErr maps a failed round trip onto the protocol error taxonomy.
func classifyErr(err error) error {
	if errors.Is(err, domain.ErrProtocol) {
		return err
	}
	return fmt.Errorf("%w: %w: %v", domain.ErrProtocol, domain.ErrChannelClosed, err)
}

// normalizeExitErr treats an exit caused by our own interrupt or kill as
// a clean stop.
func normalizeExitErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
