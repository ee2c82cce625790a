package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voicescope/internal/domain"
	"voicescope/internal/ports"
)

// Two-sample frames at 10 Hz give a 200ms frame duration for the fake recorder.
var testAudioConfig = ports.AudioConfig{SampleRate: 10, FrameSize: 2}

const (
	frameOneMinusOne = `\x00\x00\x80\x3f\x00\x00\x80\xbf`
	frameZeros       = `\x00\x00\x00\x00\x00\x00\x00\x00`
)

func TestFFMPEGSourceOpenReadAndClose(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf '"+frameOneMinusOne+frameZeros+"'\nsleep 2\n")
	source := NewFFMPEGSource(script)

	stream, err := source.Open(context.Background(), testAudioConfig)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	first, err := stream.ReadFrame()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if first.Seq != 1 || len(first.Samples) != 2 || first.Samples[0] != 1 || first.Samples[1] != -1 {
		t.Fatalf("unexpected first frame: %+v", first)
	}

	second, err := stream.ReadFrame()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if second.Seq != 2 || second.Samples[0] != 0 || second.Samples[1] != 0 {
		t.Fatalf("unexpected second frame: %+v", second)
	}

	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("second close should be a no-op, got %v", err)
	}
}

func TestFFMPEGSourceOpenEarlyExitIsDeviceUnavailable(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	source := NewFFMPEGSource(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := source.Open(ctx, testAudioConfig)
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "no such device") {
		t.Fatalf("expected ffmpeg stderr in error, got %v", err)
	}
}

func TestFFMPEGSourceOpenMissingBinary(t *testing.T) {
	t.Parallel()

	source := NewFFMPEGSource(filepath.Join(t.TempDir(), "missing-ffmpeg"))
	_, err := source.Open(context.Background(), testAudioConfig)
	if !errors.Is(err, domain.ErrDeviceUnavailable) {
		t.Fatalf("expected ErrDeviceUnavailable, got %v", err)
	}
}

func TestFFMPEGSourceUnderrunIsStreamFault(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "stall.sh", "#!/usr/bin/env bash\nprintf '"+frameZeros+"'\nsleep 3\n")
	stream, err := NewFFMPEGSource(script).Open(context.Background(), testAudioConfig)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer stream.Close()

	if _, err := stream.ReadFrame(); err != nil {
		t.Fatalf("first read failed: %v", err)
	}

	start := time.Now()
	_, err = stream.ReadFrame()
	if !errors.Is(err, domain.ErrStreamFault) {
		t.Fatalf("expected ErrStreamFault, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("underrun detection took too long: %s", elapsed)
	}
}

func TestFFMPEGSourceSilentDeviceBlocksAtMostOneFrame(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "silent.sh", "#!/bin/sh\nexec sleep 5\n")
	stream, err := NewFFMPEGSource(script).Open(context.Background(), testAudioConfig)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	frame := 200 * time.Millisecond
	start := time.Now()
	_, err = stream.ReadFrame()
	elapsed := time.Since(start)
	if !errors.Is(err, domain.ErrStreamFault) {
		t.Fatalf("expected underrun fault, got %v", err)
	}
	if elapsed < frame-20*time.Millisecond || elapsed > frame+100*time.Millisecond {
		t.Fatalf("ReadFrame blocked %s, want about one frame (%s)", elapsed, frame)
	}

	start = time.Now()
	if err := stream.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("close took %s", elapsed)
	}
}

func TestFFMPEGSourceOverrunDropsOldestFrame(t *testing.T) {
	t.Parallel()

	frames := strings.Repeat(frameZeros, 4)
	script := writeScript(t, "burst.sh", "#!/usr/bin/env bash\nprintf '"+frames+"'\nsleep 3\n")
	stream, err := NewFFMPEGSource(script).Open(context.Background(), testAudioConfig)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer stream.Close()

	time.Sleep(100 * time.Millisecond)

	if _, err := stream.ReadFrame(); !errors.Is(err, domain.ErrStreamFault) {
		t.Fatalf("expected overrun fault, got %v", err)
	}

	frame, err := stream.ReadFrame()
	if err != nil {
		t.Fatalf("read after overrun failed: %v", err)
	}
	if frame.Seq != 3 {
		t.Fatalf("expected newest frames to survive, got seq %d", frame.Seq)
	}
}

func TestFFMPEGSourceCaptureEndIsStreamFault(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "short.sh", "#!/usr/bin/env bash\nsleep 0.4\nexit 0\n")
	stream, err := NewFFMPEGSource(script).Open(context.Background(), testAudioConfig)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer stream.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, err = stream.ReadFrame()
		if err != nil && strings.Contains(err.Error(), "capture ended") {
			break
		}
	}
	if !errors.Is(err, domain.ErrStreamFault) {
		t.Fatalf("expected ErrStreamFault after capture ended, got %v", err)
	}
}

func TestDecodeFloat32LE(t *testing.T) {
	t.Parallel()

	got := decodeFloat32LE([]byte{0x00, 0x00, 0x80, 0x3f, 0x00, 0x00, 0x00, 0xbf})
	if len(got) != 2 || got[0] != 1 || got[1] != -0.5 {
		t.Fatalf("unexpected samples: %v", got)
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}

func TestStringsTrimSpaceSafe(t *testing.T) {
	t.Parallel()

	if got := stringsTrimSpaceSafe("  hi\n"); got != "hi" {
		t.Fatalf("unexpected trim result: %q", got)
	}
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}
