package engine

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"voicescope/internal/domain"
)

func TestNewCodec(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", CodecJSONLines, CodecMsgpack} {
		if _, err := NewCodec(name); err != nil {
			t.Fatalf("codec %q: %v", name, err)
		}
	}
	if _, err := NewCodec("protobuf"); err == nil {
		t.Fatalf("expected unknown codec error")
	}
}

func TestJSONLinesRequestIsOneArrayPerLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := (jsonLines{}).WriteRequest(w, []float32{0.5, -0.25, 0}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if got := buf.String(); got != "[0.5,-0.25,0]\n" {
		t.Fatalf("unexpected wire request: %q", got)
	}
}

func TestJSONLinesResponseAcceptsIntegerFlagsAndExtraFields(t *testing.T) {
	t.Parallel()

	line := `{"spectrum":[0,1.5,3],"rms":0.25,"zcr":12,"is_voice":1,"is_peak":0,"engine":"racket"}` + "\n"
	got, err := (jsonLines{}).ReadResponse(bufio.NewReader(strings.NewReader(line)))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(got.Spectrum) != 3 || got.Spectrum[2] != 3 || got.RMS != 0.25 || got.ZCR != 12 {
		t.Fatalf("unexpected features: %+v", got)
	}
	if !got.IsVoice || got.IsPeak {
		t.Fatalf("unexpected flags: voice=%v peak=%v", got.IsVoice, got.IsPeak)
	}
}

func TestJSONLinesResponseAcceptsBooleanFlags(t *testing.T) {
	t.Parallel()

	line := `{"spectrum":[],"rms":0,"zcr":0,"is_voice":false,"is_peak":true}` + "\n"
	got, err := (jsonLines{}).ReadResponse(bufio.NewReader(strings.NewReader(line)))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.IsVoice || !got.IsPeak {
		t.Fatalf("unexpected flags: %+v", got)
	}
}

func TestJSONLinesResponseRejectsInvalidMessages(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"malformed":        `{"spectrum":[1,2`,
		"not an object":    `[1,2,3]`,
		"null":             `null`,
		"empty line":       ``,
		"missing spectrum": `{"rms":0.1,"zcr":1,"is_voice":0,"is_peak":0}`,
		"missing rms":      `{"spectrum":[],"zcr":1,"is_voice":0,"is_peak":0}`,
		"missing zcr":      `{"spectrum":[],"rms":0.1,"is_voice":0,"is_peak":0}`,
		"missing is_voice": `{"spectrum":[],"rms":0.1,"zcr":1,"is_peak":0}`,
		"missing is_peak":  `{"spectrum":[],"rms":0.1,"zcr":1,"is_voice":0}`,
		"negative rms":     `{"spectrum":[],"rms":-1,"zcr":1,"is_voice":0,"is_peak":0}`,
		"fractional zcr":   `{"spectrum":[],"rms":0,"zcr":1.5,"is_voice":0,"is_peak":0}`,
		"negative bin":     `{"spectrum":[1,-2],"rms":0,"zcr":1,"is_voice":0,"is_peak":0}`,
		"string bin":       `{"spectrum":["a"],"rms":0,"zcr":1,"is_voice":0,"is_peak":0}`,
		"flag out of 0/1":  `{"spectrum":[],"rms":0,"zcr":1,"is_voice":2,"is_peak":0}`,
		"trailing data":    `{"spectrum":[],"rms":0,"zcr":1,"is_voice":0,"is_peak":0} {}`,
	}

	for name, line := range cases {
		name, line := name, line
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := (jsonLines{}).ReadResponse(bufio.NewReader(strings.NewReader(line + "\n")))
			if !errors.Is(err, domain.ErrProtocol) {
				t.Fatalf("expected ErrProtocol, got %v", err)
			}
		})
	}
}

func TestJSONLinesPartialLineAtEOFIsReadError(t *testing.T) {
	t.Parallel()

	_, err := (jsonLines{}).ReadResponse(bufio.NewReader(strings.NewReader(`{"spectrum":[`)))
	if err == nil || errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("expected raw read error for truncated stream, got %v", err)
	}
}

func TestJSONLinesEngineSideRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	want := domain.FeatureFrame{Spectrum: []float64{1, 2}, RMS: 0.5, ZCR: 7, IsVoice: true}
	if err := (jsonLines{}).WriteResponse(w, want); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), `"is_voice":1`) || !strings.Contains(buf.String(), `"is_peak":0`) {
		t.Fatalf("flags should travel as 0/1: %q", buf.String())
	}

	got, err := (jsonLines{}).ReadResponse(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if got.ZCR != 7 || !got.IsVoice || got.IsPeak || len(got.Spectrum) != 2 {
		t.Fatalf("unexpected features: %+v", got)
	}
}

func TestMsgpackFramesRoundTrip(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)
	if err := (msgpackFrames{}).WriteRequest(w, []float32{1, -1}); err != nil {
		t.Fatalf("write request failed: %v", err)
	}
	samples, err := (msgpackFrames{}).ReadRequest(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read request failed: %v", err)
	}
	if len(samples) != 2 || samples[0] != 1 || samples[1] != -1 {
		t.Fatalf("unexpected samples: %v", samples)
	}

	buf.Reset()
	want := domain.FeatureFrame{Spectrum: []float64{0.5}, RMS: 0.9, ZCR: 3, IsPeak: true}
	if err := (msgpackFrames{}).WriteResponse(w, want); err != nil {
		t.Fatalf("write response failed: %v", err)
	}
	got, err := (msgpackFrames{}).ReadResponse(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("read response failed: %v", err)
	}
	if got.RMS != 0.9 || got.ZCR != 3 || !got.IsPeak || got.IsVoice || got.Spectrum[0] != 0.5 {
		t.Fatalf("unexpected features: %+v", got)
	}
}

func TestMsgpackFramesMissingFieldIsProtocolError(t *testing.T) {
	t.Parallel()

	payload, err := msgpack.Marshal(map[string]any{"rms": 0.1, "zcr": 1})
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(payload)))
	buf.Write(payload)

	_, err = (msgpackFrames{}).ReadResponse(bufio.NewReader(&buf))
	if !errors.Is(err, domain.ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestMsgpackFramesOversizedFrameIsUnrecoverable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(maxFrameBytes+1))

	_, err := (msgpackFrames{}).ReadResponse(bufio.NewReader(&buf))
	if !errors.Is(err, domain.ErrProtocol) || !errors.Is(err, errFrameTooLarge) {
		t.Fatalf("expected oversized frame protocol error, got %v", err)
	}
}
