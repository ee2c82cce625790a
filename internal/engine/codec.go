// Package engine talks to the out-of-process processing engine.
//
// A Process owns one engine executable and exchanges exactly one request
// (an audio frame) for one response (a feature frame) at a time over the
// engine's stdin/stdout. Messages are framed by a Codec: newline-delimited
// JSON by default, or length-prefixed MessagePack.
package engine

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"voicescope/internal/domain"
)

const (
	CodecJSONLines = "jsonl"
	CodecMsgpack   = "msgpack"
)

// errFrameTooLarge marks a framing failure after which the stream cannot
// be resynchronized.
var errFrameTooLarge = errors.New("message exceeds frame limit")

// Codec frames requests and responses on the engine channel. The client
// side uses WriteRequest/ReadResponse; the engine side the other pair.
// Writes flush before returning.
type Codec interface {
	Name() string
	WriteRequest(w *bufio.Writer, samples []float32) error
	ReadResponse(r *bufio.Reader) (domain.FeatureFrame, error)
	ReadRequest(r *bufio.Reader) ([]float32, error)
	WriteResponse(w *bufio.Writer, features domain.FeatureFrame) error
}

// NewCodec returns the codec registered under name. An empty name selects
// the JSON lines codec.
func NewCodec(name string) (Codec, error) {
	switch name {
	case "", CodecJSONLines:
		return jsonLines{}, nil
	case CodecMsgpack:
		return msgpackFrames{}, nil
	default:
		return nil, fmt.Errorf("unknown engine codec %q", name)
	}
}

// Codecs lists the codec names accepted by NewCodec.
func Codecs() []string {
	return []string{CodecJSONLines, CodecMsgpack}
}

// wireResponse is the encoded form of a FeatureFrame. Flags travel as 0/1.
type wireResponse struct {
	Spectrum []float64 `json:"spectrum" msgpack:"spectrum"`
	RMS      float64   `json:"rms" msgpack:"rms"`
	ZCR      int       `json:"zcr" msgpack:"zcr"`
	IsVoice  int       `json:"is_voice" msgpack:"is_voice"`
	IsPeak   int       `json:"is_peak" msgpack:"is_peak"`
}

func toWire(f domain.FeatureFrame) wireResponse {
	spectrum := f.Spectrum
	if spectrum == nil {
		spectrum = []float64{}
	}
	return wireResponse{
		Spectrum: spectrum,
		RMS:      f.RMS,
		ZCR:      f.ZCR,
		IsVoice:  boolToInt(f.IsVoice),
		IsPeak:   boolToInt(f.IsPeak),
	}
}

// decodeFields validates a decoded response object. Unknown keys are
// ignored; every FeatureFrame field is required.
func decodeFields(fields map[string]any) (domain.FeatureFrame, error) {
	var out domain.FeatureFrame

	rawSpectrum, ok := fields["spectrum"]
	if !ok {
		return out, missingField("spectrum")
	}
	items, ok := rawSpectrum.([]any)
	if !ok {
		return out, fmt.Errorf("%w: spectrum is %T, want array", domain.ErrProtocol, rawSpectrum)
	}
	out.Spectrum = make([]float64, len(items))
	for i, item := range items {
		v, ok := asFloat(item)
		if !ok || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return domain.FeatureFrame{}, fmt.Errorf("%w: spectrum[%d] is not a non-negative number", domain.ErrProtocol, i)
		}
		out.Spectrum[i] = v
	}

	rawRMS, ok := fields["rms"]
	if !ok {
		return domain.FeatureFrame{}, missingField("rms")
	}
	rms, ok := asFloat(rawRMS)
	if !ok || rms < 0 || math.IsNaN(rms) || math.IsInf(rms, 0) {
		return domain.FeatureFrame{}, fmt.Errorf("%w: rms %v is not a non-negative number", domain.ErrProtocol, rawRMS)
	}
	out.RMS = rms

	rawZCR, ok := fields["zcr"]
	if !ok {
		return domain.FeatureFrame{}, missingField("zcr")
	}
	zcr, ok := asFloat(rawZCR)
	if !ok || zcr < 0 || zcr != math.Trunc(zcr) || zcr > math.MaxInt32 {
		return domain.FeatureFrame{}, fmt.Errorf("%w: zcr %v is not a non-negative integer", domain.ErrProtocol, rawZCR)
	}
	out.ZCR = int(zcr)

	var err error
	if out.IsVoice, err = flagField(fields, "is_voice"); err != nil {
		return domain.FeatureFrame{}, err
	}
	if out.IsPeak, err = flagField(fields, "is_peak"); err != nil {
		return domain.FeatureFrame{}, err
	}
	return out, nil
}

// flagField accepts JSON/msgpack booleans as well as the integers 0 and 1.
func flagField(fields map[string]any, name string) (bool, error) {
	raw, ok := fields[name]
	if !ok {
		return false, missingField(name)
	}
	if b, ok := raw.(bool); ok {
		return b, nil
	}
	v, ok := asFloat(raw)
	switch {
	case ok && v == 0:
		return false, nil
	case ok && v == 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s %v is neither a boolean nor 0/1", domain.ErrProtocol, name, raw)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

func missingField(name string) error {
	return fmt.Errorf("%w: missing required field %q", domain.ErrProtocol, name)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
