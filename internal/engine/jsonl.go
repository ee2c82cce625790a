package engine

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"voicescope/internal/domain"
)

// maxLineBytes bounds a single JSON line in either direction.
const maxLineBytes = 4 << 20

// jsonLines is the default wire format: one UTF-8 JSON document per line.
type jsonLines struct{}

func (jsonLines) Name() string { return CodecJSONLines }

func (jsonLines) WriteRequest(w *bufio.Writer, samples []float32) error {
	if samples == nil {
		samples = []float32{}
	}
	return writeJSONLine(w, samples)
}

func (jsonLines) ReadResponse(r *bufio.Reader) (domain.FeatureFrame, error) {
	line, err := readLine(r, maxLineBytes)
	if err != nil {
		return domain.FeatureFrame{}, err
	}

	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return domain.FeatureFrame{}, fmt.Errorf("%w: malformed response: %v", domain.ErrProtocol, err)
	}
	if fields == nil {
		return domain.FeatureFrame{}, fmt.Errorf("%w: response is not an object", domain.ErrProtocol)
	}
	if dec.More() {
		return domain.FeatureFrame{}, fmt.Errorf("%w: trailing data after response object", domain.ErrProtocol)
	}
	return decodeFields(fields)
}

func (jsonLines) ReadRequest(r *bufio.Reader) ([]float32, error) {
	line, err := readLine(r, maxLineBytes)
	if err != nil {
		return nil, err
	}
	var samples []float32
	if err := json.Unmarshal(line, &samples); err != nil {
		return nil, fmt.Errorf("%w: malformed request: %v", domain.ErrProtocol, err)
	}
	if samples == nil {
		return nil, fmt.Errorf("%w: request is not an array", domain.ErrProtocol)
	}
	return samples, nil
}

func (jsonLines) WriteResponse(w *bufio.Writer, features domain.FeatureFrame) error {
	return writeJSONLine(w, toWire(features))
}

func writeJSONLine(w *bufio.Writer, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	if err := w.WriteByte('\n'); err != nil {
		return err
	}
	return w.Flush()
}

// readLine returns the next line without its terminator. A partial line at
// EOF is reported as the underlying read error.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > limit {
			return nil, fmt.Errorf("%w: %w: line longer than %d bytes", domain.ErrProtocol, errFrameTooLarge, limit)
		}
		if err == nil {
			return bytes.TrimRight(line, "\r\n"), nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return nil, err
	}
}
