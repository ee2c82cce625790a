package engine

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"

	"voicescope/internal/domain"
)

// maxFrameBytes bounds a single length-prefixed MessagePack message.
const maxFrameBytes = 16 << 20

// msgpackFrames frames each message as a 4-byte big-endian length followed
// by a MessagePack payload.
type msgpackFrames struct{}

func (msgpackFrames) Name() string { return CodecMsgpack }

func (msgpackFrames) WriteRequest(w *bufio.Writer, samples []float32) error {
	if samples == nil {
		samples = []float32{}
	}
	return writeFrame(w, samples)
}

func (msgpackFrames) ReadResponse(r *bufio.Reader) (domain.FeatureFrame, error) {
	payload, err := readFrame(r)
	if err != nil {
		return domain.FeatureFrame{}, err
	}
	var fields map[string]any
	if err := msgpack.Unmarshal(payload, &fields); err != nil {
		return domain.FeatureFrame{}, fmt.Errorf("%w: malformed response: %v", domain.ErrProtocol, err)
	}
	if fields == nil {
		return domain.FeatureFrame{}, fmt.Errorf("%w: response is not a map", domain.ErrProtocol)
	}
	return decodeFields(fields)
}

func (msgpackFrames) ReadRequest(r *bufio.Reader) ([]float32, error) {
	payload, err := readFrame(r)
	if err != nil {
		return nil, err
	}
	var samples []float32
	if err := msgpack.Unmarshal(payload, &samples); err != nil {
		return nil, fmt.Errorf("%w: malformed request: %v", domain.ErrProtocol, err)
	}
	if samples == nil {
		return nil, fmt.Errorf("%w: request is not an array", domain.ErrProtocol)
	}
	return samples, nil
}

func (msgpackFrames) WriteResponse(w *bufio.Writer, features domain.FeatureFrame) error {
	return writeFrame(w, toWire(features))
}

func writeFrame(w *bufio.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return w.Flush()
}

func readFrame(r *bufio.Reader) ([]byte, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > maxFrameBytes {
		return nil, fmt.Errorf("%w: %w: %d bytes", domain.ErrProtocol, errFrameTooLarge, length)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
