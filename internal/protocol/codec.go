package protocol

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

const frameHeaderBytes = 4

var (
	ErrEmptyFrame    = errors.New("frame length zero")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// Encoder writes envelopes with a length-prefixed JSON frame. It is safe for
// concurrent use; each frame is written whole.
type Encoder struct {
	mu     sync.Mutex
	writer io.Writer
}

// Decoder reads envelopes with a length-prefixed JSON frame.
type Decoder struct {
	reader   *bufio.Reader
	maxBytes int
}

// NewEncoder creates a new encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// NewDecoder creates a new decoder for the given reader. A maxBytes of zero
// disables the frame size check.
func NewDecoder(r io.Reader, maxBytes int) *Decoder {
	return &Decoder{reader: bufio.NewReader(r), maxBytes: maxBytes}
}

// Encode writes the envelope to the underlying writer.
func (e *Encoder) Encode(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame := make([]byte, frameHeaderBytes+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[frameHeaderBytes:], data)

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.writer.Write(frame)
	return err
}

// Decode reads the next envelope from the stream.
func (d *Decoder) Decode(ctx context.Context) (Envelope, error) {
	var env Envelope

	header := make([]byte, frameHeaderBytes)
	if err := d.readFull(ctx, header); err != nil {
		return env, err
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return env, ErrEmptyFrame
	}
	if d.maxBytes > 0 && int64(length) > int64(d.maxBytes) {
		return env, fmt.Errorf("%w: %d > %d bytes", ErrFrameTooLarge, length, d.maxBytes)
	}

	payload := make([]byte, length)
	if err := d.readFull(ctx, payload); err != nil {
		return env, err
	}

	if err := json.Unmarshal(payload, &env); err != nil {
		return env, err
	}

	return env, nil
}

func (d *Decoder) readFull(ctx context.Context, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	read := 0
	for read < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.reader.Read(buf[read:])
		if err != nil {
			if errors.Is(err, io.EOF) && read > 0 {
				return io.ErrUnexpectedEOF
			}
			return err
		}
		read += n
	}
	return nil
}

// DecodePayload re-decodes a generic payload, as produced by json.Unmarshal
// into an interface{}, into a concrete request type.
func DecodePayload[T any](payload interface{}) (T, error) {
	var out T
	if payload == nil {
		return out, errors.New("missing payload")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, err
	}
	return out, nil
}
