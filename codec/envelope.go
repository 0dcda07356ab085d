package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Envelope is one gate frame. Requests name a service; replies echo the
// session of the request they answer.
type Envelope struct {
	Service string `cbor:"1,keyasint,omitempty"`
	Session uint64 `cbor:"2,keyasint,omitempty"`
	Type    uint8  `cbor:"3,keyasint"`
	Status  uint8  `cbor:"4,keyasint,omitempty"`
	Data    []byte `cbor:"5,keyasint,omitempty"`
	Error   string `cbor:"6,keyasint,omitempty"`
}

// HeaderSize is the length prefix in front of every frame.
const HeaderSize = 4

// ErrFrameTooLarge is returned for frames above the configured limit.
var ErrFrameTooLarge = errors.New("codec: frame too large")

// EncodeFrame writes env as a big-endian length prefix followed by its
// CBOR encoding. maxFrame <= 0 disables the size check.
func EncodeFrame(w io.Writer, env *Envelope, maxFrame int) error {
	body, err := encMode.Marshal(env)
	if err != nil {
		return fmt.Errorf("codec: marshal envelope: %w", err)
	}
	if maxFrame > 0 && len(body) > maxFrame {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(body), maxFrame)
	}

	frame := make([]byte, HeaderSize+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[HeaderSize:], body)
	_, err = w.Write(frame)
	return err
}

// DecodeFrame reads one frame from r. A clean end of stream before the
// header returns io.EOF.
func DecodeFrame(r io.Reader, maxFrame int) (*Envelope, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}

	size := binary.BigEndian.Uint32(header[:])
	if maxFrame > 0 && size > uint32(maxFrame) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, size, maxFrame)
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	env := &Envelope{}
	if err := cbor.Unmarshal(body, env); err != nil {
		return nil, fmt.Errorf("codec: unmarshal envelope: %w", err)
	}
	return env, nil
}
