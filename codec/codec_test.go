package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

func TestMarshalCanonical(t *testing.T) {
	a, err := Marshal(map[string]int{"b": 2, "a": 1, "c": 3})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b, err := Marshal(map[string]int{"c": 3, "a": 1, "b": 2})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal maps encoded differently")
	}

	var out map[string]int
	if err := Unmarshal(a, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if out["b"] != 2 {
		t.Errorf("Expected b=2, got %v", out)
	}

	if err := Unmarshal([]byte{0xff}, &out); err == nil {
		t.Error("Unmarshal of garbage should fail")
	}
}

func TestFrameStream(t *testing.T) {
	var buf bytes.Buffer
	frames := []*Envelope{
		{Service: "echo", Session: 1, Type: 2, Data: []byte("hello")},
		{Session: 1 << 63, Type: 1, Status: 3, Error: "boom"},
		{Service: "kv", Type: 0},
	}
	for _, env := range frames {
		if err := EncodeFrame(&buf, env, 1024); err != nil {
			t.Fatalf("EncodeFrame failed: %v", err)
		}
	}

	for i, want := range frames {
		got, err := DecodeFrame(&buf, 1024)
		if err != nil {
			t.Fatalf("DecodeFrame %d failed: %v", i, err)
		}
		if got.Service != want.Service || got.Session != want.Session || got.Status != want.Status ||
			got.Error != want.Error || !bytes.Equal(got.Data, want.Data) {
			t.Errorf("frame %d: got %+v, want %+v", i, got, want)
		}
	}

	if _, err := DecodeFrame(&buf, 1024); err != io.EOF {
		t.Errorf("Expected io.EOF at end of stream, got %v", err)
	}
}

func TestFrameLimits(t *testing.T) {
	var buf bytes.Buffer
	big := &Envelope{Service: "echo", Data: make([]byte, 200)}
	if err := EncodeFrame(&buf, big, 64); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge on encode, got %v", err)
	}
	if buf.Len() != 0 {
		t.Error("rejected frame was partially written")
	}

	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], 1<<30)
	if _, err := DecodeFrame(bytes.NewReader(header[:]), 1024); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Expected ErrFrameTooLarge on decode, got %v", err)
	}

	binary.BigEndian.PutUint32(header[:], 10)
	truncated := append(header[:], 0x01, 0x02)
	if _, err := DecodeFrame(bytes.NewReader(truncated), 1024); err != io.ErrUnexpectedEOF {
		t.Errorf("Expected io.ErrUnexpectedEOF, got %v", err)
	}
}
