package mllp

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReaderDecodesSingleFrame(t *testing.T) {
	payload := []byte("MSH|^~\\&|HIS|HOSP|LAB|HOSP|20240101||ADT^A01|1|P|2.3")
	r := NewReader(bytes.NewReader(Frame(payload)))
	got, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: %q", got)
	}
}

func TestReaderDecodesBackToBackFrames(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Frame([]byte("first")))
	buf.Write(Frame([]byte("second")))
	r := NewReader(&buf)

	one, err := r.Next()
	if err != nil || string(one) != "first" {
		t.Fatalf("first frame: %q %v", one, err)
	}
	two, err := r.Next()
	if err != nil || string(two) != "second" {
		t.Fatalf("second frame: %q %v", two, err)
	}
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after last frame, got %v", err)
	}
}

func TestReaderSkipsNoiseBeforeStartBlock(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("GET / HTTP/1.1\r\n")
	buf.Write(Frame([]byte("payload")))
	r := NewReader(&buf)
	got, err := r.Next()
	if err != nil || string(got) != "payload" {
		t.Fatalf("frame after noise: %q %v", got, err)
	}
}

func TestReaderKeepsEmbeddedEndBlockWithoutCarriage(t *testing.T) {
	payload := []byte{'a', 0x1c, 'b'}
	r := NewReader(bytes.NewReader(Frame(payload)))
	got, err := r.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("embedded end block mangled: %q", got)
	}
}

func TestReaderEOFOnBareConnection(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	if _, err := r.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestUnframe(t *testing.T) {
	got, err := Unframe(Frame([]byte("x|y")))
	if err != nil || string(got) != "x|y" {
		t.Fatalf("unframe: %q %v", got, err)
	}
	if _, err := Unframe([]byte("no delimiters")); !errors.Is(err, ErrNoStartBlock) {
		t.Fatalf("expected ErrNoStartBlock, got %v", err)
	}
}

func TestReaderEnforcesFrameLimit(t *testing.T) {
	r := NewReader(bytes.NewReader(Frame(make([]byte, DefaultMaxFrame+10))))
	if _, err := r.Next(); !errors.Is(err, ErrFrameTooLarge) {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}
