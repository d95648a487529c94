// Package mllp implements the minimal lower layer protocol framing
// used to carry HL7 v2 messages over TCP.
package mllp

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

const (
	startBlock = 0x0b
	endBlock   = 0x1c
	carriage   = 0x0d
)

var (
	ErrNoStartBlock  = errors.New("mllp: missing start block")
	ErrFrameTooLarge = errors.New("mllp: frame exceeds limit")
)

// DefaultMaxFrame bounds a single framed message. HL7 v2 admit and
// order messages are a few kilobytes; anything near the limit is junk.
const DefaultMaxFrame = 1 << 20

// Reader decodes framed messages from a stream.
type Reader struct {
	br       *bufio.Reader
	maxFrame int
}

func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r), maxFrame: DefaultMaxFrame}
}

// Next returns the payload of the next frame without the delimiters.
// Data before the start block is discarded as line noise.
func (r *Reader) Next() ([]byte, error) {
	if err := r.seekStart(); err != nil {
		return nil, err
	}
	var payload []byte
	for {
		chunk, err := r.br.ReadBytes(endBlock)
		if err != nil {
			return nil, err
		}
		payload = append(payload, chunk[:len(chunk)-1]...)
		if len(payload) > r.maxFrame {
			return nil, ErrFrameTooLarge
		}
		// the end block must be followed by a carriage return
		b, err := r.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == carriage {
			return payload, nil
		}
		payload = append(payload, endBlock, b)
	}
}

func (r *Reader) seekStart() error {
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return err
		}
		if b == startBlock {
			return nil
		}
	}
}

// Frame wraps a message payload in the block delimiters.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, startBlock)
	out = append(out, payload...)
	out = append(out, endBlock, carriage)
	return out
}

// Unframe strips the delimiters from a complete buffered frame.
func Unframe(frame []byte) ([]byte, error) {
	if len(frame) < 3 || frame[0] != startBlock {
		return nil, ErrNoStartBlock
	}
	rest := frame[1:]
	end := bytes.LastIndexByte(rest, endBlock)
	if end < 0 {
		return nil, ErrNoStartBlock
	}
	return rest[:end], nil
}

// Write frames the payload and writes it in one call.
func Write(w io.Writer, payload []byte) error {
	_, err := w.Write(Frame(payload))
	return err
}
