// Package hl7 parses HL7 v2 ER7 messages and synthesizes the
// acknowledgements the deception endpoint presents.
package hl7

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
)

var (
	ErrEmptyMessage = errors.New("hl7: empty message")
	ErrNoMSH        = errors.New("hl7: message does not start with MSH")
)

const segmentSep = "\r"

// Segment is one parsed segment, fields split on the field separator.
// Field zero is the segment name.
type Segment []string

func (s Segment) Name() string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

// Field returns the 1-based HL7 field, empty when absent. For MSH the
// numbering follows the standard: MSH-1 is the field separator itself
// and MSH-2 the encoding characters.
func (s Segment) Field(n int) string {
	if s.Name() == "MSH" {
		switch n {
		case 1:
			return "|"
		default:
			n--
		}
	}
	if n < 1 || n >= len(s) {
		return ""
	}
	return s[n]
}

// Message is a parsed ER7 message.
type Message struct {
	Segments []Segment
}

// Parse splits raw ER7 into segments and fields. Messages that do not
// open with an MSH segment are rejected.
func Parse(raw []byte) (Message, error) {
	text := strings.TrimRight(string(raw), "\r\n")
	if strings.TrimSpace(text) == "" {
		return Message{}, ErrEmptyMessage
	}
	// tolerate peers that terminate segments with LF or CRLF
	text = strings.ReplaceAll(text, "\r\n", segmentSep)
	text = strings.ReplaceAll(text, "\n", segmentSep)

	var msg Message
	for _, line := range strings.Split(text, segmentSep) {
		if line == "" {
			continue
		}
		msg.Segments = append(msg.Segments, Segment(strings.Split(line, "|")))
	}
	if len(msg.Segments) == 0 {
		return Message{}, ErrEmptyMessage
	}
	if msg.Segments[0].Name() != "MSH" {
		return Message{}, ErrNoMSH
	}
	return msg, nil
}

// MSH returns the message header segment.
func (m Message) MSH() Segment {
	return m.Segments[0]
}

func (m Message) segment(name string) (Segment, bool) {
	for _, s := range m.Segments {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// MessageType returns the MSH-9 value, e.g. "ADT^A01".
func (m Message) MessageType() string {
	return m.MSH().Field(9)
}

// ControlID returns MSH-10.
func (m Message) ControlID() string {
	return m.MSH().Field(10)
}

// triggerEvent extracts the event code from MSH-9. Peers delimit the
// components with either the standard caret or an underscore; a type
// without an event component yields none.
func (m Message) triggerEvent() (string, bool) {
	parts := strings.FieldsFunc(m.MessageType(), func(r rune) bool {
		return r == '^' || r == '_'
	})
	if len(parts) < 2 {
		return "", false
	}
	return parts[1], true
}

// AuditData breaks the message down segment by segment for the audit
// record: each segment with its raw ER7 text and every populated field
// under its positional name.
func (m Message) AuditData() []map[string]any {
	out := make([]map[string]any, 0, len(m.Segments))
	for _, seg := range m.Segments {
		fields := make([]map[string]any, 0, len(seg))
		max := len(seg) - 1
		if seg.Name() == "MSH" {
			max++
		}
		for n := 1; n <= max; n++ {
			value := seg.Field(n)
			if value == "" {
				continue
			}
			fields = append(fields, map[string]any{
				"name":  fmt.Sprintf("%s_%d", seg.Name(), n),
				"value": value,
			})
		}
		out = append(out, map[string]any{
			"name":   seg.Name(),
			"raw":    strings.Join(seg, "|"),
			"fields": fields,
		})
	}
	return out
}

// BuildAck synthesizes the application-accept acknowledgement for a
// parsed message. The sender and receiver identities are swapped so
// the reply appears to come from the addressed system.
func BuildAck(m Message, now time.Time) []byte {
	msh := m.MSH()
	ackType := "ACK"
	if ev, ok := m.triggerEvent(); ok {
		ackType = "ACK^" + ev
	}
	header := strings.Join([]string{
		"MSH",
		msh.Field(2),
		msh.Field(5),
		msh.Field(6),
		msh.Field(3),
		msh.Field(4),
		ackTimestamp(now),
		"",
		ackType,
		fmt.Sprintf("%d", 1000+rand.Intn(8001)),
		msh.Field(11),
		msh.Field(12),
	}, "|")
	msa := strings.Join([]string{"MSA", "AA", m.ControlID()}, "|")
	return []byte(header + segmentSep + msa + segmentSep)
}

// ackTimestamp renders the DTM in UTC with millisecond precision and
// the numeric zone offset.
func ackTimestamp(now time.Time) string {
	return now.UTC().Format("20060102150405.000-0700")
}
