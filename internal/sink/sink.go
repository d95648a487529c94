// Package sink provides event.Sink implementations: structured stdout,
// rotating JSON-lines file, and sqlite persistence, plus a fan-out.
package sink

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/fkie-cad/honeypots/internal/event"
)

// Stdout logs every event through zerolog at info level.
type Stdout struct {
	logger zerolog.Logger
}

func NewStdout() *Stdout {
	return &Stdout{logger: log.Logger}
}

func NewStdoutWithLogger(logger zerolog.Logger) *Stdout {
	return &Stdout{logger: logger}
}

func (s *Stdout) Log(e event.Event) {
	ev := s.logger.Info().
		Str("timestamp", e.Timestamp).
		Str("action", e.Action)
	if e.SrcIP != "" {
		ev = ev.Str("src_ip", e.SrcIP)
	}
	if e.SrcPort != nil {
		ev = ev.Int("src_port", *e.SrcPort)
	}
	if e.DstIP != "" {
		ev = ev.Str("dest_ip", e.DstIP)
	}
	if e.DstPort != nil {
		ev = ev.Int("dest_port", *e.DstPort)
	}
	if len(e.Data) > 0 {
		ev = ev.Interface("data", e.Data)
	}
	ev.Msg("event")
}

// Tee fans one event out to several sinks in order.
type Tee struct {
	sinks []event.Sink
}

func NewTee(sinks ...event.Sink) *Tee {
	out := make([]event.Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return &Tee{sinks: out}
}

func (t *Tee) Log(e event.Event) {
	for _, s := range t.sinks {
		s.Log(e)
	}
}
