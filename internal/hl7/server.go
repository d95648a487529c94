package hl7

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fkie-cad/honeypots/internal/event"
	"github.com/fkie-cad/honeypots/internal/hl7/mllp"
	"github.com/fkie-cad/honeypots/internal/observability"
)

const protocolName = "hl7"

const sessionIdleTimeout = 5 * time.Minute

// Config is the per-listener server configuration.
type Config struct {
	SuppressedEvents []string
}

// Server accepts MLLP connections and acknowledges every well-formed
// message while recording what the peer sent.
type Server struct {
	cfg    Config
	sink   event.Sink
	ignore map[string]struct{}
	now    func() time.Time
}

func NewServer(cfg Config, sink event.Sink) *Server {
	ignore := make(map[string]struct{}, len(cfg.SuppressedEvents))
	for _, name := range cfg.SuppressedEvents {
		ignore[name] = struct{}{}
	}
	return &Server{cfg: cfg, sink: sink, ignore: ignore, now: time.Now}
}

// Serve accepts connections until the listener closes.
func (s *Server) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		observability.RecordSession(protocolName)
		go s.handle(conn)
	}
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("hl7 session recovered")
		}
	}()

	src := event.PeerFromAddr(conn.RemoteAddr())
	dst := event.PeerFromAddr(conn.LocalAddr())
	s.emit(event.ActionConnection, nil, src, dst)

	reader := mllp.NewReader(conn)
	sawFrame := false
	for {
		if err := conn.SetReadDeadline(time.Now().Add(sessionIdleTimeout)); err != nil {
			return
		}
		frame, err := reader.Next()
		if err != nil {
			// Port scanners open and drop the socket without framing
			// anything; only a mid-session failure is worth a line.
			if sawFrame && !errors.Is(err, io.EOF) {
				log.Debug().Err(err).Msg("hl7 session read ended")
			}
			return
		}
		sawFrame = true
		s.onFrame(conn, frame, src, dst)
	}
}

func (s *Server) onFrame(conn net.Conn, frame []byte, src, dst event.Peer) {
	started := time.Now()
	msg, err := Parse(frame)
	if err != nil {
		log.Debug().Err(err).Int("bytes", len(frame)).Msg("unparseable hl7 frame")
		s.emit(event.ActionError, map[string]any{
			"exception": err.Error(),
		}, src, dst)
		return
	}

	s.emit("query", map[string]any{
		"message": msg.AuditData(),
	}, src, dst)

	ack := BuildAck(msg, s.now())
	if err := mllp.Write(conn, ack); err != nil {
		log.Debug().Err(err).Msg("hl7 ack write failed")
		return
	}
	observability.RecordReply(protocolName, "ACK", time.Since(started))
}

func (s *Server) emit(action string, data map[string]any, src, dst event.Peer) {
	if _, drop := s.ignore[action]; drop {
		return
	}
	ev := event.New(action)
	ev.SrcIP = src.IP
	ev.SrcPort = src.Port
	ev.DstIP = dst.IP
	ev.DstPort = dst.Port
	ev.Data = data
	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("dropping invalid event")
		return
	}
	observability.RecordEvent(protocolName, action)
	s.sink.Log(ev)
}
