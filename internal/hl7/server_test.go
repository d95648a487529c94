package hl7

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fkie-cad/honeypots/internal/event"
	"github.com/fkie-cad/honeypots/internal/hl7/mllp"
	"github.com/fkie-cad/honeypots/internal/testutil/testlog"
)

type recordSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recordSink) Log(e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordSink) find(action string) (event.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Action == action {
			return e, true
		}
	}
	return event.Event{}, false
}

func (r *recordSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func startServer(t *testing.T, cfg Config) (*recordSink, net.Conn) {
	t.Helper()
	testlog.Start(t)
	sink := &recordSink{}
	srv := NewServer(cfg, sink)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go srv.Serve(l)

	conn, err := net.Dial("tcp", l.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return sink, conn
}

func waitForAction(t *testing.T, sink *recordSink, action string) event.Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := sink.find(action); ok {
			return e
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("event %q never recorded", action)
	return event.Event{}
}

func TestServerAcknowledgesAdmitMessage(t *testing.T) {
	sink, conn := startServer(t, Config{})

	require.NoError(t, mllp.Write(conn, []byte(sampleADT)))
	reader := mllp.NewReader(conn)
	raw, err := reader.Next()
	require.NoError(t, err)

	ack, err := Parse(raw)
	require.NoError(t, err)
	msh := ack.MSH()
	assert.Equal(t, "ACK^A01", msh.Field(9))
	assert.Equal(t, "RECVAPP", msh.Field(3))
	assert.Equal(t, "SENDAPP", msh.Field(5))

	msa, ok := ack.segment("MSA")
	require.True(t, ok)
	assert.Equal(t, "AA", msa.Field(1))
	assert.Equal(t, "MSG00001", msa.Field(2))

	e := waitForAction(t, sink, "query")
	segments, ok := e.Data["message"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, segments, 2)
	assert.Equal(t, "MSH", segments[0]["name"])
	assert.Equal(t, "PID", segments[1]["name"])
	assert.NotNil(t, e.SrcPort)
}

func TestServerRecordsErrorForGarbageFrame(t *testing.T) {
	sink, conn := startServer(t, Config{})

	require.NoError(t, mllp.Write(conn, []byte("PID|no header at all")))
	e := waitForAction(t, sink, event.ActionError)
	assert.NotEmpty(t, e.Data["exception"])

	// the peer gets no reply for an unparseable frame
	conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	buf := make([]byte, 1)
	_, err := conn.Read(buf)
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestServerEmitsConnectionEvent(t *testing.T) {
	sink, conn := startServer(t, Config{})
	_ = conn
	waitForAction(t, sink, event.ActionConnection)
}

func TestServerSuppressesConfiguredEvents(t *testing.T) {
	sink, conn := startServer(t, Config{SuppressedEvents: []string{"connection"}})

	require.NoError(t, mllp.Write(conn, []byte(sampleADT)))
	waitForAction(t, sink, "query")
	_, ok := sink.find("connection")
	assert.False(t, ok, "suppressed event leaked")
}

func TestServerHandlesMultipleMessagesPerConnection(t *testing.T) {
	sink, conn := startServer(t, Config{})
	reader := mllp.NewReader(conn)

	for i := 0; i < 3; i++ {
		require.NoError(t, mllp.Write(conn, []byte(sampleADT)))
		_, err := reader.Next()
		require.NoError(t, err)
	}
	waitForAction(t, sink, "query")
	assert.GreaterOrEqual(t, sink.count(), 4)
}
