package sink

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fkie-cad/honeypots/internal/event"
)

func sampleEvent() event.Event {
	port := 52104
	e := event.New("C-ECHO")
	e.SrcIP = "203.0.113.7"
	e.SrcPort = &port
	e.DstIP = "10.0.0.2"
	e.Data = map[string]any{"message_id": "1"}
	return e
}

func TestStdoutSinkEmitsStructuredLine(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdoutWithLogger(zerolog.New(&buf))
	s.Log(sampleEvent())

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "C-ECHO", line["action"])
	assert.Equal(t, "203.0.113.7", line["src_ip"])
	assert.Equal(t, float64(52104), line["src_port"])
	assert.NotNil(t, line["data"])
}

func TestFileSinkAppendsJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	f := NewFile(FileConfig{Path: path})
	defer f.Close()

	f.Log(sampleEvent())
	f.Log(sampleEvent())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	var lines int
	for scanner.Scan() {
		var e event.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		assert.Equal(t, "C-ECHO", e.Action)
		require.NotNil(t, e.SrcPort)
		assert.Equal(t, 52104, *e.SrcPort)
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestSQLiteSinkPersistsAndCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	s, err := NewSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	s.Log(sampleEvent())
	s.Log(sampleEvent())
	other := event.New("login")
	s.Log(other)

	n, err := s.CountByAction("C-ECHO")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.CountByAction("login")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.CountByAction("absent")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

type countingSink struct{ n int }

func (c *countingSink) Log(event.Event) { c.n++ }

func TestTeeFansOutAndSkipsNil(t *testing.T) {
	a := &countingSink{}
	b := &countingSink{}
	tee := NewTee(a, nil, b)
	tee.Log(sampleEvent())
	tee.Log(sampleEvent())
	assert.Equal(t, 2, a.n)
	assert.Equal(t, 2, b.n)
}
