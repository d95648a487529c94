package hl7

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleADT = "MSH|^~\\&|SENDAPP|SENDFAC|RECVAPP|RECVFAC|20240510120000||ADT^A01|MSG00001|P|2.3\r" +
	"PID|1||555-44-4444||EVERYWOMAN^EVE^E^^^^L|JONES|19620320|F\r"

func TestParseSplitsSegmentsAndFields(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	require.NoError(t, err)
	require.Len(t, msg.Segments, 2)
	assert.Equal(t, "MSH", msg.Segments[0].Name())
	assert.Equal(t, "PID", msg.Segments[1].Name())
	assert.Equal(t, "ADT^A01", msg.MessageType())
	assert.Equal(t, "MSG00001", msg.ControlID())
}

func TestMSHFieldNumberingQuirk(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	require.NoError(t, err)
	msh := msg.MSH()
	assert.Equal(t, "|", msh.Field(1))
	assert.Equal(t, "^~\\&", msh.Field(2))
	assert.Equal(t, "SENDAPP", msh.Field(3))
	assert.Equal(t, "RECVFAC", msh.Field(6))
}

func TestParseToleratesLFSegmentSeparators(t *testing.T) {
	lf := strings.ReplaceAll(sampleADT, "\r", "\n")
	msg, err := Parse([]byte(lf))
	require.NoError(t, err)
	assert.Len(t, msg.Segments, 2)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]byte("   \r\n"))
	assert.True(t, errors.Is(err, ErrEmptyMessage))

	_, err = Parse([]byte("PID|1|whatever"))
	assert.True(t, errors.Is(err, ErrNoMSH))
}

func TestAuditDataBreaksDownSegments(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	require.NoError(t, err)
	data := msg.AuditData()
	require.Len(t, data, 2)

	msh := data[0]
	assert.Equal(t, "MSH", msh["name"])
	assert.Contains(t, msh["raw"], "ADT^A01")
	fields, ok := msh["fields"].([]map[string]any)
	require.True(t, ok)
	byName := map[string]any{}
	for _, f := range fields {
		byName[f["name"].(string)] = f["value"]
	}
	assert.Equal(t, "|", byName["MSH_1"])
	assert.Equal(t, "SENDAPP", byName["MSH_3"])
	assert.Equal(t, "ADT^A01", byName["MSH_9"])
	assert.Equal(t, "MSG00001", byName["MSH_10"])

	pid := data[1]
	assert.Equal(t, "PID", pid["name"])
	pidFields, ok := pid["fields"].([]map[string]any)
	require.True(t, ok)
	byName = map[string]any{}
	for _, f := range pidFields {
		byName[f["name"].(string)] = f["value"]
	}
	assert.Equal(t, "555-44-4444", byName["PID_3"])
	assert.Equal(t, "EVERYWOMAN^EVE^E^^^^L", byName["PID_5"])
}

func TestBuildAckSwapsEndpointsAndEchoesControlID(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	require.NoError(t, err)

	now := time.Date(2024, 5, 10, 12, 30, 0, 123_456_789, time.FixedZone("CET", 3600))
	ack := string(BuildAck(msg, now))
	segments := strings.Split(strings.TrimRight(ack, "\r"), "\r")
	require.Len(t, segments, 2)

	msh := strings.Split(segments[0], "|")
	require.GreaterOrEqual(t, len(msh), 12)
	assert.Equal(t, "MSH", msh[0])
	assert.Equal(t, "^~\\&", msh[1])
	assert.Equal(t, "RECVAPP", msh[2])
	assert.Equal(t, "RECVFAC", msh[3])
	assert.Equal(t, "SENDAPP", msh[4])
	assert.Equal(t, "SENDFAC", msh[5])
	assert.Equal(t, "20240510113000.123+0000", msh[6])
	assert.Equal(t, "ACK^A01", msh[8])
	assert.Equal(t, "P", msh[10])
	assert.Equal(t, "2.3", msh[11])

	msa := strings.Split(segments[1], "|")
	require.Len(t, msa, 3)
	assert.Equal(t, "MSA", msa[0])
	assert.Equal(t, "AA", msa[1])
	assert.Equal(t, "MSG00001", msa[2])
}

func TestBuildAckControlIDIsFourDigits(t *testing.T) {
	msg, err := Parse([]byte(sampleADT))
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		ack := string(BuildAck(msg, time.Now()))
		id := strings.Split(strings.Split(ack, "\r")[0], "|")[9]
		require.Len(t, id, 4)
		assert.GreaterOrEqual(t, id, "1000")
		assert.LessOrEqual(t, id, "9000")
	}
}

func TestTriggerEventHandlesUnderscoreDelimiter(t *testing.T) {
	raw := strings.Replace(sampleADT, "ADT^A01", "ORM_O01", 1)
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)

	ack := string(BuildAck(msg, time.Now()))
	assert.Contains(t, ack, "|ACK^O01|")
}

func TestTriggerEventFallsBackToPlainAck(t *testing.T) {
	raw := strings.Replace(sampleADT, "ADT^A01", "QRY", 1)
	msg, err := Parse([]byte(raw))
	require.NoError(t, err)
	ack := string(BuildAck(msg, time.Now()))
	assert.Contains(t, ack, "|ACK|")
	assert.NotContains(t, ack, "ACK^")
}
