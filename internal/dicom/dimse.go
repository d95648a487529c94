package dicom

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// DIMSE command field values. Responses are the request value with the
// high bit set.
const (
	CommandCStoreRQ  uint16 = 0x0001
	CommandCGetRQ    uint16 = 0x0010
	CommandCFindRQ   uint16 = 0x0020
	CommandCMoveRQ   uint16 = 0x0021
	CommandCEchoRQ   uint16 = 0x0030
	CommandCCancelRQ uint16 = 0x0FFF

	commandRSPMask uint16 = 0x8000
)

// CommandDataSetType value meaning "no data set follows".
const noDataSet uint16 = 0x0101

var (
	ErrBadCommandSet = errors.New("dimse: malformed command set")
	ErrBadDataSet    = errors.New("dimse: malformed data set")
)

func commandName(field uint16) string {
	switch field &^ commandRSPMask {
	case CommandCStoreRQ:
		return "C-STORE"
	case CommandCGetRQ:
		return "C-GET"
	case CommandCFindRQ:
		return "C-FIND"
	case CommandCMoveRQ:
		return "C-MOVE"
	case CommandCEchoRQ:
		return "C-ECHO"
	case CommandCCancelRQ:
		return "C-CANCEL"
	}
	return fmt.Sprintf("DIMSE-%#04x", field)
}

// SubOperationCounts are the remaining/completed/failed/warning tallies
// of a C-GET or C-MOVE response.
type SubOperationCounts struct {
	Remaining uint16
	Completed uint16
	Failed    uint16
	Warning   uint16
}

// CommandSet is a decoded or to-be-encoded group-0000 command set.
type CommandSet struct {
	Field           uint16
	MessageID       uint16
	RespondedTo     uint16
	SOPClassUID     string
	SOPInstanceUID  string
	MoveDestination string
	Priority        uint16
	Status          uint16
	HasStatus       bool
	HasDataSet      bool
	SubOps          *SubOperationCounts
}

// IsResponse reports whether the command field has the response bit.
func (c CommandSet) IsResponse() bool {
	return c.Field&commandRSPMask != 0
}

// Response starts a response command set for this request.
func (c CommandSet) Response(status uint16) CommandSet {
	return CommandSet{
		Field:       c.Field | commandRSPMask,
		RespondedTo: c.MessageID,
		SOPClassUID: c.SOPClassUID,
		Status:      status,
		HasStatus:   true,
	}
}

// DecodeCommandSet parses an implicit-VR little-endian group-0000
// command set. Unknown elements are skipped.
func DecodeCommandSet(b []byte) (CommandSet, error) {
	var c CommandSet
	pos := 0
	for pos < len(b) {
		if len(b)-pos < 8 {
			return CommandSet{}, ErrBadCommandSet
		}
		group := binary.LittleEndian.Uint16(b[pos : pos+2])
		elem := binary.LittleEndian.Uint16(b[pos+2 : pos+4])
		length := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		pos += 8
		if length < 0 || len(b)-pos < length {
			return CommandSet{}, ErrBadCommandSet
		}
		if group != 0x0000 {
			return CommandSet{}, ErrBadCommandSet
		}
		value := b[pos : pos+length]
		pos += length

		switch elem {
		case 0x0000: // group length
		case 0x0002:
			c.SOPClassUID = trimPadding(value)
		case 0x0100:
			c.Field = u16Value(value)
		case 0x0110:
			c.MessageID = u16Value(value)
		case 0x0120:
			c.RespondedTo = u16Value(value)
		case 0x0600:
			c.MoveDestination = trimPadding(value)
		case 0x0700:
			c.Priority = u16Value(value)
		case 0x0800:
			c.HasDataSet = u16Value(value) != noDataSet
		case 0x0900:
			c.Status = u16Value(value)
			c.HasStatus = true
		case 0x1000:
			c.SOPInstanceUID = trimPadding(value)
		case 0x1020, 0x1021, 0x1022, 0x1023:
			if c.SubOps == nil {
				c.SubOps = &SubOperationCounts{}
			}
			switch elem {
			case 0x1020:
				c.SubOps.Remaining = u16Value(value)
			case 0x1021:
				c.SubOps.Completed = u16Value(value)
			case 0x1022:
				c.SubOps.Failed = u16Value(value)
			case 0x1023:
				c.SubOps.Warning = u16Value(value)
			}
		}
	}
	if c.Field == 0 {
		return CommandSet{}, ErrBadCommandSet
	}
	return c, nil
}

// Encode serializes the command set in implicit-VR little-endian with a
// correct leading group-length element.
func (c CommandSet) Encode() []byte {
	var body []byte
	if c.SOPClassUID != "" {
		body = appendImplicit(body, 0x0000, 0x0002, padUID(c.SOPClassUID))
	}
	body = appendImplicit(body, 0x0000, 0x0100, u16Bytes(c.Field))
	if c.IsResponse() {
		body = appendImplicit(body, 0x0000, 0x0120, u16Bytes(c.RespondedTo))
	} else {
		body = appendImplicit(body, 0x0000, 0x0110, u16Bytes(c.MessageID))
		body = appendImplicit(body, 0x0000, 0x0600, padText(c.MoveDestination))
		body = appendImplicit(body, 0x0000, 0x0700, u16Bytes(c.Priority))
	}
	dataSetType := noDataSet
	if c.HasDataSet {
		dataSetType = 0x0000
	}
	body = appendImplicit(body, 0x0000, 0x0800, u16Bytes(dataSetType))
	if c.HasStatus {
		body = appendImplicit(body, 0x0000, 0x0900, u16Bytes(c.Status))
	}
	if c.SubOps != nil {
		body = appendImplicit(body, 0x0000, 0x1020, u16Bytes(c.SubOps.Remaining))
		body = appendImplicit(body, 0x0000, 0x1021, u16Bytes(c.SubOps.Completed))
		body = appendImplicit(body, 0x0000, 0x1022, u16Bytes(c.SubOps.Failed))
		body = appendImplicit(body, 0x0000, 0x1023, u16Bytes(c.SubOps.Warning))
	}
	if c.SOPInstanceUID != "" {
		body = appendImplicit(body, 0x0000, 0x1000, padUID(c.SOPInstanceUID))
	}

	var out []byte
	out = appendImplicit(out, 0x0000, 0x0000, u32Bytes(uint32(len(body))))
	return append(out, body...)
}

func appendImplicit(buf []byte, group, elem uint16, value []byte) []byte {
	if value == nil {
		return buf
	}
	var header [8]byte
	binary.LittleEndian.PutUint16(header[0:2], group)
	binary.LittleEndian.PutUint16(header[2:4], elem)
	binary.LittleEndian.PutUint32(header[4:8], uint32(len(value)))
	buf = append(buf, header[:]...)
	return append(buf, value...)
}

func u16Value(b []byte) uint16 {
	if len(b) < 2 {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func u16Bytes(v uint16) []byte {
	out := make([]byte, 2)
	binary.LittleEndian.PutUint16(out, v)
	return out
}

func u32Bytes(v uint32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, v)
	return out
}

func padUID(s string) []byte {
	if s == "" {
		return nil
	}
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, 0x00)
	}
	return b
}

func padText(s string) []byte {
	if s == "" {
		return nil
	}
	b := []byte(s)
	if len(b)%2 != 0 {
		b = append(b, ' ')
	}
	return b
}

func trimPadding(b []byte) string {
	for len(b) > 0 && (b[len(b)-1] == 0x00 || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return string(b)
}
