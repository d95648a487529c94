// Package pdu implements the DICOM upper-layer protocol data units:
// reading and writing the fixed PDU header and the variable item
// structure of association negotiation. Every length field is
// bounds-checked against the remaining input and a configured limit
// before allocation.
package pdu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Type is the PDU type octet.
type Type byte

const (
	TypeAssociateRQ Type = 0x01
	TypeAssociateAC Type = 0x02
	TypeAssociateRJ Type = 0x03
	TypePDataTF     Type = 0x04
	TypeReleaseRQ   Type = 0x05
	TypeReleaseRP   Type = 0x06
	TypeAbort       Type = 0x07
)

func (t Type) String() string {
	switch t {
	case TypeAssociateRQ:
		return "A-ASSOCIATE-RQ"
	case TypeAssociateAC:
		return "A-ASSOCIATE-AC"
	case TypeAssociateRJ:
		return "A-ASSOCIATE-RJ"
	case TypePDataTF:
		return "P-DATA-TF"
	case TypeReleaseRQ:
		return "A-RELEASE-RQ"
	case TypeReleaseRP:
		return "A-RELEASE-RP"
	case TypeAbort:
		return "A-ABORT"
	}
	return fmt.Sprintf("UNKNOWN-PDU-%#02x", byte(t))
}

// Variable item and sub-item type octets.
const (
	itemApplicationContext = 0x10
	itemPresentationCtxRQ  = 0x20
	itemPresentationCtxAC  = 0x21
	itemAbstractSyntax     = 0x30
	itemTransferSyntax     = 0x40
	itemUserInformation    = 0x50
	itemMaxLength          = 0x51
	itemImplementationUID  = 0x52
	itemAsyncOperations    = 0x53
	itemRoleSelection      = 0x54
	itemImplementationName = 0x55
	itemUserIdentityRQ     = 0x58
	itemUserIdentityAC     = 0x59
)

const headerLen = 6

var (
	ErrShortHeader  = errors.New("pdu: short header")
	ErrPDUTooLarge  = errors.New("pdu: length exceeds limit")
	ErrShortBody    = errors.New("pdu: truncated body")
	ErrShortItem    = errors.New("pdu: truncated item")
	ErrUnknownType  = errors.New("pdu: unknown pdu type")
	ErrBadPDVLength = errors.New("pdu: invalid pdv length")
)

// Limits constrains decode memory use.
type Limits struct {
	MaxPDUBytes uint32
}

func DefaultLimits() Limits {
	return Limits{MaxPDUBytes: 1 * 1024 * 1024}
}

// PDU is one complete protocol data unit.
type PDU struct {
	Type Type
	Body []byte
}

// ReadPDU reads one PDU from the stream. It returns io.EOF untouched on
// a clean stream end before any header byte, so callers can tell
// half-open scans from mid-PDU truncation.
func ReadPDU(r io.Reader, limits Limits) (PDU, error) {
	var fixed [headerLen]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return PDU{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return PDU{}, ErrShortHeader
		}
		return PDU{}, err
	}
	t := Type(fixed[0])
	if t < TypeAssociateRQ || t > TypeAbort {
		return PDU{}, ErrUnknownType
	}
	length := binary.BigEndian.Uint32(fixed[2:6])
	if limits.MaxPDUBytes > 0 && length > limits.MaxPDUBytes {
		return PDU{}, ErrPDUTooLarge
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return PDU{}, ErrShortBody
	}
	return PDU{Type: t, Body: body}, nil
}

func WritePDU(w io.Writer, p PDU) error {
	var fixed [headerLen]byte
	fixed[0] = byte(p.Type)
	binary.BigEndian.PutUint32(fixed[2:6], uint32(len(p.Body)))
	if _, err := w.Write(fixed[:]); err != nil {
		return err
	}
	if len(p.Body) == 0 {
		return nil
	}
	_, err := w.Write(p.Body)
	return err
}

// itemReader walks type/reserved/length-prefixed variable items.
type itemReader struct {
	buf []byte
	pos int
}

func (ir *itemReader) next() (byte, []byte, bool, error) {
	if ir.pos >= len(ir.buf) {
		return 0, nil, false, nil
	}
	if len(ir.buf)-ir.pos < 4 {
		return 0, nil, false, ErrShortItem
	}
	typ := ir.buf[ir.pos]
	length := int(binary.BigEndian.Uint16(ir.buf[ir.pos+2 : ir.pos+4]))
	ir.pos += 4
	if len(ir.buf)-ir.pos < length {
		return 0, nil, false, ErrShortItem
	}
	body := ir.buf[ir.pos : ir.pos+length]
	ir.pos += length
	return typ, body, true, nil
}

func writeItem(buf *[]byte, typ byte, body []byte) {
	header := [4]byte{typ, 0, 0, 0}
	binary.BigEndian.PutUint16(header[2:4], uint16(len(body)))
	*buf = append(*buf, header[:]...)
	*buf = append(*buf, body...)
}

func encodeAETitle(title string) [16]byte {
	var out [16]byte
	copy(out[:], title)
	for i := len(title); i < 16; i++ {
		out[i] = ' '
	}
	return out
}

func decodeAETitle(raw []byte) string {
	return strings.TrimSpace(string(raw))
}
