package pdu

import "encoding/binary"

// PDV flags.
const (
	pdvFlagCommand byte = 0x01
	pdvFlagLast    byte = 0x02
)

// PDV is one presentation data value inside a P-DATA-TF PDU.
type PDV struct {
	ContextID byte
	IsCommand bool
	IsLast    bool
	Data      []byte
}

func ParsePDataTF(body []byte) ([]PDV, error) {
	var pdvs []PDV
	pos := 0
	for pos < len(body) {
		if len(body)-pos < 4 {
			return nil, ErrBadPDVLength
		}
		length := int(binary.BigEndian.Uint32(body[pos : pos+4]))
		pos += 4
		if length < 2 || len(body)-pos < length {
			return nil, ErrBadPDVLength
		}
		header := body[pos+1]
		data := make([]byte, length-2)
		copy(data, body[pos+2:pos+length])
		pdvs = append(pdvs, PDV{
			ContextID: body[pos],
			IsCommand: header&pdvFlagCommand != 0,
			IsLast:    header&pdvFlagLast != 0,
			Data:      data,
		})
		pos += length
	}
	return pdvs, nil
}

func EncodePDataTF(pdvs []PDV) PDU {
	var body []byte
	for _, pdv := range pdvs {
		var prefix [6]byte
		binary.BigEndian.PutUint32(prefix[0:4], uint32(len(pdv.Data)+2))
		prefix[4] = pdv.ContextID
		var header byte
		if pdv.IsCommand {
			header |= pdvFlagCommand
		}
		if pdv.IsLast {
			header |= pdvFlagLast
		}
		prefix[5] = header
		body = append(body, prefix[:]...)
		body = append(body, pdv.Data...)
	}
	return PDU{Type: TypePDataTF, Body: body}
}
