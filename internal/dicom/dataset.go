package dicom

import (
	"encoding/binary"
	"fmt"
)

// DataElement is one element of a query identifier or stored dataset.
type DataElement struct {
	Group uint16
	Elem  uint16
	Value []byte
}

const undefinedLength = 0xFFFFFFFF

var vrShortForm = map[string]bool{
	"AE": true, "AS": true, "AT": true, "CS": true, "DA": true,
	"DS": true, "DT": true, "FL": true, "FD": true, "IS": true,
	"LO": true, "LT": true, "PN": true, "SH": true, "SL": true,
	"SS": true, "ST": true, "TM": true, "UI": true, "UL": true,
	"US": true,
}

var vrLongForm = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OW": true,
	"SQ": true, "UC": true, "UN": true, "UR": true, "UT": true,
}

// DecodeDataSet parses a little-endian dataset, detecting explicit vs
// implicit VR from the first element. Undefined-length elements stop
// the parse; already-decoded elements are returned alongside the error
// so a hostile dataset still yields a partial identifier.
func DecodeDataSet(b []byte) ([]DataElement, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if isExplicitVR(b) {
		return decodeExplicit(b)
	}
	return decodeImplicit(b)
}

func isExplicitVR(b []byte) bool {
	if len(b) < 6 {
		return false
	}
	vr := string(b[4:6])
	return vrShortForm[vr] || vrLongForm[vr]
}

func decodeImplicit(b []byte) ([]DataElement, error) {
	var elems []DataElement
	pos := 0
	for pos < len(b) {
		if len(b)-pos < 8 {
			return elems, ErrBadDataSet
		}
		group := binary.LittleEndian.Uint16(b[pos : pos+2])
		elem := binary.LittleEndian.Uint16(b[pos+2 : pos+4])
		length := binary.LittleEndian.Uint32(b[pos+4 : pos+8])
		pos += 8
		if length == undefinedLength {
			return elems, ErrBadDataSet
		}
		if uint32(len(b)-pos) < length {
			return elems, ErrBadDataSet
		}
		value := make([]byte, length)
		copy(value, b[pos:pos+int(length)])
		pos += int(length)
		elems = append(elems, DataElement{Group: group, Elem: elem, Value: value})
	}
	return elems, nil
}

func decodeExplicit(b []byte) ([]DataElement, error) {
	var elems []DataElement
	pos := 0
	for pos < len(b) {
		if len(b)-pos < 8 {
			return elems, ErrBadDataSet
		}
		group := binary.LittleEndian.Uint16(b[pos : pos+2])
		elem := binary.LittleEndian.Uint16(b[pos+2 : pos+4])
		vr := string(b[pos+4 : pos+6])
		var length uint32
		switch {
		case vrLongForm[vr]:
			if len(b)-pos < 12 {
				return elems, ErrBadDataSet
			}
			length = binary.LittleEndian.Uint32(b[pos+8 : pos+12])
			pos += 12
		case vrShortForm[vr]:
			length = uint32(binary.LittleEndian.Uint16(b[pos+6 : pos+8]))
			pos += 8
		default:
			return elems, ErrBadDataSet
		}
		if length == undefinedLength {
			return elems, ErrBadDataSet
		}
		if uint32(len(b)-pos) < length {
			return elems, ErrBadDataSet
		}
		value := make([]byte, length)
		copy(value, b[pos:pos+int(length)])
		pos += int(length)
		elems = append(elems, DataElement{Group: group, Elem: elem, Value: value})
	}
	return elems, nil
}

// EncodeDataSet serializes elements in implicit-VR little-endian.
func EncodeDataSet(elems []DataElement) []byte {
	var out []byte
	for _, e := range elems {
		value := e.Value
		if len(value)%2 != 0 {
			if uidValued[tagKey(e.Group, e.Elem)] {
				value = append(append([]byte(nil), value...), 0x00)
			} else {
				value = append(append([]byte(nil), value...), ' ')
			}
		}
		out = appendImplicit(out, e.Group, e.Elem, value)
	}
	return out
}

const tagQueryRetrieveLevel = uint32(0x0008_0052)

var tagNames = map[uint32]string{
	0x0008_0016: "SOPClassUID",
	0x0008_0018: "SOPInstanceUID",
	0x0008_0020: "StudyDate",
	0x0008_0052: "QueryRetrieveLevel",
	0x0008_0060: "Modality",
	0x0010_0010: "PatientName",
	0x0010_0020: "PatientID",
	0x0020_000D: "StudyInstanceUID",
	0x0020_000E: "SeriesInstanceUID",
}

var uidValued = map[uint32]bool{
	0x0008_0016: true,
	0x0008_0018: true,
	0x0020_000D: true,
	0x0020_000E: true,
}

func tagKey(group, elem uint16) uint32 {
	return uint32(group)<<16 | uint32(elem)
}

// EventData maps elements into stable audit keys; unknown tags keep
// their numeric form.
func EventData(elems []DataElement) map[string]any {
	out := make(map[string]any, len(elems))
	for _, e := range elems {
		name, ok := tagNames[tagKey(e.Group, e.Elem)]
		if !ok {
			name = fmt.Sprintf("(%04X,%04X)", e.Group, e.Elem)
		}
		out[name] = trimPadding(e.Value)
	}
	return out
}

// QueryScope returns the query's scope indicator (QueryRetrieveLevel).
func QueryScope(elems []DataElement) (string, bool) {
	for _, e := range elems {
		if tagKey(e.Group, e.Elem) == tagQueryRetrieveLevel {
			scope := trimPadding(e.Value)
			return scope, scope != ""
		}
	}
	return "", false
}

func findElement(elems []DataElement, group, elem uint16) string {
	for _, e := range elems {
		if e.Group == group && e.Elem == elem {
			return trimPadding(e.Value)
		}
	}
	return ""
}

// demonstrationRecord is the one fixed dataset returned for every query
// regardless of filters. Deliberate deception-engine simplification.
func demonstrationRecord() []DataElement {
	text := func(group, elem uint16, v string) DataElement {
		return DataElement{Group: group, Elem: elem, Value: []byte(v)}
	}
	return []DataElement{
		text(0x0008, 0x0016, uidCTImageStorage),
		text(0x0008, 0x0018, "1.3.6.1.4.1.5962.1.1.1.1.1.20040119072730.12322"),
		text(0x0008, 0x0020, "20040119"),
		text(0x0008, 0x0060, "CT"),
		text(0x0010, 0x0010, "CompressedSamples^CT1"),
		text(0x0010, 0x0020, "1CT1"),
		text(0x0020, 0x000D, "1.3.6.1.4.1.5962.1.2.1.20040119072730.12322"),
		text(0x0020, 0x000E, "1.3.6.1.4.1.5962.1.3.1.1.20040119072730.12322"),
	}
}
