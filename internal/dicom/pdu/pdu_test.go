package pdu

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestReadWritePDURoundTrip(t *testing.T) {
	var buf bytes.Buffer
	in := PDU{Type: TypeReleaseRQ, Body: []byte{0, 0, 0, 0}}
	if err := WritePDU(&buf, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	out, err := ReadPDU(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out.Type != TypeReleaseRQ || !bytes.Equal(out.Body, in.Body) {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestReadPDUCleanEOFBeforeHeader(t *testing.T) {
	_, err := ReadPDU(bytes.NewReader(nil), DefaultLimits())
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF for empty stream, got %v", err)
	}
}

func TestReadPDUPartialHeader(t *testing.T) {
	_, err := ReadPDU(bytes.NewReader([]byte{0x01, 0x00, 0x00}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadPDUTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := WritePDU(&buf, PDU{Type: TypePDataTF, Body: make([]byte, 64)}); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()[:buf.Len()-10]
	_, err := ReadPDU(bytes.NewReader(raw), DefaultLimits())
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("expected ErrShortBody, got %v", err)
	}
}

func TestReadPDUEnforcesLengthLimit(t *testing.T) {
	header := []byte{0x04, 0x00, 0xFF, 0xFF, 0xFF, 0xFF}
	_, err := ReadPDU(bytes.NewReader(header), Limits{MaxPDUBytes: 1024})
	if !errors.Is(err, ErrPDUTooLarge) {
		t.Fatalf("expected ErrPDUTooLarge, got %v", err)
	}
}

func TestReadPDURejectsUnknownType(t *testing.T) {
	header := []byte{0x7F, 0x00, 0x00, 0x00, 0x00, 0x00}
	_, err := ReadPDU(bytes.NewReader(header), DefaultLimits())
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestAssociateRQRoundTrip(t *testing.T) {
	in := AssociateRQ{
		ProtocolVersion:        1,
		CalledAETitle:          "ORTHANC",
		CallingAETitle:         "STORESCU",
		ApplicationContextName: "1.2.840.10008.3.1.1.1",
		PresentationContexts: []PresentationContextRQ{
			{
				ID:               1,
				AbstractSyntax:   "1.2.840.10008.1.1",
				TransferSyntaxes: []string{"1.2.840.10008.1.2", "1.2.840.10008.1.2.1"},
			},
			{
				ID:               3,
				AbstractSyntax:   "1.2.840.10008.5.1.4.1.1.2",
				TransferSyntaxes: []string{"1.2.840.10008.1.2"},
			},
		},
		UserInfo: UserInformation{
			MaxPDULength:              16382,
			HasMaxPDULength:           true,
			ImplementationClassUID:    "1.2.3.4",
			ImplementationVersionName: "TESTSCU_10",
			RoleSelections: []RoleSelection{
				{SOPClassUID: "1.2.840.10008.5.1.4.1.1.2", SCURole: true, SCPRole: true},
			},
			UserIdentity: &UserIdentityRQ{
				IdentityType:              2,
				PositiveResponseRequested: true,
				PrimaryField:              []byte("admin"),
				SecondaryField:            []byte("secret"),
			},
		},
	}

	p := EncodeAssociateRQ(in)
	out, err := ParseAssociateRQ(p.Body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if out.CalledAETitle != "ORTHANC" || out.CallingAETitle != "STORESCU" {
		t.Fatalf("titles lost: %+v", out)
	}
	if out.ApplicationContextName != in.ApplicationContextName {
		t.Fatalf("application context lost: %q", out.ApplicationContextName)
	}
	if len(out.PresentationContexts) != 2 {
		t.Fatalf("presentation contexts lost: %+v", out.PresentationContexts)
	}
	pc := out.PresentationContexts[0]
	if pc.ID != 1 || pc.AbstractSyntax != "1.2.840.10008.1.1" || len(pc.TransferSyntaxes) != 2 {
		t.Fatalf("context 1 mangled: %+v", pc)
	}
	if !out.UserInfo.HasMaxPDULength || out.UserInfo.MaxPDULength != 16382 {
		t.Fatalf("max pdu length lost: %+v", out.UserInfo)
	}
	if out.UserInfo.ImplementationVersionName != "TESTSCU_10" {
		t.Fatalf("implementation name lost: %q", out.UserInfo.ImplementationVersionName)
	}
	if len(out.UserInfo.RoleSelections) != 1 || !out.UserInfo.RoleSelections[0].SCPRole {
		t.Fatalf("role selection lost: %+v", out.UserInfo.RoleSelections)
	}
	id := out.UserInfo.UserIdentity
	if id == nil || id.IdentityType != 2 || !id.PositiveResponseRequested {
		t.Fatalf("user identity lost: %+v", id)
	}
	if string(id.PrimaryField) != "admin" || string(id.SecondaryField) != "secret" {
		t.Fatalf("identity fields lost: %+v", id)
	}
}

func TestAssociateACRoundTrip(t *testing.T) {
	in := AssociateAC{
		ProtocolVersion:        1,
		CalledAETitle:          "ORTHANC",
		CallingAETitle:         "STORESCU",
		ApplicationContextName: "1.2.840.10008.3.1.1.1",
		Results: []PresentationContextResult{
			{ID: 1, Result: ResultAcceptance, TransferSyntax: "1.2.840.10008.1.2"},
			{ID: 3, Result: ResultAbstractSyntaxRejected},
		},
		UserInfo: UserInformation{
			MaxPDULength:     16382,
			HasMaxPDULength:  true,
			IdentityResponse: &UserIdentityAC{},
		},
	}
	out, err := ParseAssociateAC(EncodeAssociateAC(in).Body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out.Results) != 2 || out.Results[0].Result != ResultAcceptance {
		t.Fatalf("results lost: %+v", out.Results)
	}
	if out.Results[0].TransferSyntax != "1.2.840.10008.1.2" {
		t.Fatalf("transfer syntax lost: %+v", out.Results[0])
	}
	if out.UserInfo.IdentityResponse == nil {
		t.Fatal("identity response sub-item lost")
	}
}

func TestParseAssociateRQRejectsShortBody(t *testing.T) {
	_, err := ParseAssociateRQ(make([]byte, 10))
	if !errors.Is(err, ErrShortBody) {
		t.Fatalf("expected ErrShortBody, got %v", err)
	}
}

func TestParseAssociateRQRejectsTruncatedItem(t *testing.T) {
	p := EncodeAssociateRQ(AssociateRQ{
		ProtocolVersion:        1,
		CalledAETitle:          "A",
		CallingAETitle:         "B",
		ApplicationContextName: "1.2.840.10008.3.1.1.1",
	})
	_, err := ParseAssociateRQ(p.Body[:len(p.Body)-3])
	if !errors.Is(err, ErrShortItem) {
		t.Fatalf("expected ErrShortItem, got %v", err)
	}
}

func TestPDataTFRoundTrip(t *testing.T) {
	in := []PDV{
		{ContextID: 1, IsCommand: true, IsLast: true, Data: []byte{1, 2, 3}},
		{ContextID: 1, IsCommand: false, IsLast: false, Data: []byte{4, 5}},
	}
	out, err := ParsePDataTF(EncodePDataTF(in).Body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("pdv count %d", len(out))
	}
	if !out[0].IsCommand || !out[0].IsLast || !bytes.Equal(out[0].Data, []byte{1, 2, 3}) {
		t.Fatalf("command pdv mangled: %+v", out[0])
	}
	if out[1].IsCommand || out[1].IsLast || !bytes.Equal(out[1].Data, []byte{4, 5}) {
		t.Fatalf("data pdv mangled: %+v", out[1])
	}
}

func TestParsePDataTFRejectsBadLength(t *testing.T) {
	// declared pdv length runs past the body
	body := []byte{0x00, 0x00, 0x00, 0x20, 0x01, 0x03, 0xAA}
	_, err := ParsePDataTF(body)
	if !errors.Is(err, ErrBadPDVLength) {
		t.Fatalf("expected ErrBadPDVLength, got %v", err)
	}
}

func TestAETitleEncodingPadsAndTrims(t *testing.T) {
	enc := encodeAETitle("ORTHANC")
	if len(enc) != 16 || string(enc[:7]) != "ORTHANC" || enc[7] != ' ' {
		t.Fatalf("bad padding: %q", enc)
	}
	if got := decodeAETitle(enc[:]); got != "ORTHANC" {
		t.Fatalf("decode %q", got)
	}
	long := encodeAETitle("AVERYLONGAETITLE-THAT-OVERFLOWS")
	if len(long) != 16 {
		t.Fatalf("overlong title not clamped: %q", long)
	}
}
