package dicom

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Stored artifact layout: 128-byte zero preamble, 4-byte magic, file
// meta header, then the raw payload octets as received.
var fileMagic = []byte("DICM")

// StoreRequest is the store operation input.
type StoreRequest struct {
	SOPClassUID    string
	SOPInstanceUID string
	TransferSyntax string
	Payload        []byte
}

// StoreResult is the synthesized store reply plus artifact audit data.
type StoreResult struct {
	Status uint16
	Path   string
	Size   int
	Err    error
}

// Store writes the artifact under the configured directory, named by
// the request's instance UID so concurrent sessions never collide. Any
// I/O or encoding failure becomes a failure reply, never a session
// abort.
func (s *Synthesizer) Store(req StoreRequest) StoreResult {
	path := filepath.Join(s.ArtifactDir, artifactName(req.SOPInstanceUID))
	if err := os.MkdirAll(s.ArtifactDir, 0o755); err != nil {
		return storeFailed(path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return storeFailed(path, err)
	}
	defer f.Close()

	transfer := req.TransferSyntax
	if transfer == "" {
		transfer = uidImplicitVRLittleEndian
	}
	preamble := make([]byte, 128)
	meta := encodeFileMeta(req.SOPClassUID, req.SOPInstanceUID, transfer)
	for _, chunk := range [][]byte{preamble, fileMagic, meta, req.Payload} {
		if _, err := f.Write(chunk); err != nil {
			return storeFailed(path, err)
		}
	}
	return StoreResult{Status: StatusSuccess, Path: path, Size: len(req.Payload)}
}

func storeFailed(path string, err error) StoreResult {
	log.Error().Err(err).Str("path", path).Msg("store artifact write failed")
	return StoreResult{Status: StatusFailure, Err: err}
}

// artifactName keeps the UID-derived name filesystem-safe; a request
// without a usable instance UID still gets a unique artifact.
func artifactName(instanceUID string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' || r == '.' {
			return r
		}
		return -1
	}, instanceUID)
	if cleaned == "" || strings.Trim(cleaned, ".") == "" {
		return uuid.NewString()
	}
	return cleaned
}

// encodeFileMeta writes the group-0002 header in explicit-VR little
// endian, group length first.
func encodeFileMeta(sopClassUID, sopInstanceUID, transferSyntax string) []byte {
	var body []byte
	body = appendExplicitOB(body, 0x0001, []byte{0x00, 0x01})
	body = appendExplicitUI(body, 0x0002, sopClassUID)
	body = appendExplicitUI(body, 0x0003, sopInstanceUID)
	body = appendExplicitUI(body, 0x0010, transferSyntax)
	body = appendExplicitUI(body, 0x0012, implementationClassUID)

	var out []byte
	out = appendExplicitShort(out, 0x0000, "UL", u32Bytes(uint32(len(body))))
	return append(out, body...)
}

func appendExplicitShort(buf []byte, elem uint16, vr string, value []byte) []byte {
	var header [8]byte
	binary.LittleEndian.PutUint16(header[0:2], 0x0002)
	binary.LittleEndian.PutUint16(header[2:4], elem)
	header[4] = vr[0]
	header[5] = vr[1]
	binary.LittleEndian.PutUint16(header[6:8], uint16(len(value)))
	buf = append(buf, header[:]...)
	return append(buf, value...)
}

func appendExplicitUI(buf []byte, elem uint16, value string) []byte {
	return appendExplicitShort(buf, elem, "UI", padUID(value))
}

func appendExplicitOB(buf []byte, elem uint16, value []byte) []byte {
	var header [12]byte
	binary.LittleEndian.PutUint16(header[0:2], 0x0002)
	binary.LittleEndian.PutUint16(header[2:4], elem)
	header[4] = 'O'
	header[5] = 'B'
	binary.LittleEndian.PutUint32(header[8:12], uint32(len(value)))
	buf = append(buf, header[:]...)
	return append(buf, value...)
}
