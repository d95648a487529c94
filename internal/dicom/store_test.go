package dicom

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStoreWritesArtifactWithPreambleAndMagic(t *testing.T) {
	synth := &Synthesizer{ArtifactDir: t.TempDir()}
	payload := bytes.Repeat([]byte{0xAB}, 4096)
	res := synth.Store(StoreRequest{
		SOPClassUID:    uidCTImageStorage,
		SOPInstanceUID: "1.2.3.4.5",
		TransferSyntax: uidExplicitVRLittleEndian,
		Payload:        payload,
	})
	if res.Err != nil || res.Status != StatusSuccess {
		t.Fatalf("store failed: %+v", res)
	}
	if res.Size != len(payload) {
		t.Fatalf("reported size %d, want %d", res.Size, len(payload))
	}
	if filepath.Base(res.Path) != "1.2.3.4.5" {
		t.Fatalf("artifact not named by instance uid: %s", res.Path)
	}

	raw, err := os.ReadFile(res.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if len(raw) < 132 {
		t.Fatalf("artifact too short: %d bytes", len(raw))
	}
	if !bytes.Equal(raw[:128], make([]byte, 128)) {
		t.Fatal("preamble not zeroed")
	}
	if string(raw[128:132]) != "DICM" {
		t.Fatalf("bad magic %q", raw[128:132])
	}
	if !bytes.HasSuffix(raw, payload) {
		t.Fatal("payload not at end of artifact")
	}
}

func TestStoreFailureReportsStatusNotPanic(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "blocked")
	if err := os.WriteFile(dir, []byte("not a directory"), 0o644); err != nil {
		t.Fatal(err)
	}
	synth := &Synthesizer{ArtifactDir: dir}
	res := synth.Store(StoreRequest{SOPInstanceUID: "1.2.3", Payload: []byte("x")})
	if res.Err == nil || res.Status != StatusFailure {
		t.Fatalf("expected failure result, got %+v", res)
	}
}

func TestArtifactNameSanitizesUID(t *testing.T) {
	if got := artifactName("1.2.840/../../etc/passwd"); got != "1.2.840...." {
		t.Fatalf("unexpected sanitized name %q", got)
	}
	got := artifactName("../..")
	if strings.Contains(got, ".") && len(got) < 36 {
		t.Fatalf("dot-only uid must fall back to a generated name, got %q", got)
	}
	if artifactName("") == "" {
		t.Fatal("empty uid must yield a generated name")
	}
}

func TestStoreReportedSizeMatchesPayloadOctets(t *testing.T) {
	synth := &Synthesizer{ArtifactDir: t.TempDir()}
	payload := make([]byte, 39102)
	res := synth.Store(StoreRequest{SOPInstanceUID: "1.2.3.4", Payload: payload})
	if res.Err != nil {
		t.Fatalf("store failed: %v", res.Err)
	}
	if res.Size != 39102 {
		t.Fatalf("size %d, want 39102", res.Size)
	}
}
