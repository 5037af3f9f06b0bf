package models

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/agalue/ember/internal/core"
)

// recordingSink collects emitted events for assertions.
type recordingSink struct {
	events []core.Event
}

func (s *recordingSink) Emit(e core.Event) { s.events = append(s.events, e) }

func (s *recordingSink) has(name core.EventName) bool {
	for _, e := range s.events {
		if e.Name == name {
			return true
		}
	}
	return false
}

// buildTarGz packages a single file "tokens.txt" into a gzipped tar archive
// and returns its bytes plus hex sha256.
func buildTarGz(t *testing.T, content string) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	hdr := &tar.Header{Name: "tokens.txt", Mode: 0o644, Size: int64(len(content))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("tar header: %v", err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatalf("tar write: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("tar close: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}

	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func newTestManager(t *testing.T, archive []byte, registryURL string, sha string) (*Manager, string) {
	t.Helper()
	modelsDir := t.TempDir()

	registry := NewRegistry("unused")
	registry.SetAllowedHosts([]string{mustHost(t, registryURL)})
	registry.mu.Lock()
	registry.entries = map[string]Entry{
		"hey-ember": {ID: "hey-ember", URL: registryURL, SHA256: sha, Size: int64(len(archive))},
	}
	registry.mu.Unlock()

	sink := &recordingSink{}
	m := NewManager(registry, modelsDir, sink, log.New(os.Stderr, "", 0))
	return m, modelsDir
}

func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Hostname()
}

func TestManagerEnableDownloadsVerifiesAndExtracts(t *testing.T) {
	archive, sha := buildTarGz(t, "hello wakeword")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	m, modelsDir := newTestManager(t, archive, srv.URL+"/hey-ember.tar.gz", sha)
	sink := m.sink.(*recordingSink)

	if err := m.Enable(context.Background(), "hey-ember"); err != nil {
		t.Fatalf("Enable: %v", err)
	}

	if m.State("hey-ember") != StateReady {
		t.Fatalf("expected Ready state, got %v", m.State("hey-ember"))
	}

	extracted := filepath.Join(modelsDir, "hey-ember", "tokens.txt")
	data, err := os.ReadFile(extracted)
	if err != nil {
		t.Fatalf("expected extracted file, got error: %v", err)
	}
	if string(data) != "hello wakeword" {
		t.Fatalf("unexpected extracted content: %q", data)
	}

	if !sink.has(core.EventKwsModelVerified) {
		t.Fatal("expected kws:model_verified event")
	}
	if !m.IsInstalled("hey-ember") {
		t.Fatal("expected IsInstalled to report true after Enable")
	}

	desc, err := m.Describe("hey-ember")
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	if desc.State != StateReady || !desc.Installed {
		t.Fatalf("expected Describe to report Ready+installed, got %+v", desc)
	}
	if desc.Entry.ID != "hey-ember" {
		t.Fatalf("expected Describe to include the registry entry, got %+v", desc.Entry)
	}
}

func TestManagerEnableIsIdempotentWhenAlreadyInstalled(t *testing.T) {
	archive, sha := buildTarGz(t, "hello wakeword")
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write(archive)
	}))
	defer srv.Close()

	m, _ := newTestManager(t, archive, srv.URL+"/hey-ember.tar.gz", sha)
	if err := m.Enable(context.Background(), "hey-ember"); err != nil {
		t.Fatalf("first Enable: %v", err)
	}
	if err := m.Enable(context.Background(), "hey-ember"); err != nil {
		t.Fatalf("second Enable: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 network request, got %d", calls)
	}
}

func TestManagerEnableFailsVerificationOnChecksumMismatch(t *testing.T) {
	archive, _ := buildTarGz(t, "hello wakeword")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	wrongSha := "ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"
	m, modelsDir := newTestManager(t, archive, srv.URL+"/hey-ember.tar.gz", wrongSha)
	sink := m.sink.(*recordingSink)

	err := m.Enable(context.Background(), "hey-ember")
	if err == nil {
		t.Fatal("expected verification failure")
	}
	if m.State("hey-ember") != StateFailed {
		t.Fatalf("expected Failed state, got %v", m.State("hey-ember"))
	}
	if !sink.has(core.EventKwsModelVerifyFailed) {
		t.Fatal("expected kws:model_verify_failed event")
	}
	if _, err := os.Stat(filepath.Join(modelsDir, "hey-ember")); err == nil {
		t.Fatal("expected partial install directory to be removed after verify failure")
	}
}

func TestManagerEnableRejectsNonAllowlistedHost(t *testing.T) {
	archive, sha := buildTarGz(t, "hello wakeword")

	registry := NewRegistry("unused")
	registry.entries = map[string]Entry{
		"hey-ember": {ID: "hey-ember", URL: "https://evil.example.com/x.tar.gz", SHA256: sha, Size: int64(len(archive))},
	}
	sink := &recordingSink{}
	m := NewManager(registry, t.TempDir(), sink, log.New(os.Stderr, "", 0))

	if err := m.Enable(context.Background(), "hey-ember"); err == nil {
		t.Fatal("expected rejection of non-allowlisted host")
	}
	if m.State("hey-ember") != StateFailed {
		t.Fatalf("expected Failed state, got %v", m.State("hey-ember"))
	}
}
