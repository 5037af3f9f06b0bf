package models

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/agalue/ember/internal/core"
)

// State is a step of the download/verify/extract state machine (spec
// §4.6). A Manager instance always reports exactly one State per model id.
type State string

const (
	StateIdle        State = "idle"
	StateDownloading State = "downloading"
	StateVerifying   State = "verifying"
	StateReady       State = "ready"
	StateFailed      State = "failed"
)

// progressInterval caps progress event emission to 10 Hz (spec §4.6).
const progressInterval = 100 * time.Millisecond

// Manager drives the download → verify → extract pipeline for one models
// directory. It is safe for concurrent use across different model ids;
// concurrent Enable calls for the same id are not serialized, by the Manager
// or by the Runtime Supervisor.
type Manager struct {
	registry *Registry
	dir      string
	sink     core.Sink
	logger   *log.Logger
	client   *http.Client

	mu     sync.Mutex
	states map[string]State
}

// NewManager creates a Manager that installs models under dir and reports
// progress/terminal events to sink.
func NewManager(registry *Registry, dir string, sink core.Sink, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.Default()
	}
	return &Manager{
		registry: registry,
		dir:      dir,
		sink:     sink,
		logger:   logger,
		client:   http.DefaultClient,
		states:   make(map[string]State),
	}
}

// RegistryEntry looks up modelID's registry metadata, for callers (like the
// Runtime Supervisor) that need the wake phrase or language after Enable.
func (m *Manager) RegistryEntry(modelID string) (Entry, error) {
	return m.registry.Get(modelID)
}

// ModelDir returns the installed directory for modelID, whether or not it
// is currently installed.
func (m *Manager) ModelDir(modelID string) string {
	return m.modelDir(modelID)
}

// Description bundles a registry entry with its installation state, for
// models_describe() (spec §6 supplemented command surface).
type Description struct {
	Entry     Entry
	State     State
	Installed bool
}

// Describe returns modelID's registry entry plus its installed/verified
// state, for a host wanting detail on one model without listing all of
// them.
func (m *Manager) Describe(modelID string) (Description, error) {
	entry, err := m.registry.Get(modelID)
	if err != nil {
		return Description{}, err
	}
	return Description{
		Entry:     entry,
		State:     m.State(modelID),
		Installed: m.IsInstalled(modelID),
	}, nil
}

// State returns the last known state for modelID, StateIdle if unknown.
func (m *Manager) State(modelID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.states[modelID]; ok {
		return s
	}
	return StateIdle
}

func (m *Manager) setState(modelID string, s State) {
	m.mu.Lock()
	m.states[modelID] = s
	m.mu.Unlock()
}

// modelDir returns the installation directory for a model id.
func (m *Manager) modelDir(modelID string) string {
	return filepath.Join(m.dir, modelID)
}

// IsInstalled reports whether modelID's directory exists and was already
// verified (a ".verified" marker file is written on success). Enabling an
// already-installed model is idempotent and skips straight to Ready (spec
// §4.6).
func (m *Manager) IsInstalled(modelID string) bool {
	_, err := os.Stat(filepath.Join(m.modelDir(modelID), ".verified"))
	return err == nil
}

// Enable ensures modelID is downloaded, verified, and extracted under the
// models directory, emitting progress and terminal events along the way. If
// the model is already installed and verified it transitions directly to
// Ready without a network request.
func (m *Manager) Enable(ctx context.Context, modelID string) error {
	entry, err := m.registry.Get(modelID)
	if err != nil {
		return err
	}

	if m.IsInstalled(modelID) {
		m.setState(modelID, StateReady)
		return nil
	}

	if err := m.registry.CheckHostAllowed(entry); err != nil {
		m.setState(modelID, StateFailed)
		return err
	}

	m.setState(modelID, StateDownloading)
	archivePath, err := m.download(ctx, entry)
	if err != nil {
		m.cleanup(modelID, archivePath)
		m.setState(modelID, StateFailed)
		return err
	}

	m.setState(modelID, StateVerifying)
	if err := m.verify(entry, archivePath); err != nil {
		m.cleanup(modelID, archivePath)
		m.setState(modelID, StateFailed)
		m.emitVerifyFailed(modelID)
		return err
	}

	if err := m.extract(archivePath, m.modelDir(modelID)); err != nil {
		m.cleanup(modelID, archivePath)
		m.setState(modelID, StateFailed)
		return err
	}
	os.Remove(archivePath)

	if err := os.WriteFile(filepath.Join(m.modelDir(modelID), ".verified"), []byte(entry.SHA256), 0o644); err != nil {
		m.setState(modelID, StateFailed)
		return core.Wrap(core.CodeVerifyFailed, "failed to write verification marker", err).WithField("model_id", modelID)
	}

	m.setState(modelID, StateReady)
	m.emit(core.EventKwsModelVerified, core.PayloadModelID{ModelID: modelID})
	return nil
}

// progressSink is a throttled io.Writer that counts bytes and emits
// kws:model_download_progress events at up to 10 Hz, mirroring the
// teacher-pack's WriteCounter (kdeps-kdeps/pkg/download) but routed through
// the typed event sink instead of stdout.
type progressSink struct {
	modelID    string
	downloaded int64
	total      int64
	lastEmit   time.Time
	emit       func(core.Event)
}

func (p *progressSink) Write(b []byte) (int, error) {
	n := len(b)
	p.downloaded += int64(n)
	now := time.Now()
	if now.Sub(p.lastEmit) < progressInterval && p.downloaded < p.total {
		return n, nil
	}
	p.lastEmit = now
	percent := 0.0
	if p.total > 0 {
		percent = float64(p.downloaded) / float64(p.total) * 100
	}
	p.emit(core.Event{
		Name: core.EventKwsModelDownloadProgress,
		Payload: core.PayloadModelDownloadProgress{
			ModelID:    p.modelID,
			Downloaded: p.downloaded,
			Total:      p.total,
			Percent:    percent,
		},
	})
	return n, nil
}

// download fetches entry.URL into a ".part" file under the models
// directory (".part.zip" when the URL path ends in ".zip", so extract picks
// the zip reader) and returns its path, logging human-readable sizes the way
// the teacher logs device/frame diagnostics.
func (m *Manager) download(ctx context.Context, entry Entry) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", core.Wrap(core.CodeDownloadFailed, "failed to create models directory", err)
	}

	partPath := filepath.Join(m.dir, entry.ID+".part")
	if u, err := url.Parse(entry.URL); err == nil && strings.HasSuffix(strings.ToLower(u.Path), ".zip") {
		partPath += ".zip"
	}
	out, err := os.Create(partPath)
	if err != nil {
		return partPath, core.Wrap(core.CodeDownloadFailed, "failed to create download file", err).WithField("model_id", entry.ID)
	}
	defer out.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, entry.URL, nil)
	if err != nil {
		return partPath, core.Wrap(core.CodeDownloadFailed, "failed to build download request", err).WithField("model_id", entry.ID)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return partPath, core.Wrap(core.CodeDownloadFailed, "download request failed", err).WithField("model_id", entry.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return partPath, core.NewError(core.CodeDownloadFailed, fmt.Sprintf("download returned status %d", resp.StatusCode)).WithField("model_id", entry.ID)
	}

	total := entry.Size
	if resp.ContentLength > 0 {
		total = resp.ContentLength
	}
	progress := &progressSink{modelID: entry.ID, total: total, emit: m.sink.Emit}

	if _, err := io.Copy(out, io.TeeReader(resp.Body, progress)); err != nil {
		return partPath, core.Wrap(core.CodeDownloadFailed, "failed to write downloaded data", err).WithField("model_id", entry.ID)
	}

	m.logger.Printf("models: downloaded %s (%s)", entry.ID, humanize.Bytes(uint64(progress.downloaded)))
	return partPath, nil
}

// verify compares the archive's SHA-256 against the registry entry.
func (m *Manager) verify(entry Entry, archivePath string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return core.Wrap(core.CodeVerifyFailed, "failed to open downloaded archive", err).WithField("model_id", entry.ID)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return core.Wrap(core.CodeVerifyFailed, "failed to hash downloaded archive", err).WithField("model_id", entry.ID)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(sum, entry.SHA256) {
		return core.NewError(core.CodeVerifyFailed, "archive checksum does not match registry entry").WithField("model_id", entry.ID)
	}
	return nil
}

func (m *Manager) emitVerifyFailed(modelID string) {
	m.emit(core.EventKwsModelVerifyFailed, core.PayloadModelID{ModelID: modelID})
}

func (m *Manager) emit(name core.EventName, payload any) {
	m.sink.Emit(core.Event{Name: name, Payload: payload})
}

// cleanup removes any partial download and any partially-extracted model
// directory, per spec §7 ("model download failures remove partial files
// before reporting").
func (m *Manager) cleanup(modelID, archivePath string) {
	if archivePath != "" {
		if err := os.Remove(archivePath); err != nil && !os.IsNotExist(err) {
			m.logger.Printf("models: failed to remove partial download %s: %v", archivePath, err)
		}
	}
	if err := os.RemoveAll(m.modelDir(modelID)); err != nil {
		m.logger.Printf("models: failed to remove partial install dir for %s: %v", modelID, err)
	}
}

// extract unpacks archivePath into destDir, dispatching on file extension.
// Grounded on kdeps-kdeps/pkg/archiver's ExtractPackage: a gzip+tar reader
// walking header-by-header into a destination directory, with a zip
// fallback for models packaged that way.
func (m *Manager) extract(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return core.Wrap(core.CodeVerifyFailed, "failed to create model directory", err)
	}

	if strings.HasSuffix(archivePath, ".zip") {
		return extractZip(archivePath, destDir)
	}
	return extractTarGz(archivePath, destDir)
}

func extractTarGz(archivePath, destDir string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return core.Wrap(core.CodeVerifyFailed, "failed to open archive for extraction", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return core.Wrap(core.CodeVerifyFailed, "failed to open gzip stream", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return core.Wrap(core.CodeVerifyFailed, "failed to read tar header", err)
		}

		target, err := sanitizeArchivePath(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return core.Wrap(core.CodeVerifyFailed, "failed to create directory from archive", err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return core.Wrap(core.CodeVerifyFailed, "failed to create parent directory", err)
			}
			out, err := os.Create(target)
			if err != nil {
				return core.Wrap(core.CodeVerifyFailed, "failed to create extracted file", err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return core.Wrap(core.CodeVerifyFailed, "failed to write extracted file", err)
			}
			out.Close()
		}
	}
}

func extractZip(archivePath, destDir string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return core.Wrap(core.CodeVerifyFailed, "failed to open zip archive", err)
	}
	defer r.Close()

	for _, f := range r.File {
		target, err := sanitizeArchivePath(destDir, f.Name)
		if err != nil {
			return err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return core.Wrap(core.CodeVerifyFailed, "failed to create directory from zip", err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return core.Wrap(core.CodeVerifyFailed, "failed to create parent directory", err)
		}
		rc, err := f.Open()
		if err != nil {
			return core.Wrap(core.CodeVerifyFailed, "failed to open zip entry", err)
		}
		out, err := os.Create(target)
		if err != nil {
			rc.Close()
			return core.Wrap(core.CodeVerifyFailed, "failed to create extracted file", err)
		}
		_, copyErr := io.Copy(out, rc)
		out.Close()
		rc.Close()
		if copyErr != nil {
			return core.Wrap(core.CodeVerifyFailed, "failed to write extracted file", copyErr)
		}
	}
	return nil
}

// sanitizeArchivePath rejects archive entries that would escape destDir via
// ".." path segments (zip-slip), mirroring kdeps-kdeps's SanitizeArchivePath.
func sanitizeArchivePath(destDir, name string) (string, error) {
	target := filepath.Join(destDir, name)
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) && target != filepath.Clean(destDir) {
		return "", core.NewError(core.CodeVerifyFailed, "archive entry escapes destination directory").WithField("entry", name)
	}
	return target, nil
}
