package supervisor

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
	"testing"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/audio"
	"github.com/agalue/ember/internal/core"
	"github.com/agalue/ember/internal/kws"
	"github.com/agalue/ember/internal/models"
)

// fakeResolver stands in for *audio.Registry's Resolve method so
// DeviceLost's output-fallback path can be exercised without a live malgo
// context.
type fakeResolver struct {
	result core.DeviceId
	err    error
}

func (f *fakeResolver) Resolve(kind malgo.DeviceType, preferredName string, stableID core.DeviceId) (core.DeviceId, error) {
	return f.result, f.err
}

// recordingSink collects emitted events for assertions, mirroring the
// internal/models test fake.
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
	tw.Close()
	gz.Close()
	sum := sha256.Sum256(buf.Bytes())
	return buf.Bytes(), hex.EncodeToString(sum[:])
}

func mustHost(t *testing.T, rawURL string) string {
	t.Helper()
	u, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	return u.Hostname()
}

// newTestSupervisor builds a Supervisor with no bound audio pipeline (its
// audio fields are left zero), suitable for exercising the KWS hot-swap and
// re-entrancy logic that never touches a real malgo device.
func newTestSupervisor(t *testing.T, modelsManager *models.Manager, neuralFactory NeuralFactory) (*Supervisor, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	arbiter := kws.NewArbiter(sink)
	worker := kws.NewStubWorker("hey ember")
	worker.BindArbiter(arbiter)
	s := &Supervisor{
		cfg: Config{
			ModelsManager: modelsManager,
			Sink:          sink,
			Logger:        log.New(os.Stderr, "", 0),
			NeuralFactory: neuralFactory,
		},
		worker:     worker,
		arbiter:    arbiter,
		wakePhrase: "hey ember",
	}
	return s, sink
}

func newTestModelsManager(t *testing.T) (*models.Manager, string) {
	t.Helper()
	archive, sha := buildTarGz(t, "hello wakeword")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	t.Cleanup(srv.Close)

	registryPath := srv.URL + "/hey-ember.tar.gz"

	body := `{"hey-ember":{"url":"` + registryPath + `","sha256":"` + sha + `","size":1,"language":"en","wake_phrase":"hey ember"}}`
	regFile := t.TempDir() + "/registry.json"
	if err := os.WriteFile(regFile, []byte(body), 0o644); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	realRegistry := models.NewRegistry(regFile)
	realRegistry.SetAllowedHosts([]string{mustHost(t, registryPath)})
	if err := realRegistry.Load(); err != nil {
		t.Fatalf("Load registry: %v", err)
	}

	modelsDir := t.TempDir()
	m := models.NewManager(realRegistry, modelsDir, &recordingSink{}, log.New(os.Stderr, "", 0))
	return m, modelsDir
}

func TestReentrancyGuardBlocksConcurrentRestart(t *testing.T) {
	s, sink := newTestSupervisor(t, nil, nil)

	if !s.beginRestart() {
		t.Fatal("expected first beginRestart to succeed")
	}
	if s.beginRestart() {
		t.Fatal("expected concurrent beginRestart to be blocked")
	}
	if !sink.has(core.EventAudioRestartBlocked) {
		t.Fatal("expected restart_blocked event on the blocked attempt")
	}

	s.endRestart()
	if !s.beginRestart() {
		t.Fatal("expected beginRestart to succeed again once the guard is released")
	}
}

func TestEnableKWSSwapsToNeuralWorkerAndEmitsEnabled(t *testing.T) {
	mgr, _ := newTestModelsManager(t)
	var built string
	factory := func(modelID, wakePhrase string) (kws.Worker, error) {
		built = modelID
		return kws.NewStubWorker(wakePhrase), nil
	}
	s, sink := newTestSupervisor(t, mgr, factory)

	if err := s.EnableKWS(context.Background(), "hey-ember"); err != nil {
		t.Fatalf("EnableKWS: %v", err)
	}
	if built != "hey-ember" {
		t.Fatalf("expected neural factory invoked with hey-ember, got %q", built)
	}
	if !sink.has(core.EventKwsEnabled) {
		t.Fatal("expected kws:enabled event")
	}
	if s.Status().ModelID != "hey-ember" {
		t.Fatalf("expected status model id hey-ember, got %q", s.Status().ModelID)
	}
}

func TestEnableKWSDegradesWhenFactoryFails(t *testing.T) {
	mgr, _ := newTestModelsManager(t)
	factory := func(modelID, wakePhrase string) (kws.Worker, error) {
		return nil, core.NewError(core.CodeVocabMismatch, "vocab mismatch")
	}
	s, sink := newTestSupervisor(t, mgr, factory)

	if err := s.EnableKWS(context.Background(), "hey-ember"); err == nil {
		t.Fatal("expected EnableKWS to surface the factory error")
	}
	if !sink.has(core.EventKwsDegraded) {
		t.Fatal("expected kws:degraded event on factory failure")
	}
	if s.Status().Mode != core.KwsModeStub {
		t.Fatalf("expected worker to remain on the Stub variant, got %v", s.Status().Mode)
	}
}

func TestDisableKWSSwapsBackToStub(t *testing.T) {
	mgr, _ := newTestModelsManager(t)
	factory := func(modelID, wakePhrase string) (kws.Worker, error) {
		return kws.NewStubWorker(wakePhrase), nil
	}
	s, sink := newTestSupervisor(t, mgr, factory)

	if err := s.EnableKWS(context.Background(), "hey-ember"); err != nil {
		t.Fatalf("EnableKWS: %v", err)
	}
	if err := s.DisableKWS(); err != nil {
		t.Fatalf("DisableKWS: %v", err)
	}
	if s.Status().Mode != core.KwsModeStub {
		t.Fatalf("expected Stub mode after DisableKWS, got %v", s.Status().Mode)
	}
	if !sink.has(core.EventKwsDisabled) {
		t.Fatal("expected kws:disabled event")
	}
}

// neuralModeWorker is a StubWorker that reports the Neural mode, standing in
// for a real Neural worker where only the reported mode matters.
type neuralModeWorker struct{ *kws.StubWorker }

func (neuralModeWorker) Mode() core.KwsMode { return core.KwsModeNeural }

func TestArbiterStateSurvivesStubToNeuralSwap(t *testing.T) {
	mgr, _ := newTestModelsManager(t)
	factory := func(modelID, wakePhrase string) (kws.Worker, error) {
		return neuralModeWorker{kws.NewStubWorker(wakePhrase)}, nil
	}
	s, _ := newTestSupervisor(t, mgr, factory)

	s.ArmTestWindow(60_000)
	if !s.arbiter.TestWindowArmed() {
		t.Fatal("expected test window to be armed before the swap")
	}

	if err := s.EnableKWS(context.Background(), "hey-ember"); err != nil {
		t.Fatalf("EnableKWS: %v", err)
	}
	if s.Status().Mode != core.KwsModeNeural {
		t.Fatalf("expected Neural mode after EnableKWS, got %v", s.Status().Mode)
	}
	if !s.arbiter.TestWindowArmed() {
		t.Fatal("expected test-window arming to survive the Stub->Neural swap")
	}

	if err := s.DisableKWS(); err != nil {
		t.Fatalf("DisableKWS: %v", err)
	}
	if !s.arbiter.TestWindowArmed() {
		t.Fatal("expected test-window arming to survive the Neural->Stub swap")
	}
}

func TestSetSensitivityDelegatesToCurrentWorker(t *testing.T) {
	s, _ := newTestSupervisor(t, nil, nil)
	sens, err := core.ParseSensitivity("high")
	if err != nil {
		t.Fatalf("ParseSensitivity: %v", err)
	}
	s.SetSensitivity(sens)
	if !s.arbiter.Submit(kws.Detection{Keyword: "hey ember", Score: 0.55}) {
		t.Fatal("expected the High preset's 0.50 score threshold to reach the worker's arbiter")
	}
}

func TestAudioStatusReportsDevicesWithoutCapturerRunning(t *testing.T) {
	s, _ := newTestSupervisor(t, nil, nil)
	in := core.DeviceId{HostAPI: "alsa", Index: 0, Name: "Mic"}
	out := core.DeviceId{HostAPI: "alsa", Index: 1, Name: "Speaker"}
	s.inputID = in
	s.outputID = out

	status := s.AudioStatus()
	if status.CaptureRunning {
		t.Fatal("expected CaptureRunning false with no capturer installed")
	}
	if status.Input != in || status.Output != out {
		t.Fatalf("expected status to report configured devices, got %+v", status)
	}
}

func TestDeviceLostFallsBackToNewOutputDevice(t *testing.T) {
	s, sink := newTestSupervisor(t, nil, nil)
	s.player = &audio.Player{}
	newDevice := core.DeviceId{HostAPI: "alsa", Index: 2, Name: "Fallback Speaker"}
	s.cfg.Registry = &fakeResolver{result: newDevice}
	previous := core.DeviceId{HostAPI: "alsa", Index: 1, Name: "Unplugged Speaker"}

	s.DeviceLost(core.DeviceOutput, previous)

	if !sink.has(core.EventAudioDeviceLost) {
		t.Fatal("expected audio:device_lost event")
	}
	if !sink.has(core.EventAudioDeviceFallbackOK) {
		t.Fatal("expected audio:device_fallback_ok event on successful fallback")
	}
	if s.AudioStatus().Output != newDevice {
		t.Fatalf("expected output device rebound to %+v, got %+v", newDevice, s.AudioStatus().Output)
	}
}

func TestDeviceLostReportsFallbackFailureWhenNoOutputDeviceResolves(t *testing.T) {
	s, sink := newTestSupervisor(t, nil, nil)
	s.player = &audio.Player{}
	s.cfg.Registry = &fakeResolver{err: core.NewError(core.CodeNoDevice, "no devices available")}
	previous := core.DeviceId{HostAPI: "alsa", Index: 1, Name: "Unplugged Speaker"}

	s.DeviceLost(core.DeviceOutput, previous)

	if !sink.has(core.EventAudioDeviceLost) {
		t.Fatal("expected audio:device_lost event")
	}
	if !sink.has(core.EventAudioDeviceFallbackFail) {
		t.Fatal("expected audio:device_fallback_failed event when no replacement device resolves")
	}
	if sink.has(core.EventAudioDeviceFallbackOK) {
		t.Fatal("did not expect a fallback_ok event alongside the failure")
	}
}

func TestStartMicMonitorGuardsAgainstFeedbackRisk(t *testing.T) {
	s, sink := newTestSupervisor(t, nil, nil)
	same := core.DeviceId{HostAPI: "alsa", Index: 0, Name: "Built-in Audio"}
	s.inputID = same
	s.outputID = same

	if err := s.StartMicMonitor(); err == nil {
		t.Fatal("expected feedback-risk guard to reject identical input/output devices")
	}
	if !sink.has(core.EventAudioMonitorGuarded) {
		t.Fatal("expected monitor_guarded event")
	}
}

func TestMaybeRestoreMonitorGuardsAfterRestartWhenDevicesCollapse(t *testing.T) {
	s, sink := newTestSupervisor(t, nil, nil)
	same := core.DeviceId{HostAPI: "alsa", Index: 0, Name: "Built-in Audio"}
	s.monitorWasOn = true
	s.inputID = same
	s.outputID = same

	s.maybeRestoreMonitor()

	if !sink.has(core.EventAudioMonitorGuarded) {
		t.Fatal("expected monitor_guarded event when restart collapses input/output to the same device")
	}
	if s.monitorWasOn {
		t.Fatal("expected monitorWasOn to be cleared once guarded")
	}
}
