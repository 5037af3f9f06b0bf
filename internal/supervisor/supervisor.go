// Package supervisor implements the Runtime Supervisor (spec §4.9): the
// only component allowed to mutate the current audio/KWS pipeline. It
// serializes restarts, hot-swaps KWS variants, and guards mic-monitor
// feedback risk.
package supervisor

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/audio"
	"github.com/agalue/ember/internal/core"
	"github.com/agalue/ember/internal/kws"
	"github.com/agalue/ember/internal/models"
)

// NeuralFactory builds a Neural KWS worker for modelID/wakePhrase, reading
// whatever encoder/decoder/joiner/tokens files the Model Manager installed
// under the models directory. It is injected so this package never links
// the real sherpa-onnx session directly — the same capability-trait
// discipline internal/kws uses for its own tests.
type NeuralFactory func(modelID, wakePhrase string) (kws.Worker, error)

// deviceResolver is the one capability Supervisor needs from audio.Registry
// (spec §4.1's startup/fallback resolution rule). Extracted as an interface
// — the same capability-trait discipline internal/kws's spotter and
// internal/biometrics' Extractor use for native bindings — so device-loss
// fallback (DeviceLost) can be exercised in tests without a live malgo
// context. *audio.Registry satisfies it unmodified.
type deviceResolver interface {
	Resolve(kind malgo.DeviceType, preferredName string, stableID core.DeviceId) (core.DeviceId, error)
}

// Config bundles everything the Supervisor needs to construct its pipeline.
type Config struct {
	Ctx           *malgo.AllocatedContext
	Registry      deviceResolver
	ModelsManager *models.Manager
	Sink          core.Sink
	Logger        *log.Logger
	SampleRate    int
	BufferMs      uint32
	NeuralFactory NeuralFactory
	VADEnabled    bool
	VADEnter      float64
	VADExit       float64
}

// Supervisor owns the live pipeline: capture stream, VAD gate, KWS worker,
// and playback device. Every mutation of that pipeline goes through one of
// its exported methods; RestartCapture runs under the restart re-entrancy
// guard (spec §4.9), the other methods do not take that guard.
type Supervisor struct {
	cfg Config

	restarting atomic.Bool

	mu       sync.Mutex
	capturer *audio.Capturer
	player   *audio.Player
	gate     kws.Gate
	worker   kws.Worker
	arbiter  *kws.Arbiter

	inputID          core.DeviceId
	outputID         core.DeviceId
	preferredInput   string
	preferredOutput  string
	wakePhrase       string
	currentModelID   string
	monitorWasOn     bool
	monitorRequested bool
}

// New creates a Supervisor with a Stub KWS worker and no bound capture
// device; call RestartCapture to bind and start the pipeline.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = core.SampleRate
	}

	player, err := audio.NewPlayer(cfg.Ctx, cfg.BufferMs, cfg.Logger)
	if err != nil {
		return nil, err
	}

	var gate kws.Gate = kws.NoopGate{}
	if cfg.VADEnabled {
		gate = kws.NewEnergyGate(cfg.VADEnter, cfg.VADExit)
	}

	arbiter := kws.NewArbiter(cfg.Sink)
	worker := kws.NewStubWorker("hey ember")
	worker.BindArbiter(arbiter)
	if err := worker.Start(cfg.Sink); err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:        cfg,
		player:     player,
		gate:       gate,
		worker:     worker,
		arbiter:    arbiter,
		wakePhrase: "hey ember",
	}
	return s, nil
}

// beginRestart enforces the re-entrancy guard. It returns false (and emits
// restart_blocked) if a restart is already in flight.
func (s *Supervisor) beginRestart() bool {
	if !s.restarting.CompareAndSwap(false, true) {
		s.emit(core.EventAudioRestartBlocked, nil)
		return false
	}
	return true
}

func (s *Supervisor) endRestart() {
	s.restarting.Store(false)
}

func (s *Supervisor) emit(name core.EventName, payload any) {
	s.cfg.Sink.Emit(core.Event{Name: name, Payload: payload})
}

// onFrame is the Capture Worker's per-frame callback: gate, then feed the
// current KWS worker (spec §4.3: "Feed delivers one frame already past the
// VAD gate").
func (s *Supervisor) onFrame(f core.Frame) {
	s.mu.Lock()
	gate, worker := s.gate, s.worker
	s.mu.Unlock()

	if !gate.Classify(f) {
		return
	}
	worker.Feed(f)
}

func (s *Supervisor) onCaptureError(err *core.Error) {
	s.emit(core.EventAudioError, core.PayloadAudioError{Code: err.Code, Message: err.Message, Field: err.Field, Value: err.Value})
}

// RestartCapture tears down the current capture session and builds a new
// one bound to deviceID (or the resolved default/preferred device if
// deviceID is the zero value), per spec §4.9.
func (s *Supervisor) RestartCapture(deviceID core.DeviceId, preferredName string) core.RestartReport {
	if !s.beginRestart() {
		return core.RestartReport{OK: false, Reason: string(core.CodeInProgress)}
	}
	defer s.endRestart()

	start := time.Now()

	s.mu.Lock()
	if s.capturer != nil {
		s.capturer.Stop()
	}
	s.mu.Unlock()

	resolved, err := s.cfg.Registry.Resolve(malgo.Capture, preferredName, deviceID)
	if err != nil {
		s.emit(core.EventAudioDeviceFallbackFail, core.PayloadDeviceFallbackFailed{Kind: core.DeviceInput, Reason: err.Error()})
		return core.RestartReport{OK: false, Reason: err.Error()}
	}

	capturer := audio.NewCapturer(s.cfg.Ctx, audio.Config{
		SampleRate: s.cfg.SampleRate,
		OnFrame:    s.onFrame,
		OnError:    s.onCaptureError,
		Logger:     s.cfg.Logger,
	})
	if err := capturer.Start(resolved); err != nil {
		s.emit(core.EventAudioDeviceFallbackFail, core.PayloadDeviceFallbackFailed{Kind: core.DeviceInput, Reason: err.Error()})
		return core.RestartReport{OK: false, Device: resolved.String(), Reason: err.Error()}
	}

	s.mu.Lock()
	s.capturer = capturer
	s.inputID = resolved
	s.preferredInput = preferredName
	s.mu.Unlock()

	elapsed := time.Since(start).Milliseconds()
	s.emit(core.EventAudioRestartOK, core.PayloadRestartOK{Device: resolved.String(), ElapsedMs: elapsed})
	s.maybeRestoreMonitor()
	return core.RestartReport{OK: true, Device: resolved.String(), ElapsedMs: elapsed}
}

// BindOutput resolves and binds the playback device (for test tones and
// mic-monitor), independent of capture.
func (s *Supervisor) BindOutput(deviceID core.DeviceId, preferredName string) error {
	resolved, err := s.cfg.Registry.Resolve(malgo.Playback, preferredName, deviceID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.player.Bind(resolved)
	s.outputID = resolved
	s.preferredOutput = preferredName
	s.mu.Unlock()
	return nil
}

// EnableKWS ensures modelID is installed and verified, then hot-swaps to a
// Neural KWS worker for it. If the Neural worker fails to initialize, the
// Supervisor stays on its current worker, emits kws:degraded, and returns
// the error to the caller (spec §4.4.3's non-fatal degradation rule).
func (s *Supervisor) EnableKWS(ctx context.Context, modelID string) error {
	entry, err := s.cfg.ModelsManager.RegistryEntry(modelID)
	if err != nil {
		return err
	}

	if err := s.cfg.ModelsManager.Enable(ctx, modelID); err != nil {
		return err
	}

	if s.cfg.NeuralFactory == nil {
		s.emit(core.EventKwsDegraded, core.PayloadDegraded{Reason: core.CodeModelMissing})
		return core.NewError(core.CodeModelMissing, "no neural worker factory configured")
	}

	worker, err := s.cfg.NeuralFactory(modelID, entry.WakePhrase)
	if err != nil {
		s.emit(core.EventKwsDegraded, core.PayloadDegraded{Reason: core.CodeVocabMismatch})
		return err
	}

	s.mu.Lock()
	arbiter := s.arbiter
	s.mu.Unlock()
	worker.BindArbiter(arbiter)

	if err := worker.Start(s.cfg.Sink); err != nil {
		s.emit(core.EventKwsDegraded, core.PayloadDegraded{Reason: core.CodeUnknown})
		return err
	}

	s.swapWorker(worker, entry.WakePhrase, modelID)
	s.emit(core.EventKwsEnabled, core.PayloadModelID{ModelID: modelID})
	return nil
}

// DisableKWS hot-swaps back to the Stub worker, keeping the current wake
// phrase.
func (s *Supervisor) DisableKWS() error {
	worker := kws.NewStubWorker(s.wakePhrase)

	s.mu.Lock()
	arbiter := s.arbiter
	s.mu.Unlock()
	worker.BindArbiter(arbiter)

	if err := worker.Start(s.cfg.Sink); err != nil {
		return err
	}
	s.swapWorker(worker, s.wakePhrase, "")
	s.emit(core.EventKwsDisabled, nil)
	return nil
}

func (s *Supervisor) swapWorker(worker kws.Worker, wakePhrase, modelID string) {
	s.mu.Lock()
	old := s.worker
	s.worker = worker
	s.wakePhrase = wakePhrase
	s.currentModelID = modelID
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// SetSensitivity updates the current KWS worker's detection thresholds.
func (s *Supervisor) SetSensitivity(sens core.Sensitivity) {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()
	worker.SetSensitivity(sens)
}

// ArmTestWindow arms a one-shot wake-test window on the current worker.
func (s *Supervisor) ArmTestWindow(durationMs int) {
	s.mu.Lock()
	worker := s.worker
	s.mu.Unlock()
	worker.ArmTestWindow(durationMs)
}

// Status reports the current KWS pipeline status (spec §3 KwsStatus).
func (s *Supervisor) Status() core.KwsStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.KwsStatus{
		Mode:       s.worker.Mode(),
		ModelID:    s.currentModelID,
		WakePhrase: s.wakePhrase,
		Enabled:    true,
	}
}

// AudioStatus returns current input/output DeviceId, capture running
// state, and the ring-buffer drop counter (spec §6 supplemented command
// surface audio_status()).
func (s *Supervisor) AudioStatus() core.AudioStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	status := core.AudioStatus{
		Input:  s.inputID,
		Output: s.outputID,
	}
	if s.capturer != nil {
		status.CaptureRunning = true
		status.DroppedFrames = s.capturer.DroppedFrames()
	}
	return status
}

// DeviceLost handles an input/output device disappearing mid-session:
// attempt fallback to the default device of the same kind, rebuild the
// pipeline on success, and conditionally restore mic-monitor state (spec
// §4.9).
func (s *Supervisor) DeviceLost(kind core.DeviceKind, previous core.DeviceId) {
	s.emit(core.EventAudioDeviceLost, core.PayloadDeviceLost{Kind: kind, Previous: previous})

	if kind == core.DeviceInput {
		report := s.RestartCapture(core.DeviceId{}, s.preferredInput)
		if report.OK {
			s.emit(core.EventAudioDeviceFallbackOK, core.PayloadDeviceFallbackOK{Kind: kind, NewDevice: report.Device})
		}
		return
	}

	if err := s.BindOutput(core.DeviceId{}, s.preferredOutput); err != nil {
		s.emit(core.EventAudioDeviceFallbackFail, core.PayloadDeviceFallbackFailed{Kind: kind, Reason: err.Error()})
		return
	}
	s.emit(core.EventAudioDeviceFallbackOK, core.PayloadDeviceFallbackOK{Kind: kind, NewDevice: s.outputID.String()})
	s.maybeRestoreMonitor()
}

// StartMicMonitor enables capture→playback loopback, unless doing so would
// risk audio feedback (resolved input and output devices are the same).
func (s *Supervisor) StartMicMonitor() error {
	s.mu.Lock()
	input, output := s.inputID, s.outputID
	s.mu.Unlock()

	if input.Equal(output) {
		s.emit(core.EventAudioMonitorGuarded, core.PayloadMonitorGuarded{Reason: string(core.CodeFeedbackRisk)})
		return core.NewError(core.CodeFeedbackRisk, "input and output resolve to the same device")
	}

	s.mu.Lock()
	s.monitorRequested = true
	s.monitorWasOn = true
	s.mu.Unlock()
	s.player.StartMonitor()
	return nil
}

// StopMicMonitor disables loopback.
func (s *Supervisor) StopMicMonitor() {
	s.mu.Lock()
	s.monitorRequested = false
	s.monitorWasOn = false
	s.mu.Unlock()
	s.player.StopMonitor()
}

// maybeRestoreMonitor re-enables mic-monitor after a restart only if it was
// on before and the newly resolved input/output devices still differ,
// otherwise it stays off and emits monitor_guarded (spec §4.9).
func (s *Supervisor) maybeRestoreMonitor() {
	s.mu.Lock()
	wasOn, input, output := s.monitorWasOn, s.inputID, s.outputID
	s.mu.Unlock()

	if !wasOn {
		return
	}
	if input.Equal(output) {
		s.emit(core.EventAudioMonitorGuarded, core.PayloadMonitorGuarded{Reason: string(core.CodeFeedbackRisk)})
		s.mu.Lock()
		s.monitorWasOn = false
		s.mu.Unlock()
		if s.player != nil {
			s.player.StopMonitor()
		}
		return
	}
	s.player.StartMonitor()
}

// Close tears down the pipeline.
func (s *Supervisor) Close() {
	s.mu.Lock()
	capturer := s.capturer
	worker := s.worker
	s.mu.Unlock()

	if capturer != nil {
		capturer.Stop()
	}
	if worker != nil {
		worker.Stop()
	}
	s.player.Close()
}
