// Command emberd hosts the on-device wake-word engine core as a standalone
// process: it owns the malgo audio context, wires the Model Manager,
// Voiceprint Store, and Runtime Supervisor together, and logs every event
// the core emits until interrupted.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/audio"
	"github.com/agalue/ember/internal/config"
	"github.com/agalue/ember/internal/core"
	"github.com/agalue/ember/internal/kws"
	"github.com/agalue/ember/internal/models"
	"github.com/agalue/ember/internal/supervisor"
	"github.com/agalue/ember/internal/voiceprint"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	log.Printf("ember starting (data dir: %s)", cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		log.Fatalf("Failed to initialize audio context: %v", err)
	}
	defer func() {
		_ = malgoCtx.Uninit()
		malgoCtx.Free()
	}()

	if err := os.MkdirAll(cfg.ModelsDir(), 0o755); err != nil {
		log.Fatalf("Failed to create models directory: %v", err)
	}
	if err := os.MkdirAll(cfg.ProfilesDir(), 0o700); err != nil {
		log.Fatalf("Failed to create profiles directory: %v", err)
	}

	registry := models.NewRegistry(cfg.ModelRegistryPath)
	registry.SetAllowedHosts(cfg.ModelAllowedHosts)
	if err := registry.Load(); err != nil {
		log.Printf("No model registry loaded yet (%v); kws_enable will fail until one is installed", err)
	}

	sink, events := core.NewChanSink(64)

	modelsManager := models.NewManager(registry, cfg.ModelsDir(), sink, log.Default())

	voiceStore, err := voiceprint.NewStore(cfg.ProfilesDir())
	if err != nil {
		log.Fatalf("Failed to initialize voiceprint store: %v", err)
	}
	log.Printf("Voiceprint store ready (%d enrolled user(s))", voiceprintUserCount(voiceStore))

	deviceRegistry := audio.NewRegistry(malgoCtx)

	neuralFactory := func(modelID, wakePhrase string) (kws.Worker, error) {
		return kws.NewSherpaNeuralWorker(modelsManager.ModelDir(modelID), wakePhrase, cfg.KwsMaxActivePaths, cfg.KwsProvider)
	}

	sup, err := supervisor.New(supervisor.Config{
		Ctx:           malgoCtx,
		Registry:      deviceRegistry,
		ModelsManager: modelsManager,
		Sink:          sink,
		Logger:        log.Default(),
		SampleRate:    cfg.SampleRateHz,
		BufferMs:      cfg.AudioBufferMs,
		NeuralFactory: neuralFactory,
		VADEnabled:    cfg.VadEnable,
		VADEnter:      0.02,
		VADExit:       0.01,
	})
	if err != nil {
		log.Fatalf("Failed to initialize runtime supervisor: %v", err)
	}
	defer sup.Close()

	sens, err := core.ParseSensitivity(cfg.KwsSensitivity)
	if err != nil {
		log.Fatalf("Invalid sensitivity: %v", err)
	}
	sup.SetSensitivity(sens)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logEvents(ctx, events)
	}()

	if report := sup.RestartCapture(core.DeviceId{}, ""); !report.OK {
		log.Fatalf("Failed to start capture: %s", report.Reason)
	}
	if err := sup.BindOutput(core.DeviceId{}, ""); err != nil {
		log.Printf("Failed to bind output device: %v", err)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		watchDeviceLoss(ctx, sup, deviceRegistry, core.DeviceInput, malgo.Capture)
	}()
	go func() {
		defer wg.Done()
		watchDeviceLoss(ctx, sup, deviceRegistry, core.DeviceOutput, malgo.Playback)
	}()

	if cfg.KwsEnabled && cfg.KwsModelID != "" {
		if err := sup.EnableKWS(ctx, cfg.KwsModelID); err != nil {
			log.Printf("Neural KWS unavailable (%v), staying on Stub variant", err)
		}
	}

	log.Printf("Listening for %q (mode: %s)", cfg.KwsKeyword, sup.Status().Mode)

	<-sigChan
	log.Println("Shutting down...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Shutdown complete")
	case <-time.After(5 * time.Second):
		log.Println("Shutdown timeout, forcing exit")
	}
}

// logEvents drains the event sink until ctx is cancelled, mirroring the
// teacher's channel-draining goroutine shape.
func logEvents(ctx context.Context, events <-chan core.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			log.Printf("[event] %s %+v", e.Name, e.Payload)
		}
	}
}

// watchDeviceLoss runs the Device Watcher thread for one device kind (spec
// §5): it polls the currently-bound device's presence and, on loss, reports
// to the Runtime Supervisor, then re-arms against whatever device the
// Supervisor's fallback bound next. Returns once ctx is cancelled or no
// device of this kind is currently bound.
func watchDeviceLoss(ctx context.Context, sup *supervisor.Supervisor, registry *audio.Registry, kind core.DeviceKind, malgoKind malgo.DeviceType) {
	for {
		status := sup.AudioStatus()
		expected := status.Input
		if kind == core.DeviceOutput {
			expected = status.Output
		}
		if expected == (core.DeviceId{}) {
			return
		}

		watcher := audio.NewLossWatcher(registry, malgoKind, 0)
		stopped := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				watcher.Stop()
			case <-stopped:
			}
		}()

		lost := make(chan core.DeviceId, 1)
		watcher.Watch(expected, func(previous core.DeviceId) { lost <- previous })
		close(stopped)

		select {
		case previous := <-lost:
			sup.DeviceLost(kind, previous)
		default:
			return
		}

		if ctx.Err() != nil {
			return
		}
	}
}

func voiceprintUserCount(store *voiceprint.Store) int {
	users, err := store.List()
	if err != nil {
		return 0
	}
	return len(users)
}

func init() {
	log.SetFlags(log.Ltime)
	log.SetOutput(os.Stdout)
}
