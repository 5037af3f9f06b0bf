// Package config provides configuration and CLI argument parsing for the
// wake-word engine. Reading config.toml itself is the embedding host's job
// (spec §1 scope); this package only turns flags, defaults, or a decoded
// map into a validated Config.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agalue/ember/internal/core"
	"github.com/agalue/ember/internal/models"
)

// Config holds every tunable setting of the wake-word engine core,
// populated from CLI flags, a decoded config.toml (via FromMap), or
// defaults. Field names mirror the spec §6 enumerated configuration keys.
type Config struct {
	// Storage roots
	DataDir   string // base dir for <data>/models, <data>/profiles
	ConfigDir string // base dir for config.toml (host-owned, read-only here)

	// audio.*
	SampleRateHz  int // fixed 16000 internally; capture may resample
	FrameMs       int
	HopMs         int
	AudioBufferMs uint32

	// kws.*
	KwsKeyword        string
	KwsScoreThreshold float64
	KwsRefractoryMs   int
	KwsEndpointMs     int
	KwsMaxActivePaths int
	KwsEnabled        bool
	KwsMode           core.KwsMode
	KwsModelID        string
	KwsSensitivity    string // "low" | "balanced" | "high" | a custom 0.0-1.0 string
	// KwsProvider selects the sherpa-onnx execution provider ("cpu",
	// "cuda", "coreml", ...). Empty means auto-detect via
	// sherpa.DefaultProvider() — the core never requires GPU, but a host
	// whose hardware has one may opt in.
	KwsProvider string

	// vad.*
	VadEnable bool
	VadMode   string

	// biometrics.*
	BiometricsEnrollUtterancesMin int
	BiometricsUtteranceMinMs      int
	BiometricsVerifyThreshold     float64
	BiometricsMaxVerifyMs         int

	// ui.*
	UIPersistMonitorState bool
	UIMonitorWasOn        bool

	// Model registry / allowlist
	ModelRegistryPath string
	ModelAllowedHosts []string

	// Debug
	Verbose bool
}

// DefaultConfig returns a configuration with sensible defaults (spec §6
// default values where the spec states one, otherwise the teacher's
// "$HOME/.<app>" convention for on-disk roots).
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".ember", "data")
	configDir := filepath.Join(homeDir, ".ember", "config")

	return &Config{
		DataDir:   dataDir,
		ConfigDir: configDir,

		SampleRateHz:  core.SampleRate,
		FrameMs:       core.FrameMs,
		HopMs:         core.HopMs,
		AudioBufferMs: 0, // 0 = 100ms, matches internal/audio.Player's Bluetooth-safe default

		KwsKeyword:        "hey ember",
		KwsScoreThreshold: 0.60,
		KwsRefractoryMs:   1200,
		KwsEndpointMs:     300,
		KwsMaxActivePaths: 4,
		KwsEnabled:        true,
		KwsMode:           core.KwsModeStub,
		KwsSensitivity:    "balanced",

		VadEnable: true,
		VadMode:   "energy",

		BiometricsEnrollUtterancesMin: 3,
		BiometricsUtteranceMinMs:      2000,
		BiometricsVerifyThreshold:     0.82,
		BiometricsMaxVerifyMs:         4000,

		UIPersistMonitorState: true,
		UIMonitorWasOn:        false,

		ModelRegistryPath: filepath.Join(dataDir, "models", "kws_registry.json"),
		ModelAllowedHosts: append([]string(nil), models.DefaultAllowedHosts...),

		Verbose: false,
	}
}

// ParseFlags parses command-line flags and returns a Config.
func ParseFlags() (*Config, error) {
	cfg := DefaultConfig()

	flag.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Base directory for installed models and voiceprints")
	flag.StringVar(&cfg.ConfigDir, "config-dir", cfg.ConfigDir, "Base directory for config.toml")

	flag.IntVar(&cfg.SampleRateHz, "sample-rate-hz", cfg.SampleRateHz, "Internal canonical sample rate")
	flag.IntVar(&cfg.FrameMs, "frame-ms", cfg.FrameMs, "Frame size in milliseconds")
	flag.IntVar(&cfg.HopMs, "hop-ms", cfg.HopMs, "Frame hop size in milliseconds")
	audioBufferMs := flag.Uint("audio-buffer-ms", uint(cfg.AudioBufferMs), "Audio buffer size in ms (0 = default 100ms)")

	flag.StringVar(&cfg.KwsKeyword, "kws-keyword", cfg.KwsKeyword, "Wake phrase")
	flag.Float64Var(&cfg.KwsScoreThreshold, "kws-score-threshold", cfg.KwsScoreThreshold, "Detection score threshold (0.0-1.0)")
	flag.IntVar(&cfg.KwsRefractoryMs, "kws-refractory-ms", cfg.KwsRefractoryMs, "Post-detection dead time in milliseconds")
	flag.IntVar(&cfg.KwsEndpointMs, "kws-endpoint-ms", cfg.KwsEndpointMs, "Endpoint silence duration in milliseconds")
	flag.IntVar(&cfg.KwsMaxActivePaths, "kws-max-active-paths", cfg.KwsMaxActivePaths, "Beam search max active paths for the Neural variant")
	flag.BoolVar(&cfg.KwsEnabled, "kws-enabled", cfg.KwsEnabled, "Whether KWS is active on startup")
	var kwsModeStr string
	flag.StringVar(&kwsModeStr, "kws-mode", string(cfg.KwsMode), "KWS variant: 'stub' or 'real'")
	flag.StringVar(&cfg.KwsModelID, "kws-model-id", cfg.KwsModelID, "Model registry id to load for the Neural variant")
	flag.StringVar(&cfg.KwsSensitivity, "kws-sensitivity", cfg.KwsSensitivity, "Sensitivity preset: low, balanced, high, or a custom 0.0-1.0 value")
	flag.StringVar(&cfg.KwsProvider, "kws-provider", cfg.KwsProvider, "sherpa-onnx execution provider override (cpu, cuda, coreml); empty auto-detects")

	flag.BoolVar(&cfg.VadEnable, "vad-enable", cfg.VadEnable, "Gate KWS inference behind voice activity detection")
	flag.StringVar(&cfg.VadMode, "vad-mode", cfg.VadMode, "VAD implementation to use")

	flag.IntVar(&cfg.BiometricsEnrollUtterancesMin, "biometrics-enroll-utterances-min", cfg.BiometricsEnrollUtterancesMin, "Minimum utterances required to finalize enrollment")
	flag.IntVar(&cfg.BiometricsUtteranceMinMs, "biometrics-utterance-min-ms", cfg.BiometricsUtteranceMinMs, "Minimum per-utterance duration in milliseconds")
	flag.Float64Var(&cfg.BiometricsVerifyThreshold, "biometrics-verify-threshold", cfg.BiometricsVerifyThreshold, "Cosine similarity threshold for speaker verification")
	flag.IntVar(&cfg.BiometricsMaxVerifyMs, "biometrics-max-verify-ms", cfg.BiometricsMaxVerifyMs, "Maximum sample duration considered during verification")

	flag.BoolVar(&cfg.UIPersistMonitorState, "ui-persist-monitor-state", cfg.UIPersistMonitorState, "Persist mic-monitor on/off across restarts")
	flag.BoolVar(&cfg.UIMonitorWasOn, "ui-monitor-was-on", cfg.UIMonitorWasOn, "Whether mic-monitor was on the last time state was persisted")

	flag.StringVar(&cfg.ModelRegistryPath, "model-registry", cfg.ModelRegistryPath, "Path to the model registry JSON file")

	flag.BoolVar(&cfg.Verbose, "verbose", cfg.Verbose, "Enable verbose logging")

	flag.Parse()

	cfg.AudioBufferMs = uint32(*audioBufferMs)
	if kwsModeStr != "" {
		cfg.KwsMode = core.KwsMode(kwsModeStr)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromMap builds a Config from a decoded config.toml (or any other
// key/value source the host parses itself), starting from DefaultConfig
// and overlaying only the keys present in m. Unknown keys are ignored so a
// host-added key never breaks this package.
func FromMap(m map[string]any) (*Config, error) {
	cfg := DefaultConfig()

	str := func(key string, dst *string) {
		if v, ok := m[key]; ok {
			if s, ok := v.(string); ok {
				*dst = s
			}
		}
	}
	b := func(key string, dst *bool) {
		if v, ok := m[key]; ok {
			if bv, ok := v.(bool); ok {
				*dst = bv
			}
		}
	}
	i := func(key string, dst *int) {
		if v, ok := m[key]; ok {
			switch n := v.(type) {
			case int:
				*dst = n
			case int64:
				*dst = int(n)
			case float64:
				*dst = int(n)
			}
		}
	}
	f := func(key string, dst *float64) {
		if v, ok := m[key]; ok {
			switch n := v.(type) {
			case float64:
				*dst = n
			case int:
				*dst = float64(n)
			}
		}
	}

	str("data_dir", &cfg.DataDir)
	str("config_dir", &cfg.ConfigDir)

	i("audio.sample_rate_hz", &cfg.SampleRateHz)
	i("audio.frame_ms", &cfg.FrameMs)
	i("audio.hop_ms", &cfg.HopMs)

	str("kws.keyword", &cfg.KwsKeyword)
	f("kws.score_threshold", &cfg.KwsScoreThreshold)
	i("kws.refractory_ms", &cfg.KwsRefractoryMs)
	i("kws.endpoint_ms", &cfg.KwsEndpointMs)
	i("kws.max_active_paths", &cfg.KwsMaxActivePaths)
	b("kws.enabled", &cfg.KwsEnabled)
	var kwsMode string
	str("kws.mode", &kwsMode)
	if kwsMode != "" {
		cfg.KwsMode = core.KwsMode(kwsMode)
	}
	str("kws.model_id", &cfg.KwsModelID)
	str("kws.provider", &cfg.KwsProvider)

	b("vad.enable", &cfg.VadEnable)
	str("vad.mode", &cfg.VadMode)

	i("biometrics.enroll_utterances_min", &cfg.BiometricsEnrollUtterancesMin)
	i("biometrics.utterance_min_ms", &cfg.BiometricsUtteranceMinMs)
	f("biometrics.verify_threshold", &cfg.BiometricsVerifyThreshold)
	i("biometrics.max_verify_ms", &cfg.BiometricsMaxVerifyMs)

	b("ui.persist_monitor_state", &cfg.UIPersistMonitorState)
	b("ui.monitor_was_on", &cfg.UIMonitorWasOn)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := core.ParseSensitivity(c.KwsSensitivity); err != nil {
		return fmt.Errorf("invalid kws.sensitivity: %w", err)
	}
	if c.KwsMode != core.KwsModeStub && c.KwsMode != core.KwsModeNeural {
		return fmt.Errorf("invalid kws.mode %q: must be %q or %q", c.KwsMode, core.KwsModeStub, core.KwsModeNeural)
	}
	if c.BiometricsVerifyThreshold < 0 || c.BiometricsVerifyThreshold > 1 {
		return fmt.Errorf("biometrics.verify_threshold must be between 0.0 and 1.0, got %f", c.BiometricsVerifyThreshold)
	}
	return nil
}

// ModelsDir returns the directory installed models are extracted into.
func (c *Config) ModelsDir() string {
	return filepath.Join(c.DataDir, "models")
}

// ProfilesDir returns the directory voiceprints and the store's key file
// live in.
func (c *Config) ProfilesDir() string {
	return filepath.Join(c.DataDir, "profiles")
}
