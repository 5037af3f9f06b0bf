package config

import (
	"testing"

	"github.com/agalue/ember/internal/core"
)

func TestDefaultConfigPassesValidation(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
	if cfg.KwsMode != core.KwsModeStub {
		t.Fatalf("expected default mode to be stub, got %v", cfg.KwsMode)
	}
}

func TestFromMapOverlaysProvidedKeysOnly(t *testing.T) {
	cfg, err := FromMap(map[string]any{
		"kws.keyword":         "hey computer",
		"kws.score_threshold": 0.75,
		"vad.enable":          false,
		"biometrics.max_verify_ms": 5000,
	})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if cfg.KwsKeyword != "hey computer" {
		t.Fatalf("expected overlaid keyword, got %q", cfg.KwsKeyword)
	}
	if cfg.KwsScoreThreshold != 0.75 {
		t.Fatalf("expected overlaid score threshold, got %f", cfg.KwsScoreThreshold)
	}
	if cfg.VadEnable {
		t.Fatal("expected vad.enable to be overlaid to false")
	}
	if cfg.BiometricsMaxVerifyMs != 5000 {
		t.Fatalf("expected overlaid max verify ms, got %d", cfg.BiometricsMaxVerifyMs)
	}
	// Untouched keys keep their defaults.
	if cfg.BiometricsEnrollUtterancesMin != 3 {
		t.Fatalf("expected default enroll utterances min, got %d", cfg.BiometricsEnrollUtterancesMin)
	}
}

func TestFromMapRejectsInvalidVerifyThreshold(t *testing.T) {
	_, err := FromMap(map[string]any{"biometrics.verify_threshold": 1.5})
	if err == nil {
		t.Fatal("expected validation error for out-of-range verify threshold")
	}
}

func TestFromMapRejectsInvalidKwsMode(t *testing.T) {
	_, err := FromMap(map[string]any{"kws.mode": "turbo"})
	if err == nil {
		t.Fatal("expected validation error for unrecognized kws.mode")
	}
}

func TestFromMapIgnoresUnknownKeys(t *testing.T) {
	cfg, err := FromMap(map[string]any{"nonsense.key": "value"})
	if err != nil {
		t.Fatalf("expected unknown keys to be ignored, got %v", err)
	}
	if cfg.KwsKeyword != DefaultConfig().KwsKeyword {
		t.Fatalf("expected default keyword preserved, got %q", cfg.KwsKeyword)
	}
}

func TestModelsDirAndProfilesDirAreUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/ember-data"
	if cfg.ModelsDir() != "/tmp/ember-data/models" {
		t.Fatalf("unexpected models dir: %s", cfg.ModelsDir())
	}
	if cfg.ProfilesDir() != "/tmp/ember-data/profiles" {
		t.Fatalf("unexpected profiles dir: %s", cfg.ProfilesDir())
	}
}
