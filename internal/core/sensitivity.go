package core

import (
	"fmt"
	"strings"
)

// SensitivityPreset is one of the three normative detection-arbiter
// presets (spec §4.5).
type SensitivityPreset string

const (
	SensitivityLow      SensitivityPreset = "Low"
	SensitivityBalanced SensitivityPreset = "Balanced"
	SensitivityHigh     SensitivityPreset = "High"
)

// Thresholds is the (score_threshold, endpoint_ms) pair a preset maps to.
type Thresholds struct {
	ScoreThreshold float64
	EndpointMs     int
}

// presetThresholds is the normative table from spec §4.5.
var presetThresholds = map[SensitivityPreset]Thresholds{
	SensitivityLow:      {ScoreThreshold: 0.70, EndpointMs: 350},
	SensitivityBalanced: {ScoreThreshold: 0.60, EndpointMs: 300},
	SensitivityHigh:     {ScoreThreshold: 0.50, EndpointMs: 250},
}

// ThresholdsFor resolves a preset to its (score_threshold, endpoint_ms) pair.
func ThresholdsFor(p SensitivityPreset) (Thresholds, bool) {
	t, ok := presetThresholds[p]
	return t, ok
}

// Sensitivity is the resolved setting `kws_set_sensitivity` accepts: either
// one of the three presets, or a custom numeric score threshold in
// [0.0, 1.0] (spec §6 command surface: "0.0-1.0 or enum Low/Balanced/High").
type Sensitivity struct {
	Preset     SensitivityPreset // empty if Custom is set
	Custom     float64
	IsCustom   bool
}

// Resolve returns the Thresholds this Sensitivity should use. A custom
// numeric value uses the Balanced preset's endpoint_ms (the spec does not
// define an endpoint_ms for arbitrary numeric thresholds).
func (s Sensitivity) Resolve() Thresholds {
	if s.IsCustom {
		return Thresholds{ScoreThreshold: s.Custom, EndpointMs: presetThresholds[SensitivityBalanced].EndpointMs}
	}
	t, ok := presetThresholds[s.Preset]
	if !ok {
		return presetThresholds[SensitivityBalanced]
	}
	return t
}

// ParseSensitivity accepts either a preset name (case-insensitive) or a
// numeric string in [0.0, 1.0].
func ParseSensitivity(s string) (Sensitivity, error) {
	switch strings.ToLower(s) {
	case "low":
		return Sensitivity{Preset: SensitivityLow}, nil
	case "balanced":
		return Sensitivity{Preset: SensitivityBalanced}, nil
	case "high":
		return Sensitivity{Preset: SensitivityHigh}, nil
	}
	var f float64
	if _, err := fmt.Sscanf(s, "%g", &f); err != nil {
		return Sensitivity{}, NewError(CodeInvalidSensitivity, "sensitivity must be a preset name or a number in [0.0, 1.0]").WithField("sensitivity", s)
	}
	if f < 0.0 || f > 1.0 {
		return Sensitivity{}, NewError(CodeInvalidSensitivity, "sensitivity out of range [0.0, 1.0]").WithField("sensitivity", s)
	}
	return Sensitivity{Custom: f, IsCustom: true}, nil
}
