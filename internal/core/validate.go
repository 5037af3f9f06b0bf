package core

import "strings"

// Validators are pure functions returning a tagged *Error; most have
// boundary-case unit tests in validate_test.go. Every
// command that accepts strings or numeric inputs must route through one of
// these before any side effect.

// ValidateDeviceName enforces the 1-256 char, no-control-char rule used by
// set_input_device/set_output_device (spec §6).
func ValidateDeviceName(name string) error {
	if len(name) < 1 || len(name) > 256 {
		return NewError(CodeInvalidDeviceName, "device name must be 1-256 characters").WithField("name", name)
	}
	for _, b := range []byte(name) {
		if b < 0x20 || b == 0x7F {
			return NewError(CodeInvalidDeviceName, "device name contains control characters").WithField("name", name)
		}
	}
	return nil
}

// ValidateFrequencyHz enforces the 50-4000 Hz range for play_test_tone.
func ValidateFrequencyHz(hz float64) error {
	if hz < 50 || hz > 4000 {
		return NewError(CodeInvalidFrequency, "frequency must be between 50 and 4000 Hz")
	}
	return nil
}

// ValidateDurationMs enforces the 10-5000 ms range for play_test_tone.
func ValidateDurationMs(ms float64) error {
	if ms < 10 || ms > 5000 {
		return NewError(CodeInvalidDuration, "duration must be between 10 and 5000 ms")
	}
	return nil
}

// ValidateTestWindowMs enforces the 100-60000 ms range for
// kws_arm_test_window.
func ValidateTestWindowMs(ms float64) error {
	if ms < 100 || ms > 60000 {
		return NewError(CodeInvalidDuration, "test window duration must be between 100 and 60000 ms")
	}
	return nil
}

// ValidateGain enforces the 0.0-0.5 range for start_mic_monitor.
func ValidateGain(gain float64) error {
	if gain < 0.0 || gain > 0.5 {
		return NewError(CodeInvalidGain, "gain must be between 0.0 and 0.5")
	}
	return nil
}

// ValidateThreshold enforces the 0.0-1.0 range for vad_set_threshold.
func ValidateThreshold(t float64) error {
	if t < 0.0 || t > 1.0 {
		return NewError(CodeInvalidThreshold, "threshold must be between 0.0 and 1.0")
	}
	return nil
}

// ValidateUserID enforces the 1-64 char, [A-Za-z0-9_-] rule for
// enroll_start/verify_speaker/profile operations.
func ValidateUserID(user string) error {
	if len(user) < 1 || len(user) > 64 {
		return NewError(CodeInvalidDeviceName, "user id must be 1-64 characters").WithField("user", user)
	}
	const allowed = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"
	for _, r := range user {
		if !strings.ContainsRune(allowed, r) {
			return NewError(CodeInvalidDeviceName, "user id must match [A-Za-z0-9_-]").WithField("user", user)
		}
	}
	return nil
}

// ValidateModelID enforces the 1-64 char, [A-Za-z0-9_-] rule for
// ModelRegistryEntry ids (spec §3).
func ValidateModelID(id string) error {
	if len(id) < 1 || len(id) > 64 {
		return NewError(CodeModelMissing, "model id must be 1-64 characters").WithField("model_id", id)
	}
	const allowed = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_-"
	for _, r := range id {
		if !strings.ContainsRune(allowed, r) {
			return NewError(CodeModelMissing, "model id must match [A-Za-z0-9_-]").WithField("model_id", id)
		}
	}
	return nil
}

// SimpleModeConstraints are the additional caps play_test_tone enforces in
// "simple mode" (spec §6: dur <= 300ms, vol <= 0.25).
const (
	SimpleModeMaxDurationMs = 300
	SimpleModeMaxVolume     = 0.25
)

// ValidateSimpleModeTestTone enforces the simple-mode caps in addition to
// the general frequency/duration ranges.
func ValidateSimpleModeTestTone(hz, durMs, vol float64) error {
	if err := ValidateFrequencyHz(hz); err != nil {
		return err
	}
	if err := ValidateDurationMs(durMs); err != nil {
		return err
	}
	if durMs > SimpleModeMaxDurationMs {
		return NewError(CodeInvalidDuration, "simple mode caps duration at 300ms")
	}
	if vol < 0 || vol > SimpleModeMaxVolume {
		return NewError(CodeInvalidGain, "simple mode caps volume at 0.25")
	}
	return nil
}
