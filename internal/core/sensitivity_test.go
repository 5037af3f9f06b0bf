package core

import "testing"

func TestThresholdsForPresets(t *testing.T) {
	cases := []struct {
		preset     SensitivityPreset
		wantScore  float64
		wantEndpt  int
	}{
		{SensitivityLow, 0.70, 350},
		{SensitivityBalanced, 0.60, 300},
		{SensitivityHigh, 0.50, 250},
	}
	for _, c := range cases {
		th, ok := ThresholdsFor(c.preset)
		if !ok {
			t.Fatalf("preset %q not found", c.preset)
		}
		if th.ScoreThreshold != c.wantScore || th.EndpointMs != c.wantEndpt {
			t.Fatalf("preset %q: got %+v, want {%v %v}", c.preset, th, c.wantScore, c.wantEndpt)
		}
	}
}

func TestParseSensitivityCustomRange(t *testing.T) {
	if _, err := ParseSensitivity("1.5"); err == nil {
		t.Fatal("expected rejection of out-of-range custom sensitivity")
	}
	s, err := ParseSensitivity("0.42")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !s.IsCustom || s.Custom != 0.42 {
		t.Fatalf("expected custom sensitivity 0.42, got %+v", s)
	}
}

func TestParseSensitivityPresetCaseInsensitive(t *testing.T) {
	s, err := ParseSensitivity("balanced")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Preset != SensitivityBalanced {
		t.Fatalf("expected Balanced preset, got %+v", s)
	}
}

func TestDeviceIdEquality(t *testing.T) {
	a := DeviceId{HostAPI: "alsa", Index: 0, Name: "USB Mic"}
	b := DeviceId{HostAPI: "alsa", Index: 0, Name: "USB Mic"}
	c := DeviceId{HostAPI: "alsa", Index: 1, Name: "USB Mic"}

	if !a.Equal(b) {
		t.Fatal("expected identical triples to be equal")
	}
	if a.Equal(c) {
		t.Fatal("expected differing index to break equality")
	}
}
