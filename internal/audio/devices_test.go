package audio

import (
	"strings"
	"testing"

	"github.com/gen2brain/malgo"

	"github.com/agalue/ember/internal/core"
)

func TestResolvePrefersStableID(t *testing.T) {
	present := []core.DeviceId{
		{HostAPI: "alsa", Index: 0, Name: "Built-in Mic"},
		{HostAPI: "alsa", Index: 1, Name: "USB Mic"},
	}
	resolved, ok := resolveFrom(present, "Built-in Mic", present[1])
	if !ok || !resolved.Equal(present[1]) {
		t.Fatalf("expected stable id match to win, got %+v ok=%v", resolved, ok)
	}
}

func TestResolveFallsBackToPreferredName(t *testing.T) {
	present := []core.DeviceId{
		{HostAPI: "alsa", Index: 0, Name: "Built-in Mic"},
		{HostAPI: "alsa", Index: 1, Name: "USB Mic"},
	}
	stale := core.DeviceId{HostAPI: "alsa", Index: 9, Name: "Unplugged Headset"}
	resolved, ok := resolveFrom(present, "USB Mic", stale)
	if !ok || !resolved.Equal(present[1]) {
		t.Fatalf("expected preferred-name fallback, got %+v ok=%v", resolved, ok)
	}
}

func TestResolveFallsBackToDefaultWhenNothingMatches(t *testing.T) {
	present := []core.DeviceId{
		{HostAPI: "alsa", Index: 0, Name: "Built-in Mic"},
	}
	stale := core.DeviceId{HostAPI: "alsa", Index: 9, Name: "Unplugged Headset"}
	_, ok := resolveFrom(present, "Also Gone", stale)
	if ok {
		t.Fatal("expected no match, caller should fall back to default")
	}
}

// resolveFrom mirrors Registry.Resolve's matching rules without requiring a
// live malgo context, so the stable-id/preferred-name/default precedence
// (spec §4.1) can be unit tested directly.
func resolveFrom(present []core.DeviceId, preferredName string, stableID core.DeviceId) (core.DeviceId, bool) {
	if !stableID.IsZero() {
		for _, d := range present {
			if d.Equal(stableID) {
				return d, true
			}
		}
	}
	if preferredName != "" {
		for _, d := range present {
			if strings.EqualFold(d.Name, preferredName) {
				return d, true
			}
		}
	}
	return core.DeviceId{}, false
}

func TestNewLossWatcherDefaultsInterval(t *testing.T) {
	w := NewLossWatcher(&Registry{}, malgo.Capture, 0)
	if w.interval <= 0 {
		t.Fatalf("expected a positive default interval, got %v", w.interval)
	}
}
