package audio

import "testing"

func TestPlaybackRingPushPopOrder(t *testing.T) {
	rb := &playbackRing{}
	rb.push([]float32{1, 2, 3})

	for _, want := range []float32{1, 2, 3} {
		got, ok := rb.pop()
		if !ok || got != want {
			t.Fatalf("pop() = %v, %v, want %v, true", got, ok, want)
		}
	}
	if _, ok := rb.pop(); ok {
		t.Fatal("expected empty ring to report not-ok")
	}
}

func TestPlaybackRingClearDropsQueuedSamples(t *testing.T) {
	rb := &playbackRing{}
	rb.push([]float32{1, 2, 3})
	rb.clear()
	if !rb.isEmpty() {
		t.Fatal("expected clear to empty the ring")
	}
}

func TestSynthesizeToneLengthAndAmplitude(t *testing.T) {
	samples := synthesizeTone(440, 100, 0.2)
	wantLen := int(0.1 * float64(16000))
	if len(samples) != wantLen {
		t.Fatalf("expected %d samples for 100ms @ 16kHz, got %d", wantLen, len(samples))
	}
	for _, s := range samples {
		if s > 0.2001 || s < -0.2001 {
			t.Fatalf("sample %v exceeds requested gain 0.2", s)
		}
	}
}

func TestSynthesizeToneZeroGainIsSilence(t *testing.T) {
	samples := synthesizeTone(440, 20, 0)
	for _, s := range samples {
		if s != 0 {
			t.Fatalf("expected silence with zero gain, got %v", s)
		}
	}
}
