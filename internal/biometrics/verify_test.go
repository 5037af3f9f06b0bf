package biometrics

import "testing"

func TestVerifyAcceptsMatchingVoiceprint(t *testing.T) {
	extractor := &fakeExtractor{dim: 2}
	voiceprint, _ := extractor.Extract([]float32{5})

	samples := samplesOfMs(200, 16000)
	samples[0] = 5 // same first sample the voiceprint was derived from

	result, err := Verify(extractor, testParams(), 16000, "alice", samples, voiceprint)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Verified {
		t.Fatalf("expected verification to pass against identical voiceprint, got score %f", result.Score)
	}
}

func TestVerifyRejectsMismatchedVoiceprint(t *testing.T) {
	extractor := &fakeExtractor{dim: 2}
	samples := make([]float32, 3200)
	samples[0] = 1 // extractor derives the embedding from samples[0]
	voiceprint, _ := extractor.Extract([]float32{-1})

	result, err := Verify(extractor, testParams(), 16000, "alice", samples, voiceprint)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Verified {
		t.Fatalf("expected verification to fail against a dissimilar voiceprint, got score %f", result.Score)
	}
}

func TestVerifyTruncatesToMaxVerifyMs(t *testing.T) {
	extractor := &recordingExtractor{fakeExtractor: fakeExtractor{dim: 2}}
	params := testParams()
	params.MaxVerifyMs = 1000

	samples := samplesOfMs(4000, 16000)
	if _, err := Verify(extractor, params, 16000, "alice", samples, Embedding{1, 0}); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(extractor.lastSamples) != 16000 {
		t.Fatalf("expected samples truncated to 1000ms (16000 samples at 16kHz), got %d", len(extractor.lastSamples))
	}
}

type recordingExtractor struct {
	fakeExtractor
	lastSamples []float32
}

func (r *recordingExtractor) Extract(samples []float32) (Embedding, error) {
	r.lastSamples = samples
	return r.fakeExtractor.Extract(samples)
}

func TestVerifyRejectsInvalidUserID(t *testing.T) {
	extractor := &fakeExtractor{dim: 2}
	if _, err := Verify(extractor, testParams(), 16000, "", samplesOfMs(200, 16000), Embedding{1, 0}); err == nil {
		t.Fatal("expected rejection of empty user id")
	}
}
