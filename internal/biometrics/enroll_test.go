package biometrics

import "testing"

// fakeExtractor returns a deterministic embedding derived from the first
// sample value, so tests can control similarity without an ONNX session
// (spec §4.7: "tests may use a deterministic fake").
type fakeExtractor struct {
	dim int
}

func (f *fakeExtractor) Dim() int { return f.dim }

func (f *fakeExtractor) Extract(samples []float32) (Embedding, error) {
	v := float32(0)
	if len(samples) > 0 {
		v = samples[0]
	}
	e := Embedding{v, 1}
	return e.Normalize(), nil
}

func testParams() Params {
	return Params{EnrollUtterancesMin: 2, UtteranceMinMs: 100, VerifyThreshold: 0.82, MaxVerifyMs: 4000}
}

func samplesOfMs(ms, sampleHz int) []float32 {
	return make([]float32, ms*sampleHz/1000)
}

func TestEnrollmentHappyPath(t *testing.T) {
	s := NewEnrollmentSession(&fakeExtractor{dim: 2}, testParams(), 16000)
	if err := s.Start("alice"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.AddSample(samplesOfMs(150, 16000)); err != nil {
		t.Fatalf("AddSample 1: %v", err)
	}
	if err := s.AddSample(samplesOfMs(150, 16000)); err != nil {
		t.Fatalf("AddSample 2: %v", err)
	}
	user, embedding, err := s.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if user != "alice" {
		t.Fatalf("expected user alice, got %q", user)
	}
	if len(embedding) != 2 {
		t.Fatalf("expected 2-dim embedding, got %d", len(embedding))
	}
	if s.State() != EnrollFinalized {
		t.Fatalf("expected Finalized state, got %v", s.State())
	}
}

func TestEnrollmentRejectsShortUtterance(t *testing.T) {
	s := NewEnrollmentSession(&fakeExtractor{dim: 2}, testParams(), 16000)
	s.Start("alice")
	if err := s.AddSample(samplesOfMs(50, 16000)); err == nil {
		t.Fatal("expected rejection of utterance shorter than utterance_min_ms")
	}
}

func TestEnrollmentFinalizeRequiresMinimumUtterances(t *testing.T) {
	s := NewEnrollmentSession(&fakeExtractor{dim: 2}, testParams(), 16000)
	s.Start("alice")
	s.AddSample(samplesOfMs(150, 16000))
	if _, _, err := s.Finalize(); err == nil {
		t.Fatal("expected finalize to fail with only 1 of 2 required utterances")
	}
}

func TestEnrollmentCancelReturnsToIdleEquivalentState(t *testing.T) {
	s := NewEnrollmentSession(&fakeExtractor{dim: 2}, testParams(), 16000)
	s.Start("alice")
	s.AddSample(samplesOfMs(150, 16000))
	s.Cancel()
	if s.State() != EnrollCancelled {
		t.Fatalf("expected Cancelled state, got %v", s.State())
	}
	if err := s.Start("bob"); err != nil {
		t.Fatalf("expected Start to succeed after Cancel, got %v", err)
	}
	if s.UtteranceCount() != 0 {
		t.Fatalf("expected utterances cleared after Cancel+Start, got %d", s.UtteranceCount())
	}
}

func TestEnrollmentRejectsConcurrentStart(t *testing.T) {
	s := NewEnrollmentSession(&fakeExtractor{dim: 2}, testParams(), 16000)
	s.Start("alice")
	if err := s.Start("bob"); err == nil {
		t.Fatal("expected rejection of Start while a session is already collecting")
	}
}
