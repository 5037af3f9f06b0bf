package kws

import (
	"testing"

	"github.com/agalue/ember/internal/core"
)

func fullVocab() Vocabulary {
	return Vocabulary{"▁hey": {}, "▁ember": {}}
}

func fakeSpotter(result string, ready bool) *spotter {
	resultTaken := false
	return &spotter{
		AcceptWaveform: func(samples []float32) {},
		IsReady:        func() bool { r := ready && !resultTaken; return r },
		Decode:         func() {},
		Result: func() (string, bool) {
			if resultTaken || result == "" {
				return "", false
			}
			resultTaken = true
			return result, true
		},
		Reset: func() {},
		Close: func() {},
	}
}

func TestNewNeuralWorkerRejectsVocabMismatch(t *testing.T) {
	_, err := NewNeuralWorker("m1", fakeSpotter("", false), Vocabulary{"▁hey": {}}, "hey ember")
	if err == nil {
		t.Fatal("expected vocab mismatch error for missing ▁ember token")
	}
}

func TestNeuralWorkerFeedEmitsOnDetection(t *testing.T) {
	w, err := NewNeuralWorker("m1", fakeSpotter("hey ember", true), fullVocab(), "hey ember")
	if err != nil {
		t.Fatalf("NewNeuralWorker: %v", err)
	}
	sink := &recordingSink{}
	if err := w.Start(sink); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var f core.Frame
	w.Feed(f)

	found := false
	for _, e := range sink.events {
		if e.Name == core.EventWakewordDetected {
			found = true
		}
	}
	if !found {
		t.Fatal("expected a wakeword::detected event when the spotter returns a keyword")
	}
}

func TestNeuralWorkerSetKeywordRenormalizes(t *testing.T) {
	w, err := NewNeuralWorker("m1", fakeSpotter("", false), fullVocab(), "hey ember")
	if err != nil {
		t.Fatalf("NewNeuralWorker: %v", err)
	}
	if err := w.SetKeyword("  HEY   EMBER!!  "); err != nil {
		t.Fatalf("SetKeyword: %v", err)
	}
	if w.keyword != "hey ember" {
		t.Fatalf("expected normalized keyword, got %q", w.keyword)
	}
}

func TestNeuralWorkerMode(t *testing.T) {
	w, _ := NewNeuralWorker("m1", fakeSpotter("", false), fullVocab(), "hey ember")
	if w.Mode() != core.KwsModeNeural {
		t.Fatalf("expected neural mode, got %v", w.Mode())
	}
}
