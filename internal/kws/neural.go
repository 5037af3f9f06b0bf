package kws

import (
	"strings"
	"sync"

	"github.com/agalue/ember/internal/core"
)

// spotter is the minimal capability trait the Neural variant needs from
// the sherpa-onnx streaming keyword spotter (spec §9's "native library
// binding" design note: construct session, push samples, poll readiness,
// decode, read result, destroy — expressed here as an interface so the
// cgo-backed implementation and a deterministic test fake satisfy the same
// contract). NeuralWorker makes every call under its mutex, so the session
// is never used concurrently; the calls run on whichever goroutine calls
// Feed, SetKeyword or Stop.
type spotter struct {
	AcceptWaveform func(samples []float32)
	IsReady        func() bool
	Decode         func()
	Result         func() (keyword string, ok bool)
	Reset          func()
	Close          func()
}

// Vocabulary is the subword token table used to self-check the configured
// wake phrase before it is handed to the transducer (spec §4.4.1 step 5).
type Vocabulary map[string]struct{}

// NeuralWorker is the Neural KWS variant (spec §4.4.1): a streaming
// transducer session fed 20ms frames that Feed converts to f32 in [-1,1].
// No goroutine is dedicated to the worker: Feed runs on its caller's
// goroutine (the capture worker's frame callback). Construction failure (missing model
// files, runtime error, vocabulary mismatch) is surfaced to the caller so
// the Runtime Supervisor can apply the non-fatal Stub fallback (§4.4.3);
// NeuralWorker itself never falls back — that policy lives one layer up.
type NeuralWorker struct {
	mu      sync.Mutex
	keyword string
	modelID string
	spotter *spotter
	vocab   Vocabulary
	arbiter *Arbiter
	running bool
}

// NewNeuralWorker wraps an already-constructed spotter session for
// modelID, self-checking phrase against vocab per the §4.4.1 keyword
// normalization contract. If expected tokens are absent from vocab it
// returns a core.CodeVocabMismatch error and no worker; the Runtime
// Supervisor then keeps its current worker and emits kws:degraded.
func NewNeuralWorker(modelID string, s *spotter, vocab Vocabulary, phrase string) (*NeuralWorker, error) {
	normalized := Normalize(phrase)
	missing := VocabContains(vocab, ExpectedTokens(normalized))
	if len(missing) > 0 {
		return nil, core.NewError(core.CodeVocabMismatch,
			"wake phrase tokens missing from vocabulary: "+strings.Join(missing, ", "))
	}

	return &NeuralWorker{
		keyword: normalized,
		modelID: modelID,
		spotter: s,
		vocab:   vocab,
	}, nil
}

// BindArbiter attaches the Arbiter Feed submits Detections to. Supervisor
// calls this before Start on every swap so the persistent Arbiter's
// refractory clock and test-window arming carry over from whichever
// variant was previously active.
func (w *NeuralWorker) BindArbiter(a *Arbiter) {
	w.mu.Lock()
	w.arbiter = a
	w.mu.Unlock()
	a.SetModelID(w.modelID)
}

func (w *NeuralWorker) Start(sink core.Sink) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.arbiter == nil {
		w.arbiter = NewArbiter(sink)
		w.arbiter.SetModelID(w.modelID)
	}
	w.running = true
	return nil
}

func (w *NeuralWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
	if w.spotter != nil && w.spotter.Close != nil {
		w.spotter.Close()
	}
}

// Feed converts the frame to f32 PCM, pushes it to the streaming session,
// polls for readiness, decodes, and — if a keyword is returned — submits a
// unit-score detection (the runtime exposes detection as a boolean, so
// scoring is effectively 1.0 on a hit, per spec §4.4.1).
func (w *NeuralWorker) Feed(frame core.Frame) {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.spotter
	if !w.running || s == nil || w.arbiter == nil {
		return
	}

	s.AcceptWaveform(frame.Float32())
	for s.IsReady() {
		s.Decode()
	}
	if detected, ok := s.Result(); ok && detected != "" {
		w.arbiter.Submit(Detection{Keyword: w.keyword, Score: 1.0})
	}
}

func (w *NeuralWorker) ArmTestWindow(durationMs int) {
	w.mu.Lock()
	arbiter := w.arbiter
	w.mu.Unlock()
	if arbiter != nil {
		arbiter.ArmTestWindow(durationMs)
	}
}

// SetKeyword re-normalizes and self-checks phrase, stores it as the keyword
// reported on detections, and resets the spotter's streaming state. The
// phrase is not passed to the spotter session, which keeps spotting the
// keyword list it was built with.
func (w *NeuralWorker) SetKeyword(phrase string) error {
	normalized := Normalize(phrase)
	missing := VocabContains(w.vocab, ExpectedTokens(normalized))
	if len(missing) > 0 {
		return core.NewError(core.CodeVocabMismatch,
			"wake phrase tokens missing from vocabulary: "+strings.Join(missing, ", "))
	}

	w.mu.Lock()
	w.keyword = normalized
	if w.spotter != nil && w.spotter.Reset != nil {
		w.spotter.Reset()
	}
	w.mu.Unlock()
	return nil
}

func (w *NeuralWorker) SetSensitivity(s Sensitivity) {
	w.mu.Lock()
	arbiter := w.arbiter
	w.mu.Unlock()
	if arbiter != nil {
		arbiter.SetSensitivity(s)
	}
}

func (w *NeuralWorker) Mode() core.KwsMode { return core.KwsModeNeural }

var _ Worker = (*NeuralWorker)(nil)
