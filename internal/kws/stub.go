package kws

import (
	"sync"

	"github.com/agalue/ember/internal/core"
)

// StubRMSThreshold is the default RMS level above which the Stub variant
// emits a synthetic detection (spec §4.4.2).
const StubRMSThreshold = 0.15

// StubWorker is the degraded-mode KWS variant used for development and as
// the Runtime Supervisor's non-fatal fallback when the Neural variant
// fails to initialize (spec §4.4.2/§4.4.3). It never interacts with the
// inference runtime and never requires models — it computes RMS per frame
// and emits a synthetic detection when RMS reaches a threshold, mirroring
// the deterministic, model-free behavior of nupi-ai's StubEngine.
type StubWorker struct {
	mu        sync.Mutex
	keyword   string
	threshold float64
	arbiter   *Arbiter
	running   bool
}

// NewStubWorker builds a Stub variant for the given wake phrase, which it
// normalizes via Normalize.
func NewStubWorker(keyword string) *StubWorker {
	return &StubWorker{
		keyword:   Normalize(keyword),
		threshold: StubRMSThreshold,
	}
}

// BindArbiter attaches the Arbiter Feed submits Detections to. Supervisor
// calls this before Start on every swap so the persistent Arbiter's
// refractory clock and test-window arming carry over from whichever
// variant was previously active.
func (w *StubWorker) BindArbiter(a *Arbiter) {
	w.mu.Lock()
	w.arbiter = a
	w.mu.Unlock()
}

func (w *StubWorker) Start(sink core.Sink) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.arbiter == nil {
		w.arbiter = NewArbiter(sink)
	}
	w.running = true
	return nil
}

func (w *StubWorker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// Feed computes the frame's RMS and, if it crosses the stub threshold,
// submits a synthetic full-confidence detection to the arbiter.
func (w *StubWorker) Feed(frame core.Frame) {
	w.mu.Lock()
	running := w.running
	arbiter := w.arbiter
	keyword := w.keyword
	threshold := w.threshold
	w.mu.Unlock()

	if !running || arbiter == nil {
		return
	}

	if rmsOf(frame) >= threshold {
		arbiter.Submit(Detection{Keyword: keyword, Score: 1.0})
	}
}

func (w *StubWorker) ArmTestWindow(durationMs int) {
	w.mu.Lock()
	arbiter := w.arbiter
	w.mu.Unlock()
	if arbiter != nil {
		arbiter.ArmTestWindow(durationMs)
	}
}

func (w *StubWorker) SetKeyword(phrase string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.keyword = Normalize(phrase)
	return nil
}

func (w *StubWorker) SetSensitivity(s Sensitivity) {
	w.mu.Lock()
	arbiter := w.arbiter
	// The stub ignores score_threshold (it always emits 1.0), but still
	// honors sensitivity for the RMS gate: higher sensitivity (High
	// preset, lower score_threshold) lowers the RMS bar proportionally.
	th := s.Resolve()
	w.threshold = StubRMSThreshold * th.ScoreThreshold / 0.60
	w.mu.Unlock()
	if arbiter != nil {
		arbiter.SetSensitivity(s)
	}
}

func (w *StubWorker) Mode() core.KwsMode { return core.KwsModeStub }

var _ Worker = (*StubWorker)(nil)
