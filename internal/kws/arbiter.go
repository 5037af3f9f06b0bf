package kws

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agalue/ember/internal/core"
)

// defaultRefractoryMs is the default post-detection dead time (spec §4.5).
const defaultRefractoryMs = 1200

// Arbiter is stateless with respect to KWS internals; it owns the
// refractory clock, the one-shot test-window timer, and the sensitivity
// thresholds, thresholding and debouncing raw Detections into
// DetectionEvents forwarded to the sink (spec §4.5). Grounded on the
// teacher's processLoop goroutine pattern in cmd/assistant/main.go, which
// similarly gates a continuous stream of model output through timing state
// before acting on it.
type Arbiter struct {
	mu sync.Mutex

	refractoryMs   int
	lastDetectedAt time.Time

	testWindowUntil time.Time
	testWindowArmed bool

	thresholds core.Thresholds
	sink       core.Sink
	modelID    string

	now func() time.Time
}

// NewArbiter builds an Arbiter forwarding to sink, starting at the
// Balanced sensitivity preset and the spec's default refractory period.
func NewArbiter(sink core.Sink) *Arbiter {
	th, _ := core.ThresholdsFor(core.SensitivityBalanced)
	return &Arbiter{
		refractoryMs: defaultRefractoryMs,
		thresholds:   th,
		sink:         sink,
		now:          time.Now,
	}
}

// SetSensitivity updates the score/endpoint thresholds the arbiter applies
// to subsequent detections.
func (a *Arbiter) SetSensitivity(s core.Sensitivity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.thresholds = s.Resolve()
}

// SetModelID records which model's detections the arbiter is currently
// forwarding, stamped onto kws:wake_test_pass payloads.
func (a *Arbiter) SetModelID(modelID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modelID = modelID
}

// SetRefractoryMs overrides the default refractory period (kws.refractory_ms).
func (a *Arbiter) SetRefractoryMs(ms int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refractoryMs = ms
}

// ArmTestWindow arms a one-shot window: the next accepted detection within
// durationMs additionally fires kws:wake_test_pass.
func (a *Arbiter) ArmTestWindow(durationMs int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.testWindowUntil = a.now().Add(time.Duration(durationMs) * time.Millisecond)
	a.testWindowArmed = true
}

// Submit feeds one raw Detection through the threshold/refractory/test-
// window pipeline. Returns true if a wakeword::detected event was forwarded.
func (a *Arbiter) Submit(d Detection) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if d.Score < a.thresholds.ScoreThreshold {
		return false
	}

	now := a.now()
	if !a.lastDetectedAt.IsZero() && now.Sub(a.lastDetectedAt) < time.Duration(a.refractoryMs)*time.Millisecond {
		return false
	}
	a.lastDetectedAt = now

	a.sink.Emit(core.Event{
		Name: core.EventWakewordDetected,
		At:   now,
		Payload: core.PayloadWakewordDetected{
			EventID: uuid.NewString(),
			Keyword: d.Keyword,
			Score:   d.Score,
		},
	})

	if a.testWindowArmed && now.Before(a.testWindowUntil) {
		a.testWindowArmed = false
		a.sink.Emit(core.Event{
			Name: core.EventKwsWakeTestPass,
			At:   now,
			Payload: core.PayloadWakeTestPass{
				ModelID: a.modelID,
				Keyword: d.Keyword,
				At:      now,
			},
		})
	} else if a.testWindowArmed && !now.Before(a.testWindowUntil) {
		a.testWindowArmed = false
	}

	return true
}

// TestWindowArmed reports whether a one-shot test window is currently
// armed, for callers (tests, a host status surface) that want to confirm
// arming survived a Stub↔Neural swap without waiting for a detection.
func (a *Arbiter) TestWindowArmed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.testWindowArmed
}

// Reset clears refractory and test-window state. The Runtime Supervisor
// does not call it on a variant swap, so that state carries across swaps.
func (a *Arbiter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastDetectedAt = time.Time{}
	a.testWindowArmed = false
}
