package kws

import "github.com/agalue/ember/internal/core"

// Sensitivity mirrors core.Sensitivity for set_sensitivity calls, kept as
// a distinct alias so kws.Worker's interface doesn't force every caller to
// import core just to name the type — matches the teacher's pattern of
// small local aliases at package boundaries.
type Sensitivity = core.Sensitivity

// Worker is the common capability set both KWS variants (Neural, Stub)
// implement (spec §4.4). Implementations start no goroutine of their own:
// every method runs on its caller's goroutine (Feed on the capture worker's
// frame callback), and each implementation guards its state with a mutex.
type Worker interface {
	// BindArbiter attaches the Detection Arbiter instances should submit
	// Detections to. Must be called before Start; the Runtime Supervisor
	// binds its one persistent Arbiter here on every Stub↔Neural swap so
	// refractory/test-window state survives the swap instead of resetting
	// (spec §2: "preserving the detection-arbiter state").
	BindArbiter(a *Arbiter)
	// Start begins consuming frames pushed via Feed, emitting
	// DetectionEvents to sink as they are produced.
	Start(sink core.Sink) error
	// Stop halts the worker and releases any native handles.
	Stop()
	// Feed delivers one frame already past the VAD gate (or all frames,
	// if vad.enable is false) for inference.
	Feed(frame core.Frame)
	// ArmTestWindow arms a one-shot test window of durationMs; the next
	// detection within the window additionally fires a wake-test-pass
	// event (handled by the Detection Arbiter wrapping this worker).
	ArmTestWindow(durationMs int)
	// SetKeyword reconfigures the wake phrase. Implementations normalize
	// internally via Normalize.
	SetKeyword(phrase string) error
	// SetSensitivity updates score/endpoint thresholds.
	SetSensitivity(s Sensitivity)
	// Mode reports which variant this is, for KwsStatus.
	Mode() core.KwsMode
}

// Detection is what a Worker hands to the Detection Arbiter before
// refractory/threshold/test-window logic is applied.
type Detection struct {
	Keyword string
	Score   float64
}
