package kws

import (
	"math"

	"github.com/agalue/ember/internal/core"
)

// Gate is the VAD capability interface (spec §4.3): any implementation
// that maps a frame to a speech/silence decision with hysteresis is
// acceptable — an energy threshold, a neural VAD, or a no-op that always
// returns speech. Modeled on the Engine/StubEngine capability split in
// nupi-ai's plugin-vad-local-silero, generalized from byte-chunk PCM to
// the canonical Frame type.
type Gate interface {
	// Classify returns true if frame is judged speech.
	Classify(frame core.Frame) bool
	// Reset clears hysteresis/hang-over state.
	Reset()
}

// NoopGate always reports speech; used when vad.enable is false.
type NoopGate struct{}

func (NoopGate) Classify(core.Frame) bool { return true }
func (NoopGate) Reset()                   {}

// EnergyGate is a hysteretic RMS-threshold VAD: entering speech requires
// RMS above enterThreshold, exiting requires RMS to stay below
// exitThreshold for hangoverMs of consecutive silence (spec §4.3's
// "enter-speech threshold > exit-speech threshold, configurable hang-over,
// default 300ms" rule).
type EnergyGate struct {
	EnterThreshold float64
	ExitThreshold  float64
	HangoverMs     int

	speaking   bool
	silenceFor int // accumulated ms of sub-exit-threshold energy
}

// NewEnergyGate builds an EnergyGate with the spec's default 300ms
// hang-over. enterThreshold must be greater than exitThreshold.
func NewEnergyGate(enterThreshold, exitThreshold float64) *EnergyGate {
	return &EnergyGate{
		EnterThreshold: enterThreshold,
		ExitThreshold:  exitThreshold,
		HangoverMs:     300,
	}
}

// Classify computes the frame's RMS and applies the hysteresis rule.
func (g *EnergyGate) Classify(frame core.Frame) bool {
	rms := rmsOf(frame)

	switch {
	case !g.speaking && rms >= g.EnterThreshold:
		g.speaking = true
		g.silenceFor = 0
	case g.speaking && rms < g.ExitThreshold:
		g.silenceFor += core.FrameMs
		if g.silenceFor >= g.HangoverMs {
			g.speaking = false
		}
	case g.speaking:
		g.silenceFor = 0
	}

	return g.speaking
}

// Reset returns the gate to its initial silent state.
func (g *EnergyGate) Reset() {
	g.speaking = false
	g.silenceFor = 0
}

// rmsOf computes normalized root-mean-square energy of a frame in [0,1].
func rmsOf(frame core.Frame) float64 {
	var sumSq float64
	for _, s := range frame.Samples {
		v := float64(s) / 32768.0
		sumSq += v * v
	}
	mean := sumSq / float64(len(frame.Samples))
	return math.Sqrt(mean)
}

// NeuralVAD wraps the sherpa-onnx Silero VAD session behind the Gate
// interface (spec §4.3's neural option). The underlying handle is used on
// whichever goroutine calls Classify or Reset; NeuralVAD adds no locking of
// its own.
type NeuralVAD struct {
	detector sherpaVAD
}

// sherpaVAD is the minimal surface NeuralVAD needs from the sherpa
// binding, expressed as an interface so tests can substitute a fake
// without linking the cgo-backed implementation.
type sherpaVAD interface {
	AcceptWaveform(samples []float32)
	IsSpeechDetected() bool
	Reset()
}

// NewNeuralVAD wraps an already-constructed sherpa VAD session.
func NewNeuralVAD(detector sherpaVAD) *NeuralVAD {
	return &NeuralVAD{detector: detector}
}

func (v *NeuralVAD) Classify(frame core.Frame) bool {
	v.detector.AcceptWaveform(frame.Float32())
	return v.detector.IsSpeechDetected()
}

func (v *NeuralVAD) Reset() {
	v.detector.Reset()
}
