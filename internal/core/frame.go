package core

import "math"

// SampleRate is the canonical sample rate every stage downstream of the
// resampler operates at (spec §3).
const SampleRate = 16000

// FrameMs / HopMs fix the Frame windowing and VAD/KWS hop sizes (spec §3).
const (
	FrameMs = 20
	HopMs   = 10

	// FrameSamples is the number of int16 samples in one 20ms frame at 16kHz.
	FrameSamples = SampleRate * FrameMs / 1000 // 320
	// HopSamples is the number of int16 samples in one 10ms hop at 16kHz.
	HopSamples = SampleRate * HopMs / 1000 // 160
)

// Frame is a fixed-size window of mono 16kHz 16-bit signed samples (spec
// §3). Frame is a value type: Samples is an array copied along with the
// Frame, so a Frame never aliases the reblocker's internal buffer.
type Frame struct {
	Samples [FrameSamples]int16
}

// Float32 normalizes the frame's samples to [-1.0, 1.0] for inference, per
// spec §3's "samples are normalized before being handed to inference" rule.
func (f Frame) Float32() []float32 {
	out := make([]float32, FrameSamples)
	for i, s := range f.Samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// QuantizeSaturating converts a float32 sample in roughly [-1, 1] to a
// saturating int16, per spec §4.2's "quantize to i16 saturating" rule.
func QuantizeSaturating(sample float32) int16 {
	v := sample * 32768.0
	switch {
	case v >= math.MaxInt16:
		return math.MaxInt16
	case v <= math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// QuantizeSlice converts a float32 buffer to saturating int16 samples.
func QuantizeSlice(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, s := range in {
		out[i] = QuantizeSaturating(s)
	}
	return out
}

// Reblocker accumulates arbitrarily-sized incoming int16 chunks and emits
// fixed-size Frames, reblocking to the canonical size regardless of the
// capture block size (spec §3's "pipeline internally reblocks" rule).
type Reblocker struct {
	pending []int16
}

// Push appends samples and returns zero or more complete frames. Any
// partial tail is retained for the next call.
func (r *Reblocker) Push(samples []int16) []Frame {
	r.pending = append(r.pending, samples...)

	var frames []Frame
	for len(r.pending) >= FrameSamples {
		var f Frame
		copy(f.Samples[:], r.pending[:FrameSamples])
		frames = append(frames, f)
		r.pending = r.pending[FrameSamples:]
	}
	return frames
}

// Reset discards any buffered partial frame (used on restart/device swap so
// stale audio from the old session never leaks into the new one).
func (r *Reblocker) Reset() {
	r.pending = nil
}
