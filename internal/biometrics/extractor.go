package biometrics

import "github.com/agalue/ember/internal/core"

// Extractor is the capability interface for speaker embedding extraction,
// injected into enrollment and verification so tests can supply a
// deterministic fake instead of linking the ONNX runtime ("the extractor
// capability is injected; tests may use a deterministic fake", spec §4.7).
type Extractor interface {
	Extract(samples []float32) (Embedding, error)
	Dim() int
}

// sherpaExtractor is the thin capability trait standing in for
// sherpa-onnx's SpeakerEmbeddingExtractor plus its streaming accumulator
// (push samples, mark finished, compute), mirroring the function-field
// wrapper internal/kws uses around the keyword spotter so the real
// cgo-backed session never has to be linked to exercise this package's
// logic in tests.
type sherpaExtractor struct {
	dim     int
	compute func(samples []float32) ([]float32, error)
}

// NewSherpaExtractor builds an Extractor around a compute closure that
// drives the real sherpa-onnx SpeakerEmbeddingExtractor session (accept
// waveform, poll readiness, read the embedding, destroy the stream).
// NewSherpaSpeakerExtractor builds that closure over a real session; the
// sherpaExtractor itself only calls compute and normalizes the result.
func NewSherpaExtractor(dim int, compute func(samples []float32) ([]float32, error)) Extractor {
	return &sherpaExtractor{dim: dim, compute: compute}
}

func (s *sherpaExtractor) Dim() int { return s.dim }

func (s *sherpaExtractor) Extract(samples []float32) (Embedding, error) {
	raw, err := s.compute(samples)
	if err != nil {
		return nil, core.Wrap(core.CodeUtteranceTooShort, "speaker embedding extraction failed", err)
	}
	return Embedding(raw).Normalize(), nil
}
