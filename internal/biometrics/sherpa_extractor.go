package biometrics

import (
	"github.com/agalue/ember/internal/core"
	"github.com/agalue/ember/internal/sherpa"
)

// NewSherpaSpeakerExtractor builds an Extractor around a real sherpa-onnx
// speaker embedding extractor session loaded from modelPath (spec §4.7: "a
// speaker-embedding extraction session" — construct once, push one
// utterance's samples through a fresh stream, compute, destroy the
// stream). The extractor session itself is process-lifetime and reused
// across calls; only the per-utterance OnlineStream is short-lived. provider
// selects the execution provider ("cpu", "cuda", "coreml"); an empty string
// falls back to sherpa.DefaultProvider().
func NewSherpaSpeakerExtractor(modelPath string, numThreads int, provider string) (Extractor, error) {
	if numThreads <= 0 {
		numThreads = 1
	}
	if provider == "" {
		provider = sherpa.DefaultProvider()
	}
	config := &sherpa.SpeakerEmbeddingExtractorConfig{
		Model:      modelPath,
		NumThreads: numThreads,
		Provider:   provider,
	}
	extractor := sherpa.NewSpeakerEmbeddingExtractor(config)
	if extractor == nil {
		return nil, core.NewError(core.CodeModelMissing, "failed to load speaker embedding model").WithField("path", modelPath)
	}
	dim := extractor.Dim()

	compute := func(samples []float32) ([]float32, error) {
		stream := extractor.CreateStream()
		defer sherpa.DeleteOnlineStream(stream)

		stream.AcceptWaveform(core.SampleRate, samples)
		stream.InputFinished()

		if !extractor.IsReady(stream) {
			return nil, core.NewError(core.CodeUtteranceTooShort, "speaker embedding extractor was not ready after input finished")
		}
		return extractor.Compute(stream), nil
	}

	return NewSherpaExtractor(dim, compute), nil
}
