//go:build darwin

// Package sherpa provides platform-specific sherpa-onnx bindings.
// This file contains macOS-specific imports with CoreML support.
package sherpa

import impl "github.com/k2-fsa/sherpa-onnx-go-macos"

// Re-export the sherpa-onnx types and functions this project uses for
// cross-platform use. The actual implementation comes from the
// platform-specific package.

// Type aliases for VAD, used by the VAD Gate (spec §4.3).

type VoiceActivityDetector = impl.VoiceActivityDetector
type VadModelConfig = impl.VadModelConfig
type SpeechSegment = impl.SpeechSegment

// Type aliases for the streaming keyword spotter, used by the Neural KWS
// variant (spec §4.4.1).

type KeywordSpotter = impl.KeywordSpotter
type KeywordSpotterConfig = impl.KeywordSpotterConfig
type OnlineStream = impl.OnlineStream
type KeywordSpotterResult = impl.KeywordSpotterResult
type OnlineModelConfig = impl.OnlineModelConfig
type OnlineTransducerModelConfig = impl.OnlineTransducerModelConfig
type FeatureConfig = impl.FeatureConfig

// Type aliases for speaker embedding extraction, used by biometrics
// enrollment/verification (spec §4.7).

type SpeakerEmbeddingExtractor = impl.SpeakerEmbeddingExtractor
type SpeakerEmbeddingExtractorConfig = impl.SpeakerEmbeddingExtractorConfig

// VAD functions

var NewVoiceActivityDetector = impl.NewVoiceActivityDetector
var DeleteVoiceActivityDetector = impl.DeleteVoiceActivityDetector

// Keyword spotter functions

var NewKeywordSpotter = impl.NewKeywordSpotter
var DeleteKeywordSpotter = impl.DeleteKeywordSpotter
var NewOnlineStream = impl.NewOnlineStream
var DeleteOnlineStream = impl.DeleteOnlineStream

// Speaker embedding extractor functions

var NewSpeakerEmbeddingExtractor = impl.NewSpeakerEmbeddingExtractor
var DeleteSpeakerEmbeddingExtractor = impl.DeleteSpeakerEmbeddingExtractor

// DefaultProvider returns the recommended provider for this platform.
// On macOS, CoreML provides hardware acceleration via Apple's Neural Engine.
func DefaultProvider() string {
	return "coreml"
}

// AvailableProviders returns the list of available providers on this platform.
func AvailableProviders() []string {
	return []string{"cpu", "coreml"}
}

// HasNvidiaGPU returns false on macOS as NVIDIA GPUs are not supported.
func HasNvidiaGPU() bool {
	return false
}
