package biometrics

import "github.com/agalue/ember/internal/core"

// VerifyResult is the return shape of verify_speaker (spec §4.7).
type VerifyResult struct {
	User      string
	Verified  bool
	Score     float64
	Threshold float64
}

// Verify extracts an embedding from samples (truncated to MaxVerifyMs) and
// compares it against the user's stored voiceprint embedding via cosine
// similarity, per spec §4.7's verify_speaker contract.
func Verify(extractor Extractor, params Params, sampleHz int, user string, samples []float32, voiceprint Embedding) (VerifyResult, error) {
	if err := core.ValidateUserID(user); err != nil {
		return VerifyResult{}, err
	}

	maxSamples := params.MaxVerifyMs * sampleHz / 1000
	if maxSamples > 0 && len(samples) > maxSamples {
		samples = samples[:maxSamples]
	}

	e, err := extractor.Extract(samples)
	if err != nil {
		return VerifyResult{}, err
	}

	score := CosineSimilarity(e, voiceprint)
	return VerifyResult{
		User:      user,
		Verified:  score >= params.VerifyThreshold,
		Score:     score,
		Threshold: params.VerifyThreshold,
	}, nil
}
