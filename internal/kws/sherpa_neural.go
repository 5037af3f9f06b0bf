package kws

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/agalue/ember/internal/core"
	"github.com/agalue/ember/internal/sherpa"
)

// loadVocabulary reads a sherpa-onnx tokens.txt file ("<token> <id>" per
// line) into the subword set SetKeyword self-checks the wake phrase
// against (spec §4.4.1 step 5).
func loadVocabulary(tokensPath string) (Vocabulary, error) {
	f, err := os.Open(tokensPath)
	if err != nil {
		return nil, core.Wrap(core.CodeModelMissing, "failed to open tokens file", err).WithField("path", tokensPath)
	}
	defer f.Close()

	vocab := make(Vocabulary)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		vocab[fields[0]] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, core.Wrap(core.CodeModelMissing, "failed to read tokens file", err).WithField("path", tokensPath)
	}
	return vocab, nil
}

// findModelFile returns the first file under dir matching any of the given
// glob patterns, since installed models ship encoder/decoder/joiner/tokens
// files whose exact basenames vary by export (spec §3's InstalledModel
// description: "encoder*.onnx, decoder*.onnx, joiner*.onnx, tokens*.txt").
func findModelFile(dir string, patterns ...string) (string, error) {
	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return "", err
		}
		if len(matches) > 0 {
			return matches[0], nil
		}
	}
	return "", core.NewError(core.CodeModelMissing, "no file matching expected pattern").WithField("dir", dir).WithField("pattern", patterns[0])
}

// NewSherpaNeuralWorker builds a NeuralWorker backed by a real sherpa-onnx
// streaming keyword spotter session, loading the encoder/decoder/joiner and
// tokens files installed under modelDir by the Model Manager (spec §4.4.1,
// §4.6). vocab is derived from the tokens file so SetKeyword can self-check
// the wake phrase before it reaches the transducer. provider selects the
// execution provider ("cpu", "cuda", "coreml"); an empty string falls back
// to sherpa.DefaultProvider() so a host without a GPU still gets "cpu".
func NewSherpaNeuralWorker(modelDir, phrase string, maxActivePaths int, provider string) (*NeuralWorker, error) {
	encoder, err := findModelFile(modelDir, "encoder*.onnx")
	if err != nil {
		return nil, err
	}
	decoder, err := findModelFile(modelDir, "decoder*.onnx")
	if err != nil {
		return nil, err
	}
	joiner, err := findModelFile(modelDir, "joiner*.onnx")
	if err != nil {
		return nil, err
	}
	tokens, err := findModelFile(modelDir, "tokens*.txt")
	if err != nil {
		return nil, err
	}

	vocab, err := loadVocabulary(tokens)
	if err != nil {
		return nil, err
	}

	if maxActivePaths <= 0 {
		maxActivePaths = 4
	}
	if provider == "" {
		provider = sherpa.DefaultProvider()
	}

	config := &sherpa.KeywordSpotterConfig{
		ModelConfig: sherpa.OnlineModelConfig{
			Transducer: sherpa.OnlineTransducerModelConfig{
				Encoder: encoder,
				Decoder: decoder,
				Joiner:  joiner,
			},
			Tokens:     tokens,
			NumThreads: 1,
			Provider:   provider,
		},
		FeatConfig: sherpa.FeatureConfig{
			SampleRate: core.SampleRate,
			FeatureDim: 80,
		},
		MaxActivePaths: maxActivePaths,
	}

	session := sherpa.NewKeywordSpotter(config)
	stream := sherpa.NewOnlineStream(session)

	closed := false
	s := &spotter{
		AcceptWaveform: func(samples []float32) {
			stream.AcceptWaveform(core.SampleRate, samples)
		},
		IsReady: func() bool {
			return session.IsReady(stream)
		},
		Decode: func() {
			session.Decode(stream)
		},
		Result: func() (string, bool) {
			result := session.GetResult(stream)
			if result == nil || result.Keyword == "" {
				return "", false
			}
			return result.Keyword, true
		},
		Reset: func() {
			session.Reset(stream)
		},
		Close: func() {
			if closed {
				return
			}
			closed = true
			sherpa.DeleteOnlineStream(stream)
			sherpa.DeleteKeywordSpotter(session)
		},
	}

	return NewNeuralWorker(filepath.Base(modelDir), s, vocab, phrase)
}
