// Package kws implements the wake-word detector: VAD gating, the Neural
// and Stub worker variants, and the Detection Arbiter that debounces and
// thresholds their output.
package kws

import (
	"strings"
	"unicode"
)

// Normalize applies the wake-phrase normalization contract (spec §4.4.1)
// before a phrase is handed to the inference runtime:
//  1. lowercase
//  2. trim leading/trailing whitespace
//  3. collapse runs of whitespace to single spaces
//  4. strip trailing punctuation
//
// The wake phrase is never uppercased, never split into per-character
// tokens, and never concatenated without spaces — doing so produces the
// "Cannot find ID for token …" class of tokenization error the transducer
// vocabulary was built against whole words, not characters.
func Normalize(phrase string) string {
	lower := strings.ToLower(strings.TrimSpace(phrase))

	var b strings.Builder
	lastWasSpace := false
	for _, r := range lower {
		if unicode.IsSpace(r) {
			if !lastWasSpace {
				b.WriteRune(' ')
			}
			lastWasSpace = true
			continue
		}
		b.WriteRune(r)
		lastWasSpace = false
	}

	out := strings.TrimRight(b.String(), " ")
	out = strings.TrimRightFunc(out, func(r rune) bool {
		return unicode.IsPunct(r)
	})
	return out
}

// ExpectedTokens returns the whole-word subword tokens normalize's output
// should produce, prefixed with the sentencepiece word-boundary marker "▁"
// (e.g. "hey ember" -> ["▁hey", "▁ember"]). Used by the Neural variant to
// self-check the configured wake phrase against the loaded vocabulary.
func ExpectedTokens(normalized string) []string {
	words := strings.Fields(normalized)
	tokens := make([]string, len(words))
	for i, w := range words {
		tokens[i] = "▁" + w
	}
	return tokens
}

// VocabContains returns the tokens that vocab (a subword token table, one
// token per line/entry) lacks; an empty result means every token is present.
func VocabContains(vocab map[string]struct{}, tokens []string) (missing []string) {
	for _, t := range tokens {
		if _, ok := vocab[t]; !ok {
			missing = append(missing, t)
		}
	}
	return missing
}
