package voicetype

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/voicetype-io/voicetype/providers"
)

const (
	// dedupWindow is how many settled sentences are kept for near-duplicate
	// comparison.
	dedupWindow = 4

	// dedupThreshold is the Levenshtein similarity above which a new final
	// fragment is considered a re-send of an earlier one.
	dedupThreshold = 0.9
)

// Assembler accumulates transcript fragments from one recognition attempt
// into the final text. Interim fragments replace one another (providers send
// the utterance-so-far), while final fragments are appended as settled
// sentences. A final fragment that is nearly identical to a recently settled
// one is dropped; providers occasionally re-send a sentence around flush
// boundaries.
//
// The assembler is written only by the receiver worker and read after the
// session finishes, so it needs no locking.
type Assembler struct {
	finals  []string
	pending string
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{}
}

// Merge folds one fragment into the transcript. It reports whether the
// fragment ended an utterance.
func (a *Assembler) Merge(result providers.RecognitionResult) bool {
	text := strings.TrimSpace(result.Text)

	if !result.IsFinal {
		a.pending = text
		return false
	}

	// A final fragment supersedes any pending interim. An empty final
	// (e.g. a bare last-package frame) promotes the interim instead.
	if text == "" {
		text = a.pending
	}
	a.pending = ""

	if text == "" || a.isDuplicate(text) {
		return false
	}
	a.finals = append(a.finals, text)
	return true
}

// Final returns the assembled transcript: all settled sentences plus any
// still-pending interim fragment.
func (a *Assembler) Final() string {
	parts := a.finals
	if a.pending != "" {
		parts = append(parts, a.pending)
	}
	return strings.Join(parts, " ")
}

// Utterances returns how many settled sentences the transcript holds.
func (a *Assembler) Utterances() int {
	return len(a.finals)
}

// isDuplicate checks the candidate against the most recent settled
// sentences.
func (a *Assembler) isDuplicate(text string) bool {
	normalized := normalizeSentence(text)

	start := len(a.finals) - dedupWindow
	if start < 0 {
		start = 0
	}
	for _, settled := range a.finals[start:] {
		if isSimilarSentence(normalized, normalizeSentence(settled), dedupThreshold) {
			return true
		}
	}
	return false
}

// normalizeSentence normalizes a sentence for comparison.
func normalizeSentence(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// isSimilarSentence checks if two sentences are similar based on
// Levenshtein distance.
func isSimilarSentence(s1, s2 string, threshold float64) bool {
	if s1 == s2 {
		return true
	}

	if s1 == "" || s2 == "" {
		return false
	}

	distance := levenshtein.ComputeDistance(s1, s2)
	maxLen := len(s1)
	if len(s2) > maxLen {
		maxLen = len(s2)
	}

	similarity := 1.0 - (float64(distance) / float64(maxLen))
	return similarity >= threshold
}
