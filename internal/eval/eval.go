// Package eval computes recognition quality metrics between a hypothesis
// transcript and a reference. It backs the offline -eval path and the
// regression tests; nothing here runs on the streaming hot path.
package eval

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Report bundles the standard error rates for one hypothesis/reference pair.
type Report struct {
	// CER is the character error rate: rune-level edit distance divided by
	// the reference length.
	CER float64

	// WER is the word error rate: word-level edit distance divided by the
	// reference word count. Words are whitespace-separated.
	WER float64
}

// Score computes both error rates.
func Score(hyp, ref string) Report {
	return Report{CER: CER(hyp, ref), WER: WER(hyp, ref)}
}

// CER returns the character error rate of hyp against ref. An empty
// reference scores 0 against an empty hypothesis and 1 against anything
// else.
func CER(hyp, ref string) float64 {
	refLen := len([]rune(ref))
	if refLen == 0 {
		if len([]rune(hyp)) == 0 {
			return 0
		}
		return 1
	}
	return float64(matchr.Levenshtein(hyp, ref)) / float64(refLen)
}

// WER returns the word error rate of hyp against ref, with the same
// empty-reference convention as [CER].
func WER(hyp, ref string) float64 {
	h := strings.Fields(hyp)
	r := strings.Fields(ref)
	if len(r) == 0 {
		if len(h) == 0 {
			return 0
		}
		return 1
	}
	return float64(wordDistance(h, r)) / float64(len(r))
}

// wordDistance is Levenshtein edit distance over word sequences. matchr only
// operates on strings, so the word-level variant is computed here with the
// usual two-row dynamic program.
func wordDistance(a, b []string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
