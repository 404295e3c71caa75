package chunker

import (
	"math"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

var encoding *tiktoken.Tiktoken

func init() {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err == nil {
		encoding = enc
	}
}

// CountTokens estimates how many model tokens text contains. It prefers
// the real cl100k_base BPE tokenizer; if the encoding table failed to
// load (tiktoken-go fetches its merge ranks lazily and has nowhere to
// fetch them from in an offline environment) it falls back to a
// whitespace-word-count heuristic.
func CountTokens(text string) int {
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return approxTokenCount(text)
}

func approxTokenCount(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}
