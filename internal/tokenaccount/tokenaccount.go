// Package tokenaccount implements token estimation and text chunking for
// the compaction engine and the agent loop's trigger check. Both operations
// are pure functions of their inputs.
package tokenaccount

import (
	"encoding/json"
	"strings"
)

// CharsPerToken is the fallback character-to-token ratio used when no
// model-specific Encoder is configured or the encoder declines to estimate.
const CharsPerToken = 4

// Encoder estimates token counts for a string using a model-specific
// encoding (e.g., a BPE tokenizer). Accountant falls back to the
// character-per-token ratio when Encoder is nil or returns ok=false.
type Encoder interface {
	Encode(s string) (tokens int, ok bool)
}

// Accountant estimates token counts and splits text into token-bounded
// chunks (spec §4.2).
type Accountant struct {
	encoder Encoder
}

// New builds an Accountant. encoder may be nil, in which case estimation
// always uses the character-per-token ratio.
func New(encoder Encoder) *Accountant {
	return &Accountant{encoder: encoder}
}

// Estimate counts tokens in value. Strings are estimated directly;
// everything else is compact-serialized to JSON first.
func (a *Accountant) Estimate(value any) int {
	s, ok := value.(string)
	if !ok {
		data, err := json.Marshal(value)
		if err != nil {
			return 0
		}
		s = string(data)
	}
	return a.estimateString(s)
}

func (a *Accountant) estimateString(s string) int {
	if a.encoder != nil {
		if n, ok := a.encoder.Encode(s); ok {
			return n
		}
	}
	return charRatioEstimate(s)
}

// charRatioEstimate applies the fixed character-per-token fallback ratio,
// rounding up so a non-empty string never estimates to zero tokens.
func charRatioEstimate(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + CharsPerToken - 1) / CharsPerToken
}

// punctuationCutset lists the boundaries chunk() may split an oversized
// line on; every occurrence of any of them is a boundary (spec §4.2:
// "comma/semicolon/period/question/exclamation").
var punctuationCutset = []byte{'.', '?', '!', ';', ','}

// Chunk splits text on line boundaries, emitting a new chunk whenever
// adding the next line would exceed maxTokens. A single line that alone
// exceeds maxTokens is further split at punctuation boundaries, with a
// hard character-count fallback when no boundary exists close enough to
// the budget (spec §4.2).
func (a *Accountant) Chunk(text string, maxTokens int) []string {
	if text == "" {
		return nil
	}
	if maxTokens <= 0 {
		return []string{text}
	}

	lines := splitKeepingDelimiters(text, '\n')

	var chunks []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	for _, line := range lines {
		lineTokens := a.estimateString(line)
		if lineTokens > maxTokens {
			flush()
			chunks = append(chunks, a.splitOversizedLine(line, maxTokens)...)
			continue
		}
		if currentTokens+lineTokens > maxTokens && current.Len() > 0 {
			flush()
		}
		current.WriteString(line)
		currentTokens += lineTokens
	}
	flush()
	return chunks
}

// splitOversizedLine splits a single line too large for maxTokens at
// punctuation boundaries, falling back to a hard character cut when a
// segment between boundaries is still oversized.
func (a *Accountant) splitOversizedLine(line string, maxTokens int) []string {
	segments := splitAtPunctuation(line)

	var out []string
	var current strings.Builder
	currentTokens := 0

	flush := func() {
		if current.Len() > 0 {
			out = append(out, current.String())
			current.Reset()
			currentTokens = 0
		}
	}

	maxChars := maxTokens * CharsPerToken

	for _, seg := range segments {
		segTokens := a.estimateString(seg)
		if segTokens > maxTokens {
			flush()
			out = append(out, hardSplit(seg, maxChars)...)
			continue
		}
		if currentTokens+segTokens > maxTokens && current.Len() > 0 {
			flush()
		}
		current.WriteString(seg)
		currentTokens += segTokens
	}
	flush()
	return out
}

// splitAtPunctuation breaks s into segments at each punctuation boundary in
// punctuationCutset, keeping the punctuation character attached to the
// segment that precedes it.
func splitAtPunctuation(s string) []string {
	var segments []string
	start := 0
	for i := 0; i < len(s); i++ {
		if containsByte(punctuationCutset, s[i]) {
			segments = append(segments, s[start:i+1])
			start = i + 1
		}
	}
	if start < len(s) {
		segments = append(segments, s[start:])
	}
	if segments == nil {
		segments = []string{s}
	}
	return segments
}

func containsByte(set []byte, b byte) bool {
	for _, c := range set {
		if c == b {
			return true
		}
	}
	return false
}

// hardSplit cuts s into fixed-size character runs when no punctuation
// boundary keeps segments within budget.
func hardSplit(s string, maxChars int) []string {
	if maxChars <= 0 {
		return []string{s}
	}
	runes := []rune(s)
	var out []string
	for i := 0; i < len(runes); i += maxChars {
		end := i + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[i:end]))
	}
	return out
}

// splitKeepingDelimiters splits s on sep, re-attaching sep to the end of
// every piece except the last so concatenation round-trips exactly (spec
// §4.2's chunk-concatenation invariant).
func splitKeepingDelimiters(s string, sep byte) []string {
	parts := strings.Split(s, string(sep))
	out := make([]string, len(parts))
	for i, p := range parts {
		if i < len(parts)-1 {
			out[i] = p + string(sep)
		} else {
			out[i] = p
		}
	}
	return out
}
