package bloom

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// binaryReplacementDensity is the fraction of replacement runes above
// which content is classified binary and skipped entirely. Text files
// with stray invalid bytes stay tokenizable; files that are mostly not
// UTF-8 are not worth a filter.
const binaryReplacementDensity = 0.5

// TokenizeResult holds the distinct grams of one file for both case
// variants, or the binary classification that prevented tokenization.
type TokenizeResult struct {
	Sensitive   []string
	Insensitive []string
	Binary      bool
}

// Tokenize runs file content through the canonical pipeline: decode as
// UTF-8 with deterministic replacement of invalid bytes, classify
// binary by replacement density, normalize newlines to LF, apply NFC,
// then extract every contiguous n-gram of ngramSize runes. Exactly the
// same pipeline normalizes query patterns, which is what makes gram
// comparison between pattern and file meaningful.
func Tokenize(content []byte, ngramSize int) TokenizeResult {
	// NUL bytes mean binary outright. Backends transcode NUL-heavy
	// encodings like UTF-16 before matching, so grams taken over the
	// raw bytes could wrongly prove a transcoded match absent.
	if bytes.IndexByte(content, 0) >= 0 {
		return TokenizeResult{Binary: true}
	}

	text, density := decodeReplacing(content)
	if density > binaryReplacementDensity {
		return TokenizeResult{Binary: true}
	}

	text = norm.NFC.String(normalizeNewlines(text))

	return TokenizeResult{
		Sensitive:   grams(text, ngramSize),
		Insensitive: grams(strings.ToLower(text), ngramSize),
	}
}

// NormalizePattern applies the content pipeline's normalization steps
// to a query pattern.
func NormalizePattern(pattern string) string {
	return norm.NFC.String(normalizeNewlines(pattern))
}

// PatternGrams returns the distinct grams of the normalized pattern
// for one variant. ok is false when exclusion must be skipped for this
// pattern: it is shorter than the gram size (no complete gram exists),
// or the insensitive variant is requested for a non-ASCII pattern.
// Backends fold case across all of Unicode while the insensitive
// filter folds with ToLower, and only ASCII folding is provably the
// same under both, so non-ASCII insensitive queries stay unaccelerated.
func PatternGrams(pattern string, ngramSize int, variant Variant) ([]string, bool) {
	text := NormalizePattern(pattern)

	if variant == Insensitive {
		if !isASCII(text) {
			return nil, false
		}
		text = strings.ToLower(text)
	}

	gs := grams(text, ngramSize)
	if len(gs) == 0 {
		return nil, false
	}
	return gs, true
}

// decodeReplacing decodes content as UTF-8, substituting U+FFFD for
// each invalid byte, and returns the decoded text with the fraction of
// runes that are replacements.
func decodeReplacing(content []byte) (string, float64) {
	var b strings.Builder
	b.Grow(len(content))

	total, replaced := 0, 0
	for i := 0; i < len(content); {
		r, size := utf8.DecodeRune(content[i:])
		if r == utf8.RuneError && size == 1 {
			replaced++
		}
		b.WriteRune(r)
		total++
		i += size
	}

	if total == 0 {
		return "", 0
	}
	return b.String(), float64(replaced) / float64(total)
}

// normalizeNewlines rewrites CRLF and lone CR to LF so gram content is
// independent of the file's line-ending convention.
func normalizeNewlines(s string) string {
	if !strings.ContainsRune(s, '\r') {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

// grams extracts the distinct contiguous k-rune windows of text in
// first-seen order. Windows cross line boundaries; the extra grams are
// harmless and spare a per-line split.
func grams(text string, k int) []string {
	runes := []rune(text)
	if len(runes) < k {
		return nil
	}

	seen := make(map[string]struct{}, len(runes))
	out := make([]string, 0, len(runes))
	for i := 0; i+k <= len(runes); i++ {
		g := string(runes[i : i+k])
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// isASCII reports whether s contains only ASCII bytes.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
