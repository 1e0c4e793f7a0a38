package search

import (
	"regexp/syntax"
	"strings"

	"github.com/Aman-CERP/amangrep/internal/bloom"
)

// exclusionLiteral extracts the text a file must contain for the
// pattern to match it. Fixed-string patterns are their own literal;
// regex patterns yield their longest required literal run, if the
// syntax tree guarantees one. The empty result means no text is
// provably required and exclusion must not run.
func exclusionLiteral(pattern string, fixedStrings bool) (string, bool) {
	if fixedStrings {
		return pattern, pattern != ""
	}
	re, err := syntax.Parse(pattern, syntax.Perl)
	if err != nil {
		return "", false
	}
	lit := requiredLiteral(re)
	return lit, lit != ""
}

// requiredLiteral walks the parsed regex for the longest literal every
// match must contain. Alternations, stars, and optionals guarantee
// nothing; concatenations guarantee each required piece of their
// parts.
func requiredLiteral(re *syntax.Regexp) string {
	switch re.Op {
	case syntax.OpLiteral:
		// A case-folded literal matches several spellings; none of
		// them is required verbatim.
		if re.Flags&syntax.FoldCase != 0 {
			return ""
		}
		return string(re.Rune)

	case syntax.OpConcat:
		// Adjacent literals fuse into one run; the longest run or
		// child literal wins.
		best := ""
		var run strings.Builder
		flush := func() {
			if run.Len() > len(best) {
				best = run.String()
			}
			run.Reset()
		}
		for _, sub := range re.Sub {
			if sub.Op == syntax.OpLiteral && sub.Flags&syntax.FoldCase == 0 {
				run.WriteString(string(sub.Rune))
				continue
			}
			flush()
			if inner := requiredLiteral(sub); len(inner) > len(best) {
				best = inner
			}
		}
		flush()
		return best

	case syntax.OpCapture:
		return requiredLiteral(re.Sub[0])

	case syntax.OpPlus:
		// x+ requires at least one x.
		return requiredLiteral(re.Sub[0])

	case syntax.OpBeginLine, syntax.OpEndLine, syntax.OpBeginText, syntax.OpEndText,
		syntax.OpWordBoundary, syntax.OpNoWordBoundary, syntax.OpEmptyMatch:
		return ""
	}
	// Alternation, repetition that admits zero, classes: nothing is
	// guaranteed.
	return ""
}

// caseInsensitive derives the effective sensitivity. Auto mirrors the
// backends' smart case: any ASCII uppercase letter in the pattern
// makes it sensitive.
func caseInsensitive(pattern string, mode CaseMode) bool {
	switch mode {
	case CaseSensitive:
		return false
	case CaseInsensitive:
		return true
	}
	for _, r := range pattern {
		if r >= 'A' && r <= 'Z' {
			return false
		}
	}
	return true
}

// exclusionGrams computes the pattern's n-grams for the variant the
// query needs, or reports that exclusion cannot apply: non-literal
// pattern, literal shorter than the gram size, or an insensitive
// query whose literal the folded variant cannot prove.
func exclusionGrams(req Request, ngramSize int) ([]string, bloom.Variant, bool) {
	if req.Fuzzy > 0 {
		return nil, 0, false
	}
	lit, ok := exclusionLiteral(req.Pattern, req.FixedStrings)
	if !ok {
		return nil, 0, false
	}
	variant := bloom.Sensitive
	if caseInsensitive(req.Pattern, req.Case) {
		variant = bloom.Insensitive
	}
	grams, ok := bloom.PatternGrams(lit, ngramSize, variant)
	if !ok {
		return nil, 0, false
	}
	return grams, variant, true
}
