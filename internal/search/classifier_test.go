package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/amangrep/internal/bloom"
)

func TestExclusionLiteral_RegexShapes(t *testing.T) {
	cases := []struct {
		name    string
		pattern string
		fixed   bool
		want    string
		ok      bool
	}{
		{"plain literal", "needle", false, "needle", true},
		{"fixed string passes through", "a|b(", true, "a|b(", true},
		{"longest run in concat", `foo\d+barbaz`, false, "barbaz", true},
		{"capture group recursed", "(needle)", false, "needle", true},
		{"plus requires one", "(abc)+", false, "abc", true},
		{"anchored literal", "^needle$", false, "needle", true},
		{"alternation guarantees nothing", "foo|bar", false, "", false},
		{"star admits zero", "(abc)*", false, "", false},
		{"optional admits zero", "(abc)?x", false, "x", true},
		{"class only", "[a-z]+", false, "", false},
		{"invalid regex", "(foo", false, "", false},
		{"empty fixed string", "", true, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			lit, ok := exclusionLiteral(tc.pattern, tc.fixed)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, lit)
			}
		})
	}
}

func TestExclusionLiteral_FoldedLiteralIsNotRequired(t *testing.T) {
	// (?i)needle matches many spellings; no byte sequence is
	// guaranteed, so exclusion must decline.
	_, ok := exclusionLiteral("(?i)needle", false)
	assert.False(t, ok)
}

func TestCaseInsensitive_SmartCase(t *testing.T) {
	assert.True(t, caseInsensitive("needle", CaseAuto))
	assert.False(t, caseInsensitive("Needle", CaseAuto))
	assert.True(t, caseInsensitive("nÄh", CaseAuto), "non-ASCII uppercase does not trip smart case")
	assert.False(t, caseInsensitive("needle", CaseSensitive))
	assert.True(t, caseInsensitive("NEEDLE", CaseInsensitive))
}

func TestExclusionGrams_VariantTracksCase(t *testing.T) {
	// Given a sensitive-spelling pattern
	grams, variant, ok := exclusionGrams(Request{Pattern: "Needle", Case: CaseAuto}, 3)
	require.True(t, ok)
	assert.Equal(t, bloom.Sensitive, variant)
	assert.NotEmpty(t, grams)

	// And a folded one
	_, variant, ok = exclusionGrams(Request{Pattern: "needle", Case: CaseAuto}, 3)
	require.True(t, ok)
	assert.Equal(t, bloom.Insensitive, variant)
}

func TestExclusionGrams_DisabledCases(t *testing.T) {
	// Fuzzy requests can match text the grams never saw.
	_, _, ok := exclusionGrams(Request{Pattern: "needle", Fuzzy: 1}, 3)
	assert.False(t, ok)

	// Too short for a single gram.
	_, _, ok = exclusionGrams(Request{Pattern: "ab"}, 3)
	assert.False(t, ok)

	// No required literal at all.
	_, _, ok = exclusionGrams(Request{Pattern: "[0-9]+"}, 3)
	assert.False(t, ok)
}
