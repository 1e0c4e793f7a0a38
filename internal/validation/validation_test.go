package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
)

func valid() Params {
	return Params{Pattern: "needle", Case: "auto", MaxResults: 100, TimeoutMS: 1000}
}

func TestValidate_AcceptsReasonableRequest(t *testing.T) {
	assert.NoError(t, Validate(valid()))
}

func TestValidate_RejectsBadFields(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Params)
		wantCode string
	}{
		{"empty pattern", func(p *Params) { p.Pattern = "" }, amerrors.ErrCodeEmptyPattern},
		{"whitespace pattern", func(p *Params) { p.Pattern = "   " }, amerrors.ErrCodeEmptyPattern},
		{"negative fuzzy", func(p *Params) { p.Fuzzy = -1 }, amerrors.ErrCodeInvalidFuzzy},
		{"fuzzy too deep", func(p *Params) { p.Fuzzy = 10 }, amerrors.ErrCodeInvalidFuzzy},
		{"negative context", func(p *Params) { p.Context = -1 }, amerrors.ErrCodeInvalidLimit},
		{"context too wide", func(p *Params) { p.Context = 101 }, amerrors.ErrCodeInvalidLimit},
		{"negative max results", func(p *Params) { p.MaxResults = -5 }, amerrors.ErrCodeInvalidLimit},
		{"negative timeout", func(p *Params) { p.TimeoutMS = -1 }, amerrors.ErrCodeInvalidLimit},
		{"unknown case mode", func(p *Params) { p.Case = "loud" }, amerrors.ErrCodeInvalidCase},
		{"empty glob", func(p *Params) { p.Globs = []string{""} }, amerrors.ErrCodeInvalidGlob},
		{"negated empty glob", func(p *Params) { p.Globs = []string{"!"} }, amerrors.ErrCodeInvalidGlob},
		{"glob with NUL", func(p *Params) { p.Globs = []string{"a\x00b"} }, amerrors.ErrCodeInvalidGlob},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid()
			tc.mutate(&p)
			err := Validate(p)
			require.Error(t, err)
			assert.Equal(t, tc.wantCode, amerrors.GetCode(err))
			assert.Equal(t, amerrors.CategoryValidation, amerrors.GetCategory(err))
		})
	}
}

func TestValidate_FuzzyBoundsInclusive(t *testing.T) {
	p := valid()
	p.Fuzzy = MaxFuzzyLevel
	assert.NoError(t, Validate(p))
}
