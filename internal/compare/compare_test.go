package compare

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestDecisionMismatchFails(t *testing.T) {
	c := New(HintPolicyFuzzy)

	res := c.Compare(domain.DecisionAllow, nil, domain.Expectation{Decision: domain.DecisionDeny})
	assert.False(t, res.Passed)
	assert.False(t, res.DecisionMatched)
	assert.False(t, res.HintsChecked)
	assert.Contains(t, res.Reason, "expected DENY")
}

func TestDecisionOnly(t *testing.T) {
	c := New(HintPolicyExact)

	res := c.Compare(domain.DecisionAllowWithFlags, []string{"HIGH_DTI"}, domain.Expectation{Decision: domain.DecisionAllowWithFlags})
	assert.True(t, res.Passed)
	assert.False(t, res.HintsChecked)
}

func TestHintPolicies(t *testing.T) {
	flags := []string{"STRUCTURING_RANGE", "HIGH_RISK_JURISDICTION"}

	tests := []struct {
		name   string
		policy HintPolicy
		hints  []string
		want   bool
	}{
		{"fuzzy hint inside flag", HintPolicyFuzzy, []string{"structuring"}, true},
		{"fuzzy flag inside hint", HintPolicyFuzzy, []string{"possible STRUCTURING_RANGE activity"}, true},
		{"fuzzy broad hint", HintPolicyFuzzy, []string{"risk"}, true},
		{"fuzzy no overlap", HintPolicyFuzzy, []string{"sanctions"}, false},
		{"exact case-insensitive", HintPolicyExact, []string{"structuring_range"}, true},
		{"exact rejects substring", HintPolicyExact, []string{"structuring"}, false},
		{"ignore never checks", HintPolicyIgnore, []string{"sanctions"}, true},
		{"blank hint never matches", HintPolicyFuzzy, []string{"  "}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(tt.policy).Compare(domain.DecisionAllowWithFlags, flags, domain.Expectation{
				Decision:  domain.DecisionAllowWithFlags,
				FlagHints: tt.hints,
			})
			assert.Equal(t, tt.want, res.Passed, res.Reason)
			if tt.want && res.HintsChecked {
				assert.NotEmpty(t, res.MatchedFlag)
				assert.NotEmpty(t, res.MatchedHint)
			}
		})
	}
}

func TestHintsWithNoFlags(t *testing.T) {
	res := New(HintPolicyFuzzy).Compare(domain.DecisionAllow, nil, domain.Expectation{
		Decision:  domain.DecisionAllow,
		FlagHints: []string{"anything"},
	})
	assert.False(t, res.Passed)
	assert.True(t, res.DecisionMatched)
	assert.True(t, res.HintsChecked)
}

func TestParseHintPolicy(t *testing.T) {
	p, err := ParseHintPolicy("")
	require.NoError(t, err)
	assert.Equal(t, HintPolicyFuzzy, p)

	p, err = ParseHintPolicy(" EXACT ")
	require.NoError(t, err)
	assert.Equal(t, HintPolicyExact, p)

	_, err = ParseHintPolicy("loose")
	assert.Error(t, err)
}
