// Package compare judges evaluation results against expected outcomes.
package compare

import (
	"fmt"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// HintPolicy decides how expected flag hints are matched against actual
// flag codes.
type HintPolicy string

const (
	// HintPolicyFuzzy matches when either string contains the other,
	// ignoring case. A short hint such as "risk" matches many codes.
	HintPolicyFuzzy HintPolicy = domain.HintPolicyFuzzy

	// HintPolicyExact matches case-insensitive equality only.
	HintPolicyExact HintPolicy = domain.HintPolicyExact

	// HintPolicyIgnore skips the hint check entirely.
	HintPolicyIgnore HintPolicy = domain.HintPolicyIgnore
)

// ParseHintPolicy validates a policy name. An empty name selects the fuzzy
// policy.
func ParseHintPolicy(name string) (HintPolicy, error) {
	switch p := HintPolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return HintPolicyFuzzy, nil
	case HintPolicyFuzzy, HintPolicyExact, HintPolicyIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown hint policy %q", name)
	}
}

// Comparator is stateless and safe for concurrent use.
type Comparator struct {
	policy HintPolicy
}

// New creates a Comparator.
func New(policy HintPolicy) *Comparator {
	if policy == "" {
		policy = HintPolicyFuzzy
	}
	return &Comparator{policy: policy}
}

// Policy returns the hint policy in effect.
func (c *Comparator) Policy() HintPolicy { return c.policy }

// Compare checks the decision first. Hints are only consulted when they are
// supplied and the decision matched; then at least one flag must match one
// hint under the comparator's policy.
func (c *Comparator) Compare(decision domain.Decision, flags []string, expected domain.Expectation) domain.Comparison {
	res := domain.Comparison{
		DecisionMatched: decision == expected.Decision,
	}
	if !res.DecisionMatched {
		res.Reason = fmt.Sprintf("expected %s, got %s", expected.Decision, decision)
		return res
	}

	if len(expected.FlagHints) == 0 || c.policy == HintPolicyIgnore {
		res.Passed = true
		return res
	}

	res.HintsChecked = true
	for _, flag := range flags {
		for _, hint := range expected.FlagHints {
			if c.matches(flag, hint) {
				res.Passed = true
				res.MatchedFlag = flag
				res.MatchedHint = hint
				return res
			}
		}
	}

	res.Reason = fmt.Sprintf("no flag in %v matches hints %v (%s)", flags, expected.FlagHints, c.policy)
	return res
}

func (c *Comparator) matches(flag, hint string) bool {
	f := strings.ToLower(strings.TrimSpace(flag))
	h := strings.ToLower(strings.TrimSpace(hint))
	if f == "" || h == "" {
		return false
	}
	if c.policy == HintPolicyExact {
		return f == h
	}
	return strings.Contains(f, h) || strings.Contains(h, f)
}
