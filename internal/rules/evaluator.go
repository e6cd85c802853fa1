package rules

import (
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/facts"
)

// Outcome is the evaluator's verdict for one context.
type Outcome struct {
	Decision domain.Decision
	// Flags holds matched flag codes, deduplicated, in first-match order.
	Flags []string
	// Matches is the audit trail in catalog order.
	Matches []domain.RuleMatch
	// Evaluated counts predicates actually run.
	Evaluated int
	// ShortCircuited is true when a deny rule ended evaluation.
	ShortCircuited bool
}

// Evaluate applies catalog to fc. The first matching deny rule, in catalog
// order, ends evaluation with DENY and no flags. Otherwise every flag rule
// runs and each match contributes its code once.
func Evaluate(fc *facts.Context, catalog *Catalog) Outcome {
	activation := catalog.activation(fc)
	out := Outcome{Flags: []string{}, Matches: []domain.RuleMatch{}}

	for _, rule := range catalog.deny {
		out.Evaluated++
		if rule.matches(fc, activation) {
			out.Decision = domain.DecisionDeny
			out.Matches = append(out.Matches, rule.match(activation))
			out.ShortCircuited = true
			return out
		}
	}

	seen := make(map[string]struct{})
	for _, rule := range catalog.flag {
		out.Evaluated++
		if !rule.matches(fc, activation) {
			continue
		}
		out.Matches = append(out.Matches, rule.match(activation))
		if _, dup := seen[rule.def.Code]; !dup {
			seen[rule.def.Code] = struct{}{}
			out.Flags = append(out.Flags, rule.def.Code)
		}
	}

	out.Decision = domain.DecisionAllow
	if len(out.Flags) > 0 {
		out.Decision = domain.DecisionAllowWithFlags
	}
	return out
}
