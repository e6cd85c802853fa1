package domain

// Tier partitions the rule catalog. Deny rules are dispositive, flag rules
// are cumulative.
type Tier string

const (
	TierDeny Tier = "DENY"
	TierFlag Tier = "FLAG"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t == TierDeny || t == TierFlag
}

// RuleMatch is one entry of the audit trail. Only matched rules are recorded.
type RuleMatch struct {
	RuleID   string `json:"ruleId"`
	RuleName string `json:"ruleName"`
	Matched  bool   `json:"matched"`
	Tier     Tier   `json:"tier"`
	Code     string `json:"code"`
	Message  string `json:"message"`
}

// RuleInfo is the read-only description of a catalog rule, used for
// listings and category lookups.
type RuleInfo struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	Tier       Tier       `json:"tier"`
	Entity     EntityKind `json:"entity"`
	Code       string     `json:"code"`
	Expression string     `json:"expression,omitempty"`
	Position   int        `json:"position"`
}
