package domain

import (
	"time"
)

// Decision is the engine's verdict.
type Decision string

const (
	DecisionAllow          Decision = "ALLOW"
	DecisionAllowWithFlags Decision = "ALLOW_WITH_FLAGS"
	DecisionDeny           Decision = "DENY"
)

// Severity orders decisions: DENY > ALLOW_WITH_FLAGS > ALLOW.
// Unknown values rank below ALLOW.
func (d Decision) Severity() int {
	switch d {
	case DecisionDeny:
		return 2
	case DecisionAllowWithFlags:
		return 1
	case DecisionAllow:
		return 0
	default:
		return -1
	}
}

// Valid reports whether d is one of the three decisions.
func (d Decision) Valid() bool {
	return d.Severity() >= 0
}

// Decisions lists every decision in ascending severity.
func Decisions() []Decision {
	return []Decision{DecisionAllow, DecisionAllowWithFlags, DecisionDeny}
}

// Evaluation is the complete, auditable result for one fact context.
type Evaluation struct {
	ID        string              `json:"id"`
	TenantID  string              `json:"tenantId,omitempty"`
	SubjectID string              `json:"subjectId,omitempty"`
	Entity    EntityKind          `json:"entity"`
	Decision  Decision            `json:"decision"`
	Flags     []string            `json:"flags"`
	Matches   []RuleMatch         `json:"matchedRules"`
	RiskScore int                 `json:"riskScore"`
	Factors   []ScoreContribution `json:"scoreFactors,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
	Metadata  EvaluationMetadata  `json:"metadata"`
}

// ScoreContribution shows how a single factor moved the risk score.
type ScoreContribution struct {
	Factor string  `json:"factor"`
	Value  float64 `json:"value"`
	Delta  int     `json:"delta"`
}

// EvaluationMetadata contains processing information.
type EvaluationMetadata struct {
	TraceID        string `json:"traceId,omitempty"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	ShortCircuited bool   `json:"shortCircuited"`
	DurationMicros int64  `json:"durationMicros"`
	EngineVersion  string `json:"engineVersion"`
}

// EvaluationResponse is the API response for an evaluation.
type EvaluationResponse struct {
	EvaluationID string              `json:"evaluationId"`
	SubjectID    string              `json:"subjectId,omitempty"`
	Decision     Decision            `json:"decision"`
	Flags        []string            `json:"flags"`
	MatchedRules []RuleMatch         `json:"matchedRules"`
	RiskScore    int                 `json:"riskScore"`
	ScoreFactors []ScoreContribution `json:"scoreFactors,omitempty"`
	Metadata     EvaluationMetadata  `json:"metadata"`
}

// ToResponse converts an Evaluation to an API response.
func (e *Evaluation) ToResponse() *EvaluationResponse {
	flags := e.Flags
	if flags == nil {
		flags = []string{}
	}
	matches := e.Matches
	if matches == nil {
		matches = []RuleMatch{}
	}
	return &EvaluationResponse{
		EvaluationID: e.ID,
		SubjectID:    e.SubjectID,
		Decision:     e.Decision,
		Flags:        flags,
		MatchedRules: matches,
		RiskScore:    e.RiskScore,
		ScoreFactors: e.Factors,
		Metadata:     e.Metadata,
	}
}
