package domain

import "time"

// DatasetSummary is the order-independent rollup of a batch run.
// Failed counts scenarios that were evaluated but missed their expectation;
// Invalid counts scenarios that could not be evaluated at all.
type DatasetSummary struct {
	Total     int     `json:"total"`
	Evaluated int     `json:"evaluated"`
	Invalid   int     `json:"invalid"`
	Passed    int     `json:"passed"`
	Failed    int     `json:"failed"`
	PassRate  float64 `json:"passRate"`

	Decisions     map[Decision]int                 `json:"decisions"`
	UniqueRules   []string                         `json:"uniqueRules"`
	TopRules      []RuleFrequency                  `json:"topRules"`
	Categories    map[string]int                   `json:"categories"`
	Jurisdictions map[string]JurisdictionBreakdown `json:"jurisdictions"`

	RiskHistogram []HistogramBucket `json:"riskHistogram"`
	MeanRiskScore float64           `json:"meanRiskScore"`

	InvalidScenarios []InvalidScenario `json:"invalidScenarios,omitempty"`
}

// RuleFrequency is one row of the top-N table.
type RuleFrequency struct {
	RuleID   string `json:"ruleId"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// JurisdictionBreakdown counts outcomes for one jurisdiction.
type JurisdictionBreakdown struct {
	Scenarios int              `json:"scenarios"`
	Passed    int              `json:"passed"`
	Decisions map[Decision]int `json:"decisions"`
}

// RiskBucket is an inclusive integer score range.
type RiskBucket struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// HistogramBucket is a RiskBucket with its count.
type HistogramBucket struct {
	RiskBucket
	Count int `json:"count"`
}

// InvalidScenario records a scenario rejected before evaluation.
type InvalidScenario struct {
	Seq        int64  `json:"seq"`
	ScenarioID string `json:"scenarioId"`
	Error      string `json:"error"`
}

// DefaultRiskBuckets is the fixed four-bucket histogram layout.
func DefaultRiskBuckets() []RiskBucket {
	return []RiskBucket{
		{Min: 0, Max: 25},
		{Min: 26, Max: 50},
		{Min: 51, Max: 75},
		{Min: 76, Max: 100},
	}
}

// Run is a persisted batch run.
type Run struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenantId,omitempty"`
	Dataset    string         `json:"dataset,omitempty"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
	Summary    DatasetSummary `json:"summary"`
}
