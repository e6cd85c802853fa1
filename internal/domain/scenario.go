package domain

// Scenario is one entry of a validation dataset: a fact payload annotated
// with the outcome the dataset author expects.
type Scenario struct {
	ID       string      `json:"id"`
	Payload  Payload     `json:"payload"`
	Expected Expectation `json:"expected"`
}

// Expectation is the expected-outcome annotation of a scenario.
type Expectation struct {
	Decision  Decision `json:"decision"`
	FlagHints []string `json:"flagHints,omitempty"`
}

// Comparison explains how an actual result was judged against an Expectation.
type Comparison struct {
	Passed          bool   `json:"passed"`
	DecisionMatched bool   `json:"decisionMatched"`
	HintsChecked    bool   `json:"hintsChecked"`
	MatchedFlag     string `json:"matchedFlag,omitempty"`
	MatchedHint     string `json:"matchedHint,omitempty"`
	Reason          string `json:"reason,omitempty"`
}

// ScenarioResult is the evaluated, compared outcome of one scenario.
// Seq is the scenario's position in its dataset and anchors first-seen
// ordering in aggregate statistics.
type ScenarioResult struct {
	Seq          int64       `json:"seq"`
	ScenarioID   string      `json:"scenarioId"`
	Entity       EntityKind  `json:"entity"`
	Jurisdiction string      `json:"jurisdiction,omitempty"`
	Decision     Decision    `json:"decision"`
	Flags        []string    `json:"flags"`
	Matches      []RuleMatch `json:"matchedRules"`
	RiskScore    int         `json:"riskScore"`
	Expected     Expectation `json:"expected"`
	Passed       bool        `json:"passed"`
	Comparison   Comparison  `json:"comparison"`
}
