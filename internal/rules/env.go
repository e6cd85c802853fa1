// Package rules provides the CEL-Go based rule catalog and the
// deny-first decision evaluator.
package rules

import (
	"fmt"
	"maps"

	"github.com/google/cel-go/cel"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/facts"
)

// Parameter variable names. Parameters come from the policy, not the payload.
const (
	ParamThresholds    = "cfg"
	ParamLists         = "lists"
	ParamJurisdictions = "jurisdictions"
)

// List parameter keys.
const (
	ListProhibitedCountries = "prohibited_countries"
	ListHighRiskCountries   = "high_risk_countries"
)

// Env is a compiled CEL environment bound to one policy's parameters.
// It is immutable and safe for concurrent use.
type Env struct {
	cel    *cel.Env
	params map[string]any
}

// NewEnv creates the expression environment for policy.
func NewEnv(policy domain.Policy) (*Env, error) {
	opts := []cel.EnvOption{
		cel.CrossTypeNumericComparisons(true),
	}
	for _, name := range facts.VarNames() {
		opts = append(opts, cel.Variable(name, cel.MapType(cel.StringType, cel.DynType)))
	}
	opts = append(opts,
		cel.Variable(ParamThresholds, cel.MapType(cel.StringType, cel.DoubleType)),
		cel.Variable(ParamLists, cel.MapType(cel.StringType, cel.ListType(cel.StringType))),
		cel.Variable(ParamJurisdictions, cel.MapType(cel.StringType, cel.MapType(cel.StringType, cel.DynType))),
	)

	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	jurisdictions := make(map[string]map[string]any, len(policy.Jurisdictions))
	for _, j := range policy.Jurisdictions {
		jurisdictions[j.Code] = map[string]any{
			"code":     j.Code,
			"name":     j.Name,
			"aprCap":   j.APRCap,
			"denyCode": j.DenyCode,
		}
	}

	thresholds := maps.Clone(policy.Thresholds)
	if thresholds == nil {
		thresholds = map[string]float64{}
	}

	return &Env{
		cel: env,
		params: map[string]any{
			ParamThresholds: thresholds,
			ParamLists: map[string][]string{
				ListProhibitedCountries: append([]string{}, policy.ProhibitedCountries...),
				ListHighRiskCountries:   append([]string{}, policy.HighRiskCountries...),
			},
			ParamJurisdictions: jurisdictions,
		},
	}, nil
}

// Compile type-checks expr and returns a program along with its output type.
func (e *Env) Compile(expr string) (cel.Program, *cel.Type, error) {
	ast, issues := e.cel.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, nil, issues.Err()
	}
	program, err := e.cel.Program(ast)
	if err != nil {
		return nil, nil, err
	}
	return program, ast.OutputType(), nil
}

// Activation merges the context's fact variables with the policy parameters.
func (e *Env) Activation(fc *facts.Context) map[string]any {
	vars := fc.Vars()
	for k, v := range e.params {
		vars[k] = v
	}
	return vars
}
