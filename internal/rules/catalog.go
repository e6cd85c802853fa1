package rules

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/facts"
)

// Definition is one entry of the ordered rule table. Exactly one of
// Expression or Predicate must be set. Message is a text/template rendered
// against the evaluation variables (tx, loan, cfg, ...).
type Definition struct {
	ID         string
	Name       string
	Category   string
	Tier       domain.Tier
	Entity     domain.EntityKind
	Code       string
	Message    string
	Expression string
	Predicate  func(*facts.Context) bool
}

// Rule is a compiled, immutable Definition.
type Rule struct {
	def      Definition
	position int
	program  cel.Program
	message  *template.Template
}

// ID returns the rule ID.
func (r *Rule) ID() string { return r.def.ID }

// Code returns the code added to the flag set when the rule matches.
func (r *Rule) Code() string { return r.def.Code }

// Tier returns the rule's tier.
func (r *Rule) Tier() domain.Tier { return r.def.Tier }

// Category returns the rule's category.
func (r *Rule) Category() string { return r.def.Category }

// Info describes the rule for listings.
func (r *Rule) Info() domain.RuleInfo {
	return domain.RuleInfo{
		ID:         r.def.ID,
		Name:       r.def.Name,
		Category:   r.def.Category,
		Tier:       r.def.Tier,
		Entity:     r.def.Entity,
		Code:       r.def.Code,
		Expression: r.def.Expression,
		Position:   r.position,
	}
}

// matches runs the predicate. Evaluation errors, non-bool results and
// predicate panics are non-matches.
func (r *Rule) matches(fc *facts.Context, activation map[string]any) (matched bool) {
	if r.def.Predicate != nil {
		defer func() {
			if recover() != nil {
				matched = false
			}
		}()
		return r.def.Predicate(fc)
	}

	out, _, err := r.program.Eval(activation)
	if err != nil {
		return false
	}
	b, ok := out.(types.Bool)
	return ok && bool(b)
}

func (r *Rule) match(activation map[string]any) domain.RuleMatch {
	return domain.RuleMatch{
		RuleID:   r.def.ID,
		RuleName: r.def.Name,
		Matched:  true,
		Tier:     r.def.Tier,
		Code:     r.def.Code,
		Message:  r.render(activation),
	}
}

func (r *Rule) render(activation map[string]any) string {
	if r.message == nil {
		return r.def.Name
	}
	var buf bytes.Buffer
	if err := r.message.Execute(&buf, activation); err != nil {
		return r.def.Name
	}
	return buf.String()
}

// Catalog is the immutable, ordered rule table for one entity kind.
type Catalog struct {
	entity domain.EntityKind
	env    *Env
	deny   []*Rule
	flag   []*Rule
}

// CatalogOption configures catalog construction.
type CatalogOption func(*catalogOptions)

type catalogOptions struct {
	required []domain.Tier
}

// WithRequiredTiers makes construction fail when any of tiers is empty.
func WithRequiredTiers(tiers ...domain.Tier) CatalogOption {
	return func(o *catalogOptions) {
		o.required = append(o.required, tiers...)
	}
}

// NewCatalog compiles defs in order. It fails with *domain.CatalogError on
// duplicate IDs, malformed definitions, expressions that do not compile or
// do not yield bool, and empty required tiers.
func NewCatalog(env *Env, entity domain.EntityKind, defs []Definition, opts ...CatalogOption) (*Catalog, error) {
	var o catalogOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := &Catalog{entity: entity, env: env}
	seen := make(map[string]bool, len(defs))

	for i, def := range defs {
		if def.ID == "" {
			return nil, &domain.CatalogError{Reason: fmt.Sprintf("definition %d has no id", i)}
		}
		if seen[def.ID] {
			return nil, &domain.CatalogError{RuleID: def.ID, Reason: "duplicate rule id"}
		}
		seen[def.ID] = true

		rule, err := compileDefinition(env, def, i)
		if err != nil {
			return nil, err
		}

		switch def.Tier {
		case domain.TierDeny:
			c.deny = append(c.deny, rule)
		case domain.TierFlag:
			c.flag = append(c.flag, rule)
		}
	}

	for _, tier := range o.required {
		if len(c.RulesForTier(tier)) == 0 {
			return nil, &domain.CatalogError{Reason: fmt.Sprintf("%s catalog: %s tier is required but empty", entity, tier)}
		}
	}

	return c, nil
}

func compileDefinition(env *Env, def Definition, position int) (*Rule, error) {
	if !def.Tier.Valid() {
		return nil, &domain.CatalogError{RuleID: def.ID, Reason: fmt.Sprintf("unknown tier %q", def.Tier)}
	}
	if def.Code == "" {
		return nil, &domain.CatalogError{RuleID: def.ID, Reason: "code is required"}
	}
	if (def.Expression == "") == (def.Predicate == nil) {
		return nil, &domain.CatalogError{RuleID: def.ID, Reason: "exactly one of expression or predicate is required"}
	}

	rule := &Rule{def: def, position: position}

	if def.Expression != "" {
		if env == nil {
			return nil, &domain.CatalogError{RuleID: def.ID, Reason: "expression rules need an environment"}
		}
		program, outType, err := env.Compile(def.Expression)
		if err != nil {
			return nil, &domain.CatalogError{RuleID: def.ID, Reason: "failed to compile expression", Cause: err}
		}
		if !outType.IsExactType(cel.BoolType) && !outType.IsExactType(cel.DynType) {
			return nil, &domain.CatalogError{RuleID: def.ID, Reason: fmt.Sprintf("expression must return bool, got %s", outType)}
		}
		rule.program = program
	}

	if def.Message != "" {
		tmpl, err := template.New(def.ID).Option("missingkey=zero").Parse(def.Message)
		if err != nil {
			return nil, &domain.CatalogError{RuleID: def.ID, Reason: "failed to parse message template", Cause: err}
		}
		rule.message = tmpl
	}

	return rule, nil
}

// Entity returns the entity kind the catalog applies to.
func (c *Catalog) Entity() domain.EntityKind { return c.entity }

// RulesForTier returns the tier's rules in catalog order. The returned
// slice is a copy; the sequence is identical across calls.
func (c *Catalog) RulesForTier(tier domain.Tier) []*Rule {
	var src []*Rule
	switch tier {
	case domain.TierDeny:
		src = c.deny
	case domain.TierFlag:
		src = c.flag
	}
	return append([]*Rule(nil), src...)
}

// Len returns the total number of rules.
func (c *Catalog) Len() int { return len(c.deny) + len(c.flag) }

// Rules describes every rule, deny tier first, in catalog order.
func (c *Catalog) Rules() []domain.RuleInfo {
	out := make([]domain.RuleInfo, 0, c.Len())
	for _, r := range c.deny {
		out = append(out, r.Info())
	}
	for _, r := range c.flag {
		out = append(out, r.Info())
	}
	return out
}

func (c *Catalog) activation(fc *facts.Context) map[string]any {
	if c.env == nil {
		return fc.Vars()
	}
	return c.env.Activation(fc)
}
