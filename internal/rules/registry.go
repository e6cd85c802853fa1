package rules

import (
	"fmt"
	"maps"
	"slices"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Registry holds one catalog per entity kind, built once at startup.
type Registry struct {
	env        *Env
	catalogs   map[domain.EntityKind]*Catalog
	categories map[string]string
}

// BuildRegistry compiles the built-in catalogs plus the policy's extra
// rules. Disabled rules are removed and category overrides applied before
// compilation.
func BuildRegistry(policy domain.Policy) (*Registry, error) {
	env, err := NewEnv(policy)
	if err != nil {
		return nil, err
	}

	defs := map[domain.EntityKind][]Definition{
		domain.EntityTransaction: TransactionRules(),
		domain.EntityLoan:        LoanRules(policy.Jurisdictions),
	}

	for i, spec := range policy.Rules {
		def, err := definitionFromSpec(spec)
		if err != nil {
			return nil, fmt.Errorf("policy rule %d: %w", i, err)
		}
		defs[def.Entity] = append(defs[def.Entity], def)
	}

	reg := &Registry{
		env:        env,
		catalogs:   make(map[domain.EntityKind]*Catalog, len(defs)),
		categories: make(map[string]string),
	}

	for _, kind := range []domain.EntityKind{domain.EntityTransaction, domain.EntityLoan} {
		list := slices.DeleteFunc(defs[kind], func(d Definition) bool {
			return slices.Contains(policy.DisabledRules, d.ID)
		})
		for i := range list {
			if cat, ok := policy.Categories[list[i].ID]; ok {
				list[i].Category = cat
			}
			reg.categories[list[i].ID] = list[i].Category
		}

		catalog, err := NewCatalog(env, kind, list, WithRequiredTiers(policy.RequiredTiers...))
		if err != nil {
			return nil, err
		}
		reg.catalogs[kind] = catalog
	}

	return reg, nil
}

func definitionFromSpec(spec domain.RuleSpec) (Definition, error) {
	if spec.Entity != domain.EntityTransaction && spec.Entity != domain.EntityLoan {
		return Definition{}, &domain.CatalogError{RuleID: spec.ID, Reason: fmt.Sprintf("unknown entity %q", spec.Entity)}
	}
	if spec.Expression == "" {
		return Definition{}, &domain.CatalogError{RuleID: spec.ID, Reason: "expression is required"}
	}
	name := spec.Name
	if name == "" {
		name = spec.ID
	}
	return Definition{
		ID:         spec.ID,
		Name:       name,
		Category:   spec.Category,
		Tier:       spec.Tier,
		Entity:     spec.Entity,
		Code:       spec.Code,
		Message:    spec.Message,
		Expression: spec.Expression,
	}, nil
}

// For returns the catalog for kind.
func (r *Registry) For(kind domain.EntityKind) (*Catalog, bool) {
	c, ok := r.catalogs[kind]
	return c, ok
}

// Env returns the expression environment the catalogs were compiled in.
func (r *Registry) Env() *Env { return r.env }

// Rules lists every rule, transactions first, each catalog in tier and
// catalog order.
func (r *Registry) Rules() []domain.RuleInfo {
	var out []domain.RuleInfo
	for _, kind := range []domain.EntityKind{domain.EntityTransaction, domain.EntityLoan} {
		if c, ok := r.catalogs[kind]; ok {
			out = append(out, c.Rules()...)
		}
	}
	return out
}

// Categories returns a copy of the rule ID to category mapping.
func (r *Registry) Categories() map[string]string {
	return maps.Clone(r.categories)
}
