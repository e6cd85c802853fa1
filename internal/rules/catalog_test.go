package rules

import (
	"errors"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func mustEnv(t *testing.T) *Env {
	t.Helper()
	env, err := NewEnv(domain.DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to create env: %v", err)
	}
	return env
}

func TestCatalogRejectsBadDefinitions(t *testing.T) {
	env := mustEnv(t)

	tests := []struct {
		name string
		defs []Definition
	}{
		{"duplicate id", []Definition{
			{ID: "r1", Tier: domain.TierFlag, Code: "A", Expression: "tx.amount > 1.0"},
			{ID: "r1", Tier: domain.TierFlag, Code: "B", Expression: "tx.amount > 2.0"},
		}},
		{"invalid expression", []Definition{
			{ID: "r1", Tier: domain.TierFlag, Code: "A", Expression: "this is not valid CEL !!!"},
		}},
		{"non-bool expression", []Definition{
			{ID: "r1", Tier: domain.TierFlag, Code: "A", Expression: `"text"`},
		}},
		{"unknown tier", []Definition{
			{ID: "r1", Tier: "WARN", Code: "A", Expression: "true"},
		}},
		{"missing code", []Definition{
			{ID: "r1", Tier: domain.TierFlag, Expression: "true"},
		}},
		{"missing predicate", []Definition{
			{ID: "r1", Tier: domain.TierFlag, Code: "A"},
		}},
		{"missing id", []Definition{
			{Tier: domain.TierFlag, Code: "A", Expression: "true"},
		}},
		{"bad message template", []Definition{
			{ID: "r1", Tier: domain.TierFlag, Code: "A", Expression: "true", Message: "{{.tx.amount"},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(env, domain.EntityTransaction, tt.defs)
			var ce *domain.CatalogError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CatalogError, got %v", err)
			}
		})
	}
}

func TestCatalogRequiredTier(t *testing.T) {
	env := mustEnv(t)

	defs := []Definition{{ID: "f1", Tier: domain.TierFlag, Code: "A", Expression: "true"}}

	if _, err := NewCatalog(env, domain.EntityLoan, defs); err != nil {
		t.Fatalf("unexpected error without required tiers: %v", err)
	}

	_, err := NewCatalog(env, domain.EntityLoan, defs, WithRequiredTiers(domain.TierDeny))
	var ce *domain.CatalogError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CatalogError for empty required tier, got %v", err)
	}
}

func TestRulesForTierIsStable(t *testing.T) {
	reg := mustRegistry(t)
	catalog, _ := reg.For(domain.EntityTransaction)

	first := catalog.RulesForTier(domain.TierDeny)
	first[0] = nil

	second := catalog.RulesForTier(domain.TierDeny)
	if second[0] == nil {
		t.Fatal("caller mutation leaked into the catalog")
	}
	if second[0].ID() != "tx-deny-sanctions" {
		t.Errorf("expected sanctions rule first, got %s", second[0].ID())
	}
	if len(catalog.RulesForTier("OTHER")) != 0 {
		t.Error("expected no rules for unknown tier")
	}
}

func TestRegistryJurisdictionPacks(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.Jurisdictions = []domain.JurisdictionPack{
		{Code: "GB", APRCap: 0.20, DenyCode: "GB_APR_CAP"},
	}

	reg, err := BuildRegistry(policy)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	p := benignLoan()
	p.Loan.Jurisdiction = "GB"
	p.Loan.APR = floatPtr(0.22)
	p.Lender.LicensedJurisdictions = []string{"GB"}

	out := evaluate(t, reg, p)
	if out.Decision != domain.DecisionDeny || out.Matches[0].Code != "GB_APR_CAP" {
		t.Fatalf("expected GB_APR_CAP deny, got %s %+v", out.Decision, out.Matches)
	}

	// US-CA is no longer a configured pack, so a high CA rate is not capped.
	p = benignLoan()
	p.Loan.APR = floatPtr(0.45)
	if out := evaluate(t, reg, p); out.Decision == domain.DecisionDeny {
		t.Errorf("expected no cap without a US-CA pack, got %+v", out.Matches)
	}
}

func TestRegistryPolicyOverrides(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.DisabledRules = []string{"tx-flag-structuring-range"}
	policy.Categories = map[string]string{"tx-flag-ctr": "bsa"}
	policy.Rules = []domain.RuleSpec{{
		ID: "tx-flag-round-amount", Tier: domain.TierFlag, Entity: domain.EntityTransaction,
		Code: "ROUND_AMOUNT", Category: "structuring",
		Expression: "tx.amount >= 1000.0 && int(tx.amount) % 1000 == 0",
	}}

	reg, err := BuildRegistry(policy)
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}

	p := benignTransaction("9000")
	p.Transaction.Type = domain.TxTypeCash
	out := evaluate(t, reg, p)

	if hasFlag(out.Flags, "STRUCTURING_RANGE") {
		t.Error("disabled rule still fired")
	}
	if !hasFlag(out.Flags, "ROUND_AMOUNT") {
		t.Errorf("expected policy rule to fire, got %v", out.Flags)
	}
	if got := reg.Categories()["tx-flag-ctr"]; got != "bsa" {
		t.Errorf("expected category override bsa, got %q", got)
	}
	if got := reg.Categories()["tx-flag-round-amount"]; got != "structuring" {
		t.Errorf("expected policy rule category, got %q", got)
	}
}

func TestRegistryRejectsDuplicatePolicyRule(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.Rules = []domain.RuleSpec{{
		ID: "tx-flag-ctr", Tier: domain.TierFlag, Entity: domain.EntityTransaction,
		Code: "X", Expression: "true",
	}}

	_, err := BuildRegistry(policy)
	var ce *domain.CatalogError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CatalogError, got %v", err)
	}
}

func TestRegistryListsRules(t *testing.T) {
	reg := mustRegistry(t)

	infos := reg.Rules()
	if len(infos) == 0 {
		t.Fatal("expected rules")
	}
	if infos[0].Entity != domain.EntityTransaction || infos[0].Tier != domain.TierDeny {
		t.Errorf("expected transaction deny rules first, got %+v", infos[0])
	}

	seenLoanDeny := false
	for _, info := range infos {
		if info.ID == "ln-deny-apr-cap-us-ca" {
			seenLoanDeny = true
			if info.Code != "US_CA_APR_CAP_EXCEEDED" {
				t.Errorf("unexpected code %s", info.Code)
			}
		}
	}
	if !seenLoanDeny {
		t.Error("expected generated US-CA APR cap rule")
	}
}
