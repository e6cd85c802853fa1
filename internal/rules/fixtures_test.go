package rules

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/facts"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

// benignTransaction is an active, verified domestic card payment.
func benignTransaction(amount string) domain.Payload {
	return domain.Payload{
		Transaction: &domain.TransactionFacts{ID: "tx-1", Type: domain.TxTypeCard, Amount: dec(amount), Currency: "USD", Country: "US"},
		Account:     &domain.AccountFacts{ID: "acct-1", Status: domain.AccountActive, AgeDays: intPtr(400), DailyLimit: dec("50000")},
		Customer:    &domain.CustomerFacts{ID: "cust-1", Country: "US", KYCStatus: "VERIFIED"},
	}
}

// benignLoan is a prime-borrower loan in US-CA by a licensed lender.
func benignLoan() domain.Payload {
	return domain.Payload{
		Loan:     &domain.LoanFacts{ID: "loan-1", Principal: dec("20000"), APR: floatPtr(0.09), TermMonths: intPtr(36), Jurisdiction: "US-CA"},
		Borrower: &domain.BorrowerFacts{ID: "b-1", Age: intPtr(40), CreditScore: intPtr(760), DebtToIncome: floatPtr(0.20)},
		Lender:   &domain.LenderFacts{ID: "l-1", Status: "ACTIVE", LicensedJurisdictions: []string{"US-CA", "US-NY"}},
	}
}

func mustBuild(t *testing.T, p domain.Payload) *facts.Context {
	t.Helper()
	c, err := facts.NewBuilder().Build(p, nil)
	if err != nil {
		t.Fatalf("failed to build context: %v", err)
	}
	return c
}

func mustRegistry(t *testing.T) *Registry {
	t.Helper()
	reg, err := BuildRegistry(domain.DefaultPolicy())
	if err != nil {
		t.Fatalf("failed to build registry: %v", err)
	}
	return reg
}

func evaluate(t *testing.T, reg *Registry, p domain.Payload) Outcome {
	t.Helper()
	fc := mustBuild(t, p)
	catalog, ok := reg.For(fc.Kind())
	if !ok {
		t.Fatalf("no catalog for %s", fc.Kind())
	}
	return Evaluate(fc, catalog)
}

func hasFlag(flags []string, code string) bool {
	for _, f := range flags {
		if f == code {
			return true
		}
	}
	return false
}
