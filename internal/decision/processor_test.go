package decision

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func newProcessor(t *testing.T) *Processor {
	t.Helper()
	p, err := New(domain.DefaultPolicy(), WithMetrics(metrics.New(prometheus.NewRegistry())))
	if err != nil {
		t.Fatalf("failed to create processor: %v", err)
	}
	return p
}

func cashTransaction(amount string) domain.Payload {
	return domain.Payload{
		Transaction: &domain.TransactionFacts{ID: "tx-001", Type: domain.TxTypeCash, Amount: dec(amount), Currency: "USD", Country: "US"},
		Account:     &domain.AccountFacts{ID: "acct-001", Status: domain.AccountActive, AgeDays: intPtr(800)},
		Customer:    &domain.CustomerFacts{ID: "cust-001", Country: "US", KYCStatus: "VERIFIED"},
	}
}

func loanApplication(apr float64, term, credit int) domain.Payload {
	return domain.Payload{
		Loan:     &domain.LoanFacts{ID: "loan-001", Principal: dec("15000"), APR: floatPtr(apr), TermMonths: intPtr(term), Jurisdiction: "US-CA"},
		Borrower: &domain.BorrowerFacts{ID: "bor-001", Age: intPtr(31), CreditScore: intPtr(credit), DebtToIncome: floatPtr(0.25)},
		Lender:   &domain.LenderFacts{ID: "len-001", Status: "ACTIVE", LicensedJurisdictions: []string{"US-CA"}},
	}
}

func TestProcessor(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()

	t.Run("StructuringRange", func(t *testing.T) {
		eval, err := proc.Evaluate(ctx, &Input{TenantID: "tenant-001", TraceID: "trace-001", Payload: cashTransaction("9500")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Decision != domain.DecisionAllowWithFlags {
			t.Errorf("expected ALLOW_WITH_FLAGS, got %s", eval.Decision)
		}
		if len(eval.Flags) == 0 || eval.Flags[0] != "STRUCTURING_RANGE" {
			t.Errorf("expected STRUCTURING_RANGE, got %v", eval.Flags)
		}
		if eval.TenantID != "tenant-001" {
			t.Errorf("expected tenantID 'tenant-001', got '%s'", eval.TenantID)
		}
		if eval.Metadata.TraceID != "trace-001" {
			t.Errorf("expected traceID 'trace-001', got '%s'", eval.Metadata.TraceID)
		}
		if eval.SubjectID != "tx-001" {
			t.Errorf("expected subject tx-001, got %s", eval.SubjectID)
		}
	})

	t.Run("FrozenAccount", func(t *testing.T) {
		p := cashTransaction("9500")
		p.Account.Status = domain.AccountFrozen

		eval, err := proc.Evaluate(ctx, &Input{TenantID: "tenant-001", Payload: p})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Decision != domain.DecisionDeny {
			t.Errorf("expected DENY, got %s", eval.Decision)
		}
		if len(eval.Flags) != 0 {
			t.Errorf("expected no flags, got %v", eval.Flags)
		}
		if len(eval.Matches) != 1 || eval.Matches[0].Code != "ACCOUNT_FROZEN" {
			t.Errorf("expected single ACCOUNT_FROZEN match, got %+v", eval.Matches)
		}
		if !eval.Metadata.ShortCircuited {
			t.Error("expected short-circuit metadata")
		}
		if eval.RiskScore < 0 || eval.RiskScore > 100 {
			t.Errorf("risk score out of range: %d", eval.RiskScore)
		}
	})

	t.Run("APRCap", func(t *testing.T) {
		eval, err := proc.Evaluate(ctx, &Input{TenantID: "tenant-001", Payload: loanApplication(0.45, 36, 700)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Decision != domain.DecisionDeny || eval.Matches[0].Code != "US_CA_APR_CAP_EXCEEDED" {
			t.Errorf("expected US_CA_APR_CAP_EXCEEDED deny, got %s %+v", eval.Decision, eval.Matches)
		}
	})

	t.Run("HighRiskCombination", func(t *testing.T) {
		eval, err := proc.Evaluate(ctx, &Input{TenantID: "tenant-001", Payload: loanApplication(0.30, 60, 600)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if eval.Decision != domain.DecisionAllowWithFlags {
			t.Fatalf("expected ALLOW_WITH_FLAGS, got %s", eval.Decision)
		}
		found := false
		for _, f := range eval.Flags {
			if f == "HIGH_RISK_COMBINATION" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected HIGH_RISK_COMBINATION, got %v", eval.Flags)
		}
		// 50 + credit(600) 15 + dti(0.25) 0 + premium(0.23) 20
		if eval.RiskScore != 85 {
			t.Errorf("expected risk 85, got %d (%+v)", eval.RiskScore, eval.Factors)
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		p := loanApplication(0.10, 36, 700)
		p.Loan.APR = nil

		_, err := proc.Evaluate(ctx, &Input{TenantID: "tenant-001", Payload: p})
		var ve *domain.ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if ve.Field != "loan.apr" {
			t.Errorf("expected loan.apr, got %s", ve.Field)
		}
	})
}

func TestProcessorDeterministic(t *testing.T) {
	proc := newProcessor(t)
	ctx := context.Background()

	p := loanApplication(0.34, 72, 590)
	p.Borrower.Delinquencies = intPtr(2)

	first, err := proc.Evaluate(ctx, &Input{Payload: p})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < 10; i++ {
		again, err := proc.Evaluate(ctx, &Input{Payload: p})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if again.Decision != first.Decision || again.RiskScore != first.RiskScore ||
			!reflect.DeepEqual(again.Flags, first.Flags) || !reflect.DeepEqual(again.Matches, first.Matches) {
			t.Fatalf("run %d differs from first run", i)
		}
		if again.ID == first.ID {
			t.Error("expected a fresh evaluation id per run")
		}
	}
}

func TestNewRejectsBadPolicy(t *testing.T) {
	policy := domain.DefaultPolicy()
	policy.Rules = []domain.RuleSpec{{ID: "x", Tier: domain.TierFlag, Entity: domain.EntityLoan, Code: "X", Expression: "loan.apr +"}}

	_, err := New(policy)
	var ce *domain.CatalogError
	if !errors.As(err, &ce) {
		t.Fatalf("expected CatalogError, got %v", err)
	}
}
