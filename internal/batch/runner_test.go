package batch

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/aggregate"
	"github.com/opensource-finance/kestrel/internal/compare"
	"github.com/opensource-finance/kestrel/internal/decision"
	"github.com/opensource-finance/kestrel/internal/domain"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func intPtr(v int) *int { return &v }

func floatPtr(v float64) *float64 { return &v }

func newRunner(t *testing.T, opts ...Option) *Runner {
	t.Helper()
	proc, err := decision.New(domain.DefaultPolicy())
	require.NoError(t, err)
	return NewRunner(proc, compare.New(compare.HintPolicyFuzzy), aggregate.Config{TopN: 5}, opts...)
}

func txScenario(id, amount, status string, expected domain.Decision, hints ...string) domain.Scenario {
	return domain.Scenario{
		ID: id,
		Payload: domain.Payload{
			Transaction: &domain.TransactionFacts{ID: id, Type: domain.TxTypeCash, Amount: dec(amount), Currency: "USD"},
			Account:     &domain.AccountFacts{ID: "acct-" + id, Status: status, AgeDays: intPtr(900)},
			Customer:    &domain.CustomerFacts{ID: "cust-" + id, Country: "US", KYCStatus: "VERIFIED"},
		},
		Expected: domain.Expectation{Decision: expected, FlagHints: hints},
	}
}

func loanScenario(id string, apr float64, expected domain.Decision, hints ...string) domain.Scenario {
	return domain.Scenario{
		ID: id,
		Payload: domain.Payload{
			Loan:     &domain.LoanFacts{ID: id, Principal: dec("20000"), APR: floatPtr(apr), TermMonths: intPtr(36), Jurisdiction: "US-CA"},
			Borrower: &domain.BorrowerFacts{ID: "bor-" + id, Age: intPtr(40), CreditScore: intPtr(760), DebtToIncome: floatPtr(0.2)},
			Lender:   &domain.LenderFacts{ID: "len-" + id, Status: "ACTIVE", LicensedJurisdictions: []string{"US-CA"}},
		},
		Expected: domain.Expectation{Decision: expected, FlagHints: hints},
	}
}

func dataset() []domain.Scenario {
	invalid := loanScenario("bad-apr", 0.1, domain.DecisionAllow)
	invalid.Payload.Loan.APR = nil

	return []domain.Scenario{
		txScenario("structuring", "9500", domain.AccountActive, domain.DecisionAllowWithFlags, "structuring"),
		txScenario("frozen", "100", domain.AccountFrozen, domain.DecisionDeny),
		txScenario("clean", "120", domain.AccountActive, domain.DecisionAllow),
		txScenario("wrong-expectation", "100", domain.AccountClosed, domain.DecisionAllow),
		loanScenario("apr-cap", 0.45, domain.DecisionDeny),
		loanScenario("prime", 0.08, domain.DecisionAllow),
		invalid,
	}
}

func TestRunSummary(t *testing.T) {
	runner := newRunner(t, WithWorkers(3), WithResults(true))

	report, err := runner.Run(context.Background(), "tenant-001", "unit", dataset())
	require.NoError(t, err)

	s := report.Summary()
	assert.Equal(t, 7, s.Total)
	assert.Equal(t, 6, s.Evaluated)
	assert.Equal(t, 1, s.Invalid)
	assert.Equal(t, 5, s.Passed)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 3, s.Decisions[domain.DecisionDeny])

	require.Len(t, s.InvalidScenarios, 1)
	assert.Equal(t, "bad-apr", s.InvalidScenarios[0].ScenarioID)
	assert.Equal(t, int64(6), s.InvalidScenarios[0].Seq)

	assert.NotEmpty(t, report.Run.ID)
	assert.Equal(t, "tenant-001", report.Run.TenantID)
	assert.False(t, report.Run.FinishedAt.Before(report.Run.StartedAt))

	require.Len(t, report.Results, 6)
	for i, res := range report.Results {
		if i > 0 {
			assert.Less(t, report.Results[i-1].Seq, res.Seq, "results are kept in dataset order")
		}
	}
	assert.Equal(t, "US-CA", report.Results[4].Jurisdiction)
	assert.Equal(t, "structuring", report.Results[0].Comparison.MatchedHint)
}

func TestRunIndependentOfWorkerCount(t *testing.T) {
	var scenarios []domain.Scenario
	for i := 0; i < 60; i++ {
		switch i % 4 {
		case 0:
			scenarios = append(scenarios, txScenario(fmt.Sprintf("s%d", i), "9500", domain.AccountActive, domain.DecisionAllowWithFlags))
		case 1:
			scenarios = append(scenarios, txScenario(fmt.Sprintf("s%d", i), "15000", domain.AccountActive, domain.DecisionAllowWithFlags, "ctr"))
		case 2:
			scenarios = append(scenarios, loanScenario(fmt.Sprintf("s%d", i), 0.40, domain.DecisionDeny))
		default:
			scenarios = append(scenarios, txScenario(fmt.Sprintf("s%d", i), "50", domain.AccountDormant, domain.DecisionAllow))
		}
	}

	want, err := newRunner(t, WithWorkers(1)).Run(context.Background(), "t", "d", scenarios)
	require.NoError(t, err)

	for _, workers := range []int{2, 7, 16} {
		got, err := newRunner(t, WithWorkers(workers)).Run(context.Background(), "t", "d", scenarios)
		require.NoError(t, err)
		assert.Equal(t, want.Summary(), got.Summary(), "workers=%d", workers)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newRunner(t).Run(ctx, "t", "d", dataset())
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.LessOrEqual(t, report.Summary().Total, len(dataset()))
}

func TestRunEmptyDataset(t *testing.T) {
	report, err := newRunner(t).Run(context.Background(), "t", "empty", nil)
	require.NoError(t, err)
	assert.Zero(t, report.Summary().Total)
	assert.Zero(t, report.Summary().PassRate)
}

func TestEvaluateScenarioUnknownExpectation(t *testing.T) {
	sc := txScenario("x", "10", domain.AccountActive, "MAYBE")

	_, err := newRunner(t).EvaluateScenario(context.Background(), "t", 0, &sc)
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "expected.decision", ve.Field)
}
