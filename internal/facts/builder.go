package facts

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Builder validates raw payloads and assembles contexts.
// It is safe for concurrent use.
type Builder struct {
	validate *validator.Validate
}

// NewBuilder creates a Builder.
func NewBuilder() *Builder {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Builder{validate: v}
}

// Build validates p and returns its context. When agg is non-nil it
// replaces p.Aggregates. Any failure is a *domain.ValidationError.
func (b *Builder) Build(p domain.Payload, agg *domain.AggregateFacts) (*Context, error) {
	if agg != nil {
		p.Aggregates = agg
	}

	kind := p.Kind()
	switch kind {
	case domain.EntityTransaction:
		if p.Account == nil {
			return nil, &domain.ValidationError{Field: "account", Reason: "is required for transactions"}
		}
		if p.Customer == nil {
			return nil, &domain.ValidationError{Field: "customer", Reason: "is required for transactions"}
		}
	case domain.EntityLoan:
		if p.Borrower == nil {
			return nil, &domain.ValidationError{Field: "borrower", Reason: "is required for loans"}
		}
		if p.Lender == nil {
			return nil, &domain.ValidationError{Field: "lender", Reason: "is required for loans"}
		}
	default:
		return nil, &domain.ValidationError{Reason: "exactly one of transaction or loan is required"}
	}

	if err := b.validate.Struct(p); err != nil {
		return nil, translate(err)
	}
	if err := checkMoney(&p); err != nil {
		return nil, err
	}

	c := &Context{
		kind: kind,
		vars: map[string]map[string]any{},
	}
	for _, name := range VarNames() {
		c.vars[name] = map[string]any{}
	}

	if kind == domain.EntityTransaction {
		c.subjectID = p.Transaction.ID
		c.accountID = p.Account.ID
		c.jurisdiction = p.Customer.Country
		if c.jurisdiction == "" {
			c.jurisdiction = p.Transaction.Country
		}
		c.vars[VarTransaction] = transactionVars(p.Transaction)
		c.vars[VarAccount] = accountVars(p.Account)
		c.vars[VarCustomer] = customerVars(p.Customer)
		c.vars[VarAggregates] = aggregateVars(p.Aggregates)
	} else {
		c.subjectID = p.Loan.ID
		c.jurisdiction = p.Loan.Jurisdiction
		c.vars[VarLoan] = loanVars(p.Loan)
		c.vars[VarBorrower] = borrowerVars(p.Borrower)
		c.vars[VarLender] = lenderVars(p.Lender)
	}

	return c, nil
}

func transactionVars(t *domain.TransactionFacts) map[string]any {
	r := recordBuilder{}
	r.str("id", t.ID)
	r.str("type", t.Type)
	r.money("amount", t.Amount)
	r.str("currency", t.Currency)
	r.str("country", t.Country)
	r.str("counterpartyCountry", t.CounterpartyCountry)
	if t.Timestamp != nil {
		r["timestamp"] = *t.Timestamp
	}
	return r
}

func accountVars(a *domain.AccountFacts) map[string]any {
	r := recordBuilder{}
	r.str("id", a.ID)
	r.str("status", a.Status)
	r.count("ageDays", a.AgeDays)
	r.money("dailyLimit", a.DailyLimit)
	r.money("balance", a.Balance)
	return r
}

func customerVars(c *domain.CustomerFacts) map[string]any {
	r := recordBuilder{}
	r.str("id", c.ID)
	r.str("country", c.Country)
	r.str("kycStatus", c.KYCStatus)
	r.boolean("pep", c.PEP)
	r.boolean("sanctionsHit", c.SanctionsHit)
	r.boolean("watchlistHit", c.WatchlistHit)
	return r
}

func loanVars(l *domain.LoanFacts) map[string]any {
	r := recordBuilder{}
	r.str("id", l.ID)
	r.money("principal", l.Principal)
	r.num("apr", l.APR)
	r.count("termMonths", l.TermMonths)
	r.str("jurisdiction", l.Jurisdiction)
	r.str("purpose", l.Purpose)
	r.boolean("secured", l.Secured)
	return r
}

func borrowerVars(b *domain.BorrowerFacts) map[string]any {
	r := recordBuilder{}
	r.str("id", b.ID)
	r.count("age", b.Age)
	r.count("creditScore", b.CreditScore)
	r.money("annualIncome", b.AnnualIncome)
	r.money("monthlyDebt", b.MonthlyDebt)
	r.count("delinquencies", b.Delinquencies)
	r.boolean("firstTimeBorrower", b.FirstTimeBorrower)
	r.boolean("sanctionsHit", b.SanctionsHit)
	r.str("country", b.Country)

	switch {
	case b.DebtToIncome != nil:
		r.num("debtToIncome", b.DebtToIncome)
	case b.MonthlyDebt != nil && b.AnnualIncome != nil && b.AnnualIncome.IsPositive():
		monthlyIncome := b.AnnualIncome.Div(decimal.NewFromInt(12))
		r["debtToIncome"] = b.MonthlyDebt.Div(monthlyIncome).InexactFloat64()
	}
	return r
}

func lenderVars(l *domain.LenderFacts) map[string]any {
	r := recordBuilder{}
	r.str("id", l.ID)
	r.str("name", l.Name)
	r.str("status", l.Status)
	if l.LicensedJurisdictions != nil {
		r["licensedJurisdictions"] = append([]string(nil), l.LicensedJurisdictions...)
	}
	return r
}

func aggregateVars(a *domain.AggregateFacts) map[string]any {
	r := recordBuilder{}
	if a == nil {
		return r
	}
	r.count("txCount24h", a.TxCount24h)
	r.money("volume24h", a.Volume24h)
	if a.Recent != nil {
		recent := make([]any, 0, len(a.Recent))
		for _, act := range a.Recent {
			recent = append(recent, map[string]any{
				"type":      act.Type,
				"amount":    act.Amount.InexactFloat64(),
				"timestamp": act.Timestamp,
			})
		}
		r["recent"] = recent
	}
	return r
}

// checkMoney enforces sign constraints the struct tags cannot express on
// decimal values.
func checkMoney(p *domain.Payload) error {
	type check struct {
		field    string
		value    *decimal.Decimal
		positive bool
	}
	var checks []check
	if p.Transaction != nil {
		checks = append(checks, check{"transaction.amount", p.Transaction.Amount, false})
	}
	if p.Account != nil {
		checks = append(checks, check{"account.dailyLimit", p.Account.DailyLimit, false})
	}
	if p.Loan != nil {
		checks = append(checks, check{"loan.principal", p.Loan.Principal, true})
	}
	if p.Borrower != nil {
		checks = append(checks, check{"borrower.monthlyDebt", p.Borrower.MonthlyDebt, false})
	}
	if p.Aggregates != nil {
		checks = append(checks, check{"aggregates.volume24h", p.Aggregates.Volume24h, false})
		for i := range p.Aggregates.Recent {
			amt := p.Aggregates.Recent[i].Amount
			checks = append(checks, check{fmt.Sprintf("aggregates.recent[%d].amount", i), &amt, false})
		}
	}

	for _, c := range checks {
		if c.value == nil {
			continue
		}
		if c.value.IsNegative() {
			return &domain.ValidationError{Field: c.field, Reason: "must not be negative"}
		}
		if c.positive && c.value.IsZero() {
			return &domain.ValidationError{Field: c.field, Reason: "must be positive"}
		}
	}
	return nil
}

// translate converts the first validator failure into a ValidationError.
func translate(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &domain.ValidationError{Reason: err.Error()}
	}

	fe := fieldErrs[0]
	field := strings.TrimPrefix(fe.Namespace(), "Payload.")

	var reason string
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "oneof":
		reason = "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		reason = "must be >= " + fe.Param()
	case "lte":
		reason = "must be <= " + fe.Param()
	case "gt":
		reason = "must be > " + fe.Param()
	case "len":
		reason = "must have length " + fe.Param()
	default:
		reason = "failed " + fe.Tag() + " check"
	}
	return &domain.ValidationError{Field: field, Reason: reason}
}
