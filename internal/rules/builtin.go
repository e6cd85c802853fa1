package rules

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Rule categories used by the built-in catalogs.
const (
	CategorySanctions     = "sanctions"
	CategoryAccountStatus = "account_status"
	CategoryGeography     = "geography"
	CategoryLimits        = "limits"
	CategoryStructuring   = "structuring"
	CategoryReporting     = "reporting"
	CategoryVelocity      = "velocity"
	CategoryPEP           = "pep"
	CategoryKYC           = "kyc"
	CategoryAccountRisk   = "account_risk"
	CategoryLending       = "lending_limits"
	CategoryLender        = "lender_compliance"
	CategoryEligibility   = "borrower_eligibility"
	CategoryAffordability = "affordability"
	CategoryCreditRisk    = "credit_risk"
	CategoryProductRisk   = "product_risk"
)

// TransactionRules returns the built-in transaction catalog in priority
// order. Deny rules are listed most authoritative first.
func TransactionRules() []Definition {
	e := domain.EntityTransaction
	return []Definition{
		// Deny tier
		{
			ID: "tx-deny-sanctions", Name: "Sanctions Match", Category: CategorySanctions,
			Tier: domain.TierDeny, Entity: e, Code: "SANCTIONS_MATCH",
			Expression: `customer.sanctionsHit`,
			Message:    `Customer {{.customer.id}} matches a sanctions list`,
		},
		{
			ID: "tx-deny-prohibited-country", Name: "Prohibited Jurisdiction", Category: CategoryGeography,
			Tier: domain.TierDeny, Entity: e, Code: "PROHIBITED_JURISDICTION",
			Expression: `tx.counterpartyCountry in lists.prohibited_countries || tx.country in lists.prohibited_countries`,
			Message:    `Transaction involves a prohibited jurisdiction`,
		},
		{
			ID: "tx-deny-account-frozen", Name: "Account Frozen", Category: CategoryAccountStatus,
			Tier: domain.TierDeny, Entity: e, Code: "ACCOUNT_FROZEN",
			Expression: `account.status == "FROZEN"`,
			Message:    `Account {{.account.id}} is frozen`,
		},
		{
			ID: "tx-deny-account-closed", Name: "Account Closed", Category: CategoryAccountStatus,
			Tier: domain.TierDeny, Entity: e, Code: "ACCOUNT_CLOSED",
			Expression: `account.status == "CLOSED"`,
			Message:    `Account {{.account.id}} is closed`,
		},
		{
			ID: "tx-deny-daily-limit", Name: "Daily Limit Exceeded", Category: CategoryLimits,
			Tier: domain.TierDeny, Entity: e, Code: "DAILY_LIMIT_EXCEEDED",
			Expression: `tx.amount + (has(agg.volume24h) ? agg.volume24h : 0.0) > account.dailyLimit`,
			Message:    `Amount {{.tx.amount}} exceeds the daily limit of {{.account.dailyLimit}}`,
		},

		// Flag tier
		{
			ID: "tx-flag-structuring-range", Name: "Structuring Range Amount", Category: CategoryStructuring,
			Tier: domain.TierFlag, Entity: e, Code: "STRUCTURING_RANGE",
			Expression: `tx.type == "CASH" && tx.amount >= cfg.structuring_floor && tx.amount < cfg.ctr_threshold`,
			Message:    `Cash amount {{.tx.amount}} is just under the {{.cfg.ctr_threshold}} reporting threshold`,
		},
		{
			ID: "tx-flag-ctr", Name: "Currency Transaction Report", Category: CategoryReporting,
			Tier: domain.TierFlag, Entity: e, Code: "CTR_REQUIRED",
			Expression: `tx.type == "CASH" && tx.amount >= cfg.ctr_threshold`,
			Message:    `Cash amount {{.tx.amount}} requires a currency transaction report`,
		},
		{
			ID: "tx-flag-structuring-pattern", Name: "Structuring Pattern", Category: CategoryStructuring,
			Tier: domain.TierFlag, Entity: e, Code: "STRUCTURING_PATTERN",
			Expression: `double(size(agg.recent.filter(r, r.type == "CASH" && r.amount >= cfg.structuring_floor && r.amount < cfg.ctr_threshold))) >= cfg.structuring_min_count`,
			Message:    `Repeated cash amounts just under the reporting threshold`,
		},
		{
			ID: "tx-flag-velocity", Name: "High Velocity", Category: CategoryVelocity,
			Tier: domain.TierFlag, Entity: e, Code: "HIGH_VELOCITY",
			Expression: `agg.txCount24h >= cfg.velocity_count_24h`,
			Message:    `{{.agg.txCount24h}} transactions in the last 24 hours`,
		},
		{
			ID: "tx-flag-high-risk-country", Name: "High-Risk Jurisdiction", Category: CategoryGeography,
			Tier: domain.TierFlag, Entity: e, Code: "HIGH_RISK_JURISDICTION",
			Expression: `tx.counterpartyCountry in lists.high_risk_countries || tx.country in lists.high_risk_countries || customer.country in lists.high_risk_countries`,
			Message:    `Transaction involves a high-risk jurisdiction`,
		},
		{
			ID: "tx-flag-pep", Name: "Politically Exposed Person", Category: CategoryPEP,
			Tier: domain.TierFlag, Entity: e, Code: "PEP_INVOLVED",
			Expression: `customer.pep == true`,
			Message:    `Customer {{.customer.id}} is a politically exposed person`,
		},
		{
			ID: "tx-flag-watchlist", Name: "Watchlist Match", Category: CategorySanctions,
			Tier: domain.TierFlag, Entity: e, Code: "WATCHLIST_MATCH",
			Expression: `customer.watchlistHit == true`,
			Message:    `Customer {{.customer.id}} matches a watchlist`,
		},
		{
			ID: "tx-flag-kyc", Name: "KYC Incomplete", Category: CategoryKYC,
			Tier: domain.TierFlag, Entity: e, Code: "KYC_INCOMPLETE",
			Expression: `customer.kycStatus in ["PENDING", "FAILED", "EXPIRED"]`,
			Message:    `Customer KYC status is {{.customer.kycStatus}}`,
		},
		{
			ID: "tx-flag-new-account", Name: "New Account Large Transaction", Category: CategoryAccountRisk,
			Tier: domain.TierFlag, Entity: e, Code: "NEW_ACCOUNT_LARGE_TXN",
			Expression: `account.ageDays < cfg.new_account_days && tx.amount >= cfg.new_account_amount`,
			Message:    `Amount {{.tx.amount}} on an account opened {{.account.ageDays}} days ago`,
		},
		{
			ID: "tx-flag-large-wire", Name: "Large Wire", Category: CategoryReporting,
			Tier: domain.TierFlag, Entity: e, Code: "LARGE_WIRE",
			Expression: `tx.type == "WIRE" && tx.amount >= cfg.large_wire`,
			Message:    `Wire amount {{.tx.amount}} is at or above {{.cfg.large_wire}}`,
		},
		{
			ID: "tx-flag-dormant", Name: "Dormant Account Activity", Category: CategoryAccountRisk,
			Tier: domain.TierFlag, Entity: e, Code: "DORMANT_ACCOUNT_ACTIVITY",
			Expression: `account.status == "DORMANT"`,
			Message:    `Activity on dormant account {{.account.id}}`,
		},
	}
}

// LoanRules returns the built-in loan catalog. One APR-cap deny rule is
// generated per jurisdiction pack, in pack order.
func LoanRules(packs []domain.JurisdictionPack) []Definition {
	e := domain.EntityLoan
	defs := []Definition{
		{
			ID: "ln-deny-borrower-sanctions", Name: "Borrower Sanctioned", Category: CategorySanctions,
			Tier: domain.TierDeny, Entity: e, Code: "BORROWER_SANCTIONED",
			Expression: `borrower.sanctionsHit`,
			Message:    `Borrower {{.borrower.id}} matches a sanctions list`,
		},
		{
			ID: "ln-deny-lender-suspended", Name: "Lender Suspended", Category: CategoryLender,
			Tier: domain.TierDeny, Entity: e, Code: "LENDER_SUSPENDED",
			Expression: `lender.status == "SUSPENDED"`,
			Message:    `Lender {{.lender.id}} is suspended`,
		},
	}

	for _, pack := range packs {
		code := strconv.Quote(pack.Code)
		defs = append(defs, Definition{
			ID:         "ln-deny-apr-cap-" + strings.ToLower(pack.Code),
			Name:       fmt.Sprintf("APR Cap Exceeded (%s)", pack.Code),
			Category:   CategoryLending,
			Tier:       domain.TierDeny,
			Entity:     e,
			Code:       pack.DenyCode,
			Expression: fmt.Sprintf(`loan.jurisdiction == %s && loan.apr > jurisdictions[%s].aprCap`, code, code),
			Message:    fmt.Sprintf(`APR {{.loan.apr}} exceeds the %s cap of {{index .jurisdictions %s "aprCap"}}`, pack.Code, code),
		})
	}

	defs = append(defs,
		Definition{
			ID: "ln-deny-lender-unlicensed", Name: "Lender Not Licensed", Category: CategoryLender,
			Tier: domain.TierDeny, Entity: e, Code: "LENDER_NOT_LICENSED",
			Expression: `!(loan.jurisdiction in lender.licensedJurisdictions)`,
			Message:    `Lender {{.lender.id}} is not licensed in {{.loan.jurisdiction}}`,
		},
		Definition{
			ID: "ln-deny-underage", Name: "Borrower Underage", Category: CategoryEligibility,
			Tier: domain.TierDeny, Entity: e, Code: "BORROWER_UNDERAGE",
			Expression: `borrower.age < cfg.min_borrower_age`,
			Message:    `Borrower age {{.borrower.age}} is below {{.cfg.min_borrower_age}}`,
		},
		Definition{
			ID: "ln-deny-dti", Name: "DTI Limit Exceeded", Category: CategoryAffordability,
			Tier: domain.TierDeny, Entity: e, Code: "DTI_LIMIT_EXCEEDED",
			Expression: `borrower.debtToIncome > cfg.dti_hard_limit`,
			Message:    `Debt-to-income {{.borrower.debtToIncome}} exceeds {{.cfg.dti_hard_limit}}`,
		},

		Definition{
			ID: "ln-flag-high-dti", Name: "High Debt-to-Income", Category: CategoryAffordability,
			Tier: domain.TierFlag, Entity: e, Code: "HIGH_DTI",
			Expression: `borrower.debtToIncome >= cfg.dti_flag`,
			Message:    `Debt-to-income {{.borrower.debtToIncome}} is at or above {{.cfg.dti_flag}}`,
		},
		Definition{
			ID: "ln-flag-jumbo", Name: "Jumbo Loan", Category: CategoryProductRisk,
			Tier: domain.TierFlag, Entity: e, Code: "JUMBO_LOAN",
			Expression: `loan.principal > cfg.jumbo_principal`,
			Message:    `Principal {{.loan.principal}} exceeds the conforming limit`,
		},
		Definition{
			ID: "ln-flag-first-time", Name: "First-Time Borrower", Category: CategoryCreditRisk,
			Tier: domain.TierFlag, Entity: e, Code: "FIRST_TIME_BORROWER",
			Expression: `borrower.firstTimeBorrower == true`,
			Message:    `Borrower {{.borrower.id}} has no prior credit history with the lender`,
		},
		Definition{
			ID: "ln-flag-high-risk-combo", Name: "High-Risk Combination", Category: CategoryCreditRisk,
			Tier: domain.TierFlag, Entity: e, Code: "HIGH_RISK_COMBINATION",
			Expression: `loan.apr >= cfg.combo_apr && loan.termMonths >= cfg.combo_term_months && borrower.creditScore < cfg.combo_credit_score`,
			Message:    `APR {{.loan.apr}} over {{.loan.termMonths}} months for credit score {{.borrower.creditScore}}`,
		},
		Definition{
			ID: "ln-flag-subprime", Name: "Subprime Borrower", Category: CategoryCreditRisk,
			Tier: domain.TierFlag, Entity: e, Code: "SUBPRIME_BORROWER",
			Expression: `borrower.creditScore < cfg.subprime_credit`,
			Message:    `Credit score {{.borrower.creditScore}} is below {{.cfg.subprime_credit}}`,
		},
		Definition{
			ID: "ln-flag-apr-near-cap", Name: "APR Near Cap", Category: CategoryLending,
			Tier: domain.TierFlag, Entity: e, Code: "APR_NEAR_CAP",
			Expression: `loan.jurisdiction in jurisdictions && loan.apr <= jurisdictions[loan.jurisdiction].aprCap && loan.apr >= jurisdictions[loan.jurisdiction].aprCap - cfg.apr_near_cap_margin`,
			Message:    `APR {{.loan.apr}} is within {{.cfg.apr_near_cap_margin}} of the {{.loan.jurisdiction}} cap`,
		},
		Definition{
			ID: "ln-flag-delinquency", Name: "Prior Delinquency", Category: CategoryCreditRisk,
			Tier: domain.TierFlag, Entity: e, Code: "PRIOR_DELINQUENCY",
			Expression: `borrower.delinquencies > 0.0`,
			Message:    `Borrower has {{.borrower.delinquencies}} prior delinquencies`,
		},
		Definition{
			ID: "ln-flag-extended-term", Name: "Extended Term", Category: CategoryProductRisk,
			Tier: domain.TierFlag, Entity: e, Code: "EXTENDED_TERM",
			Expression: `loan.termMonths > cfg.extended_term_months`,
			Message:    `Term of {{.loan.termMonths}} months exceeds {{.cfg.extended_term_months}}`,
		},
	)

	return defs
}
