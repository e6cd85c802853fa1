package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityKind identifies the kind of financial event a fact payload describes.
type EntityKind string

const (
	EntityTransaction EntityKind = "transaction"
	EntityLoan        EntityKind = "loan"
)

// Account status values.
const (
	AccountActive  = "ACTIVE"
	AccountFrozen  = "FROZEN"
	AccountClosed  = "CLOSED"
	AccountDormant = "DORMANT"
)

// Transaction types.
const (
	TxTypeCash     = "CASH"
	TxTypeWire     = "WIRE"
	TxTypeACH      = "ACH"
	TxTypeCard     = "CARD"
	TxTypeTransfer = "TRANSFER"
)

// Payload is the raw fact set submitted for evaluation.
// Exactly one of Transaction or Loan must be set. Transactions travel with
// their Account and Customer; loans with their Borrower and Lender.
type Payload struct {
	Transaction *TransactionFacts `json:"transaction,omitempty"`
	Account     *AccountFacts     `json:"account,omitempty"`
	Customer    *CustomerFacts    `json:"customer,omitempty"`

	Loan     *LoanFacts     `json:"loan,omitempty"`
	Borrower *BorrowerFacts `json:"borrower,omitempty"`
	Lender   *LenderFacts   `json:"lender,omitempty"`

	// Aggregates is optional historical context. Nil means no data.
	Aggregates *AggregateFacts `json:"aggregates,omitempty"`
}

// Kind infers the entity kind. It returns "" when the payload is ambiguous.
func (p *Payload) Kind() EntityKind {
	switch {
	case p.Transaction != nil && p.Loan == nil:
		return EntityTransaction
	case p.Loan != nil && p.Transaction == nil:
		return EntityLoan
	default:
		return ""
	}
}

// TransactionFacts describes a single monetary movement.
type TransactionFacts struct {
	ID                  string           `json:"id,omitempty"`
	Type                string           `json:"type" validate:"required,oneof=CASH WIRE ACH CARD TRANSFER"`
	Amount              *decimal.Decimal `json:"amount" validate:"required"`
	Currency            string           `json:"currency,omitempty" validate:"omitempty,len=3"`
	Country             string           `json:"country,omitempty" validate:"omitempty,len=2"`
	CounterpartyCountry string           `json:"counterpartyCountry,omitempty" validate:"omitempty,len=2"`
	Timestamp           *time.Time       `json:"timestamp,omitempty"`
}

// AccountFacts describes the account a transaction posts against.
type AccountFacts struct {
	ID         string           `json:"id" validate:"required"`
	Status     string           `json:"status" validate:"required,oneof=ACTIVE FROZEN CLOSED DORMANT"`
	AgeDays    *int             `json:"ageDays,omitempty" validate:"omitempty,gte=0"`
	DailyLimit *decimal.Decimal `json:"dailyLimit,omitempty"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
}

// CustomerFacts describes the account holder.
type CustomerFacts struct {
	ID           string `json:"id" validate:"required"`
	Country      string `json:"country,omitempty" validate:"omitempty,len=2"`
	KYCStatus    string `json:"kycStatus,omitempty" validate:"omitempty,oneof=VERIFIED PENDING FAILED EXPIRED"`
	PEP          bool   `json:"pep,omitempty"`
	SanctionsHit bool   `json:"sanctionsHit,omitempty"`
	WatchlistHit bool   `json:"watchlistHit,omitempty"`
}

// LoanFacts describes a loan application.
type LoanFacts struct {
	ID           string           `json:"id,omitempty"`
	Principal    *decimal.Decimal `json:"principal" validate:"required"`
	APR          *float64         `json:"apr" validate:"required,gte=0,lte=1"`
	TermMonths   *int             `json:"termMonths" validate:"required,gt=0"`
	Jurisdiction string           `json:"jurisdiction" validate:"required"`
	Purpose      string           `json:"purpose,omitempty"`
	Secured      bool             `json:"secured,omitempty"`
}

// BorrowerFacts describes the loan applicant.
type BorrowerFacts struct {
	ID                string           `json:"id" validate:"required"`
	Age               *int             `json:"age,omitempty" validate:"omitempty,gte=0"`
	CreditScore       *int             `json:"creditScore,omitempty" validate:"omitempty,gte=300,lte=850"`
	AnnualIncome      *decimal.Decimal `json:"annualIncome,omitempty"`
	MonthlyDebt       *decimal.Decimal `json:"monthlyDebt,omitempty"`
	DebtToIncome      *float64         `json:"debtToIncome,omitempty" validate:"omitempty,gte=0"`
	Delinquencies     *int             `json:"delinquencies,omitempty" validate:"omitempty,gte=0"`
	FirstTimeBorrower bool             `json:"firstTimeBorrower,omitempty"`
	SanctionsHit      bool             `json:"sanctionsHit,omitempty"`
	Country           string           `json:"country,omitempty" validate:"omitempty,len=2"`
}

// LenderFacts describes the originating lender.
type LenderFacts struct {
	ID                    string   `json:"id" validate:"required"`
	Name                  string   `json:"name,omitempty"`
	Status                string   `json:"status,omitempty" validate:"omitempty,oneof=ACTIVE SUSPENDED"`
	LicensedJurisdictions []string `json:"licensedJurisdictions,omitempty"`
}

// AggregateFacts is historical activity for the subject of a transaction.
// Nil fields mean the statistic is unavailable, not zero.
type AggregateFacts struct {
	TxCount24h *int             `json:"txCount24h,omitempty" validate:"omitempty,gte=0"`
	Volume24h  *decimal.Decimal `json:"volume24h,omitempty"`
	Recent     []RecentActivity `json:"recent,omitempty" validate:"omitempty,dive"`
}

// RecentActivity is one prior transaction in the aggregates block.
type RecentActivity struct {
	Type      string          `json:"type" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
}
