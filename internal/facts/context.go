// Package facts builds the immutable evaluation context that rule
// predicates and scoring factors read from.
package facts

import (
	"github.com/shopspring/decimal"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Variable names under which fact records are exposed to expressions.
const (
	VarTransaction = "tx"
	VarAccount     = "account"
	VarCustomer    = "customer"
	VarLoan        = "loan"
	VarBorrower    = "borrower"
	VarLender      = "lender"
	VarAggregates  = "agg"
)

// VarNames lists every fact variable, in a stable order.
func VarNames() []string {
	return []string{VarTransaction, VarAccount, VarCustomer, VarLoan, VarBorrower, VarLender, VarAggregates}
}

// Context is the immutable fact set for one evaluation.
//
// Every fact record is flattened into a map keyed by its JSON field name.
// Optional values that were not supplied are absent keys, so an expression
// reading them fails and the rule is treated as a non-match. Records that do
// not belong to the entity kind are present as empty maps.
type Context struct {
	kind         domain.EntityKind
	subjectID    string
	jurisdiction string
	accountID    string
	vars         map[string]map[string]any
}

// Kind returns the entity kind.
func (c *Context) Kind() domain.EntityKind { return c.kind }

// SubjectID returns the transaction or loan ID, if one was supplied.
func (c *Context) SubjectID() string { return c.subjectID }

// AccountID returns the account a transaction posts against.
func (c *Context) AccountID() string { return c.accountID }

// Jurisdiction returns the locale used for reporting breakdowns: the loan's
// jurisdiction, or for transactions the customer's country, falling back to
// the transaction country.
func (c *Context) Jurisdiction() string { return c.jurisdiction }

// Lookup returns a single fact value.
func (c *Context) Lookup(record, field string) (any, bool) {
	m, ok := c.vars[record]
	if !ok {
		return nil, false
	}
	v, ok := m[field]
	return v, ok
}

// Vars returns a copy of the fact variables suitable for an expression
// activation. Callers may not observe each other's changes.
func (c *Context) Vars() map[string]any {
	out := make(map[string]any, len(c.vars))
	for name, rec := range c.vars {
		out[name] = cloneMap(rec)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// recordBuilder collects one flattened record.
type recordBuilder map[string]any

func (r recordBuilder) str(key, v string) {
	if v != "" {
		r[key] = v
	}
}

func (r recordBuilder) boolean(key string, v bool) {
	r[key] = v
}

func (r recordBuilder) num(key string, v *float64) {
	if v != nil {
		r[key] = *v
	}
}

func (r recordBuilder) count(key string, v *int) {
	if v != nil {
		r[key] = float64(*v)
	}
}

func (r recordBuilder) money(key string, v *decimal.Decimal) {
	if v != nil {
		r[key] = v.InexactFloat64()
	}
}
