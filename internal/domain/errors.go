package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed or out-of-range fact payload.
// It is scoped to one scenario.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid payload: " + e.Reason
	}
	return fmt.Sprintf("invalid payload: %s: %s", e.Field, e.Reason)
}

// CatalogError reports a malformed rule catalog. It is fatal at startup.
type CatalogError struct {
	RuleID string
	Reason string
	Cause  error
}

func (e *CatalogError) Error() string {
	msg := "rule catalog"
	if e.RuleID != "" {
		msg += " rule " + e.RuleID
	}
	msg += ": " + e.Reason
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *CatalogError) Unwrap() error {
	return e.Cause
}

// AggregationError reports partial summaries that cannot be merged.
// It is fatal to the batch.
type AggregationError struct {
	Reason string
}

func (e *AggregationError) Error() string {
	return "aggregation: " + e.Reason
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
