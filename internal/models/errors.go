package models

import (
	"errors"
	"fmt"
)

// SchemaError reports a row that fails schema validation: a missing column or
// a value with the wrong type. Schema failures are fatal for the affected
// rows only; they are excluded from rule evaluation and reported, never
// crashing the pass.
type SchemaError struct {
	Line    int    // 1-based input line, 0 when unknown
	Field   string // offending column
	Message string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("schema error at line %d, field %s: %s", e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("schema error for field %s: %s", e.Field, e.Message)
}

// ConfigKeyError reports access to an unknown threshold parameter. This is a
// caller bug and fails the pass fast.
type ConfigKeyError struct {
	Key string
}

// Error implements the error interface.
func (e *ConfigKeyError) Error() string {
	return fmt.Sprintf("unknown configuration key %q", e.Key)
}

// RuleEvaluationError records a rule that panicked or returned an error
// during evaluation. It is attributed to the rule and surfaced in the
// evaluation report; it never aborts the remaining rules.
type RuleEvaluationError struct {
	Rule string
	Err  error
}

// Error implements the error interface.
func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q evaluation failed: %v", e.Rule, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RuleEvaluationError) Unwrap() error {
	return e.Err
}

// AnnotationConflictError reports two different non-null annotations for one
// record key within a merge. Conflicts are surfaced, never auto-resolved: the
// ambiguous row keeps a null annotation and is marked conflicting.
type AnnotationConflictError struct {
	Key    Key
	First  string
	Second string
}

// Error implements the error interface.
func (e *AnnotationConflictError) Error() string {
	return fmt.Sprintf("conflicting annotations for %s: %q vs %q", e.Key, e.First, e.Second)
}

// Provider failure sentinels. ErrProviderTimeout and ErrProviderRateLimited
// are transient and retried with backoff; anything else wrapped in a
// ProviderFailure is treated as permanent for the affected row.
var (
	ErrProviderTimeout     = errors.New("annotation provider timed out")
	ErrProviderRateLimited = errors.New("annotation provider rate limited")
)

// ProviderFailure reports a per-row annotation failure with its record key.
type ProviderFailure struct {
	Key Key
	Err error
}

// Error implements the error interface.
func (e *ProviderFailure) Error() string {
	return fmt.Sprintf("annotation failed for %s: %v", e.Key, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *ProviderFailure) Unwrap() error {
	return e.Err
}

// Transient reports whether the failure is worth retrying.
func (e *ProviderFailure) Transient() bool {
	return errors.Is(e.Err, ErrProviderTimeout) || errors.Is(e.Err, ErrProviderRateLimited)
}
