package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/factlog/internal/store"
)

// ErrNotStorable is returned when Store or Retract targets an inferred
// predicate. It is the same sentinel the storage backends use.
var ErrNotStorable = store.ErrNotStorable

// ErrUndefinedPredicate is returned when a query reaches a predicate with
// nothing behind it: a stored predicate never declared, or an inferred
// predicate with no visible rule.
var ErrUndefinedPredicate = errors.New("predicate has no storage and no rules")

// RuntimeError represents an error detected while storing facts or
// evaluating a query.
//
// RuntimeError includes structured fields for diagnostics.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Predicate names the predicate involved, if any.
	Predicate string

	// QueryID identifies the query, when the error came from one.
	QueryID string

	err error
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeNotStorable indicates a store or retract of a fact that cannot
	// be stored.
	ErrCodeNotStorable RuntimeErrorCode = "NOT_STORABLE"

	// ErrCodeUndefinedPredicate indicates a predicate with no storage and no rules.
	ErrCodeUndefinedPredicate RuntimeErrorCode = "UNDEFINED_PREDICATE"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.QueryID != "" && e.Predicate != "" {
		return fmt.Sprintf("%s: %s (query=%s, predicate=%s)", e.Code, e.Message, e.QueryID, e.Predicate)
	}
	if e.Predicate != "" {
		return fmt.Sprintf("%s: %s (predicate=%s)", e.Code, e.Message, e.Predicate)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the sentinel behind the code, so errors.Is works with
// ErrNotStorable and ErrUndefinedPredicate.
func (e *RuntimeError) Unwrap() error {
	return e.err
}

// IsNotStorable returns true if the error is a not-storable error.
// Uses errors.Is to handle wrapped errors.
func IsNotStorable(err error) bool {
	return errors.Is(err, ErrNotStorable)
}

// IsUndefinedPredicate returns true if the error is an undefined predicate
// error.
func IsUndefinedPredicate(err error) bool {
	return errors.Is(err, ErrUndefinedPredicate)
}

// ErrorCode returns the code of a wrapped RuntimeError, or "".
func ErrorCode(err error) RuntimeErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// newNotStorableError wraps a storage validation failure.
func newNotStorableError(predicate string, cause error) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeNotStorable,
		Message:   cause.Error(),
		Predicate: predicate,
		err:       cause,
	}
}

// newUndefinedPredicateError creates a RuntimeError for a predicate that has
// no visible rule.
func newUndefinedPredicateError(predicate string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeUndefinedPredicate,
		Message:   "predicate has neither a declared relation nor a visible rule",
		Predicate: predicate,
		err:       ErrUndefinedPredicate,
	}
}
