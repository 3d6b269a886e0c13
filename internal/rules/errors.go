package rules

import (
	"errors"
	"fmt"
)

// ErrorCode categorises definition errors.
type ErrorCode string

const (
	// ErrCodeHeadNotInferred indicates a rule head over a stored predicate.
	ErrCodeHeadNotInferred ErrorCode = "HEAD_NOT_INFERRED"

	// ErrCodeUnboundHeadVariable indicates a head variable that no body
	// leaf binds.
	ErrCodeUnboundHeadVariable ErrorCode = "UNBOUND_HEAD_VARIABLE"

	// ErrCodeMalformedBody indicates a structurally invalid body.
	ErrCodeMalformedBody ErrorCode = "MALFORMED_BODY"

	// ErrCodeUndeclaredPredicate indicates a body fact over a predicate the
	// catalog does not know.
	ErrCodeUndeclaredPredicate ErrorCode = "UNDECLARED_PREDICATE"
)

// ErrScopeClosed is returned when defining into a scope that was exited.
var ErrScopeClosed = errors.New("rule scope already exited")

// DefinitionError is raised synchronously by Define. Nothing is registered
// when it is returned.
type DefinitionError struct {
	Code      ErrorCode
	Predicate string
	Message   string
}

func (e *DefinitionError) Error() string {
	if e.Predicate != "" {
		return fmt.Sprintf("%s: %s (predicate=%s)", e.Code, e.Message, e.Predicate)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newDefinitionError(code ErrorCode, predicate, format string, args ...any) *DefinitionError {
	return &DefinitionError{Code: code, Predicate: predicate, Message: fmt.Sprintf(format, args...)}
}

// IsDefinitionError reports whether err is, or wraps, a DefinitionError.
func IsDefinitionError(err error) bool {
	var de *DefinitionError
	return errors.As(err, &de)
}

// DefinitionErrorCode returns the code of a wrapped DefinitionError, or "".
func DefinitionErrorCode(err error) ErrorCode {
	var de *DefinitionError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
