// Package autherr defines the domain error kinds surfaced by the
// authorization service and their HTTP mapping.
package autherr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a domain error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindDuplicate
	KindConflict
	KindValidation
	KindBusinessRule
	KindTenantIsolation
	KindTransient
	KindInternal
)

// String names the kind for logs and error envelopes.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindBusinessRule:
		return "business_rule"
	case KindTenantIsolation:
		return "tenant_isolation"
	case KindTransient:
		return "transient"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is a domain error with a kind, a caller-facing message and an
// optional wrapped cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so sentinels built with the
// constructors compare by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NotFound reports a missing entity.
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Duplicate reports a unique-constraint violation at the entity level.
func Duplicate(format string, args ...interface{}) *Error {
	return &Error{Kind: KindDuplicate, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a concurrent-modification clash.
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Validation reports malformed input.
func Validation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// BusinessRule reports a violated domain invariant.
func BusinessRule(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBusinessRule, Message: fmt.Sprintf(format, args...)}
}

// TenantIsolation reports a cross-tenant boundary violation.
func TenantIsolation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindTenantIsolation, Message: fmt.Sprintf(format, args...)}
}

// Transient reports a retryable store or transport failure.
func Transient(msg string, err error) *Error {
	return &Error{Kind: KindTransient, Message: msg, Err: err}
}

// Internal reports an unexpected failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// Wrap attaches a cause to a kind with a message.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether the error should be retried by a consumer.
func Retryable(err error) bool {
	return KindOf(err) == KindTransient
}

// HTTPStatus maps an error chain to the boundary status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindDuplicate, KindConflict:
		return http.StatusConflict
	case KindValidation, KindBusinessRule:
		return http.StatusBadRequest
	case KindTenantIsolation:
		return http.StatusForbidden
	case KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
