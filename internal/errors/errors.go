// Package errors carries the error taxonomy shared by the billing core, the
// gateway adapter and the HTTP layer. Errors are built with NewError and
// classified with Mark so callers can test them with the Is* predicates.
package errors

import (
	"net/http"

	"github.com/cockroachdb/errors"
)

var (
	ErrValidation       = errors.New("validation error")
	ErrConflict         = errors.New("conflict")
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrGateway          = errors.New("payment gateway error")
	ErrDatabase         = errors.New("database error")
	ErrSystem           = errors.New("system error")
)

// ErrorBuilder accumulates context on an error before it is marked.
type ErrorBuilder struct {
	err error
}

func NewError(msg string) *ErrorBuilder {
	return &ErrorBuilder{err: errors.NewWithDepth(1, msg)}
}

func NewErrorf(format string, args ...any) *ErrorBuilder {
	return &ErrorBuilder{err: errors.NewWithDepthf(1, format, args...)}
}

// WithError wraps an existing error so it can be hinted and marked.
func WithError(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

func (b *ErrorBuilder) WithMessage(msg string) *ErrorBuilder {
	b.err = errors.WrapWithDepth(1, b.err, msg)
	return b
}

func (b *ErrorBuilder) WithMessagef(format string, args ...any) *ErrorBuilder {
	b.err = errors.WrapWithDepthf(1, b.err, format, args...)
	return b
}

// WithHint attaches a user facing hint. Hints are surfaced by the HTTP layer.
func (b *ErrorBuilder) WithHint(hint string) *ErrorBuilder {
	b.err = errors.WithHint(b.err, hint)
	return b
}

func (b *ErrorBuilder) WithHintf(format string, args ...any) *ErrorBuilder {
	b.err = errors.WithHintf(b.err, format, args...)
	return b
}

// Mark classifies the error and returns it.
func (b *ErrorBuilder) Mark(reference error) error {
	return errors.Mark(b.err, reference)
}

// Err returns the error without a classification.
func (b *ErrorBuilder) Err() error {
	return b.err
}

func IsValidation(err error) bool       { return errors.Is(err, ErrValidation) }
func IsConflict(err error) bool         { return errors.Is(err, ErrConflict) }
func IsNotFound(err error) bool         { return errors.Is(err, ErrNotFound) }
func IsPermissionDenied(err error) bool { return errors.Is(err, ErrPermissionDenied) }
func IsGateway(err error) bool          { return errors.Is(err, ErrGateway) }
func IsDatabase(err error) bool         { return errors.Is(err, ErrDatabase) }

// Hints returns every hint attached anywhere in the error chain.
func Hints(err error) []string {
	return errors.GetAllHints(err)
}

// HTTPStatus maps the taxonomy onto response codes.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsValidation(err):
		return http.StatusBadRequest
	case IsPermissionDenied(err):
		return http.StatusForbidden
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsGateway(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
