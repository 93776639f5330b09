package gateway

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/stripe/stripe-go/v74"

	ierr "membership_backend/internal/errors"
)

// CodeResourceMissing is returned by the processor for unknown ids.
const CodeResourceMissing = "resource_missing"

// Error is a failed remote call.
type Error struct {
	Op         string
	Code       string
	Message    string
	StatusCode int
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("gateway: %s: %s (%s)", e.Op, e.Message, e.Code)
	}
	return fmt.Sprintf("gateway: %s: %s", e.Op, e.Message)
}

// IsNotFound reports whether err means the remote object does not exist.
func IsNotFound(err error) bool {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Code == CodeResourceMissing
	}
	return false
}

// NewError builds a marked gateway error without a remote call, used by fakes
// and argument checks.
func NewError(op, code, message string) error {
	return ierr.WithError(&Error{Op: op, Code: code, Message: message}).Mark(ierr.ErrGateway)
}

func wrapStripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	gerr := &Error{Op: op, Message: err.Error()}
	var serr *stripe.Error
	if errors.As(err, &serr) {
		gerr.Code = string(serr.Code)
		gerr.Message = serr.Msg
		gerr.StatusCode = serr.HTTPStatusCode
	}
	return ierr.WithError(gerr).Mark(ierr.ErrGateway)
}
