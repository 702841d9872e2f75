package ledger

import (
	"errors"
	"fmt"

	"github.com/mr1hm/go-relief-ledger/internal/repository"
)

// Every error returned by the ledger wraps exactly one of these.
var (
	ErrValidation          = errors.New("validation failed")
	ErrDuplicate           = errors.New("fingerprint already processed")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("principal not authorized")
	ErrAlreadyVerified     = errors.New("event already verified")
	ErrInsufficientFunds   = errors.New("insufficient funds in pool")
	ErrInsufficientBalance = errors.New("insufficient custody balance")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrInvariantViolation  = errors.New("ledger invariant violated")
)

// Reason returns a short label for err, used in metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrDuplicate):
		return "duplicate"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrAlreadyVerified):
		return "already_verified"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrConcurrencyConflict):
		return "conflict"
	case errors.Is(err, ErrInvariantViolation):
		return "invariant"
	default:
		return "internal"
	}
}

// notFound translates a repository miss into ErrNotFound and passes other
// errors through.
func notFound(err error, what string, id int64) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s %d", ErrNotFound, what, id)
	}
	return fmt.Errorf("error loading %s %d: %w", what, id, err)
}
