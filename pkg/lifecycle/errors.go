package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ValidationError rejects user input before any state is touched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

func invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

var (
	ErrNotPending           = errors.New("loan is not pending")
	ErrWrittenOff           = errors.New("loan has been written off")
	ErrNotEMI               = errors.New("loan is not repaid in installments")
	ErrCooldown             = errors.New("an installment was paid less than 28 days ago")
	ErrConfirmationRequired = errors.New("payment covers the outstanding amount and must be confirmed")
	ErrNotOverdueEnough     = errors.New("loan is not overdue long enough to be written off")
	ErrNothingToUndo        = errors.New("there is no action to undo")
	ErrUndoExpired          = errors.New("the undo window has expired")
)

// PreconditionError refuses an operation the loan's current state does not allow.
type PreconditionError struct {
	Operation string
	Err       error
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("cannot %s: %v", e.Operation, e.Err)
}

func (e *PreconditionError) Unwrap() error { return e.Err }

func refuse(op string, err error) error {
	return &PreconditionError{Operation: op, Err: err}
}

// ParseAmount converts entered text into a positive amount.
func ParseAmount(field, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, invalid(field, "is required")
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, invalid(field, "must be a number")
	}
	if err := ValidateAmount(field, d); err != nil {
		return decimal.Zero, err
	}
	return d, nil
}

// ValidateAmount requires a strictly positive amount.
func ValidateAmount(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return invalid(field, "must be greater than zero")
	}
	return nil
}
