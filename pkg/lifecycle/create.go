// Package lifecycle applies user actions to a loan. Every function is a pure
// transform: it takes the loan, the action's parameters and the current
// instant, and returns a new loan with one more history entry, or an error
// and no change.
package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/lendbook/pkg/amortization"
	"github.com/mcclellann/lendbook/pkg/history"
	"github.com/mcclellann/lendbook/pkg/models"
)

// NewLoan holds the terms of a loan being recorded.
type NewLoan struct {
	PersonName          string
	LoanType            models.LoanType
	Amount              decimal.Decimal
	InterestRate        decimal.Decimal
	RepaymentType       models.RepaymentType
	TenureMonths        int
	StartDate           time.Time
	DueDate             *time.Time
	FixedInterestAmount *decimal.Decimal
	Notes               string
}

// Create validates the terms and opens a pending loan.
func Create(in NewLoan, now time.Time) (*models.Loan, error) {
	name := strings.TrimSpace(in.PersonName)
	if name == "" {
		return nil, invalid("person_name", "is required")
	}
	if !in.LoanType.Valid() {
		return nil, invalid("loan_type", "must be lent or borrowed")
	}
	repayment := in.RepaymentType
	if repayment == "" {
		repayment = models.RepaymentOneTime
	}
	if !repayment.Valid() {
		return nil, invalid("repayment_type", "must be one-time or emi")
	}
	if err := ValidateAmount("amount", in.Amount); err != nil {
		return nil, err
	}
	if in.InterestRate.IsNegative() {
		return nil, invalid("interest_rate", "must not be negative")
	}

	start := in.StartDate
	if start.IsZero() {
		start = now
	}

	l := &models.Loan{
		ID:            uuid.New(),
		PersonName:    name,
		LoanType:      in.LoanType,
		Amount:        in.Amount,
		InterestRate:  in.InterestRate,
		RepaymentType: repayment,
		StartDate:     start,
		Status:        models.StatusPending,
		Notes:         strings.TrimSpace(in.Notes),
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	switch repayment {
	case models.RepaymentEMI:
		if in.TenureMonths < 1 {
			return nil, invalid("tenure_months", "is required for emi loans")
		}
		if in.FixedInterestAmount != nil {
			return nil, invalid("fixed_interest_amount", "applies to one-time loans only")
		}
		emi, err := amortization.EMI(in.Amount, in.InterestRate, in.TenureMonths)
		if err != nil {
			return nil, invalid("amount", err.Error())
		}
		due := amortization.AddMonths(start, in.TenureMonths)
		l.TenureMonths = in.TenureMonths
		l.EMIAmount = emi
		l.DueDate = &due
	default:
		if in.FixedInterestAmount != nil {
			if in.FixedInterestAmount.IsNegative() {
				return nil, invalid("fixed_interest_amount", "must not be negative")
			}
			v := *in.FixedInterestAmount
			l.FixedInterestAmount = &v
		}
		if in.DueDate != nil {
			if in.DueDate.Before(start) {
				return nil, invalid("due_date", "must not be before the start date")
			}
			due := *in.DueDate
			l.DueDate = &due
		}
		if l.FixedInterestAmount != nil || l.InterestRate.IsPositive() {
			agreed := start
			l.LastInterestAppliedDate = &agreed
		}
	}

	return history.Append(l, models.ActionCreation,
		history.CreationDescription(l.LoanType, l.PersonName, l.Amount),
		history.Amount(l.Amount), now), nil
}

// Edit carries the descriptive fields that may change after creation. Nil
// fields are left as they are.
type Edit struct {
	PersonName *string
	Notes      *string
	DueDate    *time.Time
}

// EditDetails updates descriptive fields. Financial terms are fixed at creation.
func EditDetails(l *models.Loan, e Edit, now time.Time) (*models.Loan, error) {
	if l.Status == models.StatusWrittenOff {
		return nil, refuse("edit loan", ErrWrittenOff)
	}

	next := l.Clone()
	var changed []string

	if e.PersonName != nil {
		name := strings.TrimSpace(*e.PersonName)
		if name == "" {
			return nil, invalid("person_name", "is required")
		}
		if name != next.PersonName {
			next.PersonName = name
			changed = append(changed, "name")
		}
	}
	if e.Notes != nil {
		notes := strings.TrimSpace(*e.Notes)
		if notes != next.Notes {
			next.Notes = notes
			changed = append(changed, "notes")
		}
	}
	if e.DueDate != nil {
		if l.IsEMI() {
			return nil, invalid("due_date", "is derived from the tenure for emi loans")
		}
		if e.DueDate.Before(l.StartDate) {
			return nil, invalid("due_date", "must not be before the start date")
		}
		due := *e.DueDate
		next.DueDate = &due
		changed = append(changed, "due date")
	}

	if len(changed) == 0 {
		return nil, invalid("details", "nothing to change")
	}

	next.UpdatedAt = now
	return history.Append(next, models.ActionEdit,
		fmt.Sprintf("Updated %s", strings.Join(changed, ", ")), nil, now), nil
}

// requirePending maps a non-pending status onto the matching refusal.
func requirePending(op string, l *models.Loan) error {
	switch l.Status {
	case models.StatusPending:
		return nil
	case models.StatusWrittenOff:
		return refuse(op, ErrWrittenOff)
	default:
		return refuse(op, ErrNotPending)
	}
}

func snapshot(l *models.Loan, action models.UndoActionType, now time.Time) *models.UndoSnapshot {
	return &models.UndoSnapshot{
		Timestamp:      now,
		PreviousStatus: l.Status,
		PreviousAmount: l.Amount,
		ActionType:     action,
	}
}

func isDegenerate(err error) bool {
	var d *amortization.DegenerateScheduleError
	return errors.As(err, &d)
}
