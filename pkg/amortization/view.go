package amortization

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/lendbook/pkg/models"
)

// View is the set of figures derived from a loan at a given instant. It is
// recomputed on every read and never persisted.
type View struct {
	DueDate               time.Time       `json:"due_date"`
	IsOverdue             bool            `json:"is_overdue"`
	DaysOverdue           int             `json:"days_overdue"`
	EMIAmount             decimal.Decimal `json:"emi_amount"`
	RemainingInstallments int             `json:"remaining_installments"`
	Degenerate            bool            `json:"degenerate"`
	RemainingInterest     decimal.Decimal `json:"remaining_interest"`
	TotalInterest         decimal.Decimal `json:"total_interest"`
	TotalPayable          decimal.Decimal `json:"total_payable"`
	CanPayEMI             bool            `json:"can_pay_emi"`
	NextEMIAllowedAt      *time.Time      `json:"next_emi_allowed_at,omitempty"`
	CanWriteOff           bool            `json:"can_write_off"`
	UndoAvailable         bool            `json:"undo_available"`
	UndoExpiresAt         *time.Time      `json:"undo_expires_at,omitempty"`
}

// OneTimeInterest is the total interest of a bullet loan: the agreed fixed
// amount when present, otherwise flat interest at the loan's rate.
func OneTimeInterest(l *models.Loan) decimal.Decimal {
	if l.FixedInterestAmount != nil {
		return *l.FixedInterestAmount
	}
	return FlatInterest(l.Amount, l.InterestRate)
}

// Evaluate projects the loan at now.
func Evaluate(l *models.Loan, now time.Time) View {
	pending := l.Status == models.StatusPending
	due := DueDate(l, now)

	v := View{
		DueDate:          due,
		IsOverdue:        IsOverdue(pending, due, now),
		DaysOverdue:      DaysOverdue(pending, due, now),
		CanPayEMI:        CanPayEMI(l, now),
		NextEMIAllowedAt: NextEMIAllowedAt(l),
		CanWriteOff:      CanWriteOff(l, now),
		UndoAvailable:    CanUndo(l, now),
		UndoExpiresAt:    UndoDeadline(l),
	}

	if !l.IsEMI() {
		v.TotalInterest = OneTimeInterest(l)
		v.TotalPayable = l.Amount.Add(v.TotalInterest)
		return v
	}

	v.EMIAmount = l.EMIAmount
	n, err := RemainingInstallments(l.Amount, l.InterestRate, l.EMIAmount)
	var degenerate *DegenerateScheduleError
	switch {
	case errors.As(err, &degenerate):
		v.Degenerate = true
		v.RemainingInstallments = l.TenureMonths
	case err != nil:
		v.RemainingInstallments = 0
	default:
		v.RemainingInstallments = n
		v.RemainingInterest = TotalRemainingInterest(l.Amount, l.InterestRate, l.EMIAmount)
	}
	v.TotalInterest = v.RemainingInterest
	v.TotalPayable = l.Amount.Add(v.RemainingInterest)
	return v
}
