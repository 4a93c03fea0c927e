package amortization

import (
	"time"

	"github.com/mcclellann/lendbook/pkg/models"
)

const (
	// EMICooldown is the minimum spacing between two installment payments.
	EMICooldown = 28 * 24 * time.Hour
	// UndoWindow bounds how long a one-time loan's full payment can be undone.
	UndoWindow = 2 * time.Minute
	// WriteOffAfterDays is the overdue age from which a loan may be written off.
	WriteOffAfterDays = 40
)

// DueDate is the date the loan's next repayment is expected, as displayed.
func DueDate(l *models.Loan, now time.Time) time.Time {
	if l.IsEMI() {
		return EMIDueDate(l.StartDate, l.EMIPaymentCount(), now)
	}
	return OneTimeDueDate(l.StartDate, l.DueDate)
}

// LoanDaysOverdue is DaysOverdue evaluated for the loan's displayed due date.
func LoanDaysOverdue(l *models.Loan, now time.Time) int {
	return DaysOverdue(l.Status == models.StatusPending, DueDate(l, now), now)
}

// NextEMIAllowedAt is when the cooldown after the last installment ends, nil
// when no installment has been paid yet.
func NextEMIAllowedAt(l *models.Loan) *time.Time {
	if l.LastEMIPaymentDate == nil {
		return nil
	}
	t := l.LastEMIPaymentDate.Add(EMICooldown)
	return &t
}

// CanPayEMI reports whether an installment may be paid at now.
func CanPayEMI(l *models.Loan, now time.Time) bool {
	if !l.IsEMI() || l.Status != models.StatusPending {
		return false
	}
	next := NextEMIAllowedAt(l)
	return next == nil || !now.Before(*next)
}

// CanWriteOff reports whether the loan is pending and long enough overdue.
func CanWriteOff(l *models.Loan, now time.Time) bool {
	return l.Status == models.StatusPending && LoanDaysOverdue(l, now) >= WriteOffAfterDays
}

// UndoDeadline returns the instant after which the pending undo expires. Only
// full payments of one-time loans are time-boxed; other snapshots stay
// undoable until superseded, and nil is returned for them.
func UndoDeadline(l *models.Loan) *time.Time {
	if l.UndoData == nil || l.IsEMI() || l.UndoData.ActionType != models.UndoPayment {
		return nil
	}
	t := l.UndoData.Timestamp.Add(UndoWindow)
	return &t
}

// CanUndo reports whether the loan carries an undo snapshot that is still valid at now.
func CanUndo(l *models.Loan, now time.Time) bool {
	if l.UndoData == nil {
		return false
	}
	deadline := UndoDeadline(l)
	return deadline == nil || !now.After(*deadline)
}
