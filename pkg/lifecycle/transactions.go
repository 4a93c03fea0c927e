package lifecycle

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mcclellann/lendbook/pkg/amortization"
	"github.com/mcclellann/lendbook/pkg/history"
	"github.com/mcclellann/lendbook/pkg/models"
)

// TopUpMode chooses how an installment loan absorbs extra principal.
type TopUpMode string

const (
	TopUpIncreaseEMI    TopUpMode = "increase-emi"
	TopUpIncreaseTenure TopUpMode = "increase-tenure"
)

func (m TopUpMode) Valid() bool {
	return m == TopUpIncreaseEMI || m == TopUpIncreaseTenure
}

// PayEMI records one installment. The outstanding amount never goes below
// zero, and reaching zero settles the loan.
func PayEMI(l *models.Loan, now time.Time) (*models.Loan, error) {
	const op = "pay installment"
	if !l.IsEMI() {
		return nil, refuse(op, ErrNotEMI)
	}
	if err := requirePending(op, l); err != nil {
		return nil, err
	}
	if !amortization.CanPayEMI(l, now) {
		return nil, refuse(op, ErrCooldown)
	}

	// The last installment only collects what is still outstanding.
	collected := decimal.Min(l.EMIAmount, l.Amount)
	n := l.EMIPaymentCount() + 1
	next := history.Append(l, models.ActionPayment,
		history.Ordinal(n)+models.EMIPaidSuffix, history.Amount(collected), now)

	remaining := l.Amount.Sub(l.EMIAmount)
	if !remaining.IsPositive() {
		remaining = decimal.Zero
	}
	paidAt := now
	next.Amount = remaining
	next.LastEMIPaymentDate = &paidAt
	next.UndoData = nil
	next.UpdatedAt = now

	if remaining.IsZero() {
		next.UndoData = snapshot(l, models.UndoPayment, now)
		next.Status = models.StatusPaid
		next = history.Append(next, models.ActionStatusChange, "All installments paid, loan closed", nil, now)
	}
	return next, nil
}

// PartialPayment reduces the outstanding amount. A payment that covers the
// whole amount settles the loan, but only once the caller confirms it.
func PartialPayment(l *models.Loan, amount decimal.Decimal, confirmed bool, now time.Time) (*models.Loan, error) {
	const op = "record payment"
	if err := ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	if err := requirePending(op, l); err != nil {
		return nil, err
	}

	if amount.GreaterThanOrEqual(l.Amount) {
		if !confirmed {
			return nil, refuse(op, ErrConfirmationRequired)
		}
		next := history.Append(l, models.ActionPayment,
			fmt.Sprintf("Full payment of %s", amount.StringFixed(2)), history.Amount(amount), now)
		next.UndoData = snapshot(l, models.UndoPayment, now)
		next.Amount = decimal.Zero
		next.Status = models.StatusPaid
		next.UpdatedAt = now
		return next, nil
	}

	next := history.Append(l, models.ActionPayment,
		fmt.Sprintf("Partial payment of %s", amount.StringFixed(2)), history.Amount(amount), now)
	next.Amount = l.Amount.Sub(amount)
	next.PartPaymentCount++
	next.UndoData = nil
	next.UpdatedAt = now
	return next, nil
}

// TopUp adds principal. Installment loans either raise the installment to
// keep the remaining count, or keep the installment and lengthen the tenure.
// One-time loans grow by the amount, with the rate applying to the new total.
func TopUp(l *models.Loan, amount decimal.Decimal, mode TopUpMode, now time.Time) (*models.Loan, error) {
	const op = "top up loan"
	if err := ValidateAmount("amount", amount); err != nil {
		return nil, err
	}
	if err := requirePending(op, l); err != nil {
		return nil, err
	}

	grown := l.Amount.Add(amount)

	if !l.IsEMI() {
		next := history.Append(l, models.ActionEdit,
			fmt.Sprintf("Top-up of %s", amount.StringFixed(2)), history.Amount(amount), now)
		next.Amount = grown
		if next.InterestRate.IsPositive() || next.FixedInterestAmount != nil {
			applied := now
			next.LastInterestAppliedDate = &applied
		}
		next.UndoData = nil
		next.UpdatedAt = now
		return next, nil
	}

	if !mode.Valid() {
		return nil, invalid("mode", "must be increase-emi or increase-tenure")
	}

	// A degenerate schedule keeps its own error type.
	left, err := amortization.RemainingInstallments(l.Amount, l.InterestRate, l.EMIAmount)
	if err != nil {
		return nil, err
	}
	if left < 1 {
		left = 1
	}

	var (
		description string
		emi         = l.EMIAmount
		tenure      = l.TenureMonths
	)
	switch mode {
	case TopUpIncreaseEMI:
		emi, err = amortization.EMI(grown, l.InterestRate, left)
		if err != nil {
			return nil, invalid("amount", err.Error())
		}
		description = fmt.Sprintf("Top-up of %s, installment raised to %s", amount.StringFixed(2), emi.StringFixed(2))
	case TopUpIncreaseTenure:
		after, err := amortization.RemainingInstallments(grown, l.InterestRate, l.EMIAmount)
		if err != nil {
			if isDegenerate(err) {
				return nil, err
			}
			return nil, invalid("amount", err.Error())
		}
		tenure += after - left
		description = fmt.Sprintf("Top-up of %s, tenure extended to %d months", amount.StringFixed(2), tenure)
	}

	next := history.Append(l, models.ActionEdit, description, history.Amount(amount), now)
	due := amortization.AddMonths(l.StartDate, tenure)
	next.Amount = grown
	next.EMIAmount = emi
	next.TenureMonths = tenure
	next.DueDate = &due
	next.UndoData = nil
	next.UpdatedAt = now
	return next, nil
}

// WriteOff gives up on a loan that has been overdue for long enough.
func WriteOff(l *models.Loan, now time.Time) (*models.Loan, error) {
	const op = "write off loan"
	if err := requirePending(op, l); err != nil {
		return nil, err
	}
	if !amortization.CanWriteOff(l, now) {
		return nil, refuse(op, ErrNotOverdueEnough)
	}

	days := amortization.LoanDaysOverdue(l, now)
	next := history.Append(l, models.ActionStatusChange,
		fmt.Sprintf("Written off after %d days overdue", days), history.Amount(l.Amount), now)
	next.UndoData = snapshot(l, models.UndoWriteOff, now)
	next.Status = models.StatusWrittenOff
	next.UpdatedAt = now
	return next, nil
}

// TogglePaid flips between pending and paid. Written-off loans stay put.
func TogglePaid(l *models.Loan, now time.Time) (*models.Loan, error) {
	switch l.Status {
	case models.StatusWrittenOff:
		return nil, refuse("toggle status", ErrWrittenOff)
	case models.StatusPaid:
		next := history.Append(l, models.ActionStatusChange, "Marked as unpaid", nil, now)
		next.Status = models.StatusPending
		next.UndoData = nil
		next.UpdatedAt = now
		return next, nil
	default:
		next := history.Append(l, models.ActionStatusChange, "Marked as paid", history.Amount(l.Amount), now)
		next.UndoData = snapshot(l, models.UndoStatusChange, now)
		next.Status = models.StatusPaid
		next.UpdatedAt = now
		return next, nil
	}
}

// Foreclose settles an installment loan in one payment of everything left.
func Foreclose(l *models.Loan, now time.Time) (*models.Loan, error) {
	const op = "foreclose loan"
	if !l.IsEMI() {
		return nil, refuse(op, ErrNotEMI)
	}
	if err := requirePending(op, l); err != nil {
		return nil, err
	}

	next := history.Append(l, models.ActionPayment,
		fmt.Sprintf("Foreclosed with %s", l.Amount.StringFixed(2)), history.Amount(l.Amount), now)
	next.UndoData = snapshot(l, models.UndoPayment, now)
	next.Amount = decimal.Zero
	next.Status = models.StatusPaid
	next.UpdatedAt = now
	return next, nil
}

// Undo restores the status and amount saved by the last reversible action.
func Undo(l *models.Loan, now time.Time) (*models.Loan, error) {
	const op = "undo"
	if l.UndoData == nil {
		return nil, refuse(op, ErrNothingToUndo)
	}
	if !amortization.CanUndo(l, now) {
		return nil, refuse(op, ErrUndoExpired)
	}

	snap := *l.UndoData
	next := history.Append(l, models.ActionUndo,
		fmt.Sprintf("Reverted %s, status back to %s", undoLabel(snap.ActionType), snap.PreviousStatus),
		history.Amount(snap.PreviousAmount), now)
	next.Status = snap.PreviousStatus
	next.Amount = snap.PreviousAmount
	next.UndoData = nil
	next.UpdatedAt = now
	return next, nil
}

func undoLabel(a models.UndoActionType) string {
	switch a {
	case models.UndoWriteOff:
		return "write-off"
	case models.UndoStatusChange:
		return "status change"
	default:
		return "payment"
	}
}
