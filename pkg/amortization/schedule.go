package amortization

import (
	"time"

	"github.com/shopspring/decimal"
)

// Installment is one period of a projected amortization table.
type Installment struct {
	Period           int             `json:"period"`
	DueDate          time.Time       `json:"due_date"`
	Payment          decimal.Decimal `json:"payment"`
	Interest         decimal.Decimal `json:"interest"`
	Principal        decimal.Decimal `json:"principal"`
	RemainingBalance decimal.Decimal `json:"remaining_balance"`
}

// Schedule projects the reducing-balance table for principal at annualRate
// over the given number of months, starting one month after start. The final
// period absorbs rounding so the balance ends at exactly zero.
func Schedule(principal, annualRate decimal.Decimal, months int, start time.Time) ([]Installment, error) {
	payment, err := EMI(principal, annualRate, months)
	if err != nil {
		return nil, err
	}
	return ScheduleWithPayment(principal, annualRate, payment, months, start)
}

// ScheduleWithPayment projects the table for an agreed installment instead
// of recomputing one. The final period takes whatever balance is left.
func ScheduleWithPayment(principal, annualRate, payment decimal.Decimal, months int, start time.Time) ([]Installment, error) {
	switch {
	case months < 1:
		return nil, ErrInvalidTenure
	case !principal.IsPositive():
		return nil, ErrInvalidPrincipal
	case !payment.IsPositive():
		return nil, ErrInvalidInstallment
	}

	rate := decimal.NewFromFloat(MonthlyRate(annualRate))
	remaining := principal
	out := make([]Installment, 0, months)

	for period := 1; period <= months && remaining.IsPositive(); period++ {
		interest := remaining.Mul(rate).Round(2)
		principalPart := payment.Sub(interest)
		if period == months || principalPart.GreaterThan(remaining) {
			principalPart = remaining
		}
		remaining = remaining.Sub(principalPart)

		out = append(out, Installment{
			Period:           period,
			DueDate:          AddMonths(start, period),
			Payment:          principalPart.Add(interest),
			Interest:         interest,
			Principal:        principalPart,
			RemainingBalance: remaining,
		})
	}
	return out, nil
}
