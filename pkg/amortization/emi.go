// Package amortization holds the pure loan arithmetic: installment sizing,
// remaining-term back-solving, interest figures and due-date projection.
// Nothing here reads the system clock; callers pass the evaluation instant.
package amortization

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidPrincipal   = errors.New("principal must be positive")
	ErrInvalidTenure      = errors.New("tenure must be at least one month")
	ErrInvalidRate        = errors.New("interest rate must not be negative")
	ErrInvalidInstallment = errors.New("installment must be positive")
)

var hundred = decimal.NewFromInt(100)

// DegenerateScheduleError reports an installment that does not cover the
// monthly interest on the outstanding principal, so the balance never amortizes.
type DegenerateScheduleError struct {
	Principal       decimal.Decimal
	Installment     decimal.Decimal
	MonthlyInterest decimal.Decimal
}

func (e *DegenerateScheduleError) Error() string {
	return fmt.Sprintf("installment %s does not exceed monthly interest %s on principal %s",
		e.Installment.StringFixed(2), e.MonthlyInterest.StringFixed(2), e.Principal.StringFixed(2))
}

// MonthlyRate converts an annual percentage rate into a monthly fraction.
func MonthlyRate(annualRate decimal.Decimal) float64 {
	return annualRate.InexactFloat64() / 12.0 / 100.0
}

// EMI computes the equated monthly installment on the reducing balance:
//
//	r   = R / 12 / 100
//	EMI = P * r * (1+r)^N / ((1+r)^N - 1)
//
// and P / N when the rate is zero. Interest-bearing results are rounded to the
// cent; the zero-rate split is rounded up so N installments always cover P.
func EMI(principal, annualRate decimal.Decimal, tenureMonths int) (decimal.Decimal, error) {
	if tenureMonths < 1 {
		return decimal.Zero, ErrInvalidTenure
	}
	if !principal.IsPositive() {
		return decimal.Zero, ErrInvalidPrincipal
	}
	if annualRate.IsNegative() {
		return decimal.Zero, ErrInvalidRate
	}

	r := MonthlyRate(annualRate)
	if r == 0 {
		return principal.Div(decimal.NewFromInt(int64(tenureMonths))).RoundCeil(2), nil
	}

	// float64 for the power, decimal for the money.
	factor := math.Pow(1+r, float64(tenureMonths))
	emi := principal.InexactFloat64() * r * factor / (factor - 1)
	return decimal.NewFromFloat(emi).Round(2), nil
}

// RemainingInstallments back-solves the number of installments of size
// installment needed to clear principal at annualRate (NPER). The -0.1 nudge
// keeps a value landing just above an integer from costing an extra period.
func RemainingInstallments(principal, annualRate, installment decimal.Decimal) (int, error) {
	if !principal.IsPositive() {
		return 0, nil
	}
	if !installment.IsPositive() {
		return 0, ErrInvalidInstallment
	}
	if annualRate.IsNegative() {
		return 0, ErrInvalidRate
	}

	r := MonthlyRate(annualRate)
	if r == 0 {
		return int(principal.Div(installment).Ceil().IntPart()), nil
	}

	p := principal.InexactFloat64()
	e := installment.InexactFloat64()
	if e <= p*r {
		return 0, &DegenerateScheduleError{
			Principal:       principal,
			Installment:     installment,
			MonthlyInterest: decimal.NewFromFloat(p * r).Round(2),
		}
	}

	n := -math.Log(1-p*r/e) / math.Log(1+r)
	periods := int(math.Ceil(n - 0.1))
	if periods < 1 {
		periods = 1
	}
	return periods, nil
}

// TotalRemainingInterest is installment * NPER - principal, or zero when the
// schedule cannot be computed.
func TotalRemainingInterest(principal, annualRate, installment decimal.Decimal) decimal.Decimal {
	n, err := RemainingInstallments(principal, annualRate, installment)
	if err != nil || n == 0 {
		return decimal.Zero
	}
	interest := installment.Mul(decimal.NewFromInt(int64(n))).Sub(principal)
	if interest.IsNegative() {
		return decimal.Zero
	}
	return interest.Round(2)
}

// FlatInterest is the simple, non-compounding interest on amount at rate percent.
func FlatInterest(amount, rate decimal.Decimal) decimal.Decimal {
	if !rate.IsPositive() {
		return decimal.Zero
	}
	return amount.Mul(rate).Div(hundred).Round(2)
}
