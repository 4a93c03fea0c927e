// Package history maintains a loan's append-only transaction history.
package history

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/lendbook/pkg/models"
)

var hundred = decimal.NewFromInt(100)

// Append returns a copy of the loan with a new entry at the end of its
// history. Earlier entries are copied, never edited.
func Append(l *models.Loan, action models.HistoryAction, description string, amount *decimal.Decimal, now time.Time) *models.Loan {
	next := l.Clone()
	entry := models.HistoryEntry{
		ID:          uuid.New(),
		Action:      action,
		Date:        now,
		Description: description,
	}
	if amount != nil {
		v := *amount
		entry.Amount = &v
	}
	next.History = append(next.History, entry)
	return next
}

// Amount is a convenience for building the optional entry amount.
func Amount(d decimal.Decimal) *decimal.Decimal {
	return &d
}

// Display returns the history newest first. Records written before creation
// entries existed get a synthetic one, rebuilt from the current state; it is
// never stored.
func Display(l *models.Loan) []models.HistoryEntry {
	entries := l.Clone().History
	out := make([]models.HistoryEntry, 0, len(entries)+1)
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, entries[i])
	}

	if !hasCreation(l) {
		if entry, ok := syntheticCreation(l); ok {
			out = append(out, entry)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date)
	})
	return out
}

func hasCreation(l *models.Loan) bool {
	for _, e := range l.History {
		if e.Action == models.ActionCreation {
			return true
		}
	}
	return false
}

// syntheticCreation reconstructs the original principal as the current amount
// plus every recorded payment, with interest that older records folded into
// the amount taken back out.
func syntheticCreation(l *models.Loan) (models.HistoryEntry, bool) {
	if l.StartDate.IsZero() {
		return models.HistoryEntry{}, false
	}

	gross := l.Amount
	for _, e := range l.History {
		if e.Action == models.ActionPayment && e.Amount != nil {
			gross = gross.Add(*e.Amount)
		}
	}

	principal := gross
	if !l.IsEMI() {
		switch {
		case l.FixedInterestAmount != nil:
			principal = gross.Sub(*l.FixedInterestAmount)
		case l.InterestRate.IsPositive():
			principal = gross.Div(hundred.Add(l.InterestRate).Div(hundred)).Round(2)
		}
	}
	if principal.IsNegative() {
		principal = decimal.Zero
	}

	return models.HistoryEntry{
		ID:          uuid.NewSHA1(uuid.NameSpaceOID, []byte("creation:"+l.ID.String())),
		Action:      models.ActionCreation,
		Date:        l.StartDate,
		Description: CreationDescription(l.LoanType, l.PersonName, principal),
		Amount:      &principal,
	}, true
}

// CreationDescription is the wording of a loan's opening entry.
func CreationDescription(t models.LoanType, person string, principal decimal.Decimal) string {
	if t == models.LoanTypeBorrowed {
		return fmt.Sprintf("Borrowed %s from %s", principal.StringFixed(2), person)
	}
	return fmt.Sprintf("Lent %s to %s", principal.StringFixed(2), person)
}

// Ordinal renders n as 1st, 2nd, 3rd, 4th, 11th, 21st...
func Ordinal(n int) string {
	suffix := "th"
	switch n % 100 {
	case 11, 12, 13:
	default:
		switch n % 10 {
		case 1:
			suffix = "st"
		case 2:
			suffix = "nd"
		case 3:
			suffix = "rd"
		}
	}
	return fmt.Sprintf("%d%s", n, suffix)
}
