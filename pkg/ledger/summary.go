package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/mcclellann/lendbook/pkg/amortization"
	"github.com/mcclellann/lendbook/pkg/lifecycle"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/shopspring/decimal"
)

// Summary totals the loan book. Amounts cover pending loans only.
type Summary struct {
	TotalLent       decimal.Decimal `json:"total_lent"`
	TotalBorrowed   decimal.Decimal `json:"total_borrowed"`
	Net             decimal.Decimal `json:"net"`
	PendingLent     int             `json:"pending_lent"`
	PendingBorrowed int             `json:"pending_borrowed"`
	Overdue         int             `json:"overdue"`
	Paid            int             `json:"paid"`
	WrittenOff      int             `json:"written_off"`
}

// Pending is the number of loans still open.
func (s Summary) Pending() int { return s.PendingLent + s.PendingBorrowed }

// Summarize computes the totals of loans at now.
func Summarize(loans []*models.Loan, now time.Time) Summary {
	s := Summary{TotalLent: decimal.Zero, TotalBorrowed: decimal.Zero}
	for _, loan := range loans {
		switch loan.Status {
		case models.StatusPaid:
			s.Paid++
			continue
		case models.StatusWrittenOff:
			s.WrittenOff++
			continue
		}

		if loan.LoanType == models.LoanTypeBorrowed {
			s.TotalBorrowed = s.TotalBorrowed.Add(loan.Amount)
			s.PendingBorrowed++
		} else {
			s.TotalLent = s.TotalLent.Add(loan.Amount)
			s.PendingLent++
		}
		if amortization.IsOverdue(true, amortization.DueDate(loan, now), now) {
			s.Overdue++
		}
	}
	s.Net = s.TotalLent.Sub(s.TotalBorrowed)
	return s
}

func (l *Ledger) Summary(ctx context.Context) (Summary, error) {
	loans, err := l.storage.LoadLoans(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to load loans: %w", err)
	}
	return Summarize(loans, l.now()), nil
}

// ScanOverdue re-evaluates every loan against the clock and publishes the
// pending and overdue counts. It never writes to storage.
func (l *Ledger) ScanOverdue(ctx context.Context) (Summary, error) {
	s, err := l.Summary(ctx)
	if err != nil {
		l.log.Error("overdue scan failed", "error", err)
		return Summary{}, err
	}
	if l.metrics != nil {
		l.metrics.Portfolio(s.Pending(), s.Overdue)
	}
	l.log.Info("overdue scan", "pending", s.Pending(), "overdue", s.Overdue)
	return s, nil
}

func daysFrom(now time.Time, n int) time.Time { return now.AddDate(0, 0, n) }

type sampleLoan struct {
	terms  lifecycle.NewLoan
	repaid bool
}

// sampleLoans is a small demo book relative to now.
func sampleLoans(now time.Time) []sampleLoan {
	due := func(n int) *time.Time { t := daysFrom(now, n); return &t }
	return []sampleLoan{
		{terms: lifecycle.NewLoan{PersonName: "Rahul", LoanType: models.LoanTypeLent, Amount: decimal.NewFromInt(5000),
			InterestRate: decimal.NewFromInt(2), StartDate: daysFrom(now, -10), DueDate: due(20)}},
		{terms: lifecycle.NewLoan{PersonName: "HDFC Bank", LoanType: models.LoanTypeBorrowed, Amount: decimal.NewFromInt(50000),
			StartDate: daysFrom(now, -60), DueDate: due(300)}},
		{terms: lifecycle.NewLoan{PersonName: "Priya", LoanType: models.LoanTypeLent, Amount: decimal.NewFromInt(2000),
			StartDate: daysFrom(now, -5)}, repaid: true},
		{terms: lifecycle.NewLoan{PersonName: "Amit", LoanType: models.LoanTypeBorrowed, Amount: decimal.NewFromInt(1000),
			StartDate: daysFrom(now, -2), DueDate: due(5)}},
		{terms: lifecycle.NewLoan{PersonName: "Karthik", LoanType: models.LoanTypeLent, Amount: decimal.NewFromInt(10000),
			InterestRate: decimal.NewFromInt(5), StartDate: daysFrom(now, -30), DueDate: due(-1)}},
	}
}

// Seed adds the sample loans when the book is empty, or always when force is
// set. It returns how many loans were added.
func (l *Ledger) Seed(ctx context.Context, force bool) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !force {
		existing, err := l.storage.LoadLoans(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load loans: %w", err)
		}
		if len(existing) > 0 {
			return 0, nil
		}
	}

	now := l.now()
	added := 0
	for _, sample := range sampleLoans(now) {
		loan, err := lifecycle.Create(sample.terms, now)
		if err != nil {
			return added, fmt.Errorf("failed to build sample loan for %s: %w", sample.terms.PersonName, err)
		}
		if sample.repaid {
			if loan, err = lifecycle.TogglePaid(loan, now); err != nil {
				return added, err
			}
			loan.UndoData = nil
		}
		if err := l.storage.SaveLoan(ctx, loan); err != nil {
			return added, fmt.Errorf("failed to store sample loan: %w", err)
		}
		added++
	}
	l.log.Info("sample data seeded", "loans", added, "force", force)
	return added, nil
}
