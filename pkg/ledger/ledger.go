package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendbook/pkg/amortization"
	"github.com/mcclellann/lendbook/pkg/history"
	"github.com/mcclellann/lendbook/pkg/lifecycle"
	"github.com/mcclellann/lendbook/pkg/metrics"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/mcclellann/lendbook/pkg/store"
	"github.com/shopspring/decimal"
)

// Ledger handles the business logic for loans: it loads a loan, applies a
// lifecycle transform and saves the result.
type Ledger struct {
	mu      sync.Mutex // serializes load, transform and save
	storage store.Storage
	now     func() time.Time
	log     *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Ledger)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// NewLedger creates a new Ledger with a given Storage implementation.
func NewLedger(s store.Storage, opts ...Option) *Ledger {
	l := &Ledger{
		storage: s,
		now:     func() time.Time { return time.Now().UTC() },
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now is the ledger's notion of the current instant.
func (l *Ledger) Now() time.Time { return l.now() }

// LoanView is a loan together with the figures derived from it at read time.
type LoanView struct {
	*models.Loan
	View amortization.View `json:"view"`
}

func (l *Ledger) view(loan *models.Loan, now time.Time) LoanView {
	return LoanView{Loan: loan, View: amortization.Evaluate(loan, now)}
}

// CreateLoan validates the terms and stores a new pending loan.
func (l *Ledger) CreateLoan(ctx context.Context, in lifecycle.NewLoan) (*models.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := lifecycle.Create(in, l.now())
	if err != nil {
		l.record("create", uuid.Nil, nil, err)
		return nil, err
	}
	if err := l.storage.SaveLoan(ctx, loan); err != nil {
		err = fmt.Errorf("failed to store loan: %w", err)
		l.record("create", loan.ID, nil, err)
		return nil, err
	}
	l.record("create", loan.ID, loan, nil)
	return loan, nil
}

// GetLoan retrieves a loan by its ID.
func (l *Ledger) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.storage.GetLoan(ctx, id)
}

// ViewLoan retrieves a loan with its derived figures.
func (l *Ledger) ViewLoan(ctx context.Context, id uuid.UUID) (LoanView, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return LoanView{}, err
	}
	return l.view(loan, l.now()), nil
}

// Filter narrows ListLoans. Zero fields match everything.
type Filter struct {
	Type   models.LoanType
	Status models.Status
}

func (f Filter) match(loan *models.Loan) bool {
	return (f.Type == "" || loan.LoanType == f.Type) && (f.Status == "" || loan.Status == f.Status)
}

// ListLoans returns the matching loans, oldest first, with derived figures.
func (l *Ledger) ListLoans(ctx context.Context, f Filter) ([]LoanView, error) {
	loans, err := l.storage.LoadLoans(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load loans: %w", err)
	}
	now := l.now()
	out := make([]LoanView, 0, len(loans))
	for _, loan := range loans {
		if f.match(loan) {
			out = append(out, l.view(loan, now))
		}
	}
	return out, nil
}

// History returns the loan's history newest first.
func (l *Ledger) History(ctx context.Context, id uuid.UUID) ([]models.HistoryEntry, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	return history.Display(loan), nil
}

// Schedule projects the installments left on an emi loan at its agreed
// installment, the first falling on its current due date.
func (l *Ledger) Schedule(ctx context.Context, id uuid.UUID) ([]amortization.Installment, error) {
	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	if !loan.IsEMI() {
		return nil, &lifecycle.PreconditionError{Operation: "build schedule", Err: lifecycle.ErrNotEMI}
	}
	if loan.Status != models.StatusPending {
		return []amortization.Installment{}, nil
	}

	n, err := amortization.RemainingInstallments(loan.Amount, loan.InterestRate, loan.EMIAmount)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return []amortization.Installment{}, nil
	}
	due := amortization.DueDate(loan, l.now())
	return amortization.ScheduleWithPayment(loan.Amount, loan.InterestRate, loan.EMIAmount, n, amortization.AddMonths(due, -1))
}

func (l *Ledger) EditLoan(ctx context.Context, id uuid.UUID, e lifecycle.Edit) (*models.Loan, error) {
	return l.apply(ctx, "edit", id, func(loan *models.Loan, now time.Time) (*models.Loan, error) {
		return lifecycle.EditDetails(loan, e, now)
	})
}

func (l *Ledger) PayEMI(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.apply(ctx, "pay_emi", id, lifecycle.PayEMI)
}

// RecordPayment records a payment towards the outstanding amount. Settling
// the whole amount requires confirmed.
func (l *Ledger) RecordPayment(ctx context.Context, id uuid.UUID, amount decimal.Decimal, confirmed bool) (*models.Loan, error) {
	return l.apply(ctx, "payment", id, func(loan *models.Loan, now time.Time) (*models.Loan, error) {
		return lifecycle.PartialPayment(loan, amount, confirmed, now)
	})
}

func (l *Ledger) TopUp(ctx context.Context, id uuid.UUID, amount decimal.Decimal, mode lifecycle.TopUpMode) (*models.Loan, error) {
	return l.apply(ctx, "top_up", id, func(loan *models.Loan, now time.Time) (*models.Loan, error) {
		return lifecycle.TopUp(loan, amount, mode, now)
	})
}

func (l *Ledger) WriteOff(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.apply(ctx, "write_off", id, lifecycle.WriteOff)
}

func (l *Ledger) TogglePaid(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.apply(ctx, "toggle", id, lifecycle.TogglePaid)
}

func (l *Ledger) Foreclose(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.apply(ctx, "foreclose", id, lifecycle.Foreclose)
}

func (l *Ledger) Undo(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	return l.apply(ctx, "undo", id, lifecycle.Undo)
}

// DeleteLoan deletes a loan and its history. It bypasses the lifecycle.
func (l *Ledger) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	err := l.storage.DeleteLoan(ctx, id)
	l.record("delete", id, nil, err)
	return err
}

type transform func(loan *models.Loan, now time.Time) (*models.Loan, error)

// apply runs one load, transform, save cycle. A failed transform leaves the
// stored loan untouched.
func (l *Ledger) apply(ctx context.Context, op string, id uuid.UUID, fn transform) (*models.Loan, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	loan, err := l.storage.GetLoan(ctx, id)
	if err != nil {
		l.record(op, id, nil, err)
		return nil, err
	}

	next, err := fn(loan, l.now())
	if err != nil {
		l.record(op, id, nil, err)
		return nil, err
	}

	if err := l.storage.SaveLoan(ctx, next); err != nil {
		err = fmt.Errorf("failed to save loan: %w", err)
		l.record(op, id, nil, err)
		return nil, err
	}
	l.record(op, id, next, nil)
	return next, nil
}

// record logs the outcome of an operation and counts it.
func (l *Ledger) record(op string, id uuid.UUID, loan *models.Loan, err error) {
	result := metrics.ResultOK
	switch {
	case err == nil && loan == nil:
		l.log.Info("loan updated", "operation", op, "loan_id", id)
	case err == nil:
		l.log.Info("loan updated", "operation", op, "loan_id", id,
			"status", loan.Status, "amount", loan.Amount.StringFixed(2))
	case isRejection(err):
		result = metrics.ResultRejected
		l.log.Warn("loan operation rejected", "operation", op, "loan_id", id, "error", err)
	default:
		result = metrics.ResultError
		l.log.Error("loan operation failed", "operation", op, "loan_id", id, "error", err)
	}
	if l.metrics != nil {
		l.metrics.Operation(op, result)
	}
}

func isRejection(err error) bool {
	var (
		ve *lifecycle.ValidationError
		pe *lifecycle.PreconditionError
		de *amortization.DegenerateScheduleError
	)
	return errors.As(err, &ve) || errors.As(err, &pe) || errors.As(err, &de) || errors.Is(err, store.ErrNotFound)
}
