package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type LoanType string

const (
	LoanTypeLent     LoanType = "lent"
	LoanTypeBorrowed LoanType = "borrowed"
)

func (t LoanType) Valid() bool {
	return t == LoanTypeLent || t == LoanTypeBorrowed
}

type RepaymentType string

const (
	RepaymentOneTime RepaymentType = "one-time"
	RepaymentEMI     RepaymentType = "emi"
)

func (t RepaymentType) Valid() bool {
	return t == RepaymentOneTime || t == RepaymentEMI
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusPaid       Status = "paid"
	StatusWrittenOff Status = "written-off"
)

func (s Status) Valid() bool {
	return s == StatusPending || s == StatusPaid || s == StatusWrittenOff
}

// HistoryAction classifies an entry of a loan's history.
type HistoryAction string

const (
	ActionPayment      HistoryAction = "payment"
	ActionStatusChange HistoryAction = "status_change"
	ActionCreation     HistoryAction = "creation"
	ActionEdit         HistoryAction = "edit"
	ActionUndo         HistoryAction = "undo"
)

// UndoActionType names the kind of action an UndoSnapshot can revert.
type UndoActionType string

const (
	UndoStatusChange UndoActionType = "status_change"
	UndoPayment      UndoActionType = "payment"
	UndoWriteOff     UndoActionType = "write_off"
)

// UndoSnapshot captures the state before the most recent status-changing action.
type UndoSnapshot struct {
	Timestamp      time.Time       `json:"timestamp"`
	PreviousStatus Status          `json:"previous_status"`
	PreviousAmount decimal.Decimal `json:"previous_amount"`
	ActionType     UndoActionType  `json:"action_type"`
}

// HistoryEntry is one immutable record of a loan's history.
type HistoryEntry struct {
	ID          uuid.UUID        `json:"id"`
	Action      HistoryAction    `json:"action"`
	Date        time.Time        `json:"date"`
	Description string           `json:"description"`
	Amount      *decimal.Decimal `json:"amount,omitempty"`
}

type Loan struct {
	ID                      uuid.UUID        `json:"id"`
	PersonName              string           `json:"person_name"`
	LoanType                LoanType         `json:"loan_type"`
	Amount                  decimal.Decimal  `json:"amount"`        // Outstanding principal
	InterestRate            decimal.Decimal  `json:"interest_rate"` // APR in percent, zero when none
	RepaymentType           RepaymentType    `json:"repayment_type"`
	TenureMonths            int              `json:"tenure_months,omitempty"`
	EMIAmount               decimal.Decimal  `json:"emi_amount"`
	StartDate               time.Time        `json:"start_date"`
	DueDate                 *time.Time       `json:"due_date,omitempty"`
	FixedInterestAmount     *decimal.Decimal `json:"fixed_interest_amount,omitempty"`
	LastEMIPaymentDate      *time.Time       `json:"last_emi_payment_date,omitempty"`
	LastInterestAppliedDate *time.Time       `json:"last_interest_applied_date,omitempty"`
	PartPaymentCount        int              `json:"part_payment_count"`
	Status                  Status           `json:"status"`
	UndoData                *UndoSnapshot    `json:"undo_data,omitempty"`
	History                 []HistoryEntry   `json:"history"`
	Notes                   string           `json:"notes,omitempty"`
	CreatedAt               time.Time        `json:"created_at"`
	UpdatedAt               time.Time        `json:"updated_at"`
}

// IsEMI reports whether the loan follows the installment schedule.
func (l *Loan) IsEMI() bool {
	return l.RepaymentType == RepaymentEMI
}

// EMIPaidSuffix tags the description of installment payment entries.
const EMIPaidSuffix = " EMI Paid"

// EMIPaymentCount counts the installment payments recorded in the history.
func (l *Loan) EMIPaymentCount() int {
	n := 0
	for _, e := range l.History {
		if e.Action == ActionPayment && strings.HasSuffix(e.Description, EMIPaidSuffix) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so that transforms never share state with their input.
func (l *Loan) Clone() *Loan {
	c := *l
	c.DueDate = cloneTime(l.DueDate)
	c.LastEMIPaymentDate = cloneTime(l.LastEMIPaymentDate)
	c.LastInterestAppliedDate = cloneTime(l.LastInterestAppliedDate)
	if l.FixedInterestAmount != nil {
		v := *l.FixedInterestAmount
		c.FixedInterestAmount = &v
	}
	if l.UndoData != nil {
		u := *l.UndoData
		c.UndoData = &u
	}
	if l.History != nil {
		c.History = make([]HistoryEntry, len(l.History))
		for i, e := range l.History {
			if e.Amount != nil {
				v := *e.Amount
				e.Amount = &v
			}
			c.History[i] = e
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
