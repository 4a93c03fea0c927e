package main

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/lendbook/pkg/lifecycle"
	"github.com/mcclellann/lendbook/pkg/models"
)

// Reusable error payload
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error   string       `json:"error"`
	Details []FieldError `json:"details,omitempty"`
}

var strictPolicy = bluemonday.StrictPolicy()

// sanitize strips markup from free text before it reaches the ledger.
func sanitize(s string) string {
	return strings.TrimSpace(strictPolicy.Sanitize(s))
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// toFieldErrors maps validator.ValidationErrors to readable messages.
func toFieldErrors(err error) []FieldError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []FieldError{{Field: "_", Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(ve))
	for _, e := range ve {
		field := e.Field()
		switch e.Tag() {
		case "required":
			out = append(out, FieldError{Field: field, Message: "is required"})
		case "oneof":
			out = append(out, FieldError{Field: field, Message: "must be one of: " + e.Param()})
		case "gte":
			out = append(out, FieldError{Field: field, Message: "must be greater than or equal to " + e.Param()})
		case "lte":
			out = append(out, FieldError{Field: field, Message: "must be less than or equal to " + e.Param()})
		case "max":
			out = append(out, FieldError{Field: field, Message: "must be at most " + e.Param() + " characters"})
		default:
			out = append(out, FieldError{Field: field, Message: e.Tag() + " validation failed"})
		}
	}
	return out
}

// flexAmount accepts a JSON number or string and keeps the text as entered.
type flexAmount string

func (a *flexAmount) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*a = flexAmount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("amount must be a number or a numeric string")
	}
	*a = flexAmount(n.String())
	return nil
}

// optionalDecimal parses an optional non-amount number such as a rate.
func optionalDecimal(field string, a flexAmount) (decimal.Decimal, error) {
	raw := strings.TrimSpace(string(a))
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &lifecycle.ValidationError{Field: field, Message: "must be a number"}
	}
	return d, nil
}

type createLoanRequest struct {
	PersonName          string     `json:"person_name" validate:"required,max=120"`
	LoanType            string     `json:"loan_type" validate:"required,oneof=lent borrowed"`
	Amount              flexAmount `json:"amount"`
	InterestRate        flexAmount `json:"interest_rate"`
	RepaymentType       string     `json:"repayment_type" validate:"omitempty,oneof=one-time emi"`
	TenureMonths        int        `json:"tenure_months" validate:"gte=0,lte=600"`
	StartDate           *time.Time `json:"start_date"`
	DueDate             *time.Time `json:"due_date"`
	FixedInterestAmount flexAmount `json:"fixed_interest_amount"`
	Notes               string     `json:"notes" validate:"max=1000"`
}

func (r createLoanRequest) toNewLoan() (lifecycle.NewLoan, error) {
	amount, err := lifecycle.ParseAmount("amount", string(r.Amount))
	if err != nil {
		return lifecycle.NewLoan{}, err
	}
	rate, err := optionalDecimal("interest_rate", r.InterestRate)
	if err != nil {
		return lifecycle.NewLoan{}, err
	}

	in := lifecycle.NewLoan{
		PersonName:    sanitize(r.PersonName),
		LoanType:      models.LoanType(r.LoanType),
		Amount:        amount,
		InterestRate:  rate,
		RepaymentType: models.RepaymentType(r.RepaymentType),
		TenureMonths:  r.TenureMonths,
		DueDate:       r.DueDate,
		Notes:         sanitize(r.Notes),
	}
	if r.StartDate != nil {
		in.StartDate = *r.StartDate
	}
	if strings.TrimSpace(string(r.FixedInterestAmount)) != "" {
		fixed, err := optionalDecimal("fixed_interest_amount", r.FixedInterestAmount)
		if err != nil {
			return lifecycle.NewLoan{}, err
		}
		in.FixedInterestAmount = &fixed
	}
	return in, nil
}

type editLoanRequest struct {
	PersonName *string    `json:"person_name" validate:"omitempty,max=120"`
	Notes      *string    `json:"notes" validate:"omitempty,max=1000"`
	DueDate    *time.Time `json:"due_date"`
}

func (r editLoanRequest) toEdit() lifecycle.Edit {
	e := lifecycle.Edit{DueDate: r.DueDate}
	if r.PersonName != nil {
		name := sanitize(*r.PersonName)
		e.PersonName = &name
	}
	if r.Notes != nil {
		notes := sanitize(*r.Notes)
		e.Notes = &notes
	}
	return e
}

type paymentRequest struct {
	Amount    flexAmount `json:"amount"`
	Confirmed bool       `json:"confirmed"`
}

type topUpRequest struct {
	Amount flexAmount `json:"amount"`
	Mode   string     `json:"mode" validate:"omitempty,oneof=increase-emi increase-tenure"`
}
