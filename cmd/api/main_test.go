package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mcclellann/lendbook/pkg/ledger"
	"github.com/mcclellann/lendbook/pkg/logger"
	"github.com/mcclellann/lendbook/pkg/metrics"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/mcclellann/lendbook/pkg/store"
)

type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func setupTestServer(t *testing.T) (*mux.Router, *testClock) {
	t.Helper()
	s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "api_test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	clock := &testClock{t: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
	server := NewServer(s, metrics.New(), logger.Discard(), ledger.WithClock(clock.now))
	return server.Router(), clock
}

func do(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if s, ok := payload.(string); ok {
			body.WriteString(s)
		} else if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("Failed to encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &body)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func decodeLoan(t *testing.T, rr *httptest.ResponseRecorder) models.Loan {
	t.Helper()
	var loan models.Loan
	if err := json.Unmarshal(rr.Body.Bytes(), &loan); err != nil {
		t.Fatalf("Failed to decode loan: %v. Body: %s", err, rr.Body.String())
	}
	return loan
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("Expected status %d, got %d. Body: %s", want, rr.Code, rr.Body.String())
	}
}

func createLoan(t *testing.T, router http.Handler, req map[string]any) models.Loan {
	t.Helper()
	rr := do(t, router, http.MethodPost, "/loans", req)
	expectStatus(t, rr, http.StatusCreated)
	return decodeLoan(t, rr)
}

func emiRequest() map[string]any {
	return map[string]any{
		"person_name":    "Asha",
		"loan_type":      "lent",
		"amount":         "12000",
		"interest_rate":  12,
		"repayment_type": "emi",
		"tenure_months":  12,
		"start_date":     "2025-06-01T10:00:00Z",
	}
}

func TestAPI_CreateAndGetLoan(t *testing.T) {
	router, _ := setupTestServer(t)

	created := createLoan(t, router, map[string]any{
		"person_name":   "<b>Rahul</b>",
		"loan_type":     "lent",
		"amount":        5000,
		"interest_rate": "2",
	})
	if created.PersonName != "Rahul" {
		t.Errorf("Expected markup stripped from name, got %q", created.PersonName)
	}
	if created.RepaymentType != models.RepaymentOneTime {
		t.Errorf("Expected one-time repayment by default, got %s", created.RepaymentType)
	}
	if created.Status != models.StatusPending {
		t.Errorf("Expected pending, got %s", created.Status)
	}

	rr := do(t, router, http.MethodGet, "/loans/"+created.ID.String(), nil)
	expectStatus(t, rr, http.StatusOK)
	fetched := decodeLoan(t, rr)
	if fetched.ID != created.ID {
		t.Errorf("Expected ID %s, got %s", created.ID, fetched.ID)
	}
	if !fetched.Amount.Equal(decimal.NewFromInt(5000)) {
		t.Errorf("Expected amount 5000, got %s", fetched.Amount)
	}

	var withView struct {
		View struct {
			IsOverdue bool `json:"is_overdue"`
		} `json:"view"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &withView); err != nil {
		t.Fatalf("Failed to decode view: %v", err)
	}
	if withView.View.IsOverdue {
		t.Error("Expected a loan without a due date not to be overdue")
	}
}

func TestAPI_CreateLoanValidation(t *testing.T) {
	router, _ := setupTestServer(t)

	tests := []struct {
		name  string
		body  any
		code  int
		field string
	}{
		{"malformed json", `{"person_name":`, http.StatusBadRequest, ""},
		{"missing type", map[string]any{"person_name": "A", "amount": 10}, http.StatusUnprocessableEntity, "loan_type"},
		{"bad type", map[string]any{"person_name": "A", "loan_type": "gifted", "amount": 10}, http.StatusUnprocessableEntity, "loan_type"},
		{"amount not a number", map[string]any{"person_name": "A", "loan_type": "lent", "amount": "ten"}, http.StatusUnprocessableEntity, "amount"},
		{"zero amount", map[string]any{"person_name": "A", "loan_type": "lent", "amount": 0}, http.StatusUnprocessableEntity, "amount"},
		{"emi without tenure", map[string]any{"person_name": "A", "loan_type": "lent", "amount": 100, "repayment_type": "emi"}, http.StatusUnprocessableEntity, "tenure_months"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, router, http.MethodPost, "/loans", tt.body)
			expectStatus(t, rr, tt.code)
			if tt.field == "" {
				return
			}
			var resp ErrorResponse
			if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if len(resp.Details) == 0 || resp.Details[0].Field != tt.field {
				t.Errorf("Expected error on %s, got %+v", tt.field, resp.Details)
			}
		})
	}
}

func TestAPI_RecordPayment(t *testing.T) {
	router, _ := setupTestServer(t)
	created := createLoan(t, router, map[string]any{"person_name": "Amit", "loan_type": "borrowed", "amount": 1000})
	path := "/loans/" + created.ID.String()

	rr := do(t, router, http.MethodPost, path+"/payments", map[string]any{"amount": 200})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeLoan(t, rr); !got.Amount.Equal(decimal.NewFromInt(800)) {
		t.Errorf("Expected 800 outstanding, got %s", got.Amount)
	}

	rr = do(t, router, http.MethodPost, path+"/payments", map[string]any{"amount": "800"})
	expectStatus(t, rr, http.StatusConflict)

	rr = do(t, router, http.MethodPost, path+"/payments", map[string]any{"amount": "800", "confirmed": true})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeLoan(t, rr); got.Status != models.StatusPaid || !got.Amount.IsZero() {
		t.Errorf("Expected settled loan, got %s with %s", got.Status, got.Amount)
	}

	rr = do(t, router, http.MethodPost, path+"/undo", nil)
	expectStatus(t, rr, http.StatusOK)
	restored := decodeLoan(t, rr)
	if restored.Status != models.StatusPending || !restored.Amount.Equal(decimal.NewFromInt(800)) {
		t.Errorf("Expected pending with 800 after undo, got %s with %s", restored.Status, restored.Amount)
	}

	rr = do(t, router, http.MethodGet, path+"/history", nil)
	expectStatus(t, rr, http.StatusOK)
	var entries []models.HistoryEntry
	if err := json.Unmarshal(rr.Body.Bytes(), &entries); err != nil {
		t.Fatalf("Failed to decode history: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("Expected 4 history entries, got %d", len(entries))
	}
	if !strings.HasPrefix(entries[0].Description, "Reverted") {
		t.Errorf("Expected newest entry first, got %q", entries[0].Description)
	}
}

func TestAPI_PayEMICooldown(t *testing.T) {
	router, clock := setupTestServer(t)
	created := createLoan(t, router, emiRequest())
	if !created.EMIAmount.Equal(decimal.RequireFromString("1066.19")) {
		t.Fatalf("Expected EMI 1066.19, got %s", created.EMIAmount)
	}
	path := "/loans/" + created.ID.String() + "/emi"

	rr := do(t, router, http.MethodPost, path, nil)
	expectStatus(t, rr, http.StatusOK)
	if got := decodeLoan(t, rr); !got.Amount.Equal(decimal.RequireFromString("10933.81")) {
		t.Errorf("Expected 10933.81 outstanding, got %s", got.Amount)
	}

	rr = do(t, router, http.MethodPost, path, nil)
	expectStatus(t, rr, http.StatusConflict)

	clock.advance(28 * 24 * time.Hour)
	rr = do(t, router, http.MethodPost, path, nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestAPI_TopUpRequiresMode(t *testing.T) {
	router, _ := setupTestServer(t)
	created := createLoan(t, router, emiRequest())
	path := "/loans/" + created.ID.String() + "/topups"

	rr := do(t, router, http.MethodPost, path, map[string]any{"amount": 2000, "mode": "sideways"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = do(t, router, http.MethodPost, path, map[string]any{"amount": 2000})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = do(t, router, http.MethodPost, path, map[string]any{"amount": 100000, "mode": "increase-tenure"})
	expectStatus(t, rr, http.StatusUnprocessableEntity)
	if !strings.Contains(rr.Body.String(), "does not exceed monthly interest") {
		t.Errorf("Expected a schedule error, got %s", rr.Body.String())
	}

	rr = do(t, router, http.MethodPost, path, map[string]any{"amount": 2000, "mode": "increase-tenure"})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeLoan(t, rr); !got.Amount.Equal(decimal.NewFromInt(14000)) {
		t.Errorf("Expected 14000 outstanding, got %s", got.Amount)
	}
}

func TestAPI_Schedule(t *testing.T) {
	router, _ := setupTestServer(t)
	emi := createLoan(t, router, emiRequest())

	rr := do(t, router, http.MethodGet, "/loans/"+emi.ID.String()+"/schedule", nil)
	expectStatus(t, rr, http.StatusOK)
	var rows []struct {
		Period  int             `json:"period"`
		Payment decimal.Decimal `json:"payment"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &rows); err != nil {
		t.Fatalf("Failed to decode schedule: %v", err)
	}
	if len(rows) != 12 {
		t.Fatalf("Expected 12 installments, got %d", len(rows))
	}

	oneTime := createLoan(t, router, map[string]any{"person_name": "Priya", "loan_type": "lent", "amount": 300})
	rr = do(t, router, http.MethodGet, "/loans/"+oneTime.ID.String()+"/schedule", nil)
	expectStatus(t, rr, http.StatusConflict)
}

func TestAPI_EditAndDelete(t *testing.T) {
	router, _ := setupTestServer(t)
	created := createLoan(t, router, map[string]any{"person_name": "Karthik", "loan_type": "lent", "amount": 100})
	path := "/loans/" + created.ID.String()

	rr := do(t, router, http.MethodPatch, path, map[string]any{"notes": "cash"})
	expectStatus(t, rr, http.StatusOK)
	if got := decodeLoan(t, rr); got.Notes != "cash" {
		t.Errorf("Expected notes to be updated, got %q", got.Notes)
	}

	rr = do(t, router, http.MethodPatch, path, map[string]any{})
	expectStatus(t, rr, http.StatusUnprocessableEntity)

	rr = do(t, router, http.MethodDelete, path, nil)
	expectStatus(t, rr, http.StatusNoContent)

	rr = do(t, router, http.MethodGet, path, nil)
	expectStatus(t, rr, http.StatusNotFound)

	rr = do(t, router, http.MethodPost, path+"/toggle", nil)
	expectStatus(t, rr, http.StatusNotFound)
}

func TestAPI_ListFilter(t *testing.T) {
	router, _ := setupTestServer(t)
	createLoan(t, router, map[string]any{"person_name": "A", "loan_type": "lent", "amount": 100})
	createLoan(t, router, map[string]any{"person_name": "B", "loan_type": "borrowed", "amount": 100})

	rr := do(t, router, http.MethodGet, "/loans?type=borrowed", nil)
	expectStatus(t, rr, http.StatusOK)
	var loans []models.Loan
	if err := json.Unmarshal(rr.Body.Bytes(), &loans); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if len(loans) != 1 || loans[0].PersonName != "B" {
		t.Errorf("Expected only the borrowed loan, got %+v", loans)
	}

	rr = do(t, router, http.MethodGet, "/loans?status=closed", nil)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestAPI_SeedAndSummary(t *testing.T) {
	router, _ := setupTestServer(t)

	rr := do(t, router, http.MethodPost, "/loans/seed", nil)
	expectStatus(t, rr, http.StatusOK)
	rr = do(t, router, http.MethodPost, "/loans/seed", nil)
	expectStatus(t, rr, http.StatusOK)
	var seeded map[string]int
	if err := json.Unmarshal(rr.Body.Bytes(), &seeded); err != nil {
		t.Fatalf("Failed to decode seed response: %v", err)
	}
	if seeded["added"] != 0 {
		t.Errorf("Expected a second seed to add nothing, got %d", seeded["added"])
	}

	rr = do(t, router, http.MethodGet, "/loans/summary", nil)
	expectStatus(t, rr, http.StatusOK)
	var sum ledger.Summary
	if err := json.Unmarshal(rr.Body.Bytes(), &sum); err != nil {
		t.Fatalf("Failed to decode summary: %v", err)
	}
	if !sum.TotalLent.Equal(decimal.NewFromInt(15000)) {
		t.Errorf("Expected 15000 lent, got %s", sum.TotalLent)
	}
	if !sum.Net.Equal(decimal.NewFromInt(-36000)) {
		t.Errorf("Expected net -36000, got %s", sum.Net)
	}
	if sum.Overdue != 1 || sum.Paid != 1 {
		t.Errorf("Expected 1 overdue and 1 paid, got %d and %d", sum.Overdue, sum.Paid)
	}

	rr = do(t, router, http.MethodPost, "/loans/seed?force=maybe", nil)
	expectStatus(t, rr, http.StatusUnprocessableEntity)
}

func TestAPI_ExportCSV(t *testing.T) {
	router, _ := setupTestServer(t)
	created := createLoan(t, router, map[string]any{"person_name": "=cmd", "loan_type": "lent", "amount": 100})

	rr := do(t, router, http.MethodGet, "/history.csv", nil)
	expectStatus(t, rr, http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header and one row, got %d lines", len(lines))
	}
	if lines[0] != "loan_id,person,date,action,description,amount" {
		t.Errorf("Unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], "'=cmd") {
		t.Errorf("Expected formula to be neutralized, got %q", lines[1])
	}

	rr = do(t, router, http.MethodGet, "/loans/"+created.ID.String()+"/history.csv", nil)
	expectStatus(t, rr, http.StatusOK)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	router, _ := setupTestServer(t)

	rr := do(t, router, http.MethodGet, "/health", nil)
	expectStatus(t, rr, http.StatusOK)

	createLoan(t, router, map[string]any{"person_name": "A", "loan_type": "lent", "amount": 100})
	rr = do(t, router, http.MethodGet, "/metrics", nil)
	expectStatus(t, rr, http.StatusOK)
	want := `lendbook_loan_operations_total{operation="create",result="ok"} 1`
	if !strings.Contains(rr.Body.String(), want) {
		t.Errorf("Expected metrics to contain %q", want)
	}
}
