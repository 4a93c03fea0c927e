package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/mcclellann/lendbook/pkg/amortization"
	"github.com/mcclellann/lendbook/pkg/history"
	"github.com/mcclellann/lendbook/pkg/ledger"
	"github.com/mcclellann/lendbook/pkg/lifecycle"
	"github.com/mcclellann/lendbook/pkg/metrics"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/mcclellann/lendbook/pkg/store"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	storage  store.Storage // Keep a reference to the storage to close it
	metrics  *metrics.Metrics
	log      *slog.Logger
	validate *validator.Validate
	limiter  *rate.Limiter
}

func NewServer(s store.Storage, m *metrics.Metrics, log *slog.Logger, opts ...ledger.Option) *Server {
	opts = append([]ledger.Option{ledger.WithLogger(log), ledger.WithMetrics(m)}, opts...)
	return &Server{
		ledger:   ledger.NewLedger(s, opts...),
		storage:  s,
		metrics:  m,
		log:      log,
		validate: newValidator(),
		limiter:  rate.NewLimiter(rate.Every(100*time.Millisecond), 30),
	}
}

const loanPath = "/loans/{id:[0-9a-fA-F-]{36}}"

// Router registers every route on a new mux router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.loggingMiddleware, s.rateLimitMiddleware)

	r.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/history.csv", s.exportAllHandler).Methods(http.MethodGet)

	r.HandleFunc("/loans", s.listLoansHandler).Methods(http.MethodGet)
	r.HandleFunc("/loans", s.createLoanHandler).Methods(http.MethodPost)
	r.HandleFunc("/loans/summary", s.summaryHandler).Methods(http.MethodGet)
	r.HandleFunc("/loans/seed", s.seedHandler).Methods(http.MethodPost)

	r.HandleFunc(loanPath, s.getLoanHandler).Methods(http.MethodGet)
	r.HandleFunc(loanPath, s.editLoanHandler).Methods(http.MethodPatch)
	r.HandleFunc(loanPath, s.deleteLoanHandler).Methods(http.MethodDelete)
	r.HandleFunc(loanPath+"/history", s.historyHandler).Methods(http.MethodGet)
	r.HandleFunc(loanPath+"/history.csv", s.exportLoanHandler).Methods(http.MethodGet)
	r.HandleFunc(loanPath+"/schedule", s.scheduleHandler).Methods(http.MethodGet)

	r.HandleFunc(loanPath+"/emi", s.loanAction(s.ledger.PayEMI)).Methods(http.MethodPost)
	r.HandleFunc(loanPath+"/payments", s.recordPaymentHandler).Methods(http.MethodPost)
	r.HandleFunc(loanPath+"/topups", s.topUpHandler).Methods(http.MethodPost)
	r.HandleFunc(loanPath+"/write-off", s.loanAction(s.ledger.WriteOff)).Methods(http.MethodPost)
	r.HandleFunc(loanPath+"/toggle", s.loanAction(s.ledger.TogglePaid)).Methods(http.MethodPost)
	r.HandleFunc(loanPath+"/foreclose", s.loanAction(s.ledger.Foreclose)).Methods(http.MethodPost)
	r.HandleFunc(loanPath+"/undo", s.loanAction(s.ledger.Undo)).Methods(http.MethodPost)
	return r
}

// statusRecorder captures the status code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.log.Warn("rate limit exceeded", "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, ErrorResponse{Error: http.StatusText(http.StatusTooManyRequests)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps ledger errors onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var (
		ve *lifecycle.ValidationError
		pe *lifecycle.PreconditionError
		de *amortization.DegenerateScheduleError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "validation failed",
			Details: []FieldError{{Field: ve.Field, Message: ve.Message}},
		})
	case errors.As(err, &de):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: de.Error()})
	case errors.As(err, &pe):
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: pe.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "loan not found"})
	default:
		s.log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

// decode reads a JSON body into dst and runs struct validation. It writes the
// error response itself and reports whether the handler should go on.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid JSON body: %v", err)})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: "validation failed", Details: toFieldErrors(err)})
		return false
	}
	return true
}

func loanID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid loan id"})
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req createLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.toNewLoan()
	if err != nil {
		s.writeError(w, err)
		return
	}

	loan, err := s.ledger.CreateLoan(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.present(loan))
}

func (s *Server) present(loan *models.Loan) ledger.LoanView {
	return ledger.LoanView{Loan: loan, View: amortization.Evaluate(loan, s.ledger.Now())}
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := ledger.Filter{
		Type:   models.LoanType(q.Get("type")),
		Status: models.Status(q.Get("status")),
	}
	if f.Type != "" && !f.Type.Valid() {
		s.writeError(w, &lifecycle.ValidationError{Field: "type", Message: "must be lent or borrowed"})
		return
	}
	if f.Status != "" && !f.Status.Valid() {
		s.writeError(w, &lifecycle.ValidationError{Field: "status", Message: "must be pending, paid or written-off"})
		return
	}

	loans, err := s.ledger.ListLoans(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) seedHandler(w http.ResponseWriter, r *http.Request) {
	force := false
	if v := r.URL.Query().Get("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, &lifecycle.ValidationError{Field: "force", Message: "must be true or false"})
			return
		}
		force = b
	}
	n, err := s.ledger.Seed(r.Context(), force)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": n})
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	view, err := s.ledger.ViewLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) editLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	var req editLoanRequest
	if !s.decode(w, r, &req) {
		return
	}
	loan, err := s.ledger.EditLoan(r.Context(), id, req.toEdit())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present(loan))
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	if err := s.ledger.DeleteLoan(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	entries, err := s.ledger.History(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) scheduleHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	rows, err := s.ledger.Schedule(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeCSV(w http.ResponseWriter, filename string, loans []*models.Loan) error {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	return history.WriteCSV(w, loans)
}

func (s *Server) exportLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := writeCSV(w, "loan-"+id.String()+".csv", []*models.Loan{loan}); err != nil {
		s.log.Error("csv export failed", "loan_id", id, "error", err)
	}
}

func (s *Server) exportAllHandler(w http.ResponseWriter, r *http.Request) {
	views, err := s.ledger.ListLoans(r.Context(), ledger.Filter{})
	if err != nil {
		s.writeError(w, err)
		return
	}
	loans := make([]*models.Loan, len(views))
	for i, v := range views {
		loans[i] = v.Loan
	}
	if err := writeCSV(w, "history.csv", loans); err != nil {
		s.log.Error("csv export failed", "error", err)
	}
}

type loanOp func(ctx context.Context, id uuid.UUID) (*models.Loan, error)

// loanAction adapts a parameterless ledger operation into a handler.
func (s *Server) loanAction(op loanOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := loanID(w, r)
		if !ok {
			return
		}
		loan, err := op(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.present(loan))
	}
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := lifecycle.ParseAmount("amount", string(req.Amount))
	if err != nil {
		s.writeError(w, err)
		return
	}

	loan, err := s.ledger.RecordPayment(r.Context(), id, amount, req.Confirmed)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present(loan))
}

func (s *Server) topUpHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := loanID(w, r)
	if !ok {
		return
	}
	var req topUpRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := lifecycle.ParseAmount("amount", string(req.Amount))
	if err != nil {
		s.writeError(w, err)
		return
	}

	loan, err := s.ledger.TopUp(r.Context(), id, amount, lifecycle.TopUpMode(req.Mode))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.present(loan))
}
