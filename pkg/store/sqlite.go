package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/shopspring/decimal"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore manages the database connection and operations for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLiteStore and initializes the database.
func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("could not open database: %w", err)
	}

	// Manually enable foreign keys and WAL mode
	if _, err = db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if _, err = db.Exec("PRAGMA journal_mode = WAL;"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("could not connect to database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("could not initialize schema: %w", err)
	}
	slog.Info("sqlite store ready", "path", dataSourceName)
	return s, nil
}

// initSchema creates the tables if they don't already exist and adds columns
// introduced after the first release. Decimals are TEXT so no precision is lost.
func (s *SQLiteStore) initSchema() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS loans (
		id TEXT PRIMARY KEY,
		person_name TEXT NOT NULL,
		loan_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		interest_rate TEXT NOT NULL DEFAULT '0',
		repayment_type TEXT NOT NULL,
		tenure_months INTEGER NOT NULL DEFAULT 0,
		emi_amount TEXT NOT NULL DEFAULT '0',
		start_date DATETIME NOT NULL,
		due_date DATETIME,
		fixed_interest_amount TEXT,
		last_emi_payment_date DATETIME,
		part_payment_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		undo_data TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS loan_history (
		id TEXT PRIMARY KEY,
		loan_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		action TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		description TEXT NOT NULL,
		amount TEXT,
		FOREIGN KEY(loan_id) REFERENCES loans(id)
	);
	CREATE INDEX IF NOT EXISTS idx_loan_history_loan ON loan_history(loan_id, seq);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	columns := []string{
		"last_interest_applied_date DATETIME",
		"notes TEXT NOT NULL DEFAULT ''",
	}
	for _, col := range columns {
		_, err := s.db.Exec(fmt.Sprintf("ALTER TABLE loans ADD COLUMN %s", col))
		if err != nil && !isDuplicateColumnError(err) {
			return fmt.Errorf("failed to add column %s: %w", col, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "duplicate column name")
}

const loanColumns = `id, person_name, loan_type, amount, interest_rate, repayment_type, tenure_months, emi_amount,
	start_date, due_date, fixed_interest_amount, last_emi_payment_date, last_interest_applied_date,
	part_payment_count, status, undo_data, notes, created_at, updated_at`

// SaveLoan upserts the loan row and appends history entries not yet stored,
// all in one transaction. Stored history rows are never rewritten.
func (s *SQLiteStore) SaveLoan(ctx context.Context, loan *models.Loan) error {
	undo, err := encodeUndo(loan.UndoData)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO loans (`+loanColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			person_name = excluded.person_name,
			loan_type = excluded.loan_type,
			amount = excluded.amount,
			interest_rate = excluded.interest_rate,
			repayment_type = excluded.repayment_type,
			tenure_months = excluded.tenure_months,
			emi_amount = excluded.emi_amount,
			start_date = excluded.start_date,
			due_date = excluded.due_date,
			fixed_interest_amount = excluded.fixed_interest_amount,
			last_emi_payment_date = excluded.last_emi_payment_date,
			last_interest_applied_date = excluded.last_interest_applied_date,
			part_payment_count = excluded.part_payment_count,
			status = excluded.status,
			undo_data = excluded.undo_data,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		loan.ID.String(), loan.PersonName, loan.LoanType, loan.Amount, loan.InterestRate, loan.RepaymentType,
		loan.TenureMonths, loan.EMIAmount, loan.StartDate, loan.DueDate, nullDecimal(loan.FixedInterestAmount),
		loan.LastEMIPaymentDate, loan.LastInterestAppliedDate, loan.PartPaymentCount, loan.Status, undo,
		loan.Notes, loan.CreatedAt, loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}

	for i, e := range loan.History {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO loan_history (id, loan_id, seq, action, occurred_at, description, amount)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID.String(), loan.ID.String(), i, e.Action, e.Date, e.Description, nullDecimal(e.Amount),
		)
		if err != nil {
			return fmt.Errorf("failed to append history for loan %s: %w", loan.ID, err)
		}
	}

	return tx.Commit()
}

// GetLoan retrieves a loan and its history by id.
func (s *SQLiteStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+loanColumns+` FROM loans WHERE id = ?`, id.String())
	loan, err := scanLoan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}

	history, err := s.loadHistory(ctx, `WHERE loan_id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	loan.History = history[loan.ID]
	return loan, nil
}

// LoadLoans retrieves every loan, oldest first, with its history.
func (s *SQLiteStore) LoadLoans(ctx context.Context) ([]*models.Loan, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+loanColumns+` FROM loans ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}
	defer rows.Close()

	var loans []*models.Loan
	for rows.Next() {
		loan, err := scanLoan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan loan row: %w", err)
		}
		loans = append(loans, loan)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration: %w", err)
	}

	history, err := s.loadHistory(ctx, "")
	if err != nil {
		return nil, err
	}
	for _, loan := range loans {
		loan.History = history[loan.ID]
	}
	return loans, nil
}

// DeleteLoan removes a loan and its history within a transaction.
func (s *SQLiteStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = tx.ExecContext(ctx, `DELETE FROM loan_history WHERE loan_id = ?`, id.String()); err != nil {
		return fmt.Errorf("failed to delete loan history: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM loans WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLoan(r rowScanner) (*models.Loan, error) {
	var (
		loan                       models.Loan
		idStr                      string
		due, lastEMI, lastInterest sql.NullTime
		fixed                      decimal.NullDecimal
		undo                       sql.NullString
	)
	err := r.Scan(&idStr, &loan.PersonName, &loan.LoanType, &loan.Amount, &loan.InterestRate, &loan.RepaymentType,
		&loan.TenureMonths, &loan.EMIAmount, &loan.StartDate, &due, &fixed, &lastEMI, &lastInterest,
		&loan.PartPaymentCount, &loan.Status, &undo, &loan.Notes, &loan.CreatedAt, &loan.UpdatedAt)
	if err != nil {
		return nil, err
	}

	id, err := uuid.Parse(idStr)
	if err != nil {
		return nil, fmt.Errorf("invalid loan id %q: %w", idStr, err)
	}
	loan.ID = id
	loan.DueDate = timePtr(due)
	loan.LastEMIPaymentDate = timePtr(lastEMI)
	loan.LastInterestAppliedDate = timePtr(lastInterest)
	if fixed.Valid {
		loan.FixedInterestAmount = &fixed.Decimal
	}
	if undo.Valid && undo.String != "" {
		var snap models.UndoSnapshot
		if err := json.Unmarshal([]byte(undo.String), &snap); err != nil {
			return nil, fmt.Errorf("invalid undo data for loan %s: %w", id, err)
		}
		loan.UndoData = &snap
	}
	return &loan, nil
}

// loadHistory reads history rows, in append order, grouped by loan id.
func (s *SQLiteStore) loadHistory(ctx context.Context, where string, args ...any) (map[uuid.UUID][]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, loan_id, action, occurred_at, description, amount FROM loan_history `+where+` ORDER BY loan_id, seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get loan history: %w", err)
	}
	defer rows.Close()

	out := make(map[uuid.UUID][]models.HistoryEntry)
	for rows.Next() {
		var (
			e             models.HistoryEntry
			idStr, loanID string
			amount        decimal.NullDecimal
		)
		if err := rows.Scan(&idStr, &loanID, &e.Action, &e.Date, &e.Description, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if e.ID, err = uuid.Parse(idStr); err != nil {
			return nil, fmt.Errorf("invalid history id %q: %w", idStr, err)
		}
		owner, err := uuid.Parse(loanID)
		if err != nil {
			return nil, fmt.Errorf("invalid loan id %q: %w", loanID, err)
		}
		if amount.Valid {
			e.Amount = &amount.Decimal
		}
		out[owner] = append(out[owner], e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during rows iteration for loan history: %w", err)
	}
	return out, nil
}

func encodeUndo(u *models.UndoSnapshot) (sql.NullString, error) {
	if u == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(u)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode undo data: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
