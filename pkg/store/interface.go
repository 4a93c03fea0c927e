package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/mcclellann/lendbook/pkg/models"
)

// ErrNotFound is returned when no loan exists for the requested id.
var ErrNotFound = errors.New("loan not found")

// Storage defines the persistence operations for loans. A saved loan carries
// its full history; SaveLoan creates or replaces the record with that id.
type Storage interface {
	LoadLoans(ctx context.Context) ([]*models.Loan, error)
	GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error)
	SaveLoan(ctx context.Context, loan *models.Loan) error
	DeleteLoan(ctx context.Context, id uuid.UUID) error

	Close() error
}
