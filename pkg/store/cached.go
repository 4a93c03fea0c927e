package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/patrickmn/go-cache"
)

const allLoansKey = "loans:all"

// CachedStore is a read-through cache in front of another Storage. Writes go
// straight to the backing store and drop the affected entries. Cached loans
// are cloned on the way in and out so callers never share them.
type CachedStore struct {
	next  Storage
	cache *cache.Cache
}

func NewCachedStore(next Storage, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, cache: cache.New(ttl, 2*ttl)}
}

func (s *CachedStore) LoadLoans(ctx context.Context) ([]*models.Loan, error) {
	if v, ok := s.cache.Get(allLoansKey); ok {
		return cloneAll(v.([]*models.Loan)), nil
	}
	loans, err := s.next.LoadLoans(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(allLoansKey, cloneAll(loans))
	return loans, nil
}

func (s *CachedStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	if v, ok := s.cache.Get(loanKey(id)); ok {
		return v.(*models.Loan).Clone(), nil
	}
	loan, err := s.next.GetLoan(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(loanKey(id), loan.Clone())
	return loan, nil
}

func (s *CachedStore) SaveLoan(ctx context.Context, loan *models.Loan) error {
	defer s.invalidate(loan.ID)
	return s.next.SaveLoan(ctx, loan)
}

func (s *CachedStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	defer s.invalidate(id)
	return s.next.DeleteLoan(ctx, id)
}

func (s *CachedStore) Close() error {
	s.cache.Flush()
	return s.next.Close()
}

func (s *CachedStore) invalidate(id uuid.UUID) {
	s.cache.Delete(loanKey(id))
	s.cache.Delete(allLoansKey)
}

func cloneAll(loans []*models.Loan) []*models.Loan {
	out := make([]*models.Loan, len(loans))
	for i, l := range loans {
		out[i] = l.Clone()
	}
	return out
}
