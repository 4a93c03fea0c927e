package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/mcclellann/lendbook/pkg/models"
	"github.com/redis/go-redis/v9"
)

const loanIndexKey = "loans:index"

func loanKey(id uuid.UUID) string { return "loan:" + id.String() }

// OpenRedis connects to addr and verifies the server answers.
func OpenRedis(addr string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

// RedisStore keeps one JSON document per loan plus a set indexing their ids.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

// SaveLoan writes the document and its index entry atomically.
func (s *RedisStore) SaveLoan(ctx context.Context, loan *models.Loan) error {
	b, err := json.Marshal(loan)
	if err != nil {
		return fmt.Errorf("failed to encode loan %s: %w", loan.ID, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, loanKey(loan.ID), b, 0)
		p.SAdd(ctx, loanIndexKey, loan.ID.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save loan: %w", err)
	}
	return nil
}

func (s *RedisStore) GetLoan(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	b, err := s.rdb.Get(ctx, loanKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get loan: %w", err)
	}
	return decodeLoan(b)
}

// LoadLoans returns every indexed loan, oldest first. Index entries whose
// document has gone missing are skipped.
func (s *RedisStore) LoadLoans(ctx context.Context) ([]*models.Loan, error) {
	ids, err := s.rdb.SMembers(ctx, loanIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read loan index: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "loan:" + id
	}
	docs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get all loans: %w", err)
	}

	loans := make([]*models.Loan, 0, len(docs))
	for _, doc := range docs {
		raw, ok := doc.(string)
		if !ok {
			continue
		}
		loan, err := decodeLoan([]byte(raw))
		if err != nil {
			return nil, err
		}
		loans = append(loans, loan)
	}
	sort.Slice(loans, func(i, j int) bool {
		if !loans[i].CreatedAt.Equal(loans[j].CreatedAt) {
			return loans[i].CreatedAt.Before(loans[j].CreatedAt)
		}
		return loans[i].ID.String() < loans[j].ID.String()
	})
	return loans, nil
}

func (s *RedisStore) DeleteLoan(ctx context.Context, id uuid.UUID) error {
	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, loanKey(id))
		p.SRem(ctx, loanIndexKey, id.String())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete loan: %w", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

func decodeLoan(b []byte) (*models.Loan, error) {
	var loan models.Loan
	if err := json.Unmarshal(b, &loan); err != nil {
		return nil, fmt.Errorf("failed to decode loan: %w", err)
	}
	return &loan, nil
}
