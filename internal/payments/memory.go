package payments

import (
	"context"
	"sort"
	"sync"

	"orderflow/internal/fault"
)

// NewInMemoryStore constructs an in-memory payment store. It backs tests and
// the broker-less development mode.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		payments: make(map[string]Payment),
		byKey:    make(map[string]string),
	}
}

// InMemoryStore keeps payments in maps guarded by a mutex. The byKey index
// enforces idempotency-key uniqueness the way the relational store's unique
// constraint does.
type InMemoryStore struct {
	mu       sync.Mutex
	payments map[string]Payment
	byKey    map[string]string
}

func (s *InMemoryStore) FindByIdempotencyKey(_ context.Context, key string) (Payment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return Payment{}, false, nil
	}
	return s.payments[id], true, nil
}

func (s *InMemoryStore) Insert(_ context.Context, p Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[p.IdempotencyKey]; ok {
		return ErrDuplicateKey
	}
	s.payments[p.ID] = p
	s.byKey[p.IdempotencyKey] = p.ID
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return Payment{}, fault.NotFoundf("payment %s", id)
	}
	return p, nil
}

func (s *InMemoryStore) List(_ context.Context, f ListFilter) ([]Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]Payment, 0, len(s.payments))
	for _, p := range s.payments {
		if f.OrderID != "" && p.OrderID != f.OrderID {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if f.Offset >= len(matched) {
		return nil, nil
	}
	matched = matched[f.Offset:]
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

// Count reports the number of stored payments (for testing/inspection).
func (s *InMemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payments)
}
