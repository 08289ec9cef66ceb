package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"orderflow/internal/fault"
)

// NewInMemoryStore constructs an in-memory order store. It backs tests and
// the broker-less development mode.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{orders: make(map[string]Order)}
}

// InMemoryStore keeps orders in a map guarded by a mutex.
type InMemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
}

func (s *InMemoryStore) Insert(_ context.Context, o Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return fault.Conflictf("order %s already exists", o.ID)
	}
	s.orders[o.ID] = o
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return Order{}, fault.NotFoundf("order %s", id)
	}
	return o, nil
}

func (s *InMemoryStore) List(_ context.Context, f ListFilter) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := make([]Order, 0, len(s.orders))
	for _, o := range s.orders {
		if f.UserID != "" && string(o.UserID) != f.UserID {
			continue
		}
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		matched = append(matched, o)
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

func (s *InMemoryStore) TransitionFromPending(_ context.Context, id string, to Status, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok || o.Status != StatusPending {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	s.orders[id] = o
	return true, nil
}
