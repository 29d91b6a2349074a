package store

import (
	"context"
	"sort"
	"sync"

	"HealthSync/internal/model"
)

// MemStore is a generic in-memory backend. It backs derived insights on the
// device and serves as the swappable fake in tests. A single RWMutex
// serializes all writes, which trivially satisfies the single-writer-per-id
// rule.
type MemStore[T Entity] struct {
	mu       sync.RWMutex
	entities map[string]T
}

// NewMemStore returns an empty in-memory store.
func NewMemStore[T Entity]() *MemStore[T] {
	return &MemStore[T]{entities: make(map[string]T)}
}

func (s *MemStore[T]) Create(_ context.Context, e T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.Key()]; ok {
		return ErrDuplicateEntity
	}
	s.entities[e.Key()] = e
	return nil
}

func (s *MemStore[T]) Read(_ context.Context, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		var zero T
		return zero, ErrEntityNotFound
	}
	return e, nil
}

func (s *MemStore[T]) Update(_ context.Context, e T) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[e.Key()]; !ok {
		return ErrEntityNotFound
	}
	s.entities[e.Key()] = e
	return nil
}

func (s *MemStore[T]) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return ErrEntityNotFound
	}
	delete(s.entities, id)
	return nil
}

func (s *MemStore[T]) List(_ context.Context, pred func(T) bool, less func(a, b T) bool) ([]T, error) {
	s.mu.RLock()
	res := make([]T, 0, len(s.entities))
	for _, e := range s.entities {
		if pred == nil || pred(e) {
			res = append(res, e)
		}
	}
	s.mu.RUnlock()
	if less != nil {
		sort.SliceStable(res, func(i, j int) bool { return less(res[i], res[j]) })
	}
	return res, nil
}

func (s *MemStore[T]) Count(ctx context.Context, pred func(T) bool) (int, error) {
	res, err := s.List(ctx, pred, nil)
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

func (s *MemStore[T]) FetchPendingOrFailed(ctx context.Context, limit int) ([]T, error) {
	res, err := s.List(ctx,
		func(e T) bool { return e.State().AwaitsSync() },
		func(a, b T) bool { return a.Recorded().Before(b.Recorded()) },
	)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

var _ Store[model.HealthObservation] = (*MemStore[model.HealthObservation])(nil)
