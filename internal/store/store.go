// Package store provides the durable local collection of syncable entities.
// The contract is entity-agnostic; backends exist for in-memory use, a
// device-resident SQLite file and a GORM-managed database.
package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"HealthSync/internal/model"
)

var (
	// ErrDuplicateEntity is returned by Create when the identifier exists.
	ErrDuplicateEntity = errors.New("store: duplicate entity")
	// ErrEntityNotFound is returned by Read/Update/Delete for absent ids.
	ErrEntityNotFound = errors.New("store: entity not found")
)

// Entity is any record that can move through the sync state machine.
type Entity interface {
	Key() string
	Recorded() time.Time
	State() model.SyncState
}

// Store is the generic local store contract. Predicates are plain Go
// functions evaluated in memory: local corpora are device-resident and
// small, so push-down filtering buys nothing. All mutations of one
// identifier are serialized; no transition removes an entity.
type Store[T Entity] interface {
	Create(ctx context.Context, e T) error
	Read(ctx context.Context, id string) (T, error)
	Update(ctx context.Context, e T) error
	Delete(ctx context.Context, id string) error

	// List returns entities matching pred (nil matches all), ordered by
	// less when given.
	List(ctx context.Context, pred func(T) bool, less func(a, b T) bool) ([]T, error)
	Count(ctx context.Context, pred func(T) bool) (int, error)

	// FetchPendingOrFailed returns up to limit entities awaiting sync in
	// ascending recorded-time order, so the oldest history converges first.
	FetchPendingOrFailed(ctx context.Context, limit int) ([]T, error)
}

// idLocks queues concurrent writers of the same identifier. Locks are
// created on first use and kept for the lifetime of the store.
type idLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newIDLocks() *idLocks {
	return &idLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *idLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}
