// Package keystore provides the capability-scoped byte store used to hold
// raw key material: save/retrieve/delete by name, nothing else.
package keystore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no value exists under the requested name.
var ErrNotFound = errors.New("keystore: name not found")

// Store is the secure byte store port. Implementations must treat values as
// opaque and must not log them.
type Store interface {
	Save(ctx context.Context, name string, value []byte) error
	Retrieve(ctx context.Context, name string) ([]byte, error)
	Delete(ctx context.Context, name string) error
}
