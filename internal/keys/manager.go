// Package keys owns symmetric key material, key identifiers and rotation.
// Raw key bytes live in an external secure byte store; this package owns
// only the naming convention and the current-key pointer.
package keys

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"

	"HealthSync/internal/keystore"
)

const (
	aeadKeyPrefix  = "health.metric.key."
	hmacKeyPrefix  = "health.metric.hmac.key."
	currentKeyName = "health.metric.current.key.id"
	keyIndexName   = "health.metric.key.ids"

	keyLen = 32
)

var (
	// ErrKeyNotFound means the requested key identifier is unknown,
	// as opposed to "no key generated yet".
	ErrKeyNotFound = errors.New("keys: key not found")
	// ErrKeyStorage wraps failures of the underlying secure byte store.
	ErrKeyStorage = errors.New("keys: key storage failure")
)

// KeyMaterial is one key generation: an AEAD key and a paired HMAC key.
// Material is never mutated after creation, only superseded by rotation.
type KeyMaterial struct {
	ID      string
	AEADKey []byte
	HMACKey []byte
}

// Manager serializes all key reads and rotations. A rotation in progress is
// never observed half-applied: readers see the old pointer or the new one.
type Manager struct {
	mu    sync.Mutex
	store keystore.Store
}

// NewManager returns a Manager backed by the given secure byte store.
func NewManager(store keystore.Store) *Manager {
	return &Manager{store: store}
}

// CurrentKeyID returns the persisted current key identifier, generating the
// first key lazily when none exists yet.
func (m *Manager) CurrentKeyID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, err := m.store.Retrieve(ctx, currentKeyName)
	if err == nil {
		return string(b), nil
	}
	if !errors.Is(err, keystore.ErrNotFound) {
		return "", fmt.Errorf("%w: read current pointer: %w", ErrKeyStorage, err)
	}
	return m.rotateLocked(ctx)
}

// Material returns the key material for the given identifier.
func (m *Manager) Material(ctx context.Context, keyID string) (KeyMaterial, error) {
	if keyID == "" {
		return KeyMaterial{}, ErrKeyNotFound
	}
	aead, err := m.store.Retrieve(ctx, aeadKeyPrefix+keyID)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return KeyMaterial{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		return KeyMaterial{}, fmt.Errorf("%w: read AEAD key: %w", ErrKeyStorage, err)
	}
	mac, err := m.store.Retrieve(ctx, hmacKeyPrefix+keyID)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return KeyMaterial{}, fmt.Errorf("%w: %s", ErrKeyNotFound, keyID)
		}
		return KeyMaterial{}, fmt.Errorf("%w: read HMAC key: %w", ErrKeyStorage, err)
	}
	return KeyMaterial{ID: keyID, AEADKey: aead, HMACKey: mac}, nil
}

// Rotate generates fresh material, persists it and atomically moves the
// current-key pointer. Old generations are retained so previously produced
// ciphertext stays decryptable. If any step fails the prior pointer remains
// authoritative.
func (m *Manager) Rotate(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rotateLocked(ctx)
}

// KeyIDs returns all known key identifiers, newest first.
func (m *Manager) KeyIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.keyIDsLocked(ctx)
}

func (m *Manager) keyIDsLocked(ctx context.Context) ([]string, error) {
	b, err := m.store.Retrieve(ctx, keyIndexName)
	if err != nil {
		if errors.Is(err, keystore.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read key index: %w", ErrKeyStorage, err)
	}
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return nil, fmt.Errorf("%w: corrupt key index: %w", ErrKeyStorage, err)
	}
	return ids, nil
}

func (m *Manager) rotateLocked(ctx context.Context) (string, error) {
	id := uuid.NewString()
	aead := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, aead); err != nil {
		return "", fmt.Errorf("generate AEAD key: %w", err)
	}
	mac := make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, mac); err != nil {
		return "", fmt.Errorf("generate HMAC key: %w", err)
	}

	if err := m.store.Save(ctx, aeadKeyPrefix+id, aead); err != nil {
		return "", fmt.Errorf("%w: save AEAD key: %w", ErrKeyStorage, err)
	}
	if err := m.store.Save(ctx, hmacKeyPrefix+id, mac); err != nil {
		return "", fmt.Errorf("%w: save HMAC key: %w", ErrKeyStorage, err)
	}

	// The index is written before the pointer: a failure here leaves the
	// previous generation current and at worst orphans the new material.
	ids, err := m.keyIDsLocked(ctx)
	if err != nil {
		return "", err
	}
	ids = append([]string{id}, ids...)
	idx, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode key index: %w", err)
	}
	if err := m.store.Save(ctx, keyIndexName, idx); err != nil {
		return "", fmt.Errorf("%w: save key index: %w", ErrKeyStorage, err)
	}

	if err := m.store.Save(ctx, currentKeyName, []byte(id)); err != nil {
		return "", fmt.Errorf("%w: save current pointer: %w", ErrKeyStorage, err)
	}
	return id, nil
}
