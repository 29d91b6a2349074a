package keystore

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const sealedSaltLen = 16

// SealedStore wraps another Store and seals every value with AES-GCM under
// a key derived from a passphrase via argon2id. It is the fallback for
// platforms without a hardware-backed keychain: raw key bytes never reach
// the inner store in the clear.
type SealedStore struct {
	inner      Store
	passphrase []byte
}

var _ Store = (*SealedStore)(nil)

// NewSealedStore wraps inner with passphrase-based sealing.
func NewSealedStore(inner Store, passphrase []byte) (*SealedStore, error) {
	if len(passphrase) == 0 {
		return nil, errors.New("empty passphrase for sealed keystore")
	}
	return &SealedStore{inner: inner, passphrase: passphrase}, nil
}

func (s *SealedStore) deriveKey(salt []byte) []byte {
	return argon2.IDKey(s.passphrase, salt, 1, 64*1024, 4, 32)
}

// Save seals the value and stores salt||nonce||ciphertext in the inner store.
func (s *SealedStore) Save(ctx context.Context, name string, value []byte) error {
	salt := make([]byte, sealedSaltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return err
	}
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	sealed := append(append(salt, nonce...), gcm.Seal(nil, nonce, value, nil)...)
	return s.inner.Save(ctx, name, sealed)
}

// Retrieve unseals the value read from the inner store.
func (s *SealedStore) Retrieve(ctx context.Context, name string) ([]byte, error) {
	sealed, err := s.inner.Retrieve(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(sealed) < sealedSaltLen {
		return nil, fmt.Errorf("sealed value for %q is truncated", name)
	}
	salt := sealed[:sealedSaltLen]
	block, err := aes.NewCipher(s.deriveKey(salt))
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	rest := sealed[sealedSaltLen:]
	if len(rest) < gcm.NonceSize() {
		return nil, fmt.Errorf("sealed value for %q is truncated", name)
	}
	plain, err := gcm.Open(nil, rest[:gcm.NonceSize()], rest[gcm.NonceSize():], nil)
	if err != nil {
		return nil, fmt.Errorf("unseal %q: %w", name, err)
	}
	return plain, nil
}

// Delete removes the value from the inner store.
func (s *SealedStore) Delete(ctx context.Context, name string) error {
	return s.inner.Delete(ctx, name)
}
