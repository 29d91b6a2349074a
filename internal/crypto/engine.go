// Package crypto implements the encryption engine: AES-GCM over a canonical
// JSON form of an observation, with an optional HMAC integrity layer for
// ciphertext that transits intermediaries holding only the HMAC key.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"HealthSync/internal/keys"
	"HealthSync/internal/model"
)

const (
	nonceLen = 12
	hmacLen  = sha256.Size
)

var (
	ErrEncryptionFailed = errors.New("crypto: encryption failed")
	// ErrDecryptionFailed means authentication failed under every retained
	// key generation. No partial plaintext is ever returned.
	ErrDecryptionFailed     = errors.New("crypto: decryption failed")
	ErrIntegrityCheckFailed = errors.New("crypto: integrity check failed")
)

// Engine encrypts and decrypts observations using keys supplied by the key
// manager. It holds no key material itself.
type Engine struct {
	keys    *keys.Manager
	workers int
}

// NewEngine returns an Engine using the given key manager. Batch encryption
// runs on up to four concurrent workers.
func NewEngine(km *keys.Manager) *Engine {
	return &Engine{keys: km, workers: 4}
}

// seal encrypts plain under the AEAD key and returns nonce||ciphertext||tag.
func seal(aeadKey, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(aeadKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return append(nonce, gcm.Seal(nil, nonce, plain, nil)...), nil
}

// open splits nonce||ciphertext||tag and attempts the AEAD open.
func open(aeadKey, blob []byte) ([]byte, error) {
	if len(blob) < nonceLen+16 {
		return nil, errors.New("blob truncated")
	}
	block, err := aes.NewCipher(aeadKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, blob[:nonceLen], blob[nonceLen:], nil)
}

// Encrypt serializes the observation and encrypts it under the current key.
// The result is nonce||ciphertext||tag as one opaque blob, suitable for
// local at-rest storage.
func (e *Engine) Encrypt(ctx context.Context, obs model.HealthObservation) ([]byte, error) {
	mat, err := e.currentMaterial(ctx)
	if err != nil {
		return nil, err
	}
	return e.encryptWith(mat, obs)
}

func (e *Engine) currentMaterial(ctx context.Context) (keys.KeyMaterial, error) {
	id, err := e.keys.CurrentKeyID(ctx)
	if err != nil {
		return keys.KeyMaterial{}, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	mat, err := e.keys.Material(ctx, id)
	if err != nil {
		return keys.KeyMaterial{}, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	return mat, nil
}

func (e *Engine) encryptWith(mat keys.KeyMaterial, obs model.HealthObservation) ([]byte, error) {
	plain, err := json.Marshal(obs)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize: %w", ErrEncryptionFailed, err)
	}
	blob, err := seal(mat.AEADKey, plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptionFailed, err)
	}
	return blob, nil
}

// Decrypt opens a blob produced by Encrypt. The current key is tried first,
// then every retained older generation, so ciphertext written before a
// rotation stays readable. Authentication failure under all keys is
// ErrDecryptionFailed.
func (e *Engine) Decrypt(ctx context.Context, blob []byte) (model.HealthObservation, error) {
	var obs model.HealthObservation
	plain, err := e.openAny(ctx, blob)
	if err != nil {
		return obs, err
	}
	if err := json.Unmarshal(plain, &obs); err != nil {
		return model.HealthObservation{}, fmt.Errorf("%w: decode: %w", ErrDecryptionFailed, err)
	}
	return obs, nil
}

func (e *Engine) openAny(ctx context.Context, blob []byte) ([]byte, error) {
	_, err := e.keys.CurrentKeyID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	ids, err := e.keys.KeyIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	for _, id := range ids {
		mat, err := e.keys.Material(ctx, id)
		if err != nil {
			if errors.Is(err, keys.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
		}
		if plain, err := open(mat.AEADKey, blob); err == nil {
			return plain, nil
		}
	}
	return nil, ErrDecryptionFailed
}

// PrepareForTransmission performs the same encryption as Encrypt but returns
// the pieces as discrete fields so the transport can route by key id without
// decrypting.
func (e *Engine) PrepareForTransmission(ctx context.Context, obs model.HealthObservation) (model.EncryptedPayload, error) {
	mat, err := e.currentMaterial(ctx)
	if err != nil {
		return model.EncryptedPayload{}, err
	}
	blob, err := e.encryptWith(mat, obs)
	if err != nil {
		return model.EncryptedPayload{}, err
	}
	return model.EncryptedPayload{
		EncryptedData: blob[nonceLen:],
		Algorithm:     model.AlgorithmAESGCM256,
		KeyID:         mat.ID,
		Timestamp:     time.Now().UTC(),
		Nonce:         blob[:nonceLen],
	}, nil
}

// DecryptPayload opens a wire payload by its explicit key id. Used by
// tooling that simulates the receiving side.
func (e *Engine) DecryptPayload(ctx context.Context, p model.EncryptedPayload) (model.HealthObservation, error) {
	var obs model.HealthObservation
	mat, err := e.keys.Material(ctx, p.KeyID)
	if err != nil {
		return obs, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	plain, err := open(mat.AEADKey, append(append([]byte{}, p.Nonce...), p.EncryptedData...))
	if err != nil {
		return obs, ErrDecryptionFailed
	}
	if err := json.Unmarshal(plain, &obs); err != nil {
		return model.HealthObservation{}, fmt.Errorf("%w: decode: %w", ErrDecryptionFailed, err)
	}
	return obs, nil
}

// BatchResult pairs an encryption result with the observation's own
// identifier, so callers can never misalign results positionally.
type BatchResult struct {
	ID   string
	Blob []byte
	Err  error
}

// EncryptBatch encrypts a collection concurrently. Every item gets an
// independently generated nonce; one item failing does not fail the others.
// Results are returned in input order.
func (e *Engine) EncryptBatch(ctx context.Context, obs []model.HealthObservation) ([]BatchResult, error) {
	if len(obs) == 0 {
		return nil, nil
	}
	mat, err := e.currentMaterial(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, len(obs))
	sem := make(chan struct{}, e.workers)
	done := make(chan int)
	for i := range obs {
		go func(i int) {
			sem <- struct{}{}
			defer func() { <-sem; done <- i }()
			blob, err := e.encryptWith(mat, obs[i])
			results[i] = BatchResult{ID: obs[i].ID, Blob: blob, Err: err}
		}(i)
	}
	for range obs {
		<-done
	}
	return results, nil
}

// EncryptWithIntegrity appends an HMAC-SHA-256 tag over the encrypted blob,
// computed with the key generation's HMAC key. The extra layer lets a party
// holding only the HMAC key verify integrity without being able to decrypt.
func (e *Engine) EncryptWithIntegrity(ctx context.Context, obs model.HealthObservation) ([]byte, error) {
	mat, err := e.currentMaterial(ctx)
	if err != nil {
		return nil, err
	}
	blob, err := e.encryptWith(mat, obs)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, mat.HMACKey)
	mac.Write(blob)
	return mac.Sum(blob), nil
}

// DecryptWithIntegrityCheck verifies the trailing HMAC tag in constant time
// before any decryption is attempted. A tag that matches no retained key
// generation is ErrIntegrityCheckFailed; decryption is never tried in that
// case.
func (e *Engine) DecryptWithIntegrityCheck(ctx context.Context, blob []byte) (model.HealthObservation, error) {
	var obs model.HealthObservation
	if len(blob) <= hmacLen {
		return obs, ErrIntegrityCheckFailed
	}
	body, tag := blob[:len(blob)-hmacLen], blob[len(blob)-hmacLen:]

	if _, err := e.keys.CurrentKeyID(ctx); err != nil {
		return obs, fmt.Errorf("%w: %w", ErrIntegrityCheckFailed, err)
	}
	ids, err := e.keys.KeyIDs(ctx)
	if err != nil {
		return obs, fmt.Errorf("%w: %w", ErrIntegrityCheckFailed, err)
	}
	for _, id := range ids {
		mat, err := e.keys.Material(ctx, id)
		if err != nil {
			if errors.Is(err, keys.ErrKeyNotFound) {
				continue
			}
			return obs, fmt.Errorf("%w: %w", ErrIntegrityCheckFailed, err)
		}
		mac := hmac.New(sha256.New, mat.HMACKey)
		mac.Write(body)
		if hmac.Equal(mac.Sum(nil), tag) {
			plain, err := open(mat.AEADKey, body)
			if err != nil {
				return obs, ErrDecryptionFailed
			}
			if err := json.Unmarshal(plain, &obs); err != nil {
				return model.HealthObservation{}, fmt.Errorf("%w: decode: %w", ErrDecryptionFailed, err)
			}
			return obs, nil
		}
	}
	return obs, ErrIntegrityCheckFailed
}
