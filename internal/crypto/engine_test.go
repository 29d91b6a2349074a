package crypto

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HealthSync/internal/keys"
	"HealthSync/internal/keystore"
	"HealthSync/internal/model"
)

func newTestEngine(t *testing.T) (*Engine, *keys.Manager) {
	t.Helper()
	km := keys.NewManager(keystore.NewMemStore())
	return NewEngine(km), km
}

func sampleObservation() model.HealthObservation {
	obs := model.NewObservation("user-1", model.MetricHeartRate, 72, "bpm",
		time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC))
	obs.Source = "chest-strap"
	obs.Note = "morning run"
	return obs
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	obs := sampleObservation()

	blob, err := e.Encrypt(ctx, obs)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	got, err := e.Decrypt(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, obs, got)
}

func TestEncrypt_NonceUniqueness(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	obs := sampleObservation()

	b1, err := e.Encrypt(ctx, obs)
	require.NoError(t, err)
	b2, err := e.Encrypt(ctx, obs)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(b1, b2), "two encryptions of the same observation must differ")
	assert.False(t, bytes.Equal(b1[:nonceLen], b2[:nonceLen]), "nonces must differ per call")
}

func TestDecrypt_TamperedBlobFails(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	blob, err := e.Encrypt(ctx, sampleObservation())
	require.NoError(t, err)

	tampered := append([]byte{}, blob...)
	tampered[len(tampered)/2] ^= 0x01
	_, err = e.Decrypt(ctx, tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestIntegrity_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	obs := sampleObservation()

	blob, err := e.EncryptWithIntegrity(ctx, obs)
	require.NoError(t, err)
	require.Greater(t, len(blob), hmacLen)

	got, err := e.DecryptWithIntegrityCheck(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, obs, got)
}

func TestIntegrity_AnySingleByteFlipDetected(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	blob, err := e.EncryptWithIntegrity(ctx, sampleObservation())
	require.NoError(t, err)

	// Flip one byte at a few positions across the blob, including the
	// nonce, the ciphertext body and the trailing HMAC tag.
	positions := []int{0, nonceLen + 1, len(blob) - hmacLen - 1, len(blob) - 1}
	for _, pos := range positions {
		tampered := append([]byte{}, blob...)
		tampered[pos] ^= 0x01
		_, err := e.DecryptWithIntegrityCheck(ctx, tampered)
		assert.ErrorIs(t, err, ErrIntegrityCheckFailed, "flip at %d", pos)
	}
}

func TestIntegrity_TruncatedBlob(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := e.DecryptWithIntegrityCheck(context.Background(), make([]byte, hmacLen))
	assert.ErrorIs(t, err, ErrIntegrityCheckFailed)
}

func TestDecrypt_AfterRotationOldCiphertextReadable(t *testing.T) {
	e, km := newTestEngine(t)
	ctx := context.Background()
	obs := sampleObservation()

	blob, err := e.Encrypt(ctx, obs)
	require.NoError(t, err)

	oldID, err := km.CurrentKeyID(ctx)
	require.NoError(t, err)
	newID, err := km.Rotate(ctx)
	require.NoError(t, err)
	require.NotEqual(t, oldID, newID)

	got, err := e.Decrypt(ctx, blob)
	require.NoError(t, err)
	assert.Equal(t, obs, got)

	// Integrity-wrapped blobs survive rotation the same way.
	wrapped, err := e.EncryptWithIntegrity(ctx, obs)
	require.NoError(t, err)
	_, err = km.Rotate(ctx)
	require.NoError(t, err)
	got, err = e.DecryptWithIntegrityCheck(ctx, wrapped)
	require.NoError(t, err)
	assert.Equal(t, obs, got)
}

func TestPrepareForTransmission_WireScenario(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	obs := model.NewObservation("user-1", model.MetricHeartRate, 72, "bpm", time.Now().UTC())

	payload, err := e.PrepareForTransmission(ctx, obs)
	require.NoError(t, err)
	assert.Equal(t, model.AlgorithmAESGCM256, payload.Algorithm)
	assert.NotEmpty(t, payload.KeyID)
	assert.Len(t, payload.Nonce, 12)
	assert.NotEmpty(t, payload.EncryptedData)
	assert.False(t, payload.Timestamp.IsZero())

	// Receiving-side simulation: decrypt by the payload's key id.
	got, err := e.DecryptPayload(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, 72.0, got.Value)
	assert.Equal(t, "bpm", got.Unit)
}

func TestDecryptPayload_UnknownKey(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	payload, err := e.PrepareForTransmission(ctx, sampleObservation())
	require.NoError(t, err)
	payload.KeyID = "no-such-key"
	_, err = e.DecryptPayload(ctx, payload)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEncryptBatch_ResultsKeyedByID(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	var batch []model.HealthObservation
	for i := 0; i < 5; i++ {
		batch = append(batch, model.NewObservation("user-1", model.MetricSteps, float64(i*1000), "steps", time.Now().UTC()))
	}

	results, err := e.EncryptBatch(ctx, batch)
	require.NoError(t, err)
	require.Len(t, results, len(batch))
	for i, res := range results {
		assert.Equal(t, batch[i].ID, res.ID)
		assert.NoError(t, res.Err)
		got, err := e.Decrypt(ctx, res.Blob)
		require.NoError(t, err)
		assert.Equal(t, batch[i].ID, got.ID)
	}
}

func TestEncryptBatch_Empty(t *testing.T) {
	e, _ := newTestEngine(t)
	results, err := e.EncryptBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDecrypt_KeyStorageFailure(t *testing.T) {
	km := keys.NewManager(failingStore{})
	e := NewEngine(km)
	_, err := e.Encrypt(context.Background(), sampleObservation())
	assert.ErrorIs(t, err, ErrEncryptionFailed)
	assert.ErrorIs(t, err, keys.ErrKeyStorage)
}

// failingStore rejects every operation.
type failingStore struct{}

func (failingStore) Save(_ context.Context, _ string, _ []byte) error { return errors.New("disk full") }
func (failingStore) Retrieve(_ context.Context, _ string) ([]byte, error) {
	return nil, errors.New("disk full")
}
func (failingStore) Delete(_ context.Context, _ string) error { return errors.New("disk full") }
