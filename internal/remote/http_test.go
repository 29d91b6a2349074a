package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"HealthSync/internal/model"
)

func testPayload() model.EncryptedPayload {
	return model.EncryptedPayload{
		EncryptedData: []byte("ciphertext"),
		Algorithm:     model.AlgorithmAESGCM256,
		KeyID:         "key-1",
		Timestamp:     time.Now().UTC(),
		Nonce:         []byte("0123456789ab"),
	}
}

func TestHTTPTransport_Push(t *testing.T) {
	var gotAuth string
	var gotPayloads []model.EncryptedPayload
	remoteAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	r := chi.NewRouter()
	r.Post("/api/observations/sync", func(w http.ResponseWriter, req *http.Request) {
		gotAuth = req.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotPayloads))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(pushResponse{
			Results: []pushResultDTO{
				{Status: "applied", RemoteID: "srv-1"},
				{Status: "failed", Error: "bad unit"},
				{Status: "conflict", RemoteUpdatedAt: &remoteAt},
			},
			ServerTime: time.Now().UTC(),
		})
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	tr := NewHTTPTransport(ts.URL, StaticToken("tok-123"), nil)
	items := []PushItem{
		{ID: "a", Payload: testPayload()},
		{ID: "b", Payload: testPayload()},
		{ID: "c", Payload: testPayload()},
	}
	results, err := tr.Push(context.Background(), items)
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	require.Len(t, gotPayloads, 3, "request body is the ordered payload array")
	assert.Equal(t, model.AlgorithmAESGCM256, gotPayloads[0].Algorithm)

	require.Len(t, results, 3)
	assert.Equal(t, PushResult{ID: "a", Status: StatusApplied, RemoteID: "srv-1"}, results[0])
	assert.Equal(t, PushResult{ID: "b", Status: StatusFailed, Error: "bad unit"}, results[1])
	assert.Equal(t, StatusConflict, results[2].Status)
	assert.True(t, results[2].RemoteUpdatedAt.Equal(remoteAt))
}

func TestHTTPTransport_ServerError(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/observations/sync", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	tr := NewHTTPTransport(ts.URL, nil, nil)
	_, err := tr.Push(context.Background(), []PushItem{{ID: "a", Payload: testPayload()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPTransport_TruncatedResponseBody(t *testing.T) {
	r := chi.NewRouter()
	r.Post("/api/observations/sync", func(w http.ResponseWriter, _ *http.Request) {
		// Declare more bytes than are written; the client's body read fails
		// with an unexpected EOF.
		w.Header().Set("Content-Length", "512")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"results":`))
	})
	ts := httptest.NewServer(r)
	defer ts.Close()

	tr := NewHTTPTransport(ts.URL, nil, nil)
	_, err := tr.Push(context.Background(), []PushItem{{ID: "a", Payload: testPayload()}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read push response")
}

func TestHTTPTransport_EmptyBatch(t *testing.T) {
	tr := NewHTTPTransport("http://unused", nil, nil)
	results, err := tr.Push(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": exp.Unix(),
	})
	s, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return s
}

func writeTokenFile(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "auth_token")
	require.NoError(t, os.WriteFile(p, []byte(contents+"\n"), 0o600))
	return p
}

func TestFileTokenProvider_ValidJWT(t *testing.T) {
	tok := signedToken(t, time.Now().Add(time.Hour))
	p := &FileTokenProvider{Path: writeTokenFile(t, tok)}
	got, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, tok, got)
}

func TestFileTokenProvider_ExpiredJWT(t *testing.T) {
	tok := signedToken(t, time.Now().Add(-time.Hour))
	p := &FileTokenProvider{Path: writeTokenFile(t, tok)}
	_, err := p.Token()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestFileTokenProvider_OpaqueTokenPasses(t *testing.T) {
	p := &FileTokenProvider{Path: writeTokenFile(t, "opaque-session-token")}
	got, err := p.Token()
	require.NoError(t, err)
	assert.Equal(t, "opaque-session-token", got)
}

func TestFileTokenProvider_MissingFile(t *testing.T) {
	p := &FileTokenProvider{Path: filepath.Join(t.TempDir(), "nope")}
	_, err := p.Token()
	assert.Error(t, err)
}
