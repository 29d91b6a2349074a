package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"HealthSync/internal/model"
)

// syncPath is the sync endpoint appended to the configured base URL.
const syncPath = "/api/observations/sync"

// The request body is the ordered array of wire payloads; the response is
// positional, so results map back to local identifiers by index.
type pushResponse struct {
	Results    []pushResultDTO `json:"results"`
	ServerTime time.Time       `json:"server_time"`
}

type pushResultDTO struct {
	Status          string     `json:"status"`
	RemoteID        string     `json:"remote_id,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	Error           string     `json:"error,omitempty"`
}

// HTTPTransport pushes encrypted observations as JSON over HTTP.
type HTTPTransport struct {
	baseURL string
	tokens  TokenProvider
	client  *http.Client
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport returns a transport for the given server base URL.
// A nil client falls back to a default with a 30s timeout; callers that
// need their own timeout/retry policy pass a configured client.
func NewHTTPTransport(baseURL string, tokens TokenProvider, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPTransport{baseURL: baseURL, tokens: tokens, client: client}
}

// Push sends the batch in one request and maps the positional response back
// to item identifiers.
func (t *HTTPTransport) Push(ctx context.Context, items []PushItem) ([]PushResult, error) {
	if len(items) == 0 {
		return nil, nil
	}
	payloads := make([]model.EncryptedPayload, len(items))
	for i, it := range items {
		payloads[i] = it.Payload
	}
	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, fmt.Errorf("encode push request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+syncPath, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.tokens != nil {
		tok, err := t.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("auth token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read push response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(raw))
	}

	var pr pushResponse
	if err := json.Unmarshal(raw, &pr); err != nil {
		return nil, fmt.Errorf("decode push response: %w", err)
	}

	results := make([]PushResult, 0, len(pr.Results))
	for i, dto := range pr.Results {
		if i >= len(items) {
			break
		}
		res := PushResult{
			ID:       items[i].ID,
			Status:   PushStatus(dto.Status),
			RemoteID: dto.RemoteID,
			Error:    dto.Error,
		}
		if dto.RemoteUpdatedAt != nil {
			res.RemoteUpdatedAt = *dto.RemoteUpdatedAt
		}
		results = append(results, res)
	}
	return results, nil
}
