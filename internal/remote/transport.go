// Package remote carries already-encrypted payloads to the sync service.
// The transport is a collaborator of the orchestrator: it returns per-item
// results and never sees plaintext.
package remote

import (
	"context"
	"time"

	"HealthSync/internal/model"
)

// PushStatus is the per-item outcome reported by the remote service.
type PushStatus string

const (
	StatusApplied PushStatus = "applied"
	StatusFailed  PushStatus = "failed"
	// StatusConflict signals that the remote counterpart diverged; the
	// result carries the remote record's last-modified time.
	StatusConflict PushStatus = "conflict"
)

// PushItem is one encrypted observation keyed by its local identifier.
type PushItem struct {
	ID      string
	Payload model.EncryptedPayload
}

// PushResult is the outcome for one pushed item.
type PushResult struct {
	ID              string
	Status          PushStatus
	RemoteID        string
	RemoteUpdatedAt time.Time
	Error           string
}

// Transport pushes a batch and returns per-item results. A returned error
// means the whole batch could not reach the service; the orchestrator then
// degrades the cycle to all-items-failed. Partial results are allowed: an
// item missing from the result list counts as failed.
type Transport interface {
	Push(ctx context.Context, items []PushItem) ([]PushResult, error)
}
