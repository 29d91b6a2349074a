package syncer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"HealthSync/internal/model"
	"HealthSync/internal/store"
)

// Resolver applies the last-writer-wins policy when the transport reports
// that a remote counterpart has diverged.
type Resolver struct {
	store store.Store[model.HealthObservation]
	log   *zap.SugaredLogger
}

// NewResolver returns a Resolver persisting through the given store.
func NewResolver(s store.Store[model.HealthObservation], log *zap.SugaredLogger) *Resolver {
	return &Resolver{store: s, log: log}
}

// Resolve decides the fate of one diverged observation. The local copy wins
// by default and is re-enqueued as pending. Only when the entity has
// already been on the server (RemoteID set) and the remote version is
// strictly newer is it parked as a true conflict for manual review; it is
// never discarded. Resolving an already-pending entity is a no-op.
func (r *Resolver) Resolve(ctx context.Context, obs model.HealthObservation, remoteUpdatedAt time.Time) error {
	if obs.SyncState == model.SyncStatePending {
		return nil
	}

	if obs.RemoteID != "" && remoteUpdatedAt.After(obs.RecordedAt) {
		obs.SyncState = model.SyncStateConflict
		obs.SyncError = fmt.Sprintf("remote version from %s is newer than local recording; manual review required",
			remoteUpdatedAt.UTC().Format(time.RFC3339))
		if err := r.store.Update(ctx, obs); err != nil {
			return fmt.Errorf("persist conflict state: %w", err)
		}
		r.log.Warnw("observation parked as conflict", "id", obs.ID, "remote_updated_at", remoteUpdatedAt)
		return nil
	}

	obs.SyncState = model.SyncStatePending
	obs.SyncError = ""
	if err := r.store.Update(ctx, obs); err != nil {
		return fmt.Errorf("re-enqueue after conflict: %w", err)
	}
	r.log.Infow("conflict resolved, local copy wins", "id", obs.ID)
	return nil
}
