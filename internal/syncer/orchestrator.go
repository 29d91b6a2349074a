// Package syncer drives pending observations through the sync state
// machine: fetch, encrypt, push, persist the outcome per item.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"HealthSync/internal/crypto"
	"HealthSync/internal/model"
	"HealthSync/internal/remote"
	"HealthSync/internal/store"
)

// DefaultMaxBatchSize caps one sync cycle when the caller does not say
// otherwise.
const DefaultMaxBatchSize = 100

// ErrBatchTooLarge is returned by BatchUpload before any transport call
// when the batch exceeds the configured limit.
var ErrBatchTooLarge = errors.New("syncer: batch exceeds maximum size")

// Report summarizes one sync cycle.
type Report struct {
	Fetched   int
	Synced    int
	Failed    int
	Conflicts int
	// Pending is the number of entities still awaiting sync after the
	// cycle, queryable at any time via Status.
	Pending int
}

// Orchestrator owns the sync cycle. Only one cycle is in flight at a time:
// a concurrent caller blocks until the running cycle finishes and then
// finds nothing left to push.
type Orchestrator struct {
	store     store.Store[model.HealthObservation]
	engine    *crypto.Engine
	transport remote.Transport
	resolver  *Resolver
	log       *zap.SugaredLogger
	maxBatch  int

	mu  sync.Mutex
	now func() time.Time
}

// NewOrchestrator wires the orchestrator. maxBatch <= 0 selects
// DefaultMaxBatchSize.
func NewOrchestrator(
	s store.Store[model.HealthObservation],
	engine *crypto.Engine,
	transport remote.Transport,
	log *zap.SugaredLogger,
	maxBatch int,
) *Orchestrator {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatchSize
	}
	return &Orchestrator{
		store:     s,
		engine:    engine,
		transport: transport,
		resolver:  NewResolver(s, log),
		log:       log,
		maxBatch:  maxBatch,
		now:       time.Now,
	}
}

// Cycle runs one sync cycle: fetch up to maxBatch pending/failed
// observations (oldest first), encrypt each, push the batch, and persist
// per-item outcomes. An empty queue is a no-op, not an error.
func (o *Orchestrator) Cycle(ctx context.Context) (Report, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cycleLocked(ctx)
}

func (o *Orchestrator) cycleLocked(ctx context.Context) (Report, error) {
	var rep Report

	batch, err := o.store.FetchPendingOrFailed(ctx, o.maxBatch)
	if err != nil {
		return rep, fmt.Errorf("fetch pending: %w", err)
	}
	rep.Fetched = len(batch)
	if len(batch) == 0 {
		return rep, nil
	}
	o.log.Infow("sync cycle started", "batch", len(batch))

	// Encrypt per item. A failing item is recorded as failed and excluded
	// from the push; its siblings are unaffected.
	byID := make(map[string]model.HealthObservation, len(batch))
	items := make([]remote.PushItem, 0, len(batch))
	for _, obs := range batch {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		byID[obs.ID] = obs
		payload, err := o.engine.PrepareForTransmission(ctx, obs)
		if err != nil {
			if ferr := o.markFailed(ctx, obs, fmt.Sprintf("encryption failed: %v", err)); ferr != nil {
				return rep, ferr
			}
			rep.Failed++
			continue
		}
		items = append(items, remote.PushItem{ID: obs.ID, Payload: payload})
	}

	if len(items) > 0 {
		results, err := o.transport.Push(ctx, items)
		if err != nil {
			// Total transport failure degrades the cycle to
			// all-items-failed, reported once.
			o.log.Errorw("transport unreachable, cycle degraded", "items", len(items), "err", err)
			msg := fmt.Sprintf("transport failure: %v", err)
			for _, it := range items {
				if ferr := o.markFailed(ctx, byID[it.ID], msg); ferr != nil {
					return rep, ferr
				}
				rep.Failed++
			}
		} else {
			// Results the server has applied are persisted even if the caller
			// cancels mid-cycle: an applied-but-unrecorded item would be
			// pushed again on the next cycle.
			if err := o.applyResults(context.WithoutCancel(ctx), items, results, byID, &rep); err != nil {
				return rep, err
			}
		}
	}

	pending, err := o.pendingCount(ctx)
	if err != nil {
		return rep, err
	}
	rep.Pending = pending
	o.log.Infow("sync cycle finished",
		"synced", rep.Synced, "failed", rep.Failed, "conflicts", rep.Conflicts, "pending", rep.Pending)
	return rep, nil
}

func (o *Orchestrator) applyResults(
	ctx context.Context,
	items []remote.PushItem,
	results []remote.PushResult,
	byID map[string]model.HealthObservation,
	rep *Report,
) error {
	resByID := make(map[string]remote.PushResult, len(results))
	for _, res := range results {
		resByID[res.ID] = res
	}

	for _, it := range items {
		obs := byID[it.ID]
		res, ok := resByID[it.ID]
		if !ok {
			// The transport may return partial results; an absent item
			// stays retryable.
			if err := o.markFailed(ctx, obs, "no result returned by transport"); err != nil {
				return err
			}
			rep.Failed++
			continue
		}
		switch res.Status {
		case remote.StatusApplied:
			if err := o.markSynced(ctx, obs, res.RemoteID); err != nil {
				return err
			}
			rep.Synced++
		case remote.StatusConflict:
			if err := o.resolver.Resolve(ctx, obs, res.RemoteUpdatedAt); err != nil {
				return err
			}
			rep.Conflicts++
		default:
			msg := res.Error
			if msg == "" {
				msg = "push rejected by server"
			}
			if err := o.markFailed(ctx, obs, msg); err != nil {
				return err
			}
			rep.Failed++
		}
	}
	return nil
}

// markSynced persists the full success outcome in one update, so a synced
// entity always carries its last-synced timestamp and no stale error.
func (o *Orchestrator) markSynced(ctx context.Context, obs model.HealthObservation, remoteID string) error {
	if !obs.SyncState.CanTransitionTo(model.SyncStateSynced) {
		return fmt.Errorf("invalid transition %s -> synced for %s", obs.SyncState, obs.ID)
	}
	now := o.now().UTC()
	obs.SyncState = model.SyncStateSynced
	obs.LastSyncedAt = &now
	obs.SyncError = ""
	if remoteID != "" {
		obs.RemoteID = remoteID
	}
	if err := o.store.Update(ctx, obs); err != nil {
		return fmt.Errorf("persist synced state for %s: %w", obs.ID, err)
	}
	return nil
}

func (o *Orchestrator) markFailed(ctx context.Context, obs model.HealthObservation, msg string) error {
	if !obs.SyncState.CanTransitionTo(model.SyncStateFailed) {
		return fmt.Errorf("invalid transition %s -> failed for %s", obs.SyncState, obs.ID)
	}
	obs.SyncState = model.SyncStateFailed
	obs.SyncError = msg
	if err := o.store.Update(ctx, obs); err != nil {
		return fmt.Errorf("persist failed state for %s: %w", obs.ID, err)
	}
	o.log.Warnw("observation push failed", "id", obs.ID, "reason", msg)
	return nil
}

// BatchUpload is the caller-driven upload path. Every entity is marked
// pending first (a crash mid-way leaves retryable state), then one cycle
// runs. Entities unknown to the store are created.
func (o *Orchestrator) BatchUpload(ctx context.Context, entities []model.HealthObservation) (Report, error) {
	if len(entities) > o.maxBatch {
		return Report{}, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(entities), o.maxBatch)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	for _, obs := range entities {
		obs.SyncState = model.SyncStatePending
		obs.SyncError = ""
		err := o.store.Update(ctx, obs)
		if errors.Is(err, store.ErrEntityNotFound) {
			err = o.store.Create(ctx, obs)
		}
		if err != nil {
			return Report{}, fmt.Errorf("enqueue %s: %w", obs.ID, err)
		}
	}
	return o.cycleLocked(ctx)
}

// Status reports how many entities are awaiting sync and how many are
// parked as conflicts.
func (o *Orchestrator) Status(ctx context.Context) (pending, conflicts int, err error) {
	pending, err = o.pendingCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	conflicts, err = o.store.Count(ctx, func(e model.HealthObservation) bool {
		return e.SyncState == model.SyncStateConflict
	})
	if err != nil {
		return 0, 0, err
	}
	return pending, conflicts, nil
}

func (o *Orchestrator) pendingCount(ctx context.Context) (int, error) {
	return o.store.Count(ctx, func(e model.HealthObservation) bool {
		return e.SyncState.AwaitsSync()
	})
}
