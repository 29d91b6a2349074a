package model

// SyncState tracks where an entity stands in the local-to-remote
// convergence process.
type SyncState string

const (
	SyncStatePending  SyncState = "pending"
	SyncStateSynced   SyncState = "synced"
	SyncStateFailed   SyncState = "failed"
	SyncStateConflict SyncState = "conflict"
)

// Valid reports whether s is one of the four known states.
func (s SyncState) Valid() bool {
	switch s {
	case SyncStatePending, SyncStateSynced, SyncStateFailed, SyncStateConflict:
		return true
	}
	return false
}

// AwaitsSync reports whether the entity is eligible for the next sync cycle.
func (s SyncState) AwaitsSync() bool {
	return s == SyncStatePending || s == SyncStateFailed
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Any state may move to conflict (remote divergence can be detected at
// any point); conflict only leaves through pending after resolution.
func (s SyncState) CanTransitionTo(next SyncState) bool {
	if next == SyncStateConflict {
		return true
	}
	switch s {
	case SyncStatePending:
		return next == SyncStateSynced || next == SyncStateFailed
	case SyncStateFailed:
		// failed -> failed is the retried-and-failed-again self-loop.
		return next == SyncStatePending || next == SyncStateSynced || next == SyncStateFailed
	case SyncStateConflict:
		return next == SyncStatePending
	}
	return false
}
