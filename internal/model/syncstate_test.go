package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mustTime(t *testing.T) time.Time {
	t.Helper()
	return time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
}

func TestSyncState_Transitions(t *testing.T) {
	tests := []struct {
		from, to SyncState
		ok       bool
	}{
		{SyncStatePending, SyncStateSynced, true},
		{SyncStatePending, SyncStateFailed, true},
		{SyncStateFailed, SyncStatePending, true},
		{SyncStateFailed, SyncStateSynced, true},
		{SyncStateFailed, SyncStateFailed, true},
		{SyncStatePending, SyncStateConflict, true},
		{SyncStateSynced, SyncStateConflict, true},
		{SyncStateFailed, SyncStateConflict, true},
		{SyncStateConflict, SyncStatePending, true},
		{SyncStateSynced, SyncStatePending, false},
		{SyncStateSynced, SyncStateFailed, false},
		{SyncStateConflict, SyncStateSynced, false},
		{SyncStateConflict, SyncStateFailed, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestSyncState_AwaitsSync(t *testing.T) {
	assert.True(t, SyncStatePending.AwaitsSync())
	assert.True(t, SyncStateFailed.AwaitsSync())
	assert.False(t, SyncStateSynced.AwaitsSync())
	assert.False(t, SyncStateConflict.AwaitsSync())
}

func TestMetricName_CustomVariant(t *testing.T) {
	o := HealthObservation{Metric: MetricCustom, CustomName: "lactate_threshold"}
	assert.Equal(t, "lactate_threshold", o.MetricName())

	o = HealthObservation{Metric: MetricHeartRate}
	assert.Equal(t, "heart_rate", o.MetricName())
}

func TestNewObservation_Defaults(t *testing.T) {
	o := NewObservation("user-1", MetricSteps, 4200, "steps", mustTime(t))
	assert.NotEmpty(t, o.ID)
	assert.Equal(t, SyncStatePending, o.SyncState)
	assert.Nil(t, o.LastSyncedAt)
	assert.Empty(t, o.RemoteID)
}
