package model

import (
	"time"

	"github.com/google/uuid"
)

// MetricType classifies a health observation.
type MetricType string

const (
	MetricHeartRate     MetricType = "heart_rate"
	MetricSteps         MetricType = "steps"
	MetricWeight        MetricType = "weight"
	MetricBloodPressure MetricType = "blood_pressure"
	MetricBloodGlucose  MetricType = "blood_glucose"
	MetricSleepHours    MetricType = "sleep_hours"
	MetricOxygen        MetricType = "oxygen_saturation"
	// MetricCustom carries its own name in HealthObservation.CustomName.
	MetricCustom MetricType = "custom"
)

// HealthObservation is the unit of synchronization: one measured value,
// owned by the local store until explicitly deleted.
type HealthObservation struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Metric     MetricType `json:"metric"`
	CustomName string     `json:"custom_name,omitempty"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"`
	RecordedAt time.Time  `json:"recorded_at"`
	Source     string     `json:"source,omitempty"`
	Note       string     `json:"note,omitempty"`

	SyncState    SyncState  `json:"sync_state"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
	SyncError    string     `json:"sync_error,omitempty"`
	// RemoteID is assigned by the server on the first successful push and
	// stays set from then on.
	RemoteID string `json:"remote_id,omitempty"`
}

// NewObservation builds a pending observation with a fresh identifier.
func NewObservation(userID string, metric MetricType, value float64, unit string, recordedAt time.Time) HealthObservation {
	return HealthObservation{
		ID:         uuid.NewString(),
		UserID:     userID,
		Metric:     metric,
		Value:      value,
		Unit:       unit,
		RecordedAt: recordedAt.UTC(),
		SyncState:  SyncStatePending,
	}
}

// MetricName returns the metric identifier, resolving the custom variant.
func (o HealthObservation) MetricName() string {
	if o.Metric == MetricCustom && o.CustomName != "" {
		return o.CustomName
	}
	return string(o.Metric)
}

// Key returns the store identifier.
func (o HealthObservation) Key() string { return o.ID }

// Recorded returns the measurement time.
func (o HealthObservation) Recorded() time.Time { return o.RecordedAt }

// State returns the current sync state.
func (o HealthObservation) State() SyncState { return o.SyncState }

// DerivedInsight is an analysis result computed from one or more
// observations. It syncs through the same state machine.
type DerivedInsight struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	Kind           string     `json:"kind"`
	Summary        string     `json:"summary"`
	ObservationIDs []string   `json:"observation_ids,omitempty"`
	GeneratedAt    time.Time  `json:"generated_at"`
	SyncState      SyncState  `json:"sync_state"`
	LastSyncedAt   *time.Time `json:"last_synced_at,omitempty"`
	SyncError      string     `json:"sync_error,omitempty"`
	RemoteID       string     `json:"remote_id,omitempty"`
}

// Key returns the store identifier.
func (i DerivedInsight) Key() string { return i.ID }

// Recorded returns the generation time.
func (i DerivedInsight) Recorded() time.Time { return i.GeneratedAt }

// State returns the current sync state.
func (i DerivedInsight) State() SyncState { return i.SyncState }
