package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"HealthSync/internal/model"
)

// ObservationStore is the device-resident SQLite backend for health
// observations.
type ObservationStore struct {
	db    *sql.DB
	locks *idLocks
}

var _ Store[model.HealthObservation] = (*ObservationStore)(nil)

// OpenObservationStore opens (and creates if needed) the SQLite file at
// path and ensures the schema exists.
func OpenObservationStore(path string) (*ObservationStore, error) {
	if path == "" {
		return nil, errors.New("empty observation store path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &ObservationStore{db: db, locks: newIDLocks()}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying DB.
func (s *ObservationStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *ObservationStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS observations (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  metric TEXT NOT NULL,
  custom_name TEXT NOT NULL DEFAULT '',
  value REAL NOT NULL,
  unit TEXT NOT NULL,
  recorded_at INTEGER NOT NULL,
  source TEXT NOT NULL DEFAULT '',
  note TEXT NOT NULL DEFAULT '',
  sync_state TEXT NOT NULL,
  last_synced_at INTEGER,
  sync_error TEXT NOT NULL DEFAULT '',
  remote_id TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_observations_state_recorded ON observations(sync_state, recorded_at);
`
	_, err := s.db.Exec(ddl)
	return err
}

// observationRecord is the row shape. Mapping to and from the domain type
// is spelled out field by field; nothing is copied by reflection.
type observationRecord struct {
	ID           string
	UserID       string
	Metric       string
	CustomName   string
	Value        float64
	Unit         string
	RecordedAt   int64
	Source       string
	Note         string
	SyncState    string
	LastSyncedAt sql.NullInt64
	SyncError    string
	RemoteID     string
}

func toRecord(o model.HealthObservation) observationRecord {
	rec := observationRecord{
		ID:         o.ID,
		UserID:     o.UserID,
		Metric:     string(o.Metric),
		CustomName: o.CustomName,
		Value:      o.Value,
		Unit:       o.Unit,
		RecordedAt: o.RecordedAt.UTC().UnixNano(),
		Source:     o.Source,
		Note:       o.Note,
		SyncState:  string(o.SyncState),
		SyncError:  o.SyncError,
		RemoteID:   o.RemoteID,
	}
	if o.LastSyncedAt != nil {
		rec.LastSyncedAt = sql.NullInt64{Int64: o.LastSyncedAt.UTC().UnixNano(), Valid: true}
	}
	return rec
}

func fromRecord(rec observationRecord) model.HealthObservation {
	o := model.HealthObservation{
		ID:         rec.ID,
		UserID:     rec.UserID,
		Metric:     model.MetricType(rec.Metric),
		CustomName: rec.CustomName,
		Value:      rec.Value,
		Unit:       rec.Unit,
		RecordedAt: time.Unix(0, rec.RecordedAt).UTC(),
		Source:     rec.Source,
		Note:       rec.Note,
		SyncState:  model.SyncState(rec.SyncState),
		SyncError:  rec.SyncError,
		RemoteID:   rec.RemoteID,
	}
	if rec.LastSyncedAt.Valid {
		t := time.Unix(0, rec.LastSyncedAt.Int64).UTC()
		o.LastSyncedAt = &t
	}
	return o
}

const observationColumns = `id, user_id, metric, custom_name, value, unit, recorded_at, source, note, sync_state, last_synced_at, sync_error, remote_id`

func scanObservation(row interface{ Scan(...any) error }) (model.HealthObservation, error) {
	var rec observationRecord
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Metric, &rec.CustomName, &rec.Value, &rec.Unit,
		&rec.RecordedAt, &rec.Source, &rec.Note, &rec.SyncState, &rec.LastSyncedAt, &rec.SyncError, &rec.RemoteID)
	if err != nil {
		return model.HealthObservation{}, err
	}
	return fromRecord(rec), nil
}

// Create inserts a new observation, failing on an existing identifier.
func (s *ObservationStore) Create(ctx context.Context, o model.HealthObservation) error {
	unlock := s.locks.lock(o.ID)
	defer unlock()

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM observations WHERE id = ?`, o.ID).Scan(&exists)
	if err == nil {
		return ErrDuplicateEntity
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	rec := toRecord(o)
	_, err = s.db.ExecContext(ctx, `INSERT INTO observations(`+observationColumns+`)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Metric, rec.CustomName, rec.Value, rec.Unit,
		rec.RecordedAt, rec.Source, rec.Note, rec.SyncState, rec.LastSyncedAt, rec.SyncError, rec.RemoteID)
	if err != nil {
		return fmt.Errorf("insert observation: %w", err)
	}
	return nil
}

// Read returns one observation by id.
func (s *ObservationStore) Read(ctx context.Context, id string) (model.HealthObservation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+observationColumns+` FROM observations WHERE id = ?`, id)
	o, err := scanObservation(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.HealthObservation{}, ErrEntityNotFound
		}
		return model.HealthObservation{}, err
	}
	return o, nil
}

// Update replaces the stored row for the observation's id.
func (s *ObservationStore) Update(ctx context.Context, o model.HealthObservation) error {
	unlock := s.locks.lock(o.ID)
	defer unlock()

	rec := toRecord(o)
	res, err := s.db.ExecContext(ctx, `UPDATE observations SET
		user_id = ?, metric = ?, custom_name = ?, value = ?, unit = ?, recorded_at = ?,
		source = ?, note = ?, sync_state = ?, last_synced_at = ?, sync_error = ?, remote_id = ?
		WHERE id = ?`,
		rec.UserID, rec.Metric, rec.CustomName, rec.Value, rec.Unit, rec.RecordedAt,
		rec.Source, rec.Note, rec.SyncState, rec.LastSyncedAt, rec.SyncError, rec.RemoteID, rec.ID)
	if err != nil {
		return fmt.Errorf("update observation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

// Delete removes the observation. Deletion is explicit; sync transitions
// never remove rows.
func (s *ObservationStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM observations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *ObservationStore) queryAll(ctx context.Context, where string, args ...any) ([]model.HealthObservation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+observationColumns+` FROM observations`+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []model.HealthObservation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// List returns observations matching pred, ordered by less when given.
func (s *ObservationStore) List(ctx context.Context, pred func(model.HealthObservation) bool, less func(a, b model.HealthObservation) bool) ([]model.HealthObservation, error) {
	all, err := s.queryAll(ctx, ``)
	if err != nil {
		return nil, err
	}
	res := all[:0:0]
	for _, o := range all {
		if pred == nil || pred(o) {
			res = append(res, o)
		}
	}
	if less != nil {
		sort.SliceStable(res, func(i, j int) bool { return less(res[i], res[j]) })
	}
	return res, nil
}

// Count returns the number of observations matching pred.
func (s *ObservationStore) Count(ctx context.Context, pred func(model.HealthObservation) bool) (int, error) {
	if pred == nil {
		var n int
		err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n)
		return n, err
	}
	res, err := s.List(ctx, pred, nil)
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

// FetchPendingOrFailed returns up to limit observations awaiting sync,
// oldest recording first.
func (s *ObservationStore) FetchPendingOrFailed(ctx context.Context, limit int) ([]model.HealthObservation, error) {
	where := ` WHERE sync_state IN (?, ?) ORDER BY recorded_at ASC`
	args := []any{string(model.SyncStatePending), string(model.SyncStateFailed)}
	if limit > 0 {
		where += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.queryAll(ctx, where, args...)
}

// Purge removes every observation: the user-account-wide wipe.
func (s *ObservationStore) Purge(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM observations`)
	return err
}
