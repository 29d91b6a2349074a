package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"HealthSync/internal/model"
)

// gormObservation is the GORM row shape for observations. Like the SQLite
// backend, domain mapping is explicit per field.
type gormObservation struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	Metric       string
	CustomName   string
	Value        float64
	Unit         string
	RecordedAt   int64 `gorm:"index:idx_gorm_obs_state_recorded,priority:2"`
	Source       string
	Note         string
	SyncState    string `gorm:"index:idx_gorm_obs_state_recorded,priority:1"`
	LastSyncedAt *int64
	SyncError    string
	RemoteID     string
}

func (gormObservation) TableName() string { return "observations" }

func toGormRecord(o model.HealthObservation) gormObservation {
	rec := gormObservation{
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
		ts := o.LastSyncedAt.UTC().UnixNano()
		rec.LastSyncedAt = &ts
	}
	return rec
}

func fromGormRecord(rec gormObservation) model.HealthObservation {
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
	if rec.LastSyncedAt != nil {
		t := time.Unix(0, *rec.LastSyncedAt).UTC()
		o.LastSyncedAt = &t
	}
	return o
}

// GormObservationStore is the managed-database backend, for deployments
// that mirror the device store into SQLite-on-disk or Postgres.
type GormObservationStore struct {
	db    *gorm.DB
	locks *idLocks
}

var _ Store[model.HealthObservation] = (*GormObservationStore)(nil)

// OpenGormObservationStore picks the dialector from the DSN shape: a
// postgres URL or key/value DSN selects Postgres, anything else is treated
// as a SQLite file path.
func OpenGormObservationStore(dsn string) (*GormObservationStore, error) {
	if dsn == "" {
		return nil, errors.New("empty observation store DSN")
	}
	var dial gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		dial = postgres.Open(dsn)
	} else {
		dial = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&gormObservation{}); err != nil {
		return nil, err
	}
	return &GormObservationStore{db: db, locks: newIDLocks()}, nil
}

func (s *GormObservationStore) Create(ctx context.Context, o model.HealthObservation) error {
	unlock := s.locks.lock(o.ID)
	defer unlock()

	var n int64
	if err := s.db.WithContext(ctx).Model(&gormObservation{}).Where("id = ?", o.ID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return ErrDuplicateEntity
	}
	rec := toGormRecord(o)
	return s.db.WithContext(ctx).Create(&rec).Error
}

func (s *GormObservationStore) Read(ctx context.Context, id string) (model.HealthObservation, error) {
	var rec gormObservation
	err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.HealthObservation{}, ErrEntityNotFound
		}
		return model.HealthObservation{}, err
	}
	return fromGormRecord(rec), nil
}

func (s *GormObservationStore) Update(ctx context.Context, o model.HealthObservation) error {
	unlock := s.locks.lock(o.ID)
	defer unlock()

	rec := toGormRecord(o)
	res := s.db.WithContext(ctx).Model(&gormObservation{}).Where("id = ?", rec.ID).
		Select("*").Omit("id").Updates(&rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *GormObservationStore) Delete(ctx context.Context, id string) error {
	unlock := s.locks.lock(id)
	defer unlock()

	res := s.db.WithContext(ctx).Delete(&gormObservation{}, "id = ?", id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrEntityNotFound
	}
	return nil
}

func (s *GormObservationStore) all(ctx context.Context, query *gorm.DB) ([]model.HealthObservation, error) {
	var recs []gormObservation
	if err := query.WithContext(ctx).Find(&recs).Error; err != nil {
		return nil, err
	}
	res := make([]model.HealthObservation, 0, len(recs))
	for _, rec := range recs {
		res = append(res, fromGormRecord(rec))
	}
	return res, nil
}

func (s *GormObservationStore) List(ctx context.Context, pred func(model.HealthObservation) bool, less func(a, b model.HealthObservation) bool) ([]model.HealthObservation, error) {
	all, err := s.all(ctx, s.db.Model(&gormObservation{}))
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

func (s *GormObservationStore) Count(ctx context.Context, pred func(model.HealthObservation) bool) (int, error) {
	if pred == nil {
		var n int64
		err := s.db.WithContext(ctx).Model(&gormObservation{}).Count(&n).Error
		return int(n), err
	}
	res, err := s.List(ctx, pred, nil)
	if err != nil {
		return 0, err
	}
	return len(res), nil
}

func (s *GormObservationStore) FetchPendingOrFailed(ctx context.Context, limit int) ([]model.HealthObservation, error) {
	q := s.db.Model(&gormObservation{}).
		Where("sync_state IN ?", []string{string(model.SyncStatePending), string(model.SyncStateFailed)}).
		Order("recorded_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	return s.all(ctx, q)
}

// Purge removes every observation.
func (s *GormObservationStore) Purge(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("1 = 1").Delete(&gormObservation{}).Error
}
