package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/followcat/HermesIndex/domain/state"
	"github.com/followcat/HermesIndex/internal/database"
)

// StateStore implements state.Store on the sync_state table.
type StateStore struct {
	db     database.Database
	schema string
}

var _ state.Store = StateStore{}

// NewStateStore creates a state store. The schema qualifies the table on
// postgres and is ignored on sqlite.
func NewStateStore(db database.Database, schema string) StateStore {
	return StateStore{db: db, schema: schema}
}

func (s StateStore) table() string {
	return s.db.TableName(s.schema, "sync_state")
}

// Migrate creates the sync_state table when absent.
func (s StateStore) Migrate(ctx context.Context) error {
	if err := s.db.Session(ctx).Table(s.table()).AutoMigrate(&SyncStateModel{}); err != nil {
		return fmt.Errorf("migrate sync_state: %w", err)
	}
	return nil
}

// GetMany returns entries for the given pg_ids, keyed by pg_id.
func (s StateStore) GetMany(ctx context.Context, src string, pgIDs []string) (map[string]state.Entry, error) {
	out := make(map[string]state.Entry, len(pgIDs))
	if len(pgIDs) == 0 {
		return out, nil
	}
	var models []SyncStateModel
	result := s.db.Session(ctx).Table(s.table()).
		Where("source = ? AND pg_id IN ?", src, pgIDs).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("get sync state: %w", result.Error)
	}
	for _, m := range models {
		out[m.PGID] = m.toEntry()
	}
	return out, nil
}

// UpsertMany writes entries in one transaction, clearing last_error.
func (s StateStore) UpsertMany(ctx context.Context, entries []state.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	models := make([]SyncStateModel, len(entries))
	for i, e := range entries {
		m := toStateModel(e)
		m.LastError = ""
		models[i] = m
	}
	return s.db.WithTransaction(ctx, func(tx *gorm.DB) error {
		result := tx.Table(s.table()).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "source"}, {Name: "pg_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"text_hash", "embedding_version", "vector_id",
				"nsfw_score", "updated_at", "last_error",
			}),
		}).Create(&models)
		if result.Error != nil {
			return fmt.Errorf("upsert sync state: %w", result.Error)
		}
		return nil
	})
}

// MarkError records a per-row failure. The stored hash is left alone so
// the row is retried next cycle.
func (s StateStore) MarkError(ctx context.Context, src, pgID string, cause error) error {
	model := SyncStateModel{
		Source:    src,
		PGID:      pgID,
		UpdatedAt: time.Now().UTC(),
		LastError: cause.Error(),
	}
	result := s.db.Session(ctx).Table(s.table()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source"}, {Name: "pg_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_error"}),
	}).Create(&model)
	if result.Error != nil {
		return fmt.Errorf("mark sync error: %w", result.Error)
	}
	return nil
}

// MaxUpdatedAt returns the watermark of successfully synced rows.
func (s StateStore) MaxUpdatedAt(ctx context.Context, src string) (time.Time, error) {
	var model SyncStateModel
	result := s.db.Session(ctx).Table(s.table()).
		Where("source = ? AND last_error = ''", src).
		Order("updated_at DESC").
		Take(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return time.Time{}, nil
	}
	if result.Error != nil {
		return time.Time{}, fmt.Errorf("max updated_at: %w", result.Error)
	}
	return model.UpdatedAt, nil
}

// MissingSince returns pg_ids not touched since the given time, oldest
// first.
func (s StateStore) MissingSince(ctx context.Context, src string, since time.Time, limit int) ([]string, error) {
	var ids []string
	result := s.db.Session(ctx).Table(s.table()).
		Where("source = ? AND updated_at < ?", src, since).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("pg_id", &ids)
	if result.Error != nil {
		return nil, fmt.Errorf("missing since: %w", result.Error)
	}
	return ids, nil
}

// StaleVersion reports whether the source has rows embedded under a
// different version. Errored rows carry no version and do not count.
func (s StateStore) StaleVersion(ctx context.Context, src, version string) (bool, error) {
	var n int64
	result := s.db.Session(ctx).Table(s.table()).
		Where("source = ? AND embedding_version <> '' AND embedding_version <> ?", src, version).
		Limit(1).
		Count(&n)
	if result.Error != nil {
		return false, fmt.Errorf("stale version: %w", result.Error)
	}
	return n > 0, nil
}

// StatsFor returns sync counters for a source.
func (s StateStore) StatsFor(ctx context.Context, src string) (state.Stats, error) {
	var row struct {
		Total  int64
		Errors int64
	}
	result := s.db.Session(ctx).Table(s.table()).
		Select("COUNT(*) AS total, "+
			"SUM(CASE WHEN last_error <> '' THEN 1 ELSE 0 END) AS errors").
		Where("source = ?", src).
		Scan(&row)
	if result.Error != nil {
		return state.Stats{}, fmt.Errorf("sync stats: %w", result.Error)
	}
	watermark, err := s.MaxUpdatedAt(ctx, src)
	if err != nil {
		return state.Stats{}, err
	}
	return state.Stats{
		Total:        row.Total,
		Synced:       row.Total - row.Errors,
		Errors:       row.Errors,
		MaxUpdatedAt: watermark,
	}, nil
}
