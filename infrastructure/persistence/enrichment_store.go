package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/internal/database"
)

// TMDBStore implements enrichment.Store on the tmdb_data table.
// Candidate selection joins against the upstream content table, which
// this module never writes.
type TMDBStore struct {
	db           database.Database
	schema       string
	contentTable string
}

var _ enrichment.Store = TMDBStore{}

// NewTMDBStore creates an enrichment store. contentTable names the
// upstream relation candidates are drawn from, usually "content".
func NewTMDBStore(db database.Database, schema, contentTable string) TMDBStore {
	if contentTable == "" {
		contentTable = "content"
	}
	return TMDBStore{db: db, schema: schema, contentTable: contentTable}
}

func (s TMDBStore) table() string {
	return s.db.TableName(s.schema, "tmdb_data")
}

// Migrate creates the tmdb_data table when absent.
func (s TMDBStore) Migrate(ctx context.Context) error {
	if err := s.db.Session(ctx).Table(s.table()).AutoMigrate(&TMDBModel{}); err != nil {
		return fmt.Errorf("migrate tmdb_data: %w", err)
	}
	return nil
}

// Upsert writes a row, replacing any previous one for the same key.
func (s TMDBStore) Upsert(ctx context.Context, row enrichment.Row) error {
	model := toTMDBModel(row)
	if model.UpdatedAt.IsZero() {
		model.UpdatedAt = time.Now().UTC()
	}
	result := s.db.Session(ctx).Table(s.table()).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "content_type"}, {Name: "content_source"}, {Name: "content_id"},
		},
		UpdateAll: true,
	}).Create(&model)
	if result.Error != nil {
		return fmt.Errorf("upsert tmdb_data: %w", result.Error)
	}
	return nil
}

// FindMatching returns rows whose title, aka or keywords contain the
// term, case-insensitively.
func (s TMDBStore) FindMatching(ctx context.Context, term string, limit int) ([]enrichment.Row, error) {
	pattern := "%" + strings.ToLower(term) + "%"
	var models []TMDBModel
	result := s.db.Session(ctx).Table(s.table()).
		Where("LOWER(title) LIKE ? OR LOWER(aka) LIKE ? OR LOWER(keywords) LIKE ?",
			pattern, pattern, pattern).
		Where("status = ?", string(enrichment.StatusOK)).
		Limit(limit).
		Find(&models)
	if result.Error != nil {
		return nil, fmt.Errorf("find matching enrichment: %w", result.Error)
	}
	rows := make([]enrichment.Row, len(models))
	for i, m := range models {
		rows[i] = m.toRow()
	}
	return rows, nil
}

// Candidates returns content rows lacking an enrichment row, or whose
// row has empty aka and keywords.
func (s TMDBStore) Candidates(ctx context.Context, limit int) ([]enrichment.Candidate, error) {
	query := fmt.Sprintf(
		"SELECT c.type AS content_type, c.source AS content_source, c.id AS content_id, "+
			"c.title AS title, COALESCE(c.release_year, 0) AS release_year "+
			"FROM %s c LEFT JOIN %s t "+
			"ON t.content_type = c.type AND t.content_source = c.source AND t.content_id = c.id "+
			"WHERE t.content_id IS NULL OR (t.aka = '' AND t.keywords = '' AND t.status = ?) "+
			"ORDER BY c.type, c.source, c.id LIMIT ?",
		s.contentTable, s.table())

	var rows []struct {
		ContentType   string
		ContentSource string
		ContentID     string
		Title         string
		ReleaseYear   int
	}
	result := s.db.Session(ctx).Raw(query, string(enrichment.StatusOK), limit).Scan(&rows)
	if result.Error != nil {
		return nil, fmt.Errorf("enrichment candidates: %w", result.Error)
	}
	candidates := make([]enrichment.Candidate, len(rows))
	for i, r := range rows {
		candidates[i] = enrichment.Candidate{
			ContentType:   r.ContentType,
			ContentSource: r.ContentSource,
			ContentID:     r.ContentID,
			Title:         r.Title,
			ReleaseYear:   r.ReleaseYear,
		}
	}
	return candidates, nil
}

// Get returns the row for a key, nil when absent.
func (s TMDBStore) Get(ctx context.Context, contentType, contentSource, contentID string) (*enrichment.Row, error) {
	var model TMDBModel
	result := s.db.Session(ctx).Table(s.table()).
		Where("content_type = ? AND content_source = ? AND content_id = ?",
			contentType, contentSource, contentID).
		Take(&model)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("get tmdb_data: %w", result.Error)
	}
	row := model.toRow()
	return &row, nil
}

// Count returns the number of stored rows.
func (s TMDBStore) Count(ctx context.Context) (int64, error) {
	var count int64
	result := s.db.Session(ctx).Table(s.table()).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("count tmdb_data: %w", result.Error)
	}
	return count, nil
}
