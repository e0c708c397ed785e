package persistence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/internal/database"
)

// Reader pulls rows from upstream tables or views with raw GORM
// queries. The upstream relations are read-only to this module.
type Reader struct {
	db database.Database
}

var _ source.Reader = Reader{}

// NewReader creates a source reader.
func NewReader(db database.Database) Reader {
	return Reader{db: db}
}

func (r Reader) selectList(d source.Descriptor) string {
	cols := []string{
		fmt.Sprintf("%s AS __id", d.IDField),
		fmt.Sprintf("%s AS __text", d.TextField),
	}
	if d.UpdatedAtField != "" {
		cols = append(cols, fmt.Sprintf("%s AS __updated_at", d.UpdatedAtField))
	}
	cols = append(cols, d.ExtraFields...)
	return strings.Join(cols, ", ")
}

// FetchSince returns up to limit rows at or after the cursor position,
// keyset-ordered by (updated_at, id). The first page of a cycle has no
// LastID and fetches inclusively from the watermark, so a row group
// sharing the watermark timestamp is re-read and diffed by hash rather
// than skipped. Sources without a watermark column fall back to an
// offset-paginated full scan ordered by id.
func (r Reader) FetchSince(ctx context.Context, d source.Descriptor, cur source.Cursor, limit int) ([]source.Row, error) {
	q := r.db.Session(ctx).Table(d.TableOrView).Select(r.selectList(d)).Limit(limit)
	if d.UpdatedAtField != "" {
		switch {
		case cur.LastID != "":
			q = q.Where(
				fmt.Sprintf("%s > ? OR (%s = ? AND %s > ?)", d.UpdatedAtField, d.UpdatedAtField, d.IDField),
				cur.Watermark, cur.Watermark, cur.LastID,
			)
		case !cur.Watermark.IsZero():
			q = q.Where(fmt.Sprintf("%s >= ?", d.UpdatedAtField), cur.Watermark)
		}
		q = q.Order(fmt.Sprintf("%s ASC, %s ASC", d.UpdatedAtField, d.IDField))
	} else {
		q = q.Order(d.IDField + " ASC").Offset(cur.Offset)
	}

	var raw []map[string]any
	if err := q.Find(&raw).Error; err != nil {
		return nil, fmt.Errorf("fetch rows for %s: %w", d.Name, err)
	}
	return r.toRows(d, raw), nil
}

// FetchByIDs returns rows matching the given pg_ids. Missing ids are
// skipped.
func (r Reader) FetchByIDs(ctx context.Context, d source.Descriptor, pgIDs []string) ([]source.Row, error) {
	if len(pgIDs) == 0 {
		return nil, nil
	}
	var raw []map[string]any
	err := r.db.Session(ctx).Table(d.TableOrView).
		Select(r.selectList(d)).
		Where(fmt.Sprintf("%s IN ?", d.IDField), pgIDs).
		Find(&raw).Error
	if err != nil {
		return nil, fmt.Errorf("fetch by ids for %s: %w", d.Name, err)
	}
	return r.toRows(d, raw), nil
}

// SearchKeyword does a case-insensitive substring match on the text
// field.
func (r Reader) SearchKeyword(ctx context.Context, d source.Descriptor, keyword string, limit int) ([]source.Row, error) {
	var raw []map[string]any
	q := r.db.Session(ctx).Table(d.TableOrView).Select(r.selectList(d)).Limit(limit)
	if r.db.IsPostgres() {
		q = q.Where(fmt.Sprintf("%s ILIKE ?", d.TextField), "%"+keyword+"%")
	} else {
		q = q.Where(fmt.Sprintf("LOWER(%s) LIKE ?", d.TextField), "%"+strings.ToLower(keyword)+"%")
	}
	if err := q.Find(&raw).Error; err != nil {
		return nil, fmt.Errorf("keyword search for %s: %w", d.Name, err)
	}
	return r.toRows(d, raw), nil
}

// Count returns the number of rows in the source relation.
func (r Reader) Count(ctx context.Context, d source.Descriptor) (int64, error) {
	var count int64
	if err := r.db.Session(ctx).Table(d.TableOrView).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count rows for %s: %w", d.Name, err)
	}
	return count, nil
}

func (r Reader) toRows(d source.Descriptor, raw []map[string]any) []source.Row {
	rows := make([]source.Row, 0, len(raw))
	for _, rec := range raw {
		row := source.Row{
			Source: d.Name,
			PGID:   asString(rec["__id"]),
			Text:   asString(rec["__text"]),
		}
		if d.UpdatedAtField != "" {
			row.UpdatedAt = asTime(rec["__updated_at"])
		}
		if len(d.ExtraFields) > 0 {
			row.Extras = make(map[string]any, len(d.ExtraFields))
			for _, f := range d.ExtraFields {
				if v, ok := rec[f]; ok && v != nil {
					row.Extras[f] = v
				}
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return fmt.Sprint(s)
	}
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed
			}
		}
	}
	return time.Time{}
}
