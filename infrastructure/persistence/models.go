// Package persistence implements the relational stores and the source
// reader on top of GORM.
package persistence

import (
	"time"

	"github.com/followcat/HermesIndex/domain/enrichment"
	"github.com/followcat/HermesIndex/domain/state"
)

// SyncStateModel is the GORM model for the sync_state table.
type SyncStateModel struct {
	Source           string    `gorm:"column:source;primaryKey"`
	PGID             string    `gorm:"column:pg_id;primaryKey"`
	TextHash         string    `gorm:"column:text_hash"`
	EmbeddingVersion string    `gorm:"column:embedding_version"`
	VectorID         int64     `gorm:"column:vector_id"`
	NSFWScore        float32   `gorm:"column:nsfw_score"`
	UpdatedAt        time.Time `gorm:"column:updated_at;index"`
	LastError        string    `gorm:"column:last_error"`
}

func toStateModel(e state.Entry) SyncStateModel {
	return SyncStateModel{
		Source:           e.Source,
		PGID:             e.PGID,
		TextHash:         e.TextHash,
		EmbeddingVersion: e.EmbeddingVersion,
		VectorID:         e.VectorID,
		NSFWScore:        e.NSFWScore,
		UpdatedAt:        e.UpdatedAt,
		LastError:        e.LastError,
	}
}

func (m SyncStateModel) toEntry() state.Entry {
	return state.Entry{
		Source:           m.Source,
		PGID:             m.PGID,
		TextHash:         m.TextHash,
		EmbeddingVersion: m.EmbeddingVersion,
		VectorID:         m.VectorID,
		NSFWScore:        m.NSFWScore,
		UpdatedAt:        m.UpdatedAt,
		LastError:        m.LastError,
	}
}

// TMDBModel is the GORM model for the tmdb_data enrichment table.
type TMDBModel struct {
	ContentType   string    `gorm:"column:content_type;primaryKey"`
	ContentSource string    `gorm:"column:content_source;primaryKey"`
	ContentID     string    `gorm:"column:content_id;primaryKey"`
	Title         string    `gorm:"column:title"`
	AKA           string    `gorm:"column:aka"`
	Keywords      string    `gorm:"column:keywords"`
	Plot          string    `gorm:"column:plot"`
	Genre         string    `gorm:"column:genre"`
	Directors     string    `gorm:"column:directors"`
	Actors        string    `gorm:"column:actors"`
	ReleaseYear   int       `gorm:"column:release_year"`
	PosterPath    string    `gorm:"column:poster_path"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
	Status        string    `gorm:"column:status"`
	LastError     string    `gorm:"column:last_error"`
}

func toTMDBModel(r enrichment.Row) TMDBModel {
	return TMDBModel{
		ContentType:   r.ContentType,
		ContentSource: r.ContentSource,
		ContentID:     r.ContentID,
		Title:         r.Title,
		AKA:           r.AKA,
		Keywords:      r.Keywords,
		Plot:          r.Plot,
		Genre:         r.Genre,
		Directors:     r.Directors,
		Actors:        r.Actors,
		ReleaseYear:   r.ReleaseYear,
		PosterPath:    r.PosterPath,
		UpdatedAt:     r.UpdatedAt,
		Status:        string(r.Status),
		LastError:     r.LastError,
	}
}

func (m TMDBModel) toRow() enrichment.Row {
	return enrichment.Row{
		ContentType:   m.ContentType,
		ContentSource: m.ContentSource,
		ContentID:     m.ContentID,
		Title:         m.Title,
		AKA:           m.AKA,
		Keywords:      m.Keywords,
		Plot:          m.Plot,
		Genre:         m.Genre,
		Directors:     m.Directors,
		Actors:        m.Actors,
		ReleaseYear:   m.ReleaseYear,
		PosterPath:    m.PosterPath,
		UpdatedAt:     m.UpdatedAt,
		Status:        enrichment.Status(m.Status),
		LastError:     m.LastError,
	}
}
