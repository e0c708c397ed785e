// Package service orchestrates the sync pipeline, enrichment worker,
// query expansion and search on top of the domain stores.
package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/search"
	"github.com/followcat/HermesIndex/domain/source"
	"github.com/followcat/HermesIndex/domain/state"
	"github.com/followcat/HermesIndex/domain/textnorm"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
	"github.com/followcat/HermesIndex/internal/log"
)

// scoredEmbedder is implemented by backends that return nsfw scores in
// the same call as the embedding.
type scoredEmbedder interface {
	EmbedWithScores(ctx context.Context, texts []string) ([][]float32, []float32, error)
}

// Syncer runs the incremental sync pipeline: one long-lived worker per
// source, each pulling batches past the watermark, embedding changed
// rows and committing vector ids back to the state store.
type Syncer struct {
	cfg      config.Config
	registry *source.Registry
	reader   source.Reader
	states   state.Store
	embedder search.Embedder
	vectors  vector.Store
	logger   *log.Logger
	now      func() time.Time

	mu       sync.Mutex
	lastSync map[string]time.Time
}

// NewSyncer creates the sync pipeline.
func NewSyncer(
	cfg config.Config,
	registry *source.Registry,
	reader source.Reader,
	states state.Store,
	embedder search.Embedder,
	vectors vector.Store,
	logger *log.Logger,
) *Syncer {
	return &Syncer{
		cfg:      cfg,
		registry: registry,
		reader:   reader,
		states:   states,
		embedder: embedder,
		vectors:  vectors,
		logger:   logger,
		now:      time.Now,
		lastSync: make(map[string]time.Time),
	}
}

// Run starts one worker per source and blocks until the context is
// cancelled. A worker finishes its current batch before exiting.
func (s *Syncer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, d := range s.registry.All() {
		d := d
		g.Go(func() error {
			return s.runSource(ctx, d)
		})
	}
	return g.Wait()
}

// SyncOnce runs a single cycle for every source in registry order.
func (s *Syncer) SyncOnce(ctx context.Context) error {
	for _, d := range s.registry.All() {
		if err := s.syncCycle(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) runSource(ctx context.Context, d source.Descriptor) error {
	interval := s.cfg.Sync.Interval()
	for {
		if err := s.syncCycle(ctx, d); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("sync cycle failed", "source", d.Name, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
}

// syncCycle pulls batches until the reader returns fewer rows than
// requested. The first fetch is inclusive of the stored watermark and
// later fetches page by (updated_at, id) keyset, so rows sharing one
// updated_at across batch boundaries stay in reach; already-synced
// refetches are skipped by the hash diff in processBatch. Batch-level
// failures abort the cycle with state untouched, so the next cycle
// retries from the same watermark.
func (s *Syncer) syncCycle(ctx context.Context, d source.Descriptor) error {
	batch := s.cfg.BatchSizeFor(d)
	watermark, err := s.states.MaxUpdatedAt(ctx, d.Name)
	if err != nil {
		return err
	}
	stale, err := s.states.StaleVersion(ctx, d.Name, s.embedder.Version())
	if err != nil {
		return err
	}
	if stale {
		// A version change invalidates every stored vector, so the
		// watermark no longer bounds the work. Re-scan from the start.
		watermark = time.Time{}
	}

	cur := source.Cursor{Watermark: watermark}
	for {
		rows, err := s.reader.FetchSince(ctx, d, cur, batch)
		if err != nil {
			return err
		}
		if len(rows) > 0 {
			if err := s.processBatch(ctx, d, rows); err != nil {
				return err
			}
			cur = cur.Advance(rows)
		}
		if len(rows) < batch {
			s.markSynced(d.Name)
			return nil
		}
	}
}

// markSynced stamps the wall-clock end of a successful cycle.
func (s *Syncer) markSynced(src string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSync[src] = s.now()
}

// LastSyncAt returns the wall-clock time the source last completed a
// cycle, or the zero time if it has not finished one this process.
func (s *Syncer) LastSyncAt(src string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync[src]
}

// pendingRow is a row that needs embedding, with its precomputed
// normalized text and hash.
type pendingRow struct {
	row      source.Row
	text     string
	hash     string
	vectorID int64
}

func (s *Syncer) processBatch(ctx context.Context, d source.Descriptor, rows []source.Row) error {
	version := s.embedder.Version()

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.PGID
	}
	existing, err := s.states.GetMany(ctx, d.Name, ids)
	if err != nil {
		return err
	}

	var pending []pendingRow
	for _, row := range rows {
		text := textnorm.Normalize(searchText(d, row))
		if text == "" {
			err := fault.Newf(fault.KindRowFailed, "empty text after normalization")
			if merr := s.states.MarkError(ctx, d.Name, row.PGID, err); merr != nil {
				return merr
			}
			continue
		}
		hash := source.HashText(text)
		entry, found := existing[row.PGID]
		if found && entry.Current(hash, version) && entry.VectorID != 0 {
			continue
		}
		p := pendingRow{row: row, text: text, hash: hash}
		if found {
			p.vectorID = entry.VectorID
		}
		pending = append(pending, p)
	}
	if len(pending) == 0 {
		return nil
	}

	maxBatch := s.cfg.Embedding.MaxBatch
	if maxBatch <= 0 {
		maxBatch = config.DefaultEmbedMaxBatch
	}
	for start := 0; start < len(pending); start += maxBatch {
		end := min(start+maxBatch, len(pending))
		if err := s.embedAndCommit(ctx, d, pending[start:end], version); err != nil {
			return err
		}
	}
	return nil
}

// embedAndCommit embeds one chunk, upserts the vectors and commits the
// state entries in row order, which is non-decreasing updated_at.
func (s *Syncer) embedAndCommit(ctx context.Context, d source.Descriptor, chunk []pendingRow, version string) error {
	texts := make([]string, len(chunk))
	for i, p := range chunk {
		texts[i] = p.text
	}

	vectors, scores, err := s.embed(ctx, d, texts)
	if err != nil {
		return err
	}

	points := make([]vector.Point, len(chunk))
	for i, p := range chunk {
		points[i] = vector.Point{
			ID:      p.vectorID,
			Vector:  vectors[i],
			Payload: s.payloadFor(d, p, scores[i], version),
		}
	}
	assigned, err := s.vectors.Upsert(ctx, points)
	if err != nil {
		return err
	}

	entries := make([]state.Entry, len(chunk))
	for i, p := range chunk {
		updated := p.row.UpdatedAt
		if updated.IsZero() {
			updated = time.Now().UTC()
		}
		entries[i] = state.Entry{
			Source:           d.Name,
			PGID:             p.row.PGID,
			TextHash:         p.hash,
			EmbeddingVersion: version,
			VectorID:         assigned[i],
			NSFWScore:        scores[i],
			UpdatedAt:        updated,
		}
	}
	return s.states.UpsertMany(ctx, entries)
}

func (s *Syncer) embed(ctx context.Context, d source.Descriptor, texts []string) ([][]float32, []float32, error) {
	if d.TagNSFW {
		if scored, ok := s.embedder.(scoredEmbedder); ok {
			return scored.EmbedWithScores(ctx, texts)
		}
		vectors, err := s.embedder.Embed(ctx, texts, search.RoleDocument)
		if err != nil {
			return nil, nil, err
		}
		scores, err := s.embedder.Classify(ctx, texts)
		if err != nil {
			return nil, nil, err
		}
		return vectors, scores, nil
	}
	vectors, err := s.embedder.Embed(ctx, texts, search.RoleDocument)
	if err != nil {
		return nil, nil, err
	}
	return vectors, make([]float32, len(texts)), nil
}

func (s *Syncer) payloadFor(d source.Descriptor, p pendingRow, score float32, version string) map[string]any {
	payload := map[string]any{
		"source":            d.Name,
		"pg_id":             p.row.PGID,
		"text_hash":         p.hash,
		"embedding_version": version,
		"nsfw_score":        score,
		"nsfw":              float64(score) >= s.cfg.NSFWThreshold,
	}
	if d.ContentType != "" {
		payload["content_type"] = d.ContentType
	}
	for k, v := range p.row.Extras {
		payload[k] = v
	}
	if id, ok := p.row.Extras["tmdb_id"]; ok && asPayloadString(id) != "" {
		payload["has_tmdb"] = true
	}
	return payload
}

// searchText folds the configured extra fields into the embedded text,
// in descriptor order.
func searchText(d source.Descriptor, row source.Row) string {
	parts := []string{row.Text}
	for _, f := range d.ExtraFields {
		if v, ok := row.Extras[f]; ok {
			if s := asPayloadString(v); s != "" {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

func asPayloadString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []byte:
		return string(s)
	default:
		return ""
	}
}
