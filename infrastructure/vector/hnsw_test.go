package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
)

func openTestIndex(t *testing.T, dir string, dim int) *LocalHNSW {
	t.Helper()
	s, err := NewLocalHNSW(config.VectorStoreConfig{Type: "hnsw", Path: dir, EFSearch: 64})
	require.NoError(t, err)
	require.NoError(t, s.Ensure(context.Background(), dim, vector.MetricCosine))
	return s
}

func TestLocalHNSWUpsertAssignsIDs(t *testing.T) {
	s := openTestIndex(t, t.TempDir(), 3)
	defer s.Close()

	ids, err := s.Upsert(context.Background(), []vector.Point{
		{Vector: []float32{1, 0, 0}},
		{Vector: []float32{0, 1, 0}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	// A provided id is kept and replaces the stored point.
	ids, err = s.Upsert(context.Background(), []vector.Point{
		{ID: 1, Vector: []float32{0, 0, 1}, Payload: map[string]any{"v": "new"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids)

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestLocalHNSWQueryOrdering(t *testing.T) {
	s := openTestIndex(t, t.TempDir(), 2)
	defer s.Close()

	_, err := s.Upsert(context.Background(), []vector.Point{
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{0.9, 0.1}},
		{ID: 3, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)

	hits, err := s.Query(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.Equal(t, int64(2), hits[1].ID)
	assert.Equal(t, int64(3), hits[2].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Greater(t, hits[1].Score, hits[2].Score)
}

func TestLocalHNSWDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	s := openTestIndex(t, dir, 4)
	require.NoError(t, s.Close())

	s, err := NewLocalHNSW(config.VectorStoreConfig{Type: "hnsw", Path: dir})
	require.NoError(t, err)
	defer s.Close()

	err = s.Ensure(context.Background(), 8, vector.MetricCosine)
	assert.True(t, fault.IsKind(err, fault.KindDimMismatch))

	_, err = s.Query(context.Background(), []float32{1, 0}, 1, nil)
	assert.True(t, fault.IsKind(err, fault.KindDimMismatch))
}

func TestLocalHNSWPersistence(t *testing.T) {
	dir := t.TempDir()
	s := openTestIndex(t, dir, 2)
	_, err := s.Upsert(context.Background(), []vector.Point{
		{ID: 7, Vector: []float32{1, 0}, Payload: map[string]any{"source": "movies"}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = NewLocalHNSW(config.VectorStoreConfig{Type: "hnsw", Path: dir})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ensure(context.Background(), 2, vector.MetricCosine))

	hits, err := s.Query(context.Background(), []float32{1, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(7), hits[0].ID)
	assert.Equal(t, "movies", hits[0].Payload["source"])

	// New points do not reuse persisted ids.
	ids, err := s.Upsert(context.Background(), []vector.Point{{Vector: []float32{0, 1}}})
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, ids)
}

func TestLocalHNSWFilteredQuery(t *testing.T) {
	s := openTestIndex(t, t.TempDir(), 2)
	defer s.Close()

	_, err := s.Upsert(context.Background(), []vector.Point{
		{ID: 1, Vector: []float32{1, 0}, Payload: map[string]any{"source": "movies"}},
		{ID: 2, Vector: []float32{0.99, 0.01}, Payload: map[string]any{"source": "tv"}},
		{ID: 3, Vector: []float32{0.98, 0.02}, Payload: map[string]any{"source": "movies"}},
	})
	require.NoError(t, err)

	filter := &vector.Filter{
		Must: []vector.Condition{{Field: "source", Values: []any{"movies"}}},
	}
	hits, err := s.Query(context.Background(), []float32{1, 0}, 2, filter)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, int64(1), hits[0].ID)
	assert.Equal(t, int64(3), hits[1].ID)
}

func TestLocalHNSWDelete(t *testing.T) {
	s := openTestIndex(t, t.TempDir(), 2)
	defer s.Close()

	_, err := s.Upsert(context.Background(), []vector.Point{
		{ID: 1, Vector: []float32{1, 0}},
		{ID: 2, Vector: []float32{0, 1}},
	})
	require.NoError(t, err)
	require.NoError(t, s.Delete(context.Background(), []int64{1}))

	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	hits, err := s.Query(context.Background(), []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, int64(2), hits[0].ID)
}

func TestFactoryRejectsUnknownType(t *testing.T) {
	_, err := NewStore(config.VectorStoreConfig{Type: "faiss"})
	assert.True(t, fault.IsKind(err, fault.KindConfigInvalid))
}
