// Package vectorstore implements the vector store backends: a local
// HNSW index persisted on disk and a remote REST collection client.
package vectorstore

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"

	"github.com/followcat/HermesIndex/domain/fault"
	"github.com/followcat/HermesIndex/domain/vector"
	"github.com/followcat/HermesIndex/internal/config"
)

// On-disk layout inside the index directory.
const (
	graphFileName   = "graph.bin"
	sidecarFileName = "payloads.jsonl"
)

// oversampleFactor widens filtered queries so post-filtering still
// fills k results.
const oversampleFactor = 4

// compactionRatio triggers a sidecar rewrite when dead entries exceed
// this share of live ones.
const compactionRatio = 0.25

// LocalHNSW is an on-disk HNSW index with a JSON-lines payload sidecar.
// One writer at a time; readers share the lock.
//
// Graph keys are internal and monotonic. Replacing a point orphans its
// old key instead of deleting the node, which sidesteps graph-surgery
// edge cases; orphans are dropped on compaction.
type LocalHNSW struct {
	mu       sync.RWMutex
	dir      string
	dim      int
	efSearch int

	graph   *hnsw.Graph[uint64]
	idToKey map[int64]uint64
	keyToID map[uint64]int64
	payload map[int64]map[string]any
	nextID  int64
	nextKey uint64
	dead    int

	sidecar *os.File
	closed  bool
}

var _ vector.Store = (*LocalHNSW)(nil)

// sidecarLine is one record in payloads.jsonl. The first line carries
// Dim; later lines carry either a live point or a tombstone.
type sidecarLine struct {
	Dim     int            `json:"dim,omitempty"`
	ID      int64          `json:"id,omitempty"`
	Key     uint64         `json:"key,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	Deleted bool           `json:"deleted,omitempty"`
}

// NewLocalHNSW opens or creates the index directory and replays the
// payload sidecar.
func NewLocalHNSW(cfg config.VectorStoreConfig) (*LocalHNSW, error) {
	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, fault.Wrap(fault.KindVectorUnavail, "create index directory", err)
	}

	graph := hnsw.NewGraph[uint64]()
	graph.Distance = hnsw.CosineDistance
	if cfg.EFSearch > 0 {
		graph.EfSearch = cfg.EFSearch
	}

	s := &LocalHNSW{
		dir:      cfg.Path,
		efSearch: cfg.EFSearch,
		graph:    graph,
		idToKey:  make(map[int64]uint64),
		keyToID:  make(map[uint64]int64),
		payload:  make(map[int64]map[string]any),
		nextID:   1,
	}
	if err := s.load(); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(s.sidecarPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fault.Wrap(fault.KindVectorUnavail, "open payload sidecar", err)
	}
	s.sidecar = f
	return s, nil
}

func (s *LocalHNSW) graphPath() string   { return filepath.Join(s.dir, graphFileName) }
func (s *LocalHNSW) sidecarPath() string { return filepath.Join(s.dir, sidecarFileName) }

func (s *LocalHNSW) load() error {
	if f, err := os.Open(s.graphPath()); err == nil {
		err = s.graph.Import(bufio.NewReader(f))
		_ = f.Close()
		if err != nil {
			return fault.Wrap(fault.KindVectorUnavail, "import hnsw graph", err)
		}
	} else if !os.IsNotExist(err) {
		return fault.Wrap(fault.KindVectorUnavail, "open hnsw graph", err)
	}

	f, err := os.Open(s.sidecarPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "open payload sidecar", err)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<22)
	for scanner.Scan() {
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var line sidecarLine
		if err := json.Unmarshal(raw, &line); err != nil {
			// A torn final line from a crash is expected; stop replay.
			break
		}
		switch {
		case line.Dim > 0:
			s.dim = line.Dim
		case line.Deleted:
			if key, ok := s.idToKey[line.ID]; ok {
				delete(s.idToKey, line.ID)
				delete(s.keyToID, key)
				delete(s.payload, line.ID)
				s.dead++
			}
		default:
			if old, ok := s.idToKey[line.ID]; ok {
				delete(s.keyToID, old)
				s.dead++
			}
			s.idToKey[line.ID] = line.Key
			s.keyToID[line.Key] = line.ID
			s.payload[line.ID] = line.Payload
			if line.ID >= s.nextID {
				s.nextID = line.ID + 1
			}
			if line.Key >= s.nextKey {
				s.nextKey = line.Key + 1
			}
		}
	}
	return scanner.Err()
}

// Ensure pins the index dimension. Reopening with a different dimension
// fails with DIM_MISMATCH.
func (s *LocalHNSW) Ensure(_ context.Context, dim int, metric vector.Metric) error {
	if metric != vector.MetricCosine {
		return fault.Newf(fault.KindConfigInvalid, "unsupported metric %q", metric)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 {
		if s.dim != dim {
			return fault.Newf(fault.KindDimMismatch,
				"index at %s has dimension %d, requested %d", s.dir, s.dim, dim)
		}
		return nil
	}
	s.dim = dim
	return s.appendLine(sidecarLine{Dim: dim})
}

// Upsert inserts or replaces points and returns the assigned ids.
func (s *LocalHNSW) Upsert(_ context.Context, points []vector.Point) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fault.New(fault.KindVectorUnavail, "store is closed")
	}
	for _, p := range points {
		if err := vector.CheckDimension(p.Vector, s.dim); err != nil {
			return nil, err
		}
	}

	ids := make([]int64, len(points))
	for i, p := range points {
		id := p.ID
		if id == 0 {
			id = s.nextID
			s.nextID++
		} else if id >= s.nextID {
			s.nextID = id + 1
		}
		if old, ok := s.idToKey[id]; ok {
			delete(s.keyToID, old)
			s.dead++
		}
		key := s.nextKey
		s.nextKey++

		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		normalizeInPlace(vec)
		s.graph.Add(hnsw.MakeNode(key, vec))

		s.idToKey[id] = key
		s.keyToID[key] = id
		s.payload[id] = p.Payload
		ids[i] = id

		if err := s.appendLine(sidecarLine{ID: id, Key: key, Payload: p.Payload}); err != nil {
			return nil, err
		}
	}
	if err := s.flushLocked(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete tombstones points by id. The graph nodes linger until
// compaction.
func (s *LocalHNSW) Delete(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fault.New(fault.KindVectorUnavail, "store is closed")
	}
	for _, id := range ids {
		key, ok := s.idToKey[id]
		if !ok {
			continue
		}
		delete(s.idToKey, id)
		delete(s.keyToID, key)
		delete(s.payload, id)
		s.dead++
		if err := s.appendLine(sidecarLine{ID: id, Deleted: true}); err != nil {
			return err
		}
	}
	if s.dead > int(float64(len(s.idToKey))*compactionRatio) {
		return s.compactLocked()
	}
	return nil
}

// Query returns the top-k nearest live points. With a filter the graph
// is oversampled and payloads are checked after the ANN pass.
func (s *LocalHNSW) Query(_ context.Context, queryVector []float32, k int, filter *vector.Filter) ([]vector.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fault.New(fault.KindVectorUnavail, "store is closed")
	}
	if err := vector.CheckDimension(queryVector, s.dim); err != nil {
		return nil, err
	}
	if s.graph.Len() == 0 || k <= 0 {
		return nil, nil
	}

	fetch := k
	if filter != nil || s.dead > 0 {
		fetch = k * oversampleFactor
	}
	if total := s.graph.Len(); fetch > total {
		fetch = total
	}

	q := make([]float32, len(queryVector))
	copy(q, queryVector)
	normalizeInPlace(q)

	nodes := s.graph.Search(q, fetch)
	hits := make([]vector.Hit, 0, k)
	for _, node := range nodes {
		id, live := s.keyToID[node.Key]
		if !live {
			continue
		}
		payload := s.payload[id]
		if !filter.Matches(payload) {
			continue
		}
		dist := s.graph.Distance(q, node.Value)
		hits = append(hits, vector.Hit{
			ID:      id,
			Score:   cosineScore(dist),
			Payload: payload,
		})
		if len(hits) == k {
			break
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	return hits, nil
}

// Count returns the number of live points.
func (s *LocalHNSW) Count(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.idToKey)), nil
}

// Dim returns the pinned dimension, zero when the index is new.
func (s *LocalHNSW) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Health verifies the index directory is writable.
func (s *LocalHNSW) Health(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fault.New(fault.KindVectorUnavail, "store is closed")
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "index directory", err)
	}
	return nil
}

// Close flushes the graph and closes the sidecar.
func (s *LocalHNSW) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	err := s.exportGraphLocked()
	if cerr := s.sidecar.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *LocalHNSW) appendLine(line sidecarLine) error {
	data, err := json.Marshal(line)
	if err != nil {
		return err
	}
	if _, err := s.sidecar.Write(append(data, '\n')); err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "append payload sidecar", err)
	}
	return nil
}

// flushLocked makes a batch durable: sidecar sync first, then graph
// export. State commits happen only after this returns, so a crash in
// between leaves rows that will simply re-sync.
func (s *LocalHNSW) flushLocked() error {
	if err := s.sidecar.Sync(); err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "sync payload sidecar", err)
	}
	return s.exportGraphLocked()
}

func (s *LocalHNSW) exportGraphLocked() error {
	tmp := s.graphPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "create graph file", err)
	}
	if err := s.graph.Export(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fault.Wrap(fault.KindVectorUnavail, "export graph", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fault.Wrap(fault.KindVectorUnavail, "close graph file", err)
	}
	if err := os.Rename(tmp, s.graphPath()); err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "replace graph file", err)
	}
	return nil
}

// compactLocked rewrites the sidecar with live entries only and resets
// the dead counter. Orphaned graph nodes stay until the next full
// rebuild; they are unreachable through the id maps.
func (s *LocalHNSW) compactLocked() error {
	tmp := s.sidecarPath() + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "create sidecar file", err)
	}
	w := bufio.NewWriter(f)
	writeLine := func(line sidecarLine) error {
		data, err := json.Marshal(line)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}
	if s.dim != 0 {
		if err := writeLine(sidecarLine{Dim: s.dim}); err != nil {
			_ = f.Close()
			return err
		}
	}
	ids := make([]int64, 0, len(s.idToKey))
	for id := range s.idToKey {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := writeLine(sidecarLine{ID: id, Key: s.idToKey[id], Payload: s.payload[id]}); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := s.sidecar.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.sidecarPath()); err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "replace sidecar file", err)
	}
	s.sidecar, err = os.OpenFile(s.sidecarPath(), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fault.Wrap(fault.KindVectorUnavail, "reopen sidecar file", err)
	}
	s.dead = 0
	return nil
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1.0 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// cosineScore maps cosine distance in [0, 2] to similarity in [0, 1].
func cosineScore(distance float32) float64 {
	return float64(1 - distance/2)
}
