// Package vector defines the vector store contract shared by the local
// HNSW index and the remote collection client.
package vector

import (
	"context"

	"github.com/followcat/HermesIndex/domain/fault"
)

// Metric names a distance function. Only cosine is supported today.
type Metric string

// MetricCosine scores by cosine similarity.
const MetricCosine Metric = "cosine"

// Point is a vector with its payload. ID is the store-assigned
// identifier; points with ID zero are allocated on upsert.
type Point struct {
	ID      int64
	Vector  []float32
	Payload map[string]any
}

// Hit is one nearest-neighbour result. Score is a similarity in [0, 1]
// where higher is closer.
type Hit struct {
	ID      int64
	Score   float64
	Payload map[string]any
}

// Filter restricts a query to points whose payload satisfies every Must
// condition and no MustNot condition. A nil filter matches everything.
type Filter struct {
	Must    []Condition
	MustNot []Condition
}

// Condition matches one payload field. Exactly one of Values or Range
// is set.
type Condition struct {
	Field  string
	Values []any
	Range  *Range
}

// Range is a numeric bound. Nil ends are unbounded.
type Range struct {
	GTE *float64
	LT  *float64
}

// Matches reports whether a payload satisfies the filter.
func (f *Filter) Matches(payload map[string]any) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	for _, c := range f.MustNot {
		if c.matches(payload) {
			return false
		}
	}
	return true
}

func (c Condition) matches(payload map[string]any) bool {
	got, ok := payload[c.Field]
	if !ok {
		return false
	}
	if c.Range != nil {
		n, ok := asFloat(got)
		if !ok {
			return false
		}
		if c.Range.GTE != nil && n < *c.Range.GTE {
			return false
		}
		if c.Range.LT != nil && n >= *c.Range.LT {
			return false
		}
		return true
	}
	switch v := got.(type) {
	case []any:
		for _, el := range v {
			if anyEqual(el, c.Values) {
				return true
			}
		}
	case []string:
		for _, el := range v {
			if anyEqual(el, c.Values) {
				return true
			}
		}
	default:
		return anyEqual(v, c.Values)
	}
	return false
}

func anyEqual(got any, values []any) bool {
	gf, gotNum := asFloat(got)
	for _, want := range values {
		if got == want {
			return true
		}
		// JSON decoding yields float64 for every number; compare
		// numerically so int conditions still match.
		if wf, ok := asFloat(want); ok && gotNum && gf == wf {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Store is a vector collection. Implementations allow one writer and
// many concurrent readers.
type Store interface {
	// Ensure prepares the collection for the given dimension and metric.
	// Idempotent; fails with DIM_MISMATCH when an existing collection
	// disagrees.
	Ensure(ctx context.Context, dim int, metric Metric) error
	// Upsert inserts or replaces points atomically per batch and returns
	// the assigned id for each point in input order.
	Upsert(ctx context.Context, points []Point) ([]int64, error)
	// Delete removes points by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []int64) error
	// Query returns the top-k nearest points, optionally restricted by
	// filter. Hits are ordered by descending score, ties by ascending id.
	Query(ctx context.Context, queryVector []float32, k int, filter *Filter) ([]Hit, error)
	// Count returns the number of live points.
	Count(ctx context.Context) (int64, error)
	// Health verifies the backend is reachable and consistent.
	Health(ctx context.Context) error
	// Close flushes and releases the store.
	Close() error
}

// CheckDimension validates a vector against an expected dimension.
// A zero expectation accepts anything.
func CheckDimension(vec []float32, want int) error {
	if want != 0 && len(vec) != want {
		return fault.Newf(fault.KindDimMismatch,
			"vector dimension %d does not match collection dimension %d", len(vec), want)
	}
	return nil
}
