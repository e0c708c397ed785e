// Package provider implements the embedding backends and the TMDB
// metadata client.
package provider

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/followcat/HermesIndex/domain/fault"
)

// Retry defaults for transient failures.
const (
	defaultInitialDelay  = 2 * time.Second
	defaultBackoffFactor = 2.0
)

// withRetry executes fn with exponential backoff, honoring context
// cancellation between attempts. Non-retryable errors return
// immediately.
func withRetry(ctx context.Context, maxRetries int, retryable func(error) bool, fn func() error) error {
	delay := defaultInitialDelay
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !retryable(lastErr) {
			return lastErr
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * defaultBackoffFactor)
			}
		}
	}
	return lastErr
}

// gate caps in-flight calls. Callers over the cap wait in a bounded
// queue; when the queue is also full the call fails fast with
// EMBED_BUSY.
type gate struct {
	slots   chan struct{}
	waiting atomic.Int64
	depth   int64
}

func newGate(maxInFlight, queueDepth int) *gate {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &gate{
		slots: make(chan struct{}, maxInFlight),
		depth: int64(queueDepth),
	}
}

// acquire blocks until a slot is free, the queue overflows, or ctx is
// done. The caller must release on success.
func (g *gate) acquire(ctx context.Context) error {
	select {
	case g.slots <- struct{}{}:
		return nil
	default:
	}
	if g.waiting.Add(1) > g.depth {
		g.waiting.Add(-1)
		return fault.New(fault.KindEmbedBusy, "embedding queue full")
	}
	defer g.waiting.Add(-1)
	select {
	case g.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *gate) release() {
	<-g.slots
}

// chunk splits texts into slices of at most size elements.
func chunk(texts []string, size int) [][]string {
	if size <= 0 || len(texts) <= size {
		if len(texts) == 0 {
			return nil
		}
		return [][]string{texts}
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		out = append(out, texts[start:end])
	}
	return out
}
