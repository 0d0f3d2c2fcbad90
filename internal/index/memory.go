package index

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/maya/rewear/internal/apperr"
)

type memoryEntry struct {
	vector []float32
	norm   float64
}

type pendingOp struct {
	id     string
	vector []float32 // nil means delete
}

// Memory is an exact brute-force index. Writes are buffered and committed in
// small batches under a short exclusive section so queries are never blocked
// behind a long insert stream; queries run against the last committed state.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	pendingMu sync.Mutex
	pending   []pendingOp

	flushBatch int
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// MemoryConfig tunes the commit cadence of the in-memory index.
type MemoryConfig struct {
	FlushInterval time.Duration
	FlushBatch    int
}

// NewMemory creates an in-memory index and starts its background committer.
func NewMemory(cfg MemoryConfig) *Memory {
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	batch := cfg.FlushBatch
	if batch <= 0 {
		batch = 64
	}

	m := &Memory{
		entries:    make(map[string]memoryEntry),
		flushBatch: batch,
		done:       make(chan struct{}),
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.commit()
			case <-m.done:
				m.commit()
				return
			}
		}
	}()

	return m
}

// Upsert buffers a vector write. It becomes visible to queries on the next
// commit.
func (m *Memory) Upsert(_ context.Context, id string, vector []float32) error {
	if id == "" {
		return apperr.Validationf("index id is required")
	}
	cp := make([]float32, len(vector))
	copy(cp, vector)

	m.pendingMu.Lock()
	m.pending = append(m.pending, pendingOp{id: id, vector: cp})
	m.pendingMu.Unlock()
	return nil
}

// Delete buffers a removal.
func (m *Memory) Delete(_ context.Context, id string) error {
	m.pendingMu.Lock()
	m.pending = append(m.pending, pendingOp{id: id})
	m.pendingMu.Unlock()
	return nil
}

// commit applies buffered writes in batches, releasing the write lock between
// batches so readers interleave.
func (m *Memory) commit() {
	for {
		m.pendingMu.Lock()
		if len(m.pending) == 0 {
			m.pendingMu.Unlock()
			return
		}
		n := len(m.pending)
		if n > m.flushBatch {
			n = m.flushBatch
		}
		batch := m.pending[:n]
		m.pending = m.pending[n:]
		m.pendingMu.Unlock()

		m.mu.Lock()
		for _, op := range batch {
			if op.vector == nil {
				delete(m.entries, op.id)
				continue
			}
			m.entries[op.id] = memoryEntry{vector: op.vector, norm: l2norm(op.vector)}
		}
		m.mu.Unlock()
	}
}

// Flush makes all buffered writes visible.
func (m *Memory) Flush(_ context.Context) error {
	m.commit()
	return nil
}

// Query scans the committed entries and returns the topK highest-cosine
// candidates, best first.
func (m *Memory) Query(_ context.Context, vector []float32, topK int) ([]Candidate, error) {
	if topK <= 0 {
		return nil, nil
	}
	qnorm := l2norm(vector)
	if qnorm == 0 {
		return nil, apperr.Validationf("query vector has zero norm")
	}

	m.mu.RLock()
	candidates := make([]Candidate, 0, len(m.entries))
	for id, e := range m.entries {
		if e.norm == 0 || len(e.vector) != len(vector) {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:    id,
			Score: dot(vector, e.vector) / (qnorm * e.norm),
		})
	}
	m.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ID < candidates[j].ID
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// Len returns the number of committed vectors.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Close stops the background committer after a final commit.
func (m *Memory) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
	})
	m.wg.Wait()
	return nil
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
