package index

import (
	"context"
	"math"
	"testing"
	"time"
)

func newTestIndex(t *testing.T) *Memory {
	t.Helper()
	// Long interval so tests control visibility via Flush.
	m := NewMemory(MemoryConfig{FlushInterval: time.Hour, FlushBatch: 2})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestMemoryQueryOrdering(t *testing.T) {
	m := newTestIndex(t)
	ctx := context.Background()

	vectors := map[string][]float32{
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
		"opposite":   {-1, 0, 0},
	}
	for id, v := range vectors {
		if err := m.Upsert(ctx, id, v); err != nil {
			t.Fatalf("upsert %s: %v", id, err)
		}
	}
	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := m.Query(ctx, []float32{1, 0, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	if got[0].ID != "exact" || got[1].ID != "close" || got[2].ID != "orthogonal" {
		t.Errorf("wrong order: %v, %v, %v", got[0].ID, got[1].ID, got[2].ID)
	}
	if math.Abs(got[0].Score-1.0) > 1e-9 {
		t.Errorf("exact match score = %v, want 1.0", got[0].Score)
	}
	if math.Abs(got[2].Score) > 1e-9 {
		t.Errorf("orthogonal score = %v, want 0", got[2].Score)
	}
}

func TestMemoryBufferedVisibility(t *testing.T) {
	m := newTestIndex(t)
	ctx := context.Background()

	if err := m.Upsert(ctx, "a", []float32{1, 0}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Not committed yet: a query is allowed to miss the vector.
	got, err := m.Query(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no candidates before flush, got %d", len(got))
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	got, err = m.Query(ctx, []float32{1, 0}, 10)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("expected [a] after flush, got %v", got)
	}
}

func TestMemoryUpsertReplacesAndDeleteRemoves(t *testing.T) {
	m := newTestIndex(t)
	ctx := context.Background()

	m.Upsert(ctx, "a", []float32{1, 0})
	m.Upsert(ctx, "b", []float32{0, 1})
	m.Flush(ctx)

	// Replace a, delete b; batch size is 2, so this exercises multiple
	// commit batches together with the earlier writes.
	m.Upsert(ctx, "a", []float32{0, 1})
	m.Delete(ctx, "b")
	m.Flush(ctx)

	if n := m.Len(); n != 1 {
		t.Fatalf("Len() = %d, want 1", n)
	}
	got, err := m.Query(ctx, []float32{0, 1}, 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != "a" {
		t.Fatalf("got %v, want single candidate a", got)
	}
	if math.Abs(got[0].Score-1.0) > 1e-9 {
		t.Errorf("replaced vector score = %v, want 1.0", got[0].Score)
	}
}

func TestMemoryTopKTruncation(t *testing.T) {
	m := newTestIndex(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		v := []float32{1, float32(i) * 0.1}
		if err := m.Upsert(ctx, string(rune('a'+i)), v); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	m.Flush(ctx)

	got, err := m.Query(ctx, []float32{1, 0}, 3)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d candidates, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("candidates not sorted: %v before %v", got[i-1], got[i])
		}
	}
	if got[0].ID != "a" {
		t.Errorf("best candidate = %s, want a", got[0].ID)
	}
}

func TestMemoryZeroNormQueryRejected(t *testing.T) {
	m := newTestIndex(t)
	if _, err := m.Query(context.Background(), []float32{0, 0}, 5); err == nil {
		t.Fatal("expected error for zero-norm query")
	}
}
