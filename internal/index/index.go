// Package index provides nearest-neighbor candidate retrieval over embedding
// vectors. Two backends share one contract: an in-memory exact index with
// buffered commits for modest corpora, and a Qdrant-backed HNSW index for
// corpora that outgrow full scans.
package index

import "context"

// Candidate is one nearest-neighbor hit.
type Candidate struct {
	// ID identifies the owning entity (garment or alert, depending on
	// which index is queried).
	ID string

	// Score is raw cosine similarity in [-1, 1]. Callers clamp negatives
	// before comparing against thresholds.
	Score float64
}

// Index is the contract for vector storage and top-K retrieval.
//
// Implementations must be safe for concurrent use. Upserts may be buffered:
// a query issued immediately after an upsert is allowed to miss the new
// vector until the next commit, but staleness is bounded by the flush
// interval. Flush forces all pending writes to become visible.
type Index interface {
	Upsert(ctx context.Context, id string, vector []float32) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, vector []float32, topK int) ([]Candidate, error)
	Flush(ctx context.Context) error
	Close() error
}
