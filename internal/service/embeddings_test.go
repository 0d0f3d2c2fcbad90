package service

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
)

type fakeEmbeddingRepo struct {
	mu   sync.Mutex
	byID map[string][]domain.GarmentEmbedding
}

func newFakeEmbeddingRepo() *fakeEmbeddingRepo {
	return &fakeEmbeddingRepo{byID: make(map[string][]domain.GarmentEmbedding)}
}

func (r *fakeEmbeddingRepo) Put(_ context.Context, emb *domain.GarmentEmbedding) error {
	if len(emb.Vector) != domain.EmbeddingDimension {
		return apperr.Dimensionf(domain.EmbeddingDimension, len(emb.Vector))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rows := r.byID[emb.GarmentID]
	for i := range rows {
		if rows[i].ImageOrdinal == emb.ImageOrdinal {
			rows[i] = *emb
			r.byID[emb.GarmentID] = rows
			return nil
		}
	}
	r.byID[emb.GarmentID] = append(rows, *emb)
	return nil
}

func (r *fakeEmbeddingRepo) GetByGarment(_ context.Context, garmentID string) ([]domain.GarmentEmbedding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.GarmentEmbedding(nil), r.byID[garmentID]...), nil
}

func (r *fakeEmbeddingRepo) DeleteForGarment(_ context.Context, garmentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, garmentID)
	return nil
}

func newEmbeddingServiceFixture(t *testing.T) (*EmbeddingService, *fakeEmbeddingRepo, *recordingIndex, *fakeEnqueuer) {
	t.Helper()
	repo := newFakeEmbeddingRepo()
	idx := &recordingIndex{}
	engine := &fakeEnqueuer{}
	activity, _ := testActivityLogger(t)
	return NewEmbeddingService(repo, idx, engine, activity, nil), repo, idx, engine
}

func TestEmbeddingServiceIngest(t *testing.T) {
	svc, _, idx, engine := newEmbeddingServiceFixture(t)

	text := fullVec(0.1)
	err := svc.Ingest(context.Background(), &domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       text,
		ModelVersion: "clip-test-1",
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if !reflect.DeepEqual(idx.vectors["g1"], text) {
		t.Error("text proxy not indexed as the scoring vector")
	}
	if len(engine.garments) != 1 || engine.garments[0] != "g1" {
		t.Errorf("engine triggers = %v, want one for g1", engine.garments)
	}
}

func TestEmbeddingServicePrefersPrimaryImageVector(t *testing.T) {
	svc, _, idx, _ := newEmbeddingServiceFixture(t)

	text := fullVec(0.1)
	primary := fullVec(0.5)
	if err := svc.Ingest(context.Background(), &domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       text,
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if err := svc.Ingest(context.Background(), &domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: 1,
		IsPrimary:    true,
		Vector:       primary,
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if !reflect.DeepEqual(idx.vectors["g1"], primary) {
		t.Error("primary image vector must win over the text proxy")
	}
}

func TestEmbeddingServiceIngestRejectsBadDimension(t *testing.T) {
	svc, _, idx, engine := newEmbeddingServiceFixture(t)

	err := svc.Ingest(context.Background(), &domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       domain.Vector{1, 0, 0},
	})
	if !errors.Is(err, apperr.ErrDimension) {
		t.Fatalf("error = %v, want dimension error", err)
	}
	if len(idx.vectors) != 0 || len(engine.garments) != 0 {
		t.Error("rejected embedding must not touch the index or the engine")
	}
}

func TestEmbeddingServiceRemoveGarment(t *testing.T) {
	svc, repo, idx, _ := newEmbeddingServiceFixture(t)

	if err := svc.Ingest(context.Background(), &domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       fullVec(0.1),
	}); err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if err := svc.RemoveGarment(context.Background(), "g1"); err != nil {
		t.Fatalf("RemoveGarment() error = %v", err)
	}

	rows, _ := repo.GetByGarment(context.Background(), "g1")
	if len(rows) != 0 {
		t.Error("embeddings not deleted")
	}
	if len(idx.deleted) != 1 || idx.deleted[0] != "g1" {
		t.Errorf("index deletions = %v, want [g1]", idx.deleted)
	}
}
