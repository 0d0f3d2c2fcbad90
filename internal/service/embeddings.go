package service

import (
	"context"
	"time"

	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/index"
	"github.com/maya/rewear/internal/logger"
)

type embeddingRepo interface {
	Put(ctx context.Context, emb *domain.GarmentEmbedding) error
	GetByGarment(ctx context.Context, garmentID string) ([]domain.GarmentEmbedding, error)
	DeleteForGarment(ctx context.Context, garmentID string) error
}

type garmentTriggerEnqueuer interface {
	EnqueueGarmentChanged(ctx context.Context, garmentID string) error
}

// EmbeddingService ingests vectors from the external attribute pipeline.
// Every successful put re-indexes the garment's scoring vector and signals
// the matching engine.
type EmbeddingService struct {
	repo         embeddingRepo
	garmentIndex index.Index
	engine       garmentTriggerEnqueuer
	activity     *ActivityLogger
	logger       *logger.Logger
}

// NewEmbeddingService wires the ingest path.
func NewEmbeddingService(
	repo embeddingRepo,
	garmentIndex index.Index,
	engine garmentTriggerEnqueuer,
	activity *ActivityLogger,
	log *logger.Logger,
) *EmbeddingService {
	return &EmbeddingService{
		repo:         repo,
		garmentIndex: garmentIndex,
		engine:       engine,
		activity:     activity,
		logger:       log,
	}
}

// Ingest validates and persists one embedding, refreshes the similarity
// index, and triggers matching for the garment. Validation and dimension
// errors are surfaced to the caller; index write failures are logged and do
// not fail the ingest, since the engine retries retrieval when the index
// recovers.
func (s *EmbeddingService) Ingest(ctx context.Context, emb *domain.GarmentEmbedding) error {
	start := time.Now()

	if err := s.repo.Put(ctx, emb); err != nil {
		s.activity.Record(&domain.AIActivityLog{
			Kind:             domain.ActivityEmbeddingIngest,
			CorrelationID:    emb.GarmentID,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Success:          false,
			ErrorMessage:     err.Error(),
		})
		return err
	}

	if err := s.reindexGarment(ctx, emb.GarmentID); err != nil {
		logger.CtxWarn(ctx, "re-indexing garment %s failed: %v", emb.GarmentID, err)
	}

	if err := s.engine.EnqueueGarmentChanged(ctx, emb.GarmentID); err != nil {
		logger.CtxWarn(ctx, "enqueueing matching for garment %s failed: %v", emb.GarmentID, err)
	}

	s.activity.Record(&domain.AIActivityLog{
		Kind:             domain.ActivityEmbeddingIngest,
		CorrelationID:    emb.GarmentID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Success:          true,
	})
	return nil
}

// reindexGarment writes the garment's current scoring vector (primary image
// embedding, falling back to the text proxy) into the similarity index.
func (s *EmbeddingService) reindexGarment(ctx context.Context, garmentID string) error {
	embs, err := s.repo.GetByGarment(ctx, garmentID)
	if err != nil {
		return err
	}
	signals := splitSignals(embs)
	vec := signals.primaryImage
	if vec == nil {
		vec = signals.textProxy
	}
	if vec == nil {
		return nil
	}
	return s.garmentIndex.Upsert(ctx, garmentID, vec)
}

// RemoveGarment deletes a garment's embeddings and index entry. Called when
// the owning garment is deleted.
func (s *EmbeddingService) RemoveGarment(ctx context.Context, garmentID string) error {
	if err := s.repo.DeleteForGarment(ctx, garmentID); err != nil {
		return err
	}
	if err := s.garmentIndex.Delete(ctx, garmentID); err != nil {
		logger.CtxWarn(ctx, "removing garment %s from index failed: %v", garmentID, err)
	}
	return nil
}
