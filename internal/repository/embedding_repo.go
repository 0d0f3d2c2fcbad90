package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EmbeddingRepository persists per-garment embedding vectors.
type EmbeddingRepository struct {
	db *gorm.DB
}

// NewEmbeddingRepository creates a new EmbeddingRepository.
func NewEmbeddingRepository(db *gorm.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Put validates and stores an embedding for (garment, image ordinal). When the
// record is flagged primary, any previous primary for the garment is cleared
// in the same transaction so at most one primary exists.
func (r *EmbeddingRepository) Put(ctx context.Context, emb *domain.GarmentEmbedding) error {
	if len(emb.Vector) != domain.EmbeddingDimension {
		return apperr.Dimensionf(domain.EmbeddingDimension, len(emb.Vector))
	}
	if emb.GarmentID == "" {
		return apperr.Validationf("garment_id is required")
	}
	if emb.ID == "" {
		emb.ID = uuid.NewString()
	}
	emb.UpdatedAt = time.Now().UTC()

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if emb.IsPrimary {
			if err := tx.Model(&domain.GarmentEmbedding{}).
				Where("garment_id = ? AND is_primary = ?", emb.GarmentID, true).
				Update("is_primary", false).Error; err != nil {
				return err
			}
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "garment_id"}, {Name: "image_ordinal"}},
			UpdateAll: true,
		}).Create(emb).Error
	})
}

// GetPrimary returns the primary embedding for a garment.
func (r *EmbeddingRepository) GetPrimary(ctx context.Context, garmentID string) (*domain.GarmentEmbedding, error) {
	var emb domain.GarmentEmbedding
	err := r.db.WithContext(ctx).
		First(&emb, "garment_id = ? AND is_primary = ?", garmentID, true).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("primary embedding for garment %s", garmentID)
		}
		return nil, err
	}
	return &emb, nil
}

// GetByGarment returns all embeddings stored for a garment, primary first.
func (r *EmbeddingRepository) GetByGarment(ctx context.Context, garmentID string) ([]domain.GarmentEmbedding, error) {
	var embs []domain.GarmentEmbedding
	err := r.db.WithContext(ctx).
		Where("garment_id = ?", garmentID).
		Order("is_primary DESC, image_ordinal ASC").
		Find(&embs).Error
	return embs, err
}

// ListScoring streams all scoring-relevant embeddings (primary images and
// text proxies) in pages, for index rebuilds and full matching passes. Rows
// are ordered so a garment's text proxy precedes its primary image; an index
// rebuild that upserts in order ends up with the primary vector. fn is called
// once per page; returning an error stops the scan.
func (r *EmbeddingRepository) ListScoring(ctx context.Context, pageSize int, fn func([]domain.GarmentEmbedding) error) error {
	if pageSize <= 0 {
		pageSize = 500
	}
	offset := 0
	for {
		var page []domain.GarmentEmbedding
		err := r.db.WithContext(ctx).
			Where("is_primary = ? OR image_ordinal = ?", true, domain.TextProxyOrdinal).
			Order("garment_id ASC, image_ordinal ASC").
			Limit(pageSize).Offset(offset).
			Find(&page).Error
		if err != nil {
			return err
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		if len(page) < pageSize {
			return nil
		}
		offset += pageSize
	}
}

// DeleteForGarment removes all embeddings owned by a garment.
func (r *EmbeddingRepository) DeleteForGarment(ctx context.Context, garmentID string) error {
	return r.db.WithContext(ctx).
		Delete(&domain.GarmentEmbedding{}, "garment_id = ?", garmentID).Error
}
