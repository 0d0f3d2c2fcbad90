package repository

import (
	"context"
	"errors"
	"time"

	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GarmentRepository handles garment data operations.
type GarmentRepository struct {
	db *gorm.DB
}

// NewGarmentRepository creates a new GarmentRepository.
func NewGarmentRepository(db *gorm.DB) *GarmentRepository {
	return &GarmentRepository{db: db}
}

// Upsert creates or updates a garment keyed by its ID. Mutating operations set
// their own updated_at; there are no database-side triggers.
func (r *GarmentRepository) Upsert(ctx context.Context, garment *domain.Garment) error {
	garment.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(garment).Error
}

// GetByID retrieves a garment by its ID.
func (r *GarmentRepository) GetByID(ctx context.Context, id string) (*domain.Garment, error) {
	var garment domain.Garment
	if err := r.db.WithContext(ctx).First(&garment, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("garment %s", id)
		}
		return nil, err
	}
	return &garment, nil
}

// GetByIDs retrieves garments for a set of IDs. Missing IDs are silently
// absent from the result.
func (r *GarmentRepository) GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Garment, error) {
	if len(ids) == 0 {
		return map[string]*domain.Garment{}, nil
	}
	var garments []domain.Garment
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&garments).Error; err != nil {
		return nil, err
	}
	out := make(map[string]*domain.Garment, len(garments))
	for i := range garments {
		out[garments[i].ID] = &garments[i]
	}
	return out, nil
}

// Delete removes a garment. Its embeddings are owned by the garment and are
// removed by the embedding store alongside this call.
func (r *GarmentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.Garment{}, "id = ?", id).Error
}
