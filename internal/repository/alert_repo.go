package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
	"gorm.io/gorm"
)

// AlertRepository handles saved search alerts.
type AlertRepository struct {
	db *gorm.DB
}

// NewAlertRepository creates a new AlertRepository.
func NewAlertRepository(db *gorm.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create validates and inserts a new alert, assigning its ID.
func (r *AlertRepository) Create(ctx context.Context, alert *domain.SearchAlert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	alert.IsActive = true
	return r.db.WithContext(ctx).Create(alert).Error
}

// Update re-validates and saves an existing alert.
func (r *AlertRepository) Update(ctx context.Context, alert *domain.SearchAlert) error {
	if err := alert.Validate(); err != nil {
		return err
	}
	alert.UpdatedAt = time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.SearchAlert{}).
		Where("id = ?", alert.ID).
		Select("*").Omit("id", "created_at", "matches_found", "last_match_at", "last_notified_at").
		Updates(alert)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("alert %s", alert.ID)
	}
	return nil
}

// GetByID retrieves an alert by its ID.
func (r *AlertRepository) GetByID(ctx context.Context, id string) (*domain.SearchAlert, error) {
	var alert domain.SearchAlert
	if err := r.db.WithContext(ctx).First(&alert, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("alert %s", id)
		}
		return nil, err
	}
	return &alert, nil
}

// ListActive returns all active alerts. The active pool is assumed small
// relative to the garment corpus; garment-changed triggers scan it in full.
func (r *AlertRepository) ListActive(ctx context.Context) ([]domain.SearchAlert, error) {
	var alerts []domain.SearchAlert
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Find(&alerts).Error
	return alerts, err
}

// GetByIDs returns the subset of alerts that exist for a set of IDs.
func (r *AlertRepository) GetByIDs(ctx context.Context, ids []string) ([]domain.SearchAlert, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var alerts []domain.SearchAlert
	err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&alerts).Error
	return alerts, err
}

// ListForUser returns a user's alerts, newest first. Deactivated alerts are
// included so match history stays reachable.
func (r *AlertRepository) ListForUser(ctx context.Context, userID string) ([]domain.SearchAlert, error) {
	var alerts []domain.SearchAlert
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&alerts).Error
	return alerts, err
}

// Deactivate soft-disables an alert. History is preserved; future matching
// against it becomes a no-op.
func (r *AlertRepository) Deactivate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&domain.SearchAlert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"is_active":  false,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("alert %s", id)
	}
	return nil
}

// RecordMatchFound bumps the monotonic matches_found counter and last_match_at.
func (r *AlertRepository) RecordMatchFound(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.SearchAlert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"matches_found": gorm.Expr("matches_found + 1"),
			"last_match_at": at,
			"updated_at":    at,
		}).Error
}

// RecordNotified sets last_notified_at after a successful burst.
func (r *AlertRepository) RecordNotified(ctx context.Context, id string, at time.Time) error {
	return r.db.WithContext(ctx).Model(&domain.SearchAlert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"last_notified_at": at,
			"updated_at":       at,
		}).Error
}
