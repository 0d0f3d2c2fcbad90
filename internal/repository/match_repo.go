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

// UpsertOutcome reports what a match upsert did.
type UpsertOutcome int

const (
	// UpsertCreated means a new (alert, garment) row was inserted.
	UpsertCreated UpsertOutcome = iota
	// UpsertImproved means an existing row was updated with a strictly
	// higher score.
	UpsertImproved
	// UpsertUnchanged means the existing row already holds an equal or
	// higher score.
	UpsertUnchanged
)

// MatchRepository handles search alert match records.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new MatchRepository.
func NewMatchRepository(db *gorm.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Upsert records an accepted match. Two atomic conditional writes keep
// concurrent triggers for the same (alert, garment) pair from ever producing
// a duplicate row or a score regression: an insert that yields to existing
// rows, then an update guarded by a strictly-higher-score predicate.
// Notification state is never touched by re-evaluation.
func (r *MatchRepository) Upsert(ctx context.Context, match *domain.SearchAlertMatch) (UpsertOutcome, error) {
	if match.AlertID == "" || match.GarmentID == "" {
		return UpsertUnchanged, apperr.Validationf("alert_id and garment_id are required")
	}
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.State == "" {
		match.State = domain.NotificationUnsent
	}
	now := time.Now().UTC()
	match.UpdatedAt = now

	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "alert_id"}, {Name: "garment_id"}},
		DoNothing: true,
	}).Create(match)
	if res.Error != nil {
		return UpsertUnchanged, res.Error
	}
	if res.RowsAffected > 0 {
		return UpsertCreated, nil
	}

	res = r.db.WithContext(ctx).Model(&domain.SearchAlertMatch{}).
		Where("alert_id = ? AND garment_id = ? AND similarity_score < ?",
			match.AlertID, match.GarmentID, match.SimilarityScore).
		Updates(map[string]interface{}{
			"similarity_score": match.SimilarityScore,
			"match_reasons":    match.MatchReasons,
			"updated_at":       now,
		})
	if res.Error != nil {
		return UpsertUnchanged, res.Error
	}
	if res.RowsAffected > 0 {
		return UpsertImproved, nil
	}
	return UpsertUnchanged, nil
}

// GetByID retrieves a match by its ID.
func (r *MatchRepository) GetByID(ctx context.Context, id string) (*domain.SearchAlertMatch, error) {
	var match domain.SearchAlertMatch
	if err := r.db.WithContext(ctx).First(&match, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("match %s", id)
		}
		return nil, err
	}
	return &match, nil
}

// GetByPair retrieves the unique match for an (alert, garment) pair.
func (r *MatchRepository) GetByPair(ctx context.Context, alertID, garmentID string) (*domain.SearchAlertMatch, error) {
	var match domain.SearchAlertMatch
	err := r.db.WithContext(ctx).
		First(&match, "alert_id = ? AND garment_id = ?", alertID, garmentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFoundf("match for alert %s garment %s", alertID, garmentID)
		}
		return nil, err
	}
	return &match, nil
}

// ListByAlert returns an alert's matches ranked by score descending, breaking
// ties by garment creation time with the freshest listing first.
func (r *MatchRepository) ListByAlert(ctx context.Context, alertID string, limit int) ([]domain.SearchAlertMatch, error) {
	if limit <= 0 {
		limit = 50
	}
	var matches []domain.SearchAlertMatch
	err := r.db.WithContext(ctx).
		Joins("JOIN garments ON garments.id = search_alert_matches.garment_id").
		Where("search_alert_matches.alert_id = ?", alertID).
		Order("search_alert_matches.similarity_score DESC, garments.created_at DESC").
		Limit(limit).
		Find(&matches).Error
	return matches, err
}

// ListUnsentByAlert returns all unsent matches for one alert.
func (r *MatchRepository) ListUnsentByAlert(ctx context.Context, alertID string) ([]domain.SearchAlertMatch, error) {
	var matches []domain.SearchAlertMatch
	err := r.db.WithContext(ctx).
		Where("alert_id = ? AND state = ?", alertID, domain.NotificationUnsent).
		Order("created_at ASC").
		Find(&matches).Error
	return matches, err
}

// AlertIDsWithUnsent returns the distinct alert IDs that currently hold at
// least one unsent match.
func (r *MatchRepository) AlertIDsWithUnsent(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&domain.SearchAlertMatch{}).
		Distinct("alert_id").
		Where("state = ?", domain.NotificationUnsent).
		Pluck("alert_id", &ids).Error
	return ids, err
}

// MarkSent transitions a batch of matches to sent, recording the send time and
// an optional delivery note (set when retries were exhausted).
func (r *MatchRepository) MarkSent(ctx context.Context, ids []string, at time.Time, note string) error {
	if len(ids) == 0 {
		return nil
	}
	updates := map[string]interface{}{
		"state":      domain.NotificationSent,
		"sent_at":    at,
		"updated_at": at,
	}
	if note != "" {
		updates["delivery_note"] = note
	}
	return r.db.WithContext(ctx).Model(&domain.SearchAlertMatch{}).
		Where("id IN ? AND state = ?", ids, domain.NotificationUnsent).
		Updates(updates).Error
}

// MarkRead transitions a sent match to read.
func (r *MatchRepository) MarkRead(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.SearchAlertMatch{}).
		Where("id = ? AND state = ?", id, domain.NotificationSent).
		Updates(map[string]interface{}{
			"state":      domain.NotificationRead,
			"read_at":    now,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("sent match %s", id)
	}
	return nil
}

// MarkClicked transitions a match to clicked. A click implies the match was
// read, so read_at is backfilled if the read transition was skipped.
func (r *MatchRepository) MarkClicked(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.SearchAlertMatch{}).
		Where("id = ? AND state IN ?", id, []domain.NotificationState{
			domain.NotificationSent, domain.NotificationRead,
		}).
		Updates(map[string]interface{}{
			"state":      domain.NotificationClicked,
			"read_at":    gorm.Expr("COALESCE(read_at, ?)", now),
			"clicked_at": now,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.NotFoundf("deliverable match %s", id)
	}
	return nil
}
