package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/maya/rewear/internal/domain"
	"gorm.io/gorm"
)

// ActivityRepository is the append-only sink for AI activity log entries.
type ActivityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *gorm.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Append inserts one immutable log entry. Entries are never updated or
// deleted by this service.
func (r *ActivityRepository) Append(ctx context.Context, entry *domain.AIActivityLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(entry).Error
}

// ActivityQuery filters the audit trail. Zero values mean "no filter".
type ActivityQuery struct {
	UserID string
	Kind   domain.ActivityKind
	From   time.Time
	To     time.Time
	Limit  int
}

// Query returns log entries matching the filters, newest first.
func (r *ActivityRepository) Query(ctx context.Context, q ActivityQuery) ([]domain.AIActivityLog, error) {
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	tx := r.db.WithContext(ctx).Model(&domain.AIActivityLog{})
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	if q.Kind != "" {
		tx = tx.Where("kind = ?", q.Kind)
	}
	if !q.From.IsZero() {
		tx = tx.Where("created_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		tx = tx.Where("created_at < ?", q.To)
	}

	var entries []domain.AIActivityLog
	err := tx.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
