package domain

import "time"

// NotificationState tracks delivery progress of a match.
// Transitions: unsent -> sent -> read -> clicked. Read and clicked are
// optional terminals; clicked implies read.
type NotificationState string

const (
	NotificationUnsent  NotificationState = "unsent"
	NotificationSent    NotificationState = "sent"
	NotificationRead    NotificationState = "read"
	NotificationClicked NotificationState = "clicked"
)

// Match reason tags recorded when a candidate is accepted. The order
// signals-first, filters-after is stable across evaluations.
const (
	ReasonTextSimilarity  = "text_similarity"
	ReasonImageSimilarity = "image_similarity"
	ReasonCategoryMatch   = "category_match"
	ReasonConditionMatch  = "condition_match"
	ReasonPriceMatch      = "price_match"
	ReasonSizeMatch       = "size_match"
)

// SearchAlertMatch records that a garment satisfied an alert. There is at most
// one row per (alert, garment) pair; re-evaluation updates the row in place
// only when the new score is strictly higher, and never touches the
// notification state.
type SearchAlertMatch struct {
	ID        string `gorm:"type:text;primaryKey" json:"id"`
	AlertID   string `gorm:"type:text;not null;uniqueIndex:idx_matches_pair;index:idx_matches_alert" json:"alert_id"`
	GarmentID string `gorm:"type:text;not null;uniqueIndex:idx_matches_pair" json:"garment_id"`

	SimilarityScore float64     `gorm:"not null" json:"similarity_score"`
	MatchReasons    StringArray `gorm:"type:text" json:"match_reasons"`

	State        NotificationState `gorm:"type:text;default:unsent;index:idx_matches_state" json:"state"`
	SentAt       *time.Time        `json:"notification_sent_at,omitempty"`
	ReadAt       *time.Time        `json:"read_at,omitempty"`
	ClickedAt    *time.Time        `json:"clicked_at,omitempty"`
	DeliveryNote string            `gorm:"type:text" json:"delivery_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SearchAlertMatch.
func (SearchAlertMatch) TableName() string {
	return "search_alert_matches"
}
