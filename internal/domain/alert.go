package domain

import (
	"time"

	"github.com/maya/rewear/internal/apperr"
)

// MatchMode selects which similarity signals an alert is scored with.
type MatchMode string

const (
	MatchModeText   MatchMode = "text"
	MatchModeImage  MatchMode = "image"
	MatchModeHybrid MatchMode = "hybrid"
)

// IsValid reports whether the mode is one of the three known values.
func (m MatchMode) IsValid() bool {
	switch m {
	case MatchModeText, MatchModeImage, MatchModeHybrid:
		return true
	}
	return false
}

// SearchAlert is a saved "keep an eye out" request: a user description turned
// into a text embedding, optionally a reference-image embedding, plus metadata
// filters that gate acceptance regardless of similarity.
type SearchAlert struct {
	ID          string `gorm:"type:text;primaryKey" json:"id"`
	UserID      string `gorm:"type:text;not null;index:idx_alerts_user" json:"user_id"`
	Description string `gorm:"type:text;not null" json:"description"`

	TextEmbedding  Vector    `gorm:"type:text;not null" json:"text_embedding"`
	ImageEmbedding Vector    `gorm:"type:text" json:"image_embedding,omitempty"`
	MatchMode      MatchMode `gorm:"type:text;not null;default:text" json:"match_mode"`
	ModelVersion   string    `gorm:"type:text" json:"model_version"`

	SimilarityThreshold float64 `gorm:"not null" json:"similarity_threshold"`

	// Metadata filters. Nil / empty means the filter is not applied.
	MaxPrice     *float64       `json:"max_price,omitempty"`
	Category     string         `gorm:"type:text" json:"category,omitempty"`
	ConditionMin ConditionGrade `gorm:"type:text" json:"condition_min,omitempty"`
	Size         string         `gorm:"type:text" json:"size,omitempty"`

	// Reference image uploaded with the alert, kept in object storage so the
	// audit trail can reconstruct what the user asked for.
	ReferenceImageKey string `gorm:"type:text" json:"reference_image_key,omitempty"`

	NotificationEnabled bool       `gorm:"default:true" json:"notification_enabled"`
	IsActive            bool       `gorm:"default:true;index:idx_alerts_active" json:"is_active"`
	MatchesFound        int        `gorm:"default:0" json:"matches_found"`
	LastMatchAt         *time.Time `json:"last_match_at,omitempty"`
	LastNotifiedAt      *time.Time `json:"last_notified_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for SearchAlert.
func (SearchAlert) TableName() string {
	return "search_alerts"
}

// Validate enforces the mode/embedding invariants and value ranges before an
// alert is persisted.
func (a *SearchAlert) Validate() error {
	if a.UserID == "" {
		return apperr.Validationf("user_id is required")
	}
	if !a.MatchMode.IsValid() {
		return apperr.Validationf("unknown match_mode %q", a.MatchMode)
	}
	if a.SimilarityThreshold < 0 || a.SimilarityThreshold > 1 {
		return apperr.Validationf("similarity_threshold %v outside [0,1]", a.SimilarityThreshold)
	}
	if len(a.TextEmbedding) != EmbeddingDimension {
		return apperr.Dimensionf(EmbeddingDimension, len(a.TextEmbedding))
	}
	switch a.MatchMode {
	case MatchModeImage, MatchModeHybrid:
		if len(a.ImageEmbedding) == 0 {
			return apperr.Validationf("match_mode %q requires an image embedding", a.MatchMode)
		}
	}
	if len(a.ImageEmbedding) != 0 && len(a.ImageEmbedding) != EmbeddingDimension {
		return apperr.Dimensionf(EmbeddingDimension, len(a.ImageEmbedding))
	}
	if a.ConditionMin != "" && !a.ConditionMin.IsValid() {
		return apperr.Validationf("unknown condition_min %q", a.ConditionMin)
	}
	if a.MaxPrice != nil && *a.MaxPrice < 0 {
		return apperr.Validationf("max_price must be non-negative")
	}
	return nil
}
