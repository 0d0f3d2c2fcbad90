package domain

import "time"

// TextProxyOrdinal is the reserved image ordinal for the text-derived proxy
// embedding of a garment. Ordinals from one upward are image embeddings.
const TextProxyOrdinal = 0

// GarmentEmbedding holds one vector computed for a garment image (or for the
// garment's text description when ImageOrdinal is zero and the pipeline ran in
// text mode). At most one embedding per garment carries IsPrimary; the primary
// vector is the one alerts are scored against.
type GarmentEmbedding struct {
	ID           string    `gorm:"type:text;primaryKey" json:"id"`
	GarmentID    string    `gorm:"type:text;not null;index:idx_embeddings_garment;uniqueIndex:idx_embeddings_garment_ordinal" json:"garment_id"`
	ImageOrdinal int       `gorm:"not null;default:0;uniqueIndex:idx_embeddings_garment_ordinal" json:"image_ordinal"`
	Vector       Vector    `gorm:"type:text;not null" json:"vector"`
	IsPrimary    bool      `gorm:"index:idx_embeddings_primary" json:"is_primary"`
	ModelVersion string    `gorm:"type:text;not null" json:"model_version"`
	// Quality scores are tie-breakers only; they never gate a match.
	BlurScore       float64   `json:"blur_score"`
	BrightnessScore float64   `json:"brightness_score"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TableName returns the database table name for GarmentEmbedding.
func (GarmentEmbedding) TableName() string {
	return "garment_embeddings"
}
