package domain

import "time"

// ActivityKind identifies the AI-driven operation an audit entry belongs to.
type ActivityKind string

const (
	ActivityEmbeddingIngest ActivityKind = "embedding_ingest"
	ActivityAlertEncode     ActivityKind = "alert_encode"
	ActivityMatchRun        ActivityKind = "match_run"
	ActivityScoringError    ActivityKind = "scoring_error"
	ActivityNotification    ActivityKind = "notification"
)

// AIActivityLog is one immutable record of an AI-operation attempt. The core
// only ever appends; retention and purging live outside this service.
type AIActivityLog struct {
	ID            string       `gorm:"type:text;primaryKey" json:"id"`
	Kind          ActivityKind `gorm:"type:text;not null;index:idx_activity_kind" json:"kind"`
	UserID        string       `gorm:"type:text;index:idx_activity_user" json:"user_id,omitempty"`
	CorrelationID string       `gorm:"type:text" json:"correlation_id,omitempty"`

	TokensUsed       int      `json:"tokens_used"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
	Confidence       *float64 `json:"confidence,omitempty"`

	Success      bool   `json:"success"`
	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt time.Time `gorm:"index:idx_activity_created" json:"created_at"`
}

// TableName returns the database table name for AIActivityLog.
func (AIActivityLog) TableName() string {
	return "ai_activity_log"
}
