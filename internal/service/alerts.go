package service

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/index"
	"github.com/maya/rewear/internal/logger"
	"github.com/maya/rewear/internal/storage"
)

// DefaultSimilarityThreshold applies when an alert is created without an
// explicit threshold.
const DefaultSimilarityThreshold = 0.72

type alertRepo interface {
	Create(ctx context.Context, alert *domain.SearchAlert) error
	Update(ctx context.Context, alert *domain.SearchAlert) error
	GetByID(ctx context.Context, id string) (*domain.SearchAlert, error)
	ListForUser(ctx context.Context, userID string) ([]domain.SearchAlert, error)
	Deactivate(ctx context.Context, id string) error
}

type alertTriggerEnqueuer interface {
	EnqueueAlertChanged(ctx context.Context, alertID string) error
}

// AlertService owns the search-alert lifecycle: encoding descriptions and
// reference images, persisting, indexing, and triggering match runs.
type AlertService struct {
	repo       alertRepo
	encoder    Encoder
	storage    storage.ObjectStorage
	alertIndex index.Index
	engine     alertTriggerEnqueuer
	activity   *ActivityLogger
	logger     *logger.Logger
}

// NewAlertService wires the alert lifecycle.
func NewAlertService(
	repo alertRepo,
	encoder Encoder,
	store storage.ObjectStorage,
	alertIndex index.Index,
	engine alertTriggerEnqueuer,
	activity *ActivityLogger,
	log *logger.Logger,
) *AlertService {
	return &AlertService{
		repo:       repo,
		encoder:    encoder,
		storage:    store,
		alertIndex: alertIndex,
		engine:     engine,
		activity:   activity,
		logger:     log,
	}
}

// CreateAlertInput carries everything a caller may supply for a new alert.
// Embeddings are optional; absent ones are produced by the encoder.
type CreateAlertInput struct {
	UserID      string
	Description string
	MatchMode   domain.MatchMode

	SimilarityThreshold *float64

	MaxPrice     *float64
	Category     string
	ConditionMin domain.ConditionGrade
	Size         string

	TextEmbedding  []float32
	ImageEmbedding []float32
	ReferenceImage []byte

	NotificationEnabled bool
}

// Create encodes, validates, persists, and indexes a new alert, then queues
// an initial match run over the existing catalog.
func (s *AlertService) Create(ctx context.Context, input *CreateAlertInput) (*domain.SearchAlert, error) {
	if input.Description == "" {
		return nil, apperr.Validationf("description is required")
	}

	mode := input.MatchMode
	if mode == "" {
		mode = domain.MatchModeText
	}
	threshold := DefaultSimilarityThreshold
	if input.SimilarityThreshold != nil {
		threshold = *input.SimilarityThreshold
	}

	alert := &domain.SearchAlert{
		ID:                  uuid.NewString(),
		UserID:              input.UserID,
		Description:         input.Description,
		MatchMode:           mode,
		SimilarityThreshold: threshold,
		MaxPrice:            input.MaxPrice,
		Category:            input.Category,
		ConditionMin:        input.ConditionMin,
		Size:                input.Size,
		TextEmbedding:       input.TextEmbedding,
		ImageEmbedding:      input.ImageEmbedding,
		NotificationEnabled: input.NotificationEnabled,
		IsActive:            true,
	}

	if err := s.encodeAlert(ctx, alert, input.ReferenceImage); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, alert); err != nil {
		return nil, err
	}

	s.indexAlert(ctx, alert)

	if err := s.engine.EnqueueAlertChanged(ctx, alert.ID); err != nil {
		logger.CtxWarn(ctx, "enqueueing initial match run for alert %s failed: %v", alert.ID, err)
	}

	return alert, nil
}

// UpdateAlertInput carries the mutable alert fields. Nil pointers leave the
// stored value untouched; a non-nil pointer overwrites it.
type UpdateAlertInput struct {
	Description *string
	MatchMode   *domain.MatchMode

	SimilarityThreshold *float64

	MaxPrice       *float64
	MaxPriceSet    bool
	Category       *string
	ConditionMin   *domain.ConditionGrade
	Size           *string
	ReferenceImage []byte

	NotificationEnabled *bool
	IsActive            *bool
}

// Update applies partial changes to an alert. A changed description is
// re-encoded; any change that affects scoring (embeddings, mode, threshold,
// filters) re-indexes the alert and queues a fresh match run, as does
// reactivating a previously deactivated alert.
func (s *AlertService) Update(ctx context.Context, id string, input *UpdateAlertInput) (*domain.SearchAlert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rescoring := false

	if input.Description != nil && *input.Description != alert.Description {
		alert.Description = *input.Description
		alert.TextEmbedding = nil
		rescoring = true
	}
	if input.MatchMode != nil && *input.MatchMode != alert.MatchMode {
		alert.MatchMode = *input.MatchMode
		rescoring = true
	}
	if input.SimilarityThreshold != nil && *input.SimilarityThreshold != alert.SimilarityThreshold {
		alert.SimilarityThreshold = *input.SimilarityThreshold
		rescoring = true
	}
	if input.MaxPriceSet {
		alert.MaxPrice = input.MaxPrice
		rescoring = true
	}
	if input.Category != nil && *input.Category != alert.Category {
		alert.Category = *input.Category
		rescoring = true
	}
	if input.ConditionMin != nil && *input.ConditionMin != alert.ConditionMin {
		alert.ConditionMin = *input.ConditionMin
		rescoring = true
	}
	if input.Size != nil && *input.Size != alert.Size {
		alert.Size = *input.Size
		rescoring = true
	}
	if len(input.ReferenceImage) > 0 {
		alert.ImageEmbedding = nil
		rescoring = true
	}
	if input.NotificationEnabled != nil {
		alert.NotificationEnabled = *input.NotificationEnabled
	}
	if input.IsActive != nil {
		// Reactivation must restore the index entry deleted on deactivation,
		// and a fresh pass picks up garments listed in the meantime.
		if *input.IsActive && !alert.IsActive {
			rescoring = true
		}
		alert.IsActive = *input.IsActive
	}

	if err := s.encodeAlert(ctx, alert, input.ReferenceImage); err != nil {
		return nil, err
	}

	if err := s.repo.Update(ctx, alert); err != nil {
		return nil, err
	}

	if !alert.IsActive {
		if err := s.alertIndex.Delete(ctx, alert.ID); err != nil {
			logger.CtxWarn(ctx, "removing alert %s from index failed: %v", alert.ID, err)
		}
		return alert, nil
	}

	if rescoring {
		s.indexAlert(ctx, alert)
		if err := s.engine.EnqueueAlertChanged(ctx, alert.ID); err != nil {
			logger.CtxWarn(ctx, "enqueueing match run for alert %s failed: %v", alert.ID, err)
		}
	}

	return alert, nil
}

// Get returns one alert owned by userID.
func (s *AlertService) Get(ctx context.Context, userID, id string) (*domain.SearchAlert, error) {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if alert.UserID != userID {
		return nil, apperr.NotFoundf("alert %s", id)
	}
	return alert, nil
}

// ListForUser returns all alerts belonging to a user, newest first.
func (s *AlertService) ListForUser(ctx context.Context, userID string) ([]domain.SearchAlert, error) {
	return s.repo.ListForUser(ctx, userID)
}

// Deactivate soft-deletes an alert and drops it from the similarity index.
// Existing matches and activity entries are kept.
func (s *AlertService) Deactivate(ctx context.Context, userID, id string) error {
	alert, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if alert.UserID != userID {
		return apperr.NotFoundf("alert %s", id)
	}
	if err := s.repo.Deactivate(ctx, id); err != nil {
		return err
	}
	if err := s.alertIndex.Delete(ctx, id); err != nil {
		logger.CtxWarn(ctx, "removing alert %s from index failed: %v", id, err)
	}
	return nil
}

// encodeAlert fills in missing embeddings and stores the reference image.
// Supplied embeddings are trusted as-is; only absent ones hit the encoder.
func (s *AlertService) encodeAlert(ctx context.Context, alert *domain.SearchAlert, referenceImage []byte) error {
	start := time.Now()
	tokens := 0

	if len(alert.TextEmbedding) == 0 {
		res, err := s.encoder.EncodeText(ctx, alert.Description)
		if err != nil {
			s.recordEncode(alert, tokens, start, err)
			return fmt.Errorf("failed to encode alert description: %w", err)
		}
		alert.TextEmbedding = res.Vector
		alert.ModelVersion = s.encoder.ModelVersion()
		tokens += res.TokensUsed
	}

	if len(referenceImage) > 0 {
		if _, err := AnalyzeImage(referenceImage); err != nil {
			return apperr.Validationf("reference image is not a decodable image: %v", err)
		}
		key := fmt.Sprintf("alerts/%s/reference", alert.ID)
		if err := s.storage.Upload(ctx, key, bytes.NewReader(referenceImage), int64(len(referenceImage)), "application/octet-stream"); err != nil {
			return fmt.Errorf("failed to store reference image: %w", err)
		}
		alert.ReferenceImageKey = key

		if len(alert.ImageEmbedding) == 0 {
			res, err := s.encoder.EncodeImage(ctx, referenceImage)
			if err != nil {
				s.recordEncode(alert, tokens, start, err)
				return fmt.Errorf("failed to encode reference image: %w", err)
			}
			alert.ImageEmbedding = res.Vector
			alert.ModelVersion = s.encoder.ModelVersion()
			tokens += res.TokensUsed
		}
	}

	if tokens > 0 {
		s.recordEncode(alert, tokens, start, nil)
	}
	return nil
}

func (s *AlertService) recordEncode(alert *domain.SearchAlert, tokens int, start time.Time, cause error) {
	entry := &domain.AIActivityLog{
		Kind:             domain.ActivityAlertEncode,
		UserID:           alert.UserID,
		CorrelationID:    alert.ID,
		TokensUsed:       tokens,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Success:          cause == nil,
	}
	if cause != nil {
		entry.ErrorMessage = cause.Error()
	}
	s.activity.Record(entry)
}

// indexAlert writes the alert's query vector into the similarity index:
// image-mode alerts are retrieved by their reference-image embedding, all
// others by the text embedding.
func (s *AlertService) indexAlert(ctx context.Context, alert *domain.SearchAlert) {
	vec := alert.TextEmbedding
	if alert.MatchMode == domain.MatchModeImage && len(alert.ImageEmbedding) != 0 {
		vec = alert.ImageEmbedding
	}
	if err := s.alertIndex.Upsert(ctx, alert.ID, vec); err != nil {
		logger.CtxWarn(ctx, "indexing alert %s failed: %v", alert.ID, err)
	}
}
