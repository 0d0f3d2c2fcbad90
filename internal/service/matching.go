package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/index"
	"github.com/maya/rewear/internal/logger"
	"github.com/maya/rewear/internal/repository"
)

// TriggerKind distinguishes the two symmetric entry points into matching.
type TriggerKind string

const (
	TriggerGarmentChanged TriggerKind = "garment_changed"
	TriggerAlertChanged   TriggerKind = "alert_changed"
)

// Trigger is one independent unit of matching work.
type Trigger struct {
	ID        string
	Kind      TriggerKind
	GarmentID string
	AlertID   string
	attempts  int
}

// Store interfaces the engine depends on. The repositories satisfy them; the
// tests use in-memory fakes.
type engineAlertStore interface {
	GetByID(ctx context.Context, id string) (*domain.SearchAlert, error)
	GetByIDs(ctx context.Context, ids []string) ([]domain.SearchAlert, error)
	ListActive(ctx context.Context) ([]domain.SearchAlert, error)
	RecordMatchFound(ctx context.Context, id string, at time.Time) error
}

type engineGarmentStore interface {
	GetByID(ctx context.Context, id string) (*domain.Garment, error)
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Garment, error)
}

type engineEmbeddingStore interface {
	GetByGarment(ctx context.Context, garmentID string) ([]domain.GarmentEmbedding, error)
}

type engineMatchStore interface {
	Upsert(ctx context.Context, match *domain.SearchAlertMatch) (repository.UpsertOutcome, error)
}

// MatchingConfig tunes the engine's worker pool and candidate retrieval.
type MatchingConfig struct {
	Workers   int
	TopK      int
	QueueSize int
	// RetryDelay spaces out re-enqueues after an IndexUnavailable error.
	RetryDelay time.Duration
	MaxRetries int
}

// MatchingEngine evaluates garment-changed and alert-changed triggers against
// the opposite corpus and upserts accepted matches. Triggers are independent
// units of work dispatched to a bounded worker pool.
type MatchingEngine struct {
	alerts     engineAlertStore
	garments   engineGarmentStore
	embeddings engineEmbeddingStore
	matches    engineMatchStore

	garmentIndex index.Index
	alertIndex   index.Index

	activity *ActivityLogger
	logger   *logger.Logger

	workers    int
	topK       int
	retryDelay time.Duration
	maxRetries int

	queue   chan Trigger
	wg      sync.WaitGroup
	retryWg sync.WaitGroup
}

// NewMatchingEngine wires the engine. garmentIndex holds garment scoring
// vectors keyed by garment ID; alertIndex holds alert query vectors keyed by
// alert ID.
func NewMatchingEngine(
	alerts engineAlertStore,
	garments engineGarmentStore,
	embeddings engineEmbeddingStore,
	matches engineMatchStore,
	garmentIndex index.Index,
	alertIndex index.Index,
	activity *ActivityLogger,
	log *logger.Logger,
	cfg *MatchingConfig,
) *MatchingEngine {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 200
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	retryDelay := cfg.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 5 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 10
	}

	return &MatchingEngine{
		alerts:       alerts,
		garments:     garments,
		embeddings:   embeddings,
		matches:      matches,
		garmentIndex: garmentIndex,
		alertIndex:   alertIndex,
		activity:     activity,
		logger:       log,
		workers:      workers,
		topK:         topK,
		retryDelay:   retryDelay,
		maxRetries:   maxRetries,
		queue:        make(chan Trigger, queueSize),
	}
}

// Start launches the worker pool. Workers run until ctx is cancelled.
func (e *MatchingEngine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case trig := <-e.queue:
					e.process(ctx, trig)
				}
			}
		}()
	}
}

// Wait blocks until all workers and pending retry timers have exited.
func (e *MatchingEngine) Wait() {
	e.wg.Wait()
	e.retryWg.Wait()
}

// EnqueueGarmentChanged schedules matching for a garment whose embedding
// changed.
func (e *MatchingEngine) EnqueueGarmentChanged(ctx context.Context, garmentID string) error {
	return e.enqueue(ctx, Trigger{
		ID:        uuid.NewString(),
		Kind:      TriggerGarmentChanged,
		GarmentID: garmentID,
	})
}

// EnqueueAlertChanged schedules matching for a created or edited alert
// against the full embedding corpus.
func (e *MatchingEngine) EnqueueAlertChanged(ctx context.Context, alertID string) error {
	return e.enqueue(ctx, Trigger{
		ID:      uuid.NewString(),
		Kind:    TriggerAlertChanged,
		AlertID: alertID,
	})
}

func (e *MatchingEngine) enqueue(ctx context.Context, trig Trigger) error {
	select {
	case e.queue <- trig:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// process evaluates one trigger and records an activity entry for the run.
func (e *MatchingEngine) process(ctx context.Context, trig Trigger) {
	start := time.Now()
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldTriggerID: trig.ID,
		logger.FieldComponent: "matching_engine",
	})

	var accepted int
	var err error
	switch trig.Kind {
	case TriggerGarmentChanged:
		accepted, err = e.evaluateGarment(ctx, trig.GarmentID)
	case TriggerAlertChanged:
		accepted, err = e.evaluateAlert(ctx, trig.AlertID)
	default:
		err = fmt.Errorf("unknown trigger kind %q", trig.Kind)
	}

	if errors.Is(err, apperr.ErrIndexUnavailable) {
		// Matching for this trigger is deferred, not dropped.
		e.retry(ctx, trig, err)
		return
	}

	entry := &domain.AIActivityLog{
		Kind:             domain.ActivityMatchRun,
		CorrelationID:    trig.ID,
		ProcessingTimeMs: time.Since(start).Milliseconds(),
		Success:          err == nil,
	}
	if err != nil {
		entry.ErrorMessage = err.Error()
		logger.CtxError(ctx, "matching trigger failed: %v", err)
	}
	e.activity.Record(entry)

	if err == nil && accepted > 0 {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldCount:      accepted,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).Info("matching trigger accepted candidates")
	}
}

// RunAlertPass evaluates one alert synchronously against the whole corpus and
// returns the number of accepted candidates. The rematch CLI drives backfills
// through this instead of the queue.
func (e *MatchingEngine) RunAlertPass(ctx context.Context, alertID string) (int, error) {
	return e.evaluateAlert(ctx, alertID)
}

// retry re-enqueues a deferred trigger after a delay, up to maxRetries.
func (e *MatchingEngine) retry(ctx context.Context, trig Trigger, cause error) {
	trig.attempts++
	if trig.attempts > e.maxRetries {
		logger.CtxError(ctx, "dropping trigger after %d index retries: %v", e.maxRetries, cause)
		e.activity.Record(&domain.AIActivityLog{
			Kind:          domain.ActivityMatchRun,
			CorrelationID: trig.ID,
			Success:       false,
			ErrorMessage:  fmt.Sprintf("index unavailable after %d retries: %v", e.maxRetries, cause),
		})
		return
	}
	logger.CtxWarn(ctx, "index unavailable, deferring trigger (attempt %d): %v", trig.attempts, cause)

	// Deferred triggers get their own WaitGroup: an Add on the worker group
	// could race a concurrent Wait during shutdown.
	e.retryWg.Add(1)
	go func() {
		defer e.retryWg.Done()
		select {
		case <-ctx.Done():
		case <-time.After(e.retryDelay):
			select {
			case e.queue <- trig:
			case <-ctx.Done():
			}
		}
	}()
}

// evaluateGarment scores one garment's embeddings against candidate active
// alerts.
func (e *MatchingEngine) evaluateGarment(ctx context.Context, garmentID string) (int, error) {
	garment, err := e.garments.GetByID(ctx, garmentID)
	if err != nil {
		return 0, err
	}
	if garment.Status != domain.GarmentStatusActive {
		return 0, nil
	}

	embs, err := e.embeddings.GetByGarment(ctx, garmentID)
	if err != nil {
		return 0, err
	}
	signals := splitSignals(embs)
	query := signals.primaryImage
	if query == nil {
		query = signals.textProxy
	}
	if query == nil {
		return 0, nil
	}

	candidates, err := e.candidateAlerts(ctx, query)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for i := range candidates {
		alert := &candidates[i]
		if !alert.IsActive {
			continue
		}
		if alert.UserID == garment.OwnerID {
			// Never alert a seller about their own listing.
			continue
		}
		ok, evalErr := e.scoreAndUpsert(ctx, alert, garment, signals)
		if evalErr != nil {
			e.isolateScoringError(ctx, alert.ID, garment.ID, evalErr)
			continue
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// candidateAlerts retrieves candidate alerts for a garment vector via the
// alert index, falling back to the full active pool while the index is still
// empty (e.g. before the first rebuild).
func (e *MatchingEngine) candidateAlerts(ctx context.Context, query []float32) ([]domain.SearchAlert, error) {
	hits, err := e.alertIndex.Query(ctx, query, e.topK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return e.alerts.ListActive(ctx)
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	return e.alerts.GetByIDs(ctx, ids)
}

// evaluateAlert scores one alert against candidate garments from the
// embedding corpus.
func (e *MatchingEngine) evaluateAlert(ctx context.Context, alertID string) (int, error) {
	alert, err := e.alerts.GetByID(ctx, alertID)
	if err != nil {
		return 0, err
	}
	if !alert.IsActive {
		// Deactivation between enqueue and evaluation: complete as a no-op.
		return 0, nil
	}

	query := alert.TextEmbedding
	if alert.MatchMode == domain.MatchModeImage {
		query = alert.ImageEmbedding
	}

	hits, err := e.garmentIndex.Query(ctx, query, e.topK)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 {
		return 0, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	garments, err := e.garments.GetByIDs(ctx, ids)
	if err != nil {
		return 0, err
	}

	accepted := 0
	for _, id := range ids {
		garment, ok := garments[id]
		if !ok || garment.Status != domain.GarmentStatusActive {
			continue
		}
		if alert.UserID == garment.OwnerID {
			continue
		}
		embs, embErr := e.embeddings.GetByGarment(ctx, id)
		if embErr != nil {
			e.isolateScoringError(ctx, alert.ID, id, embErr)
			continue
		}
		ok, evalErr := e.scoreAndUpsert(ctx, alert, garment, splitSignals(embs))
		if evalErr != nil {
			e.isolateScoringError(ctx, alert.ID, id, evalErr)
			continue
		}
		if ok {
			accepted++
		}
	}
	return accepted, nil
}

// scoreAndUpsert applies the acceptance rule and records the match. Returns
// true when the candidate was accepted (created or improved an existing row).
func (e *MatchingEngine) scoreAndUpsert(ctx context.Context, alert *domain.SearchAlert, garment *domain.Garment, signals garmentSignals) (bool, error) {
	eval, accepted, err := evaluatePair(alert, garment, signals)
	if err != nil || !accepted {
		return false, err
	}

	outcome, err := e.matches.Upsert(ctx, &domain.SearchAlertMatch{
		AlertID:         alert.ID,
		GarmentID:       garment.ID,
		SimilarityScore: eval.Score,
		MatchReasons:    eval.Reasons,
	})
	if err != nil {
		return false, err
	}
	if outcome == repository.UpsertCreated {
		if err := e.alerts.RecordMatchFound(ctx, alert.ID, time.Now().UTC()); err != nil {
			logger.CtxWarn(ctx, "failed to bump matches_found for alert %s: %v", alert.ID, err)
		}
	}
	return outcome != repository.UpsertUnchanged, nil
}

// isolateScoringError logs one bad candidate and moves on. A malformed stored
// vector must never abort the rest of the candidate set.
func (e *MatchingEngine) isolateScoringError(ctx context.Context, alertID, garmentID string, err error) {
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldAlertID:   alertID,
		logger.FieldGarmentID: garmentID,
	}).WithError(err).Warn("skipping candidate after scoring error")
	e.activity.Record(&domain.AIActivityLog{
		Kind:         domain.ActivityScoringError,
		Success:      false,
		ErrorMessage: fmt.Sprintf("alert %s garment %s: %v", alertID, garmentID, err),
	})
}
