package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/logger"
)

// Notification is one delivery burst: every new match for an alert since the
// last burst, batched into a single push.
type Notification struct {
	UserID           string             `json:"user_id"`
	AlertID          string             `json:"alert_id"`
	AlertDescription string             `json:"alert_description"`
	Items            []NotificationItem `json:"items"`
}

// NotificationItem is one matched garment inside a burst.
type NotificationItem struct {
	MatchID   string  `json:"match_id"`
	GarmentID string  `json:"garment_id"`
	Title     string  `json:"title"`
	Price     float64 `json:"price,omitempty"`
	Score     float64 `json:"score"`
}

// Sender delivers one notification burst to the user's device.
type Sender interface {
	Send(ctx context.Context, n *Notification) error
}

type dispatchAlertStore interface {
	GetByID(ctx context.Context, id string) (*domain.SearchAlert, error)
	RecordNotified(ctx context.Context, id string, at time.Time) error
}

type dispatchMatchStore interface {
	AlertIDsWithUnsent(ctx context.Context) ([]string, error)
	ListUnsentByAlert(ctx context.Context, alertID string) ([]domain.SearchAlertMatch, error)
	MarkSent(ctx context.Context, ids []string, at time.Time, note string) error
}

type dispatchGarmentStore interface {
	GetByIDs(ctx context.Context, ids []string) (map[string]*domain.Garment, error)
}

// DispatcherConfig tunes delivery policy.
type DispatcherConfig struct {
	DebounceWindow time.Duration
	CycleInterval  time.Duration
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

// retryState tracks delivery attempts for one alert between cycles.
type retryState struct {
	attempts    int
	nextAttempt time.Time
}

// Dispatcher decides whether and when to notify a user about new matches.
// Dispatch for a given alert is serialized; across alerts it runs in
// parallel.
type Dispatcher struct {
	alerts   dispatchAlertStore
	matches  dispatchMatchStore
	garments dispatchGarmentStore
	sender   Sender
	activity *ActivityLogger
	logger   *logger.Logger

	debounce    time.Duration
	cycle       time.Duration
	maxRetries  int
	baseBackoff time.Duration
	maxBackoff  time.Duration

	// alertMu serializes dispatch per alert ID.
	alertMu   sync.Map // map[string]*sync.Mutex
	retriesMu sync.Mutex
	retries   map[string]*retryState

	now func() time.Time
}

// NewDispatcher wires the dispatcher.
func NewDispatcher(
	alerts dispatchAlertStore,
	matches dispatchMatchStore,
	garments dispatchGarmentStore,
	sender Sender,
	activity *ActivityLogger,
	log *logger.Logger,
	cfg *DispatcherConfig,
) *Dispatcher {
	debounce := cfg.DebounceWindow
	if debounce <= 0 {
		debounce = time.Hour
	}
	cycle := cfg.CycleInterval
	if cycle <= 0 {
		cycle = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	baseBackoff := cfg.BaseBackoff
	if baseBackoff <= 0 {
		baseBackoff = time.Minute
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Minute
	}

	return &Dispatcher{
		alerts:      alerts,
		matches:     matches,
		garments:    garments,
		sender:      sender,
		activity:    activity,
		logger:      log,
		debounce:    debounce,
		cycle:       cycle,
		maxRetries:  maxRetries,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
		retries:     make(map[string]*retryState),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Run executes dispatch cycles until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cycle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.RunCycle(ctx)
		}
	}
}

// RunCycle processes every alert that currently holds unsent matches.
// Exported so the rematch CLI and tests can drive cycles directly.
func (d *Dispatcher) RunCycle(ctx context.Context) {
	alertIDs, err := d.matches.AlertIDsWithUnsent(ctx)
	if err != nil {
		logger.CtxError(ctx, "dispatch cycle: listing alerts with unsent matches: %v", err)
		return
	}

	var wg sync.WaitGroup
	for _, alertID := range alertIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			d.dispatchAlert(ctx, id)
		}(alertID)
	}
	wg.Wait()
}

// lockAlert returns the per-alert mutex, creating it on first use.
func (d *Dispatcher) lockAlert(alertID string) *sync.Mutex {
	mu, _ := d.alertMu.LoadOrStore(alertID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// dispatchAlert evaluates delivery policy for one alert and sends at most one
// burst.
func (d *Dispatcher) dispatchAlert(ctx context.Context, alertID string) {
	mu := d.lockAlert(alertID)
	mu.Lock()
	defer mu.Unlock()

	now := d.now()

	alert, err := d.alerts.GetByID(ctx, alertID)
	if err != nil {
		logger.CtxWarn(ctx, "dispatch: loading alert %s: %v", alertID, err)
		return
	}
	if !alert.IsActive || !alert.NotificationEnabled {
		return
	}
	if alert.LastNotifiedAt != nil && now.Sub(*alert.LastNotifiedAt) < d.debounce {
		return
	}
	if st := d.retryFor(alertID); st != nil && now.Before(st.nextAttempt) {
		return
	}

	unsent, err := d.matches.ListUnsentByAlert(ctx, alertID)
	if err != nil {
		logger.CtxWarn(ctx, "dispatch: listing unsent matches for alert %s: %v", alertID, err)
		return
	}
	if len(unsent) == 0 {
		return
	}

	notification, matchIDs := d.buildBurst(ctx, alert, unsent)

	if err := d.sender.Send(ctx, notification); err != nil {
		d.handleFailure(ctx, alert, matchIDs, err, now)
		return
	}

	if err := d.matches.MarkSent(ctx, matchIDs, now, ""); err != nil {
		logger.CtxError(ctx, "dispatch: marking matches sent for alert %s: %v", alertID, err)
		return
	}
	if err := d.alerts.RecordNotified(ctx, alertID, now); err != nil {
		logger.CtxWarn(ctx, "dispatch: recording last_notified_at for alert %s: %v", alertID, err)
	}
	d.clearRetry(alertID)

	d.activity.Record(&domain.AIActivityLog{
		Kind:          domain.ActivityNotification,
		UserID:        alert.UserID,
		CorrelationID: alertID,
		Success:       true,
	})
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldAlertID: alertID,
		logger.FieldCount:   len(matchIDs),
	}).Info("notification burst delivered")
}

// buildBurst assembles one notification covering all unsent matches.
func (d *Dispatcher) buildBurst(ctx context.Context, alert *domain.SearchAlert, unsent []domain.SearchAlertMatch) (*Notification, []string) {
	garmentIDs := make([]string, len(unsent))
	matchIDs := make([]string, len(unsent))
	for i := range unsent {
		garmentIDs[i] = unsent[i].GarmentID
		matchIDs[i] = unsent[i].ID
	}

	garments, err := d.garments.GetByIDs(ctx, garmentIDs)
	if err != nil {
		logger.CtxWarn(ctx, "dispatch: loading garments for burst: %v", err)
		garments = map[string]*domain.Garment{}
	}

	items := make([]NotificationItem, 0, len(unsent))
	for i := range unsent {
		item := NotificationItem{
			MatchID:   unsent[i].ID,
			GarmentID: unsent[i].GarmentID,
			Score:     unsent[i].SimilarityScore,
		}
		if g, ok := garments[unsent[i].GarmentID]; ok {
			item.Title = g.Title
			if g.Price != nil {
				item.Price = *g.Price
			}
		}
		items = append(items, item)
	}

	return &Notification{
		UserID:           alert.UserID,
		AlertID:          alert.ID,
		AlertDescription: alert.Description,
		Items:            items,
	}, matchIDs
}

// handleFailure applies exponential backoff and, past the retry limit, force-
// marks the matches sent with an error annotation so a dead delivery channel
// cannot cause an infinite retry storm.
func (d *Dispatcher) handleFailure(ctx context.Context, alert *domain.SearchAlert, matchIDs []string, sendErr error, now time.Time) {
	st := d.bumpRetry(alert.ID, now)

	d.activity.Record(&domain.AIActivityLog{
		Kind:          domain.ActivityNotification,
		UserID:        alert.UserID,
		CorrelationID: alert.ID,
		Success:       false,
		ErrorMessage:  sendErr.Error(),
	})

	if st.attempts <= d.maxRetries {
		logger.FromContext(ctx).WithFields(logger.Fields{
			logger.FieldAlertID: alert.ID,
			"attempt":           st.attempts,
			"next_attempt":      st.nextAttempt,
		}).WithError(sendErr).Warn("notification delivery failed, will retry")
		return
	}

	// Reportable anomaly, but non-fatal for the pipeline.
	note := fmt.Sprintf("delivery abandoned after %d attempts: %v", d.maxRetries, sendErr)
	if err := d.matches.MarkSent(ctx, matchIDs, now, note); err != nil {
		logger.CtxError(ctx, "dispatch: force-marking matches sent for alert %s: %v", alert.ID, err)
		return
	}
	d.clearRetry(alert.ID)
	logger.FromContext(ctx).WithFields(logger.Fields{
		logger.FieldAlertID: alert.ID,
		logger.FieldCount:   len(matchIDs),
	}).WithError(sendErr).Error("notification retries exhausted, matches annotated as sent")
}

func (d *Dispatcher) retryFor(alertID string) *retryState {
	d.retriesMu.Lock()
	defer d.retriesMu.Unlock()
	return d.retries[alertID]
}

func (d *Dispatcher) bumpRetry(alertID string, now time.Time) *retryState {
	d.retriesMu.Lock()
	defer d.retriesMu.Unlock()
	st := d.retries[alertID]
	if st == nil {
		st = &retryState{}
		d.retries[alertID] = st
	}
	st.attempts++
	backoff := d.baseBackoff << (st.attempts - 1)
	if backoff > d.maxBackoff || backoff <= 0 {
		backoff = d.maxBackoff
	}
	st.nextAttempt = now.Add(backoff)
	return st
}

func (d *Dispatcher) clearRetry(alertID string) {
	d.retriesMu.Lock()
	defer d.retriesMu.Unlock()
	delete(d.retries, alertID)
}
