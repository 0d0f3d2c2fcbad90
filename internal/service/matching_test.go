package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/maya/rewear/internal/apperr"
	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/index"
	"github.com/maya/rewear/internal/repository"
)

// --- fakes ---

type fakeAlertStore struct {
	mu          sync.Mutex
	alerts      map[string]*domain.SearchAlert
	matchFound  map[string]int
	notifiedAt  map[string]time.Time
	listErr     error
	recordCalls int
}

func newFakeAlertStore(alerts ...*domain.SearchAlert) *fakeAlertStore {
	s := &fakeAlertStore{
		alerts:     make(map[string]*domain.SearchAlert),
		matchFound: make(map[string]int),
		notifiedAt: make(map[string]time.Time),
	}
	for _, a := range alerts {
		s.alerts[a.ID] = a
	}
	return s
}

func (s *fakeAlertStore) GetByID(_ context.Context, id string) (*domain.SearchAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, apperr.NotFoundf("alert %s", id)
	}
	cp := *a
	return &cp, nil
}

func (s *fakeAlertStore) GetByIDs(_ context.Context, ids []string) ([]domain.SearchAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.SearchAlert
	for _, id := range ids {
		if a, ok := s.alerts[id]; ok {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) ListActive(_ context.Context) ([]domain.SearchAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.SearchAlert
	for _, a := range s.alerts {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) RecordMatchFound(_ context.Context, id string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matchFound[id]++
	s.recordCalls++
	return nil
}

func (s *fakeAlertStore) RecordNotified(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return apperr.NotFoundf("alert %s", id)
	}
	t := at
	a.LastNotifiedAt = &t
	s.notifiedAt[id] = at
	return nil
}

type fakeGarmentStore struct {
	mu       sync.Mutex
	garments map[string]*domain.Garment
}

func newFakeGarmentStore(garments ...*domain.Garment) *fakeGarmentStore {
	s := &fakeGarmentStore{garments: make(map[string]*domain.Garment)}
	for _, g := range garments {
		s.garments[g.ID] = g
	}
	return s
}

func (s *fakeGarmentStore) GetByID(_ context.Context, id string) (*domain.Garment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.garments[id]
	if !ok {
		return nil, apperr.NotFoundf("garment %s", id)
	}
	cp := *g
	return &cp, nil
}

func (s *fakeGarmentStore) GetByIDs(_ context.Context, ids []string) (map[string]*domain.Garment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*domain.Garment)
	for _, id := range ids {
		if g, ok := s.garments[id]; ok {
			cp := *g
			out[id] = &cp
		}
	}
	return out, nil
}

type fakeEmbeddingStore struct {
	mu   sync.Mutex
	byID map[string][]domain.GarmentEmbedding
}

func newFakeEmbeddingStore() *fakeEmbeddingStore {
	return &fakeEmbeddingStore{byID: make(map[string][]domain.GarmentEmbedding)}
}

func (s *fakeEmbeddingStore) put(garmentID string, embs ...domain.GarmentEmbedding) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[garmentID] = embs
}

func (s *fakeEmbeddingStore) GetByGarment(_ context.Context, garmentID string) ([]domain.GarmentEmbedding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.byID[garmentID], nil
}

// fakeMatchStore mirrors the conditional-upsert semantics of the real
// repository: one row per pair, score only ever increases, state untouched.
type fakeMatchStore struct {
	mu   sync.Mutex
	rows map[[2]string]*domain.SearchAlertMatch
}

func newFakeMatchStore() *fakeMatchStore {
	return &fakeMatchStore{rows: make(map[[2]string]*domain.SearchAlertMatch)}
}

func (s *fakeMatchStore) Upsert(_ context.Context, match *domain.SearchAlertMatch) (repository.UpsertOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{match.AlertID, match.GarmentID}
	existing, ok := s.rows[key]
	if !ok {
		cp := *match
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.State = domain.NotificationUnsent
		s.rows[key] = &cp
		return repository.UpsertCreated, nil
	}
	if match.SimilarityScore > existing.SimilarityScore {
		existing.SimilarityScore = match.SimilarityScore
		existing.MatchReasons = match.MatchReasons
		return repository.UpsertImproved, nil
	}
	return repository.UpsertUnchanged, nil
}

func (s *fakeMatchStore) get(alertID, garmentID string) *domain.SearchAlertMatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[[2]string{alertID, garmentID}]
	if !ok {
		return nil
	}
	cp := *m
	return &cp
}

func (s *fakeMatchStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeIndex returns canned candidates, or an error.
type fakeIndex struct {
	mu    sync.Mutex
	hits  []index.Candidate
	err   error
	calls int
}

func (f *fakeIndex) Upsert(context.Context, string, []float32) error { return nil }
func (f *fakeIndex) Delete(context.Context, string) error            { return nil }
func (f *fakeIndex) Flush(context.Context) error                     { return nil }
func (f *fakeIndex) Close() error                                    { return nil }

func (f *fakeIndex) Query(context.Context, []float32, int) ([]index.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.hits, nil
}

func (f *fakeIndex) queryCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeActivitySink struct {
	mu      sync.Mutex
	entries []domain.AIActivityLog
	err     error
}

func (s *fakeActivitySink) Append(_ context.Context, entry *domain.AIActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.entries = append(s.entries, *entry)
	return nil
}

func (s *fakeActivitySink) byKind(kind domain.ActivityKind) []domain.AIActivityLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.AIActivityLog
	for _, e := range s.entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

func testActivityLogger(t *testing.T) (*ActivityLogger, *fakeActivitySink) {
	t.Helper()
	sink := &fakeActivitySink{}
	a := NewActivityLogger(sink, nil, nil)
	t.Cleanup(a.Close)
	return a, sink
}

// --- engine fixtures ---

func unitVec(dir int) domain.Vector {
	v := make(domain.Vector, 4)
	v[dir] = 1
	return v
}

type engineFixture struct {
	alerts   *fakeAlertStore
	garments *fakeGarmentStore
	embs     *fakeEmbeddingStore
	matches  *fakeMatchStore
	sink     *fakeActivitySink
	engine   *MatchingEngine
}

func newEngineFixture(t *testing.T, alerts []*domain.SearchAlert, garments []*domain.Garment) *engineFixture {
	t.Helper()
	f := &engineFixture{
		alerts:   newFakeAlertStore(alerts...),
		garments: newFakeGarmentStore(garments...),
		embs:     newFakeEmbeddingStore(),
		matches:  newFakeMatchStore(),
	}
	activity, sink := testActivityLogger(t)
	f.sink = sink
	// Empty alert index forces the ListActive fallback, so candidate
	// retrieval is deterministic in tests.
	f.engine = NewMatchingEngine(
		f.alerts, f.garments, f.embs, f.matches,
		&fakeIndex{}, &fakeIndex{},
		activity, nil,
		&MatchingConfig{Workers: 1, TopK: 10, RetryDelay: time.Millisecond, MaxRetries: 2},
	)
	return f
}

func activeAlert(id, userID string, mode domain.MatchMode, threshold float64) *domain.SearchAlert {
	return &domain.SearchAlert{
		ID:                  id,
		UserID:              userID,
		MatchMode:           mode,
		TextEmbedding:       unitVec(0),
		SimilarityThreshold: threshold,
		IsActive:            true,
		NotificationEnabled: true,
	}
}

func activeGarment(id, ownerID string) *domain.Garment {
	return &domain.Garment{
		ID:        id,
		OwnerID:   ownerID,
		Title:     "garment " + id,
		Status:    domain.GarmentStatusActive,
		Condition: domain.ConditionA,
	}
}

func TestEvaluateGarmentAcceptsAndRecords(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0.9)
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})

	accepted, err := f.engine.evaluateGarment(context.Background(), "g1")
	if err != nil {
		t.Fatalf("evaluateGarment() error = %v", err)
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}

	row := f.matches.get("a1", "g1")
	if row == nil {
		t.Fatal("no match row recorded")
	}
	if row.SimilarityScore != 1 {
		t.Errorf("score = %v, want 1", row.SimilarityScore)
	}
	if f.alerts.matchFound["a1"] != 1 {
		t.Errorf("matches_found bumped %d times, want 1", f.alerts.matchFound["a1"])
	}
}

func TestEvaluateGarmentIdempotent(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0.5)
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})

	for i := 0; i < 3; i++ {
		if _, err := f.engine.evaluateGarment(context.Background(), "g1"); err != nil {
			t.Fatalf("evaluateGarment() error = %v", err)
		}
	}

	if n := f.matches.count(); n != 1 {
		t.Errorf("match rows = %d, want 1", n)
	}
	if f.alerts.matchFound["a1"] != 1 {
		t.Errorf("matches_found bumped %d times, want 1", f.alerts.matchFound["a1"])
	}
}

func TestEvaluateGarmentImprovesScoreOnly(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0.5)
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})

	// First pass with an imperfectly aligned vector, second with a better one.
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       domain.Vector{1, 1, 0, 0},
	})
	if _, err := f.engine.evaluateGarment(context.Background(), "g1"); err != nil {
		t.Fatalf("evaluateGarment() error = %v", err)
	}
	first := f.matches.get("a1", "g1")
	if first == nil {
		t.Fatal("no match row after first pass")
	}

	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})
	if _, err := f.engine.evaluateGarment(context.Background(), "g1"); err != nil {
		t.Fatalf("evaluateGarment() error = %v", err)
	}

	row := f.matches.get("a1", "g1")
	if row.SimilarityScore <= first.SimilarityScore {
		t.Errorf("score not improved: %v -> %v", first.SimilarityScore, row.SimilarityScore)
	}
	if f.matches.count() != 1 {
		t.Errorf("match rows = %d, want 1", f.matches.count())
	}
	if f.alerts.matchFound["a1"] != 1 {
		t.Errorf("matches_found bumped %d times, want 1", f.alerts.matchFound["a1"])
	}
}

func TestEvaluateGarmentSkipsOwnListing(t *testing.T) {
	alert := activeAlert("a1", "maya", domain.MatchModeText, 0)
	garment := activeGarment("g1", "maya")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})

	accepted, err := f.engine.evaluateGarment(context.Background(), "g1")
	if err != nil {
		t.Fatalf("evaluateGarment() error = %v", err)
	}
	if accepted != 0 || f.matches.count() != 0 {
		t.Error("a seller must never match their own listing")
	}
}

func TestEvaluateGarmentSkipsInactiveListing(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0)
	garment := activeGarment("g1", "seller")
	garment.Status = domain.GarmentStatusSold
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})

	accepted, err := f.engine.evaluateGarment(context.Background(), "g1")
	if err != nil {
		t.Fatalf("evaluateGarment() error = %v", err)
	}
	if accepted != 0 || f.matches.count() != 0 {
		t.Error("sold listings must not produce matches")
	}
}

func TestEvaluateGarmentIsolatesScoringErrors(t *testing.T) {
	good := activeAlert("good", "buyer1", domain.MatchModeText, 0.5)
	corrupt := activeAlert("corrupt", "buyer2", domain.MatchModeText, 0.5)
	corrupt.TextEmbedding = domain.Vector{1, 0} // wrong length for the corpus
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{good, corrupt}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})

	accepted, err := f.engine.evaluateGarment(context.Background(), "g1")
	if err != nil {
		t.Fatalf("evaluateGarment() error = %v", err)
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1 despite a corrupt candidate", accepted)
	}
	if f.matches.get("good", "g1") == nil {
		t.Error("healthy candidate was not matched")
	}
}

func TestEvaluateAlertAgainstCorpus(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0.5)
	mine := activeGarment("mine", "buyer")
	theirs := activeGarment("theirs", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{mine, theirs})
	for _, id := range []string{"mine", "theirs"} {
		f.embs.put(id, domain.GarmentEmbedding{
			GarmentID:    id,
			ImageOrdinal: domain.TextProxyOrdinal,
			Vector:       unitVec(0),
		})
	}
	f.engine.garmentIndex = &fakeIndex{hits: []index.Candidate{
		{ID: "mine", Score: 1},
		{ID: "theirs", Score: 1},
	}}

	accepted, err := f.engine.evaluateAlert(context.Background(), "a1")
	if err != nil {
		t.Fatalf("evaluateAlert() error = %v", err)
	}
	if accepted != 1 {
		t.Fatalf("accepted = %d, want 1", accepted)
	}
	if f.matches.get("a1", "mine") != nil {
		t.Error("alert matched its owner's own listing")
	}
	if f.matches.get("a1", "theirs") == nil {
		t.Error("expected match for the other seller's listing")
	}
}

func TestEvaluateAlertInactiveIsNoop(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0)
	alert.IsActive = false
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, nil)

	accepted, err := f.engine.evaluateAlert(context.Background(), "a1")
	if err != nil {
		t.Fatalf("evaluateAlert() error = %v", err)
	}
	if accepted != 0 {
		t.Errorf("accepted = %d, want 0 for a deactivated alert", accepted)
	}
}

func TestEvaluateGarmentIndexUnavailable(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0)
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})
	f.engine.alertIndex = &fakeIndex{err: apperr.IndexUnavailable(errors.New("connection refused"))}

	_, err := f.engine.evaluateGarment(context.Background(), "g1")
	if !errors.Is(err, apperr.ErrIndexUnavailable) {
		t.Fatalf("error = %v, want ErrIndexUnavailable", err)
	}
}

func TestEngineShutdownWaitsForDeferredTriggers(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0)
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})
	down := &fakeIndex{err: apperr.IndexUnavailable(errors.New("connection refused"))}
	f.engine.alertIndex = down
	// A long delay keeps the deferred trigger parked in its timer so
	// cancellation, not expiry, has to unwind it.
	f.engine.retryDelay = time.Minute

	ctx, cancel := context.WithCancel(context.Background())
	f.engine.Start(ctx)

	if err := f.engine.EnqueueGarmentChanged(ctx, "g1"); err != nil {
		t.Fatalf("EnqueueGarmentChanged() error = %v", err)
	}
	deadline := time.After(2 * time.Second)
	for down.queryCalls() == 0 {
		select {
		case <-deadline:
			t.Fatal("trigger was not processed before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	done := make(chan struct{})
	go func() {
		f.engine.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait() did not return after cancellation")
	}
}

func TestEngineProcessesTriggersThroughQueue(t *testing.T) {
	alert := activeAlert("a1", "buyer", domain.MatchModeText, 0.5)
	garment := activeGarment("g1", "seller")
	f := newEngineFixture(t, []*domain.SearchAlert{alert}, []*domain.Garment{garment})
	f.embs.put("g1", domain.GarmentEmbedding{
		GarmentID:    "g1",
		ImageOrdinal: domain.TextProxyOrdinal,
		Vector:       unitVec(0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	f.engine.Start(ctx)

	if err := f.engine.EnqueueGarmentChanged(ctx, "g1"); err != nil {
		t.Fatalf("EnqueueGarmentChanged() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	for f.matches.get("a1", "g1") == nil {
		select {
		case <-deadline:
			t.Fatal("match was not recorded before deadline")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	f.engine.Wait()
}
