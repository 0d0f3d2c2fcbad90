package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/maya/rewear/internal/domain"
)

func waitForPersisted(t *testing.T, a *ActivityLogger, want int64) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for a.Counters().Persisted < want {
		select {
		case <-deadline:
			t.Fatalf("persisted = %d, want %d", a.Counters().Persisted, want)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestActivityLoggerPersistsEntries(t *testing.T) {
	sink := &fakeActivitySink{}
	a := NewActivityLogger(sink, nil, nil)
	defer a.Close()

	for i := 0; i < 10; i++ {
		a.Record(&domain.AIActivityLog{Kind: domain.ActivityMatchRun, Success: true})
	}
	waitForPersisted(t, a, 10)

	if got := len(sink.byKind(domain.ActivityMatchRun)); got != 10 {
		t.Errorf("sink holds %d entries, want 10", got)
	}
}

func TestActivityLoggerNeverFailsCaller(t *testing.T) {
	sink := &fakeActivitySink{err: errors.New("disk full")}
	a := NewActivityLogger(sink, nil, nil)
	defer a.Close()

	// Record has no error to return; a failing sink only moves a counter.
	a.Record(&domain.AIActivityLog{Kind: domain.ActivityScoringError})

	deadline := time.After(2 * time.Second)
	for a.Counters().Failed == 0 {
		select {
		case <-deadline:
			t.Fatal("failed counter never moved")
		case <-time.After(time.Millisecond):
		}
	}
	if a.Counters().Persisted != 0 {
		t.Errorf("persisted = %d, want 0", a.Counters().Persisted)
	}
}

func TestActivityLoggerDropsOnOverflow(t *testing.T) {
	// A sink that blocks forever keeps the writer busy on the first entry, so
	// everything past the buffer is dropped rather than blocking Record.
	block := make(chan struct{})
	sink := blockingSink{ch: block}
	a := NewActivityLogger(sink, nil, &ActivityLoggerConfig{BufferSize: 1})

	for i := 0; i < 50; i++ {
		a.Record(&domain.AIActivityLog{Kind: domain.ActivityNotification})
	}

	if a.Counters().Dropped == 0 {
		t.Error("expected overflow drops with a saturated buffer")
	}

	close(block)
	a.Close()
}

type blockingSink struct {
	ch chan struct{}
}

func (s blockingSink) Append(_ context.Context, _ *domain.AIActivityLog) error {
	<-s.ch
	return nil
}

func TestActivityLoggerCloseDrains(t *testing.T) {
	sink := &fakeActivitySink{}
	a := NewActivityLogger(sink, nil, nil)

	for i := 0; i < 5; i++ {
		a.Record(&domain.AIActivityLog{Kind: domain.ActivityEmbeddingIngest})
	}
	a.Close()

	if got := a.Counters().Persisted; got != 5 {
		t.Errorf("persisted after Close = %d, want 5", got)
	}
}

func TestActivityLoggerIgnoresNil(t *testing.T) {
	sink := &fakeActivitySink{}
	a := NewActivityLogger(sink, nil, nil)
	defer a.Close()

	a.Record(nil)
	if c := a.Counters(); c.Dropped != 0 || c.Persisted != 0 {
		t.Errorf("counters moved on nil entry: %+v", c)
	}
}
