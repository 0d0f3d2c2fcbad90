package service

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/maya/rewear/internal/domain"
	"github.com/maya/rewear/internal/logger"
)

// activityAppender is the persistence sink for activity entries.
type activityAppender interface {
	Append(ctx context.Context, entry *domain.AIActivityLog) error
}

// ActivityLogger is the append-only audit sink for AI operations. Record never
// fails or blocks the caller: entries flow through a bounded buffer to a
// background writer, and both write errors and overflow drops are only
// counted, never propagated. Observability must not be able to break the
// matching pipeline.
type ActivityLogger struct {
	sink   activityAppender
	logger *logger.Logger

	entries chan *domain.AIActivityLog
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup

	dropped   atomic.Int64
	failed    atomic.Int64
	persisted atomic.Int64
}

// ActivityLoggerConfig tunes the internal buffer.
type ActivityLoggerConfig struct {
	BufferSize int
}

// NewActivityLogger creates the logger and starts its background writer.
func NewActivityLogger(sink activityAppender, log *logger.Logger, cfg *ActivityLoggerConfig) *ActivityLogger {
	size := 1024
	if cfg != nil && cfg.BufferSize > 0 {
		size = cfg.BufferSize
	}

	a := &ActivityLogger{
		sink:    sink,
		logger:  log,
		entries: make(chan *domain.AIActivityLog, size),
		done:    make(chan struct{}),
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case entry := <-a.entries:
				a.persist(entry)
			case <-a.done:
				// Drain what's buffered before exiting.
				for {
					select {
					case entry := <-a.entries:
						a.persist(entry)
					default:
						return
					}
				}
			}
		}
	}()

	return a
}

func (a *ActivityLogger) persist(entry *domain.AIActivityLog) {
	if err := a.sink.Append(context.Background(), entry); err != nil {
		a.failed.Add(1)
		if a.logger != nil {
			a.logger.WithError(err).Warn("activity log append failed")
		}
		return
	}
	a.persisted.Add(1)
}

// Record enqueues one entry. It never blocks and never returns an error; when
// the buffer is full the entry is dropped and counted.
func (a *ActivityLogger) Record(entry *domain.AIActivityLog) {
	if entry == nil {
		return
	}
	select {
	case a.entries <- entry:
	default:
		a.dropped.Add(1)
	}
}

// ActivityCounters reports the logger's internal health.
type ActivityCounters struct {
	Persisted int64 `json:"persisted"`
	Dropped   int64 `json:"dropped"`
	Failed    int64 `json:"failed"`
}

// Counters returns a snapshot of the internal counters.
func (a *ActivityLogger) Counters() ActivityCounters {
	return ActivityCounters{
		Persisted: a.persisted.Load(),
		Dropped:   a.dropped.Load(),
		Failed:    a.failed.Load(),
	}
}

// Close drains the buffer and stops the background writer.
func (a *ActivityLogger) Close() {
	a.once.Do(func() {
		close(a.done)
	})
	a.wg.Wait()
}
