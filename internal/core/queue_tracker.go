package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

// QueueSnapshot is the last fetched queue status.
type QueueSnapshot struct {
	Status    models.QueueStatus
	SessionID string // session the status was personalized for
	FetchedAt time.Time
}

// QueueTracker refreshes the shared queue status on a coarse interval,
// independent of progress polling. It never blocks submission.
type QueueTracker struct {
	svc      api.Service
	slot     *ActiveSlot
	eventBus *events.EventBus
	logger   *logging.Logger
	interval time.Duration

	mu        sync.Mutex
	last      *QueueSnapshot
	cancel    context.CancelFunc
	ticker    *time.Ticker
	monitorWg sync.WaitGroup
}

// NewQueueTracker creates a tracker. A zero interval uses the default queue
// cadence.
func NewQueueTracker(svc api.Service, slot *ActiveSlot, bus *events.EventBus, logger *logging.Logger, interval time.Duration) *QueueTracker {
	if interval <= 0 {
		interval = constants.QueuePollInterval
	}
	return &QueueTracker{
		svc:      svc,
		slot:     slot,
		eventBus: bus,
		logger:   logging.OrDefault(logger).Component("queue"),
		interval: interval,
	}
}

// Start begins polling: one fetch right away, then one per interval. It is
// a no-op when already running.
func (q *QueueTracker) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ticker != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	ticker := time.NewTicker(q.interval)
	q.ticker = ticker

	q.monitorWg.Add(1)
	go func() {
		defer q.monitorWg.Done()
		if !q.poll(ctx) {
			q.halt(ticker)
			return
		}
		for {
			select {
			case <-ticker.C:
				if !q.poll(ctx) {
					q.halt(ticker)
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	q.logger.Debug().Dur("interval", q.interval).Msg("queue tracking started")
}

// Stop ends polling and waits for an in-flight fetch to return.
func (q *QueueTracker) Stop() {
	q.mu.Lock()
	if q.ticker == nil {
		q.mu.Unlock()
		return
	}
	q.ticker.Stop()
	q.ticker = nil
	q.cancel()
	q.mu.Unlock()

	q.monitorWg.Wait()
	q.logger.Debug().Msg("queue tracking stopped")
}

// Running reports whether the polling loop is active.
func (q *QueueTracker) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ticker != nil
}

// halt ends the loop that owns ticker from inside it. A tracker restarted
// in the meantime is left alone.
func (q *QueueTracker) halt(ticker *time.Ticker) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ticker != ticker {
		return
	}
	q.ticker.Stop()
	q.ticker = nil
	q.cancel()
}

// poll fetches once. It returns false when polling must stop because the
// card key was rejected.
func (q *QueueTracker) poll(ctx context.Context) bool {
	_, err := q.Fetch(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case api.IsUnauthorized(err):
		q.logger.Warn().Err(err).Msg("card key rejected; queue tracking stopped")
		q.eventBus.PublishAuthInvalidated(api.UserMessage(err))
		return false
	case api.IsTransient(err):
		q.logger.Debug().Err(err).Msg("queue status unavailable")
	default:
		q.logger.Warn().Err(err).Msg("queue status failed")
	}
	return true
}

// Fetch refreshes the queue status once. It asks for a personalized
// estimate when a bound session is active.
func (q *QueueTracker) Fetch(ctx context.Context) (*QueueSnapshot, error) {
	sessionID, _ := q.slot.ActiveID()
	status, err := q.svc.QueryQueue(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	snap := &QueueSnapshot{Status: *status, SessionID: sessionID, FetchedAt: time.Now()}
	q.mu.Lock()
	q.last = snap
	q.mu.Unlock()

	q.eventBus.PublishQueue(*status, sessionID)
	return snap, nil
}

// Snapshot returns the last fetched status.
func (q *QueueTracker) Snapshot() (QueueSnapshot, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.last == nil {
		return QueueSnapshot{}, false
	}
	return *q.last, true
}
