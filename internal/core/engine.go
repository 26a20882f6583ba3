package core

import (
	"context"
	"fmt"
	"time"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

// Options configures an Engine.
type Options struct {
	QueueInterval    time.Duration
	ProgressInterval time.Duration
	// PageSize is the number of sessions loaded by Refresh.
	PageSize int
}

// Engine wires the registry, the active-session slot, both pollers and the
// controllers around one service client.
type Engine struct {
	svc      api.Service
	eventBus *events.EventBus
	logger   *logging.Logger
	pageSize int

	registry *Registry
	slot     *ActiveSlot
	queue    *QueueTracker
	poller   *Poller
	submit   *SubmissionController
	retry    *RetryController
	export   *ExportGate
}

// NewEngine creates an engine. A nil bus gets a default one.
func NewEngine(svc api.Service, bus *events.EventBus, logger *logging.Logger, opts Options) *Engine {
	logger = logging.OrDefault(logger)
	if bus == nil {
		bus = events.NewEventBus(constants.EventBusDefaultBuffer)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = constants.DefaultSessionPageSize
	}

	registry := NewRegistry(logger)
	slot := NewActiveSlot()
	poller := NewPoller(svc, registry, bus, logger, opts.ProgressInterval)

	e := &Engine{
		svc:      svc,
		eventBus: bus,
		logger:   logger.Component("engine"),
		pageSize: opts.PageSize,
		registry: registry,
		slot:     slot,
		queue:    NewQueueTracker(svc, slot, bus, logger, opts.QueueInterval),
		poller:   poller,
		submit:   NewSubmissionController(svc, slot, registry, poller, bus, logger),
		retry:    NewRetryController(svc, slot, registry, poller, bus, logger),
		export:   NewExportGate(svc, registry, logger),
	}
	poller.SetRefresh(func(ctx context.Context) error {
		_, err := e.Refresh(ctx)
		return err
	})
	return e
}

// Events returns the engine's event bus.
func (e *Engine) Events() *events.EventBus { return e.eventBus }

// Registry returns the session cache.
func (e *Engine) Registry() *Registry { return e.registry }

// Queue returns the queue status tracker.
func (e *Engine) Queue() *QueueTracker { return e.queue }

// Submit creates and starts tracking a session.
func (e *Engine) Submit(ctx context.Context, text string, mode models.Mode) (models.Session, error) {
	return e.submit.Submit(ctx, text, mode)
}

// Retry resumes a failed session after confirmation.
func (e *Engine) Retry(ctx context.Context, sessionID string, confirm Confirmer) (string, error) {
	return e.retry.Retry(ctx, sessionID, confirm)
}

// Export renders a completed session.
func (e *Engine) Export(ctx context.Context, sessionID string, ack Acknowledgment, format string) (*Artifact, error) {
	return e.export.Export(ctx, sessionID, ack, format)
}

// Refresh reloads the session list. When no session is active, the first
// queued or processing session is adopted and tracked.
func (e *Engine) Refresh(ctx context.Context) ([]models.Session, error) {
	list, err := e.svc.ListSessions(ctx, api.ListOptions{Limit: e.pageSize})
	if err != nil {
		return nil, err
	}
	e.registry.Replace(list)
	sessions := e.registry.List()
	e.eventBus.PublishSessions(sessions)

	if s, ok := e.registry.FirstActive(); ok {
		e.adopt(s)
	}
	return sessions, nil
}

func (e *Engine) adopt(s models.Session) {
	lease, err := e.slot.Reserve()
	if err != nil {
		return
	}
	lease.Bind(s.SessionID)
	if _, err := e.poller.Track(lease); err != nil {
		lease.Release()
		e.logger.Debug().Str("session_id", s.SessionID).Err(err).Msg("could not adopt active session")
		return
	}
	e.logger.Info().Str("session_id", s.SessionID).Str("status", string(s.Status)).Msg("tracking active session")
}

// Active returns the id of the active session, if any.
func (e *Engine) Active() (string, bool) {
	return e.slot.ActiveID()
}

// Await blocks until the tracking of sessionID ends.
func (e *Engine) Await(ctx context.Context, sessionID string) (models.Session, error) {
	t, ok := e.poller.Find(sessionID)
	if !ok {
		return models.Session{}, fmt.Errorf("session %s is not being tracked: %w", sessionID, ErrTrackingStopped)
	}
	return t.Wait(ctx)
}

// Detail fetches a session with its segments.
func (e *Engine) Detail(ctx context.Context, sessionID string) (models.SessionDetail, error) {
	d, err := e.svc.GetDetail(ctx, sessionID)
	if err != nil {
		return models.SessionDetail{}, err
	}
	sess := e.registry.MergeDetail(*d)
	segments, _ := e.registry.Segments(sessionID)
	return models.SessionDetail{Session: sess, Segments: segments}, nil
}

// Changes fetches the change records of a session.
func (e *Engine) Changes(ctx context.Context, sessionID string) ([]models.ChangeRecord, error) {
	return e.svc.GetChanges(ctx, sessionID)
}

// Delete removes a session. Tracking stops first when it is the active one.
func (e *Engine) Delete(ctx context.Context, sessionID string) error {
	if err := e.svc.DeleteSession(ctx, sessionID); err != nil {
		return err
	}
	e.poller.StopSession(sessionID)
	e.registry.Remove(sessionID)
	e.eventBus.PublishNotice(events.InfoLevel, sessionID, fmt.Sprintf("session %s deleted", sessionID), nil)
	return nil
}

// QueueStatus fetches the queue status now.
func (e *Engine) QueueStatus(ctx context.Context) (*QueueSnapshot, error) {
	return e.queue.Fetch(ctx)
}

// Close stops both pollers.
func (e *Engine) Close() {
	e.queue.Stop()
	e.poller.Close()
}
