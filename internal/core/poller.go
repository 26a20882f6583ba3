package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

var (
	// ErrTrackingStopped is the result of a tracking that was stopped
	// before its session reached a terminal state.
	ErrTrackingStopped = errors.New("progress tracking stopped")

	// ErrLeaseNotBound is returned when tracking is requested for a lease
	// that has no session id or was already released.
	ErrLeaseNotBound = errors.New("lease is not bound to a live session")
)

// RefreshFunc reloads the full session list.
type RefreshFunc func(ctx context.Context) error

// Tracking is one run of progress polling for one session.
type Tracking struct {
	sessionID string
	lease     *Lease
	cancel    context.CancelFunc
	done      chan struct{}
	handedOff bool // lease passed to the tracking that superseded this one

	final models.Session
	err   error
}

// SessionID returns the tracked session.
func (t *Tracking) SessionID() string { return t.sessionID }

// Done is closed when tracking ends.
func (t *Tracking) Done() <-chan struct{} { return t.done }

// Wait blocks until tracking ends and returns the last observed session.
// The error is nil when the session reached a terminal state.
func (t *Tracking) Wait(ctx context.Context) (models.Session, error) {
	select {
	case <-t.done:
		return t.final, t.err
	case <-ctx.Done():
		return models.Session{}, ctx.Err()
	}
}

// Poller refreshes the progress of the active session on a fixed interval.
// At most one tracking runs at a time; starting a new one supersedes the
// previous. Ticks of one tracking never overlap.
type Poller struct {
	svc      api.Service
	registry *Registry
	eventBus *events.EventBus
	logger   *logging.Logger
	interval time.Duration
	refresh  RefreshFunc

	base       context.Context
	baseCancel context.CancelFunc

	mu      sync.Mutex
	current *Tracking
	byID    map[string]*Tracking
	closed  bool
}

// NewPoller creates a poller. A zero interval uses the default progress
// cadence.
func NewPoller(svc api.Service, registry *Registry, bus *events.EventBus, logger *logging.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = constants.ProgressPollInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Poller{
		svc:        svc,
		registry:   registry,
		eventBus:   bus,
		logger:     logging.OrDefault(logger).Component("poller"),
		interval:   interval,
		base:       ctx,
		baseCancel: cancel,
		byID:       make(map[string]*Tracking),
	}
}

// SetRefresh sets the list reload run after a session turns terminal.
func (p *Poller) SetRefresh(fn RefreshFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refresh = fn
}

// Track starts polling the lease's session. Any previous tracking is
// stopped first; the lease is released when tracking ends.
func (p *Poller) Track(lease *Lease) (*Tracking, error) {
	if lease == nil || !lease.Live() || lease.SessionID() == "" {
		return nil, ErrLeaseNotBound
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, fmt.Errorf("track %s: %w", lease.SessionID(), ErrTrackingStopped)
	}
	prev := p.current
	p.current = nil
	if prev != nil && prev.lease == lease {
		prev.handedOff = true
	}
	p.mu.Unlock()

	if prev != nil {
		prev.cancel()
		<-prev.done
	}

	ctx, cancel := context.WithCancel(p.base)
	t := &Tracking{
		sessionID: lease.SessionID(),
		lease:     lease,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	if s, ok := p.registry.Get(t.sessionID); ok {
		t.final = s
	}

	p.mu.Lock()
	p.current = t
	p.byID[t.sessionID] = t
	p.mu.Unlock()

	go p.run(ctx, t)

	p.logger.Debug().Str("session_id", t.sessionID).Dur("interval", p.interval).Msg("progress tracking started")
	return t, nil
}

// Tracking returns the id of the session being tracked.
func (p *Poller) Tracking() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return "", false
	}
	return p.current.sessionID, true
}

// Find returns the latest tracking of a session, finished or not.
func (p *Poller) Find(sessionID string) (*Tracking, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.byID[sessionID]
	return t, ok
}

// Stop ends the current tracking and releases its lease.
func (p *Poller) Stop() {
	p.mu.Lock()
	t := p.current
	p.current = nil
	p.mu.Unlock()

	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// StopSession stops tracking if sessionID is the tracked session.
func (p *Poller) StopSession(sessionID string) bool {
	p.mu.Lock()
	t := p.current
	if t == nil || t.sessionID != sessionID {
		p.mu.Unlock()
		return false
	}
	p.current = nil
	p.mu.Unlock()

	t.cancel()
	<-t.done
	return true
}

// Close stops tracking for good.
func (p *Poller) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.baseCancel()
	p.Stop()
}

func (p *Poller) run(ctx context.Context, t *Tracking) {
	defer close(t.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if p.tick(ctx, t) {
			return
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			p.finish(t, t.final, ErrTrackingStopped)
			return
		}
	}
}

// tick polls once. It returns true when tracking has ended.
func (p *Poller) tick(ctx context.Context, t *Tracking) bool {
	upd, err := p.svc.GetProgress(ctx, t.sessionID)
	if err != nil {
		switch {
		case ctx.Err() != nil:
			p.finish(t, t.final, ErrTrackingStopped)
			return true
		case api.IsUnauthorized(err):
			p.finish(t, t.final, err)
			p.eventBus.PublishAuthInvalidated(api.UserMessage(err))
			p.eventBus.PublishNotice(events.ErrorLevel, t.sessionID, api.UserMessage(err), err)
			return true
		case api.IsNotFound(err):
			p.registry.Remove(t.sessionID)
			p.finish(t, t.final, err)
			p.eventBus.PublishNotice(events.WarnLevel, t.sessionID, "session no longer exists on the service", err)
			return true
		default:
			p.logger.Warn().Str("session_id", t.sessionID).Err(err).Msg("progress poll failed")
			return false
		}
	}

	if upd.SessionID == "" {
		upd.SessionID = t.sessionID
	}
	merged := p.registry.MergeProgress(*upd)
	t.final = merged
	p.eventBus.PublishSession(events.EventSessionProgress, merged)

	if !merged.Status.IsTerminal() {
		return false
	}

	// Leave the slot before reloading so the reload may adopt a session.
	p.finish(t, merged, nil)

	p.mu.Lock()
	refresh := p.refresh
	p.mu.Unlock()
	if refresh != nil {
		if err := refresh(ctx); err != nil {
			p.logger.Warn().Err(err).Msg("session list refresh failed")
		} else if s, ok := p.registry.Get(t.sessionID); ok && s.Status.IsTerminal() {
			t.final = s
		}
	}

	p.announce(t.final)
	return true
}

// finish detaches t and releases its lease unless it was handed on.
func (p *Poller) finish(t *Tracking, final models.Session, err error) {
	p.mu.Lock()
	if p.current == t {
		p.current = nil
	}
	keep := t.handedOff
	p.mu.Unlock()

	if !keep {
		t.lease.Release()
	}
	t.final = final
	t.err = err

	if err != nil && !errors.Is(err, ErrTrackingStopped) {
		p.logger.Debug().Str("session_id", t.sessionID).Err(err).Msg("progress tracking ended")
	}
}

// announce publishes the one-shot terminal notification.
func (p *Poller) announce(s models.Session) {
	switch s.Status {
	case models.StatusCompleted:
		p.logger.Info().Str("session_id", s.SessionID).Msg("session completed")
		p.eventBus.PublishSession(events.EventSessionCompleted, s)
		p.eventBus.PublishNotice(events.InfoLevel, s.SessionID, CompletionSummary(s), nil)
	case models.StatusFailed:
		p.logger.Warn().Str("session_id", s.SessionID).Str("error", s.ErrorMessage).Msg("session failed")
		p.eventBus.PublishSession(events.EventSessionFailed, s)
		p.eventBus.PublishNotice(events.ErrorLevel, s.SessionID, FailureSummary(s), nil)
	}
}

// CompletionSummary is the notice shown when a session completes.
func CompletionSummary(s models.Session) string {
	return fmt.Sprintf("session %s completed (%d segments)", s.SessionID, s.TotalSegments)
}

// FailureSummary is the notice shown when a session fails: the service's
// error message, or a resume hint when none was reported.
func FailureSummary(s models.Session) string {
	if s.ErrorMessage != "" {
		return fmt.Sprintf("session %s failed: %s", s.SessionID, s.ErrorMessage)
	}
	if s.IsRetryable() {
		return fmt.Sprintf("session %s stopped at segment %d/%d; run 'polish-int retry %s' to resume",
			s.SessionID, s.DisplayPosition(), s.TotalSegments, s.SessionID)
	}
	return fmt.Sprintf("session %s failed", s.SessionID)
}
