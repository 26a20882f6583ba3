package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

// ErrDeclined is returned when the user does not confirm an action.
var ErrDeclined = errors.New("not confirmed")

// Confirmer asks the user to approve an action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// AlwaysConfirm approves everything. Used for --yes.
var AlwaysConfirm Confirmer = ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })

// Eligible reports whether a session may be resumed.
func Eligible(s models.Session) bool {
	return s.IsRetryable()
}

// RetryController resumes failed sessions that still have unfinished
// segments.
type RetryController struct {
	svc      api.Service
	slot     *ActiveSlot
	registry *Registry
	poller   *Poller
	eventBus *events.EventBus
	logger   *logging.Logger
}

// NewRetryController creates a controller.
func NewRetryController(svc api.Service, slot *ActiveSlot, registry *Registry, poller *Poller, bus *events.EventBus, logger *logging.Logger) *RetryController {
	return &RetryController{
		svc:      svc,
		slot:     slot,
		registry: registry,
		poller:   poller,
		eventBus: bus,
		logger:   logging.OrDefault(logger).Component("retry"),
	}
}

// Retry asks for confirmation and then re-queues a failed session. The
// service resumes from the session's current position. On success the
// session becomes active and is tracked again.
func (c *RetryController) Retry(ctx context.Context, sessionID string, confirm Confirmer) (string, error) {
	detail, err := c.svc.GetDetail(ctx, sessionID)
	if err != nil {
		return "", err
	}
	sess := c.registry.MergeDetail(*detail)

	if !Eligible(sess) {
		return "", &api.Error{
			Op:      api.OpRetry,
			Kind:    api.ErrPreconditionFailed,
			Message: fmt.Sprintf("session is %s at segment %d/%d; only failed sessions with unfinished segments can be resumed", sess.Status, sess.CurrentPosition, sess.TotalSegments),
		}
	}

	lease, err := c.slot.Reserve()
	if err != nil {
		return "", err
	}
	keep := false
	defer func() {
		if !keep {
			lease.Release()
		}
	}()

	if confirm == nil {
		return "", ErrDeclined
	}
	prompt := fmt.Sprintf("Resume session %s from segment %d of %d?", sessionID, sess.DisplayPosition(), sess.TotalSegments)
	ok, err := confirm.Confirm(ctx, prompt)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrDeclined
	}

	msg, err := c.svc.Retry(ctx, sessionID)
	if err != nil {
		c.logger.Warn().Str("session_id", sessionID).Err(err).Msg("retry rejected")
		return "", err
	}

	lease.Bind(sessionID)
	if _, err := c.poller.Track(lease); err != nil {
		return msg, fmt.Errorf("session %s re-queued but tracking failed: %w", sessionID, err)
	}
	keep = true

	c.logger.Info().Str("session_id", sessionID).Int("position", sess.CurrentPosition).Msg("session resumed")
	c.eventBus.PublishSession(events.EventSessionResumed, sess)
	return msg, nil
}
