package core

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

// ErrSubmissionInFlight is returned when a submission is started while
// another from this client has not been answered yet.
var ErrSubmissionInFlight = fmt.Errorf("a submission is already in flight: %w", api.ErrPreconditionFailed)

// SubmissionController admits new sessions: one request in flight, one
// active session per client.
type SubmissionController struct {
	svc      api.Service
	slot     *ActiveSlot
	registry *Registry
	poller   *Poller
	eventBus *events.EventBus
	logger   *logging.Logger

	inFlight atomic.Bool
}

// NewSubmissionController creates a controller.
func NewSubmissionController(svc api.Service, slot *ActiveSlot, registry *Registry, poller *Poller, bus *events.EventBus, logger *logging.Logger) *SubmissionController {
	return &SubmissionController{
		svc:      svc,
		slot:     slot,
		registry: registry,
		poller:   poller,
		eventBus: bus,
		logger:   logging.OrDefault(logger).Component("submit"),
	}
}

// Submit creates a session for text and starts tracking it. An empty mode
// uses the default pipeline. The returned session is the service's record.
func (c *SubmissionController) Submit(ctx context.Context, text string, mode models.Mode) (models.Session, error) {
	if strings.TrimSpace(text) == "" {
		return models.Session{}, &api.Error{Op: api.OpSubmit, Kind: api.ErrValidation, Message: "text to optimize is empty"}
	}
	if mode == "" {
		mode = models.DefaultMode
	}
	if !mode.Valid() {
		return models.Session{}, &api.Error{Op: api.OpSubmit, Kind: api.ErrValidation, Message: fmt.Sprintf("unknown processing mode %q", mode)}
	}

	if !c.inFlight.CompareAndSwap(false, true) {
		return models.Session{}, ErrSubmissionInFlight
	}
	defer c.inFlight.Store(false)

	lease, err := c.slot.Reserve()
	if err != nil {
		return models.Session{}, err
	}

	c.logger.Info().Str("mode", string(mode)).Int("chars", len([]rune(text))).Msg("submitting")
	created, err := c.svc.Submit(ctx, text, mode)
	if err != nil {
		lease.Release()
		return models.Session{}, err
	}

	lease.Bind(created.SessionID)
	sess := c.registry.Upsert(*created)
	c.eventBus.PublishSession(events.EventSessionSubmitted, sess)
	c.logger.Info().Str("session_id", sess.SessionID).Str("stage", string(sess.CurrentStage)).Msg("session accepted")

	if _, err := c.poller.Track(lease); err != nil {
		lease.Release()
		return sess, fmt.Errorf("session %s accepted but tracking failed: %w", sess.SessionID, err)
	}
	return sess, nil
}

// InFlight reports whether a submission is waiting for the service.
func (c *SubmissionController) InFlight() bool {
	return c.inFlight.Load()
}
