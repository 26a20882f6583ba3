// Package notify turns one-shot session notices into desktop notifications.
// It uses github.com/gen2brain/beeep for cross-platform notification support.
package notify

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/gen2brain/beeep"

	"github.com/paperpolish/polish-int/internal/config"
	"github.com/paperpolish/polish-int/internal/core"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

const appTitle = "polish-int"

// Notifier sends desktop notifications.
type Notifier struct {
	logger *logging.Logger
	send   func(title, message string) error
	alert  func(title, message string) error

	mu            sync.RWMutex
	enabled       bool
	showCompleted bool
	showFailed    bool
}

// NewNotifier creates a notifier from the notification settings.
func NewNotifier(cfg config.NotificationConfig, logger *logging.Logger) *Notifier {
	return &Notifier{
		logger:        logging.OrDefault(logger).Component("notify"),
		send:          func(title, message string) error { return beeep.Notify(title, message, "") },
		alert:         func(title, message string) error { return beeep.Alert(title, message, "") },
		enabled:       cfg.Enabled,
		showCompleted: cfg.ShowCompleted,
		showFailed:    cfg.ShowFailed,
	}
}

// SetEnabled enables or disables notifications.
func (n *Notifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// IsEnabled returns whether notifications are enabled.
func (n *Notifier) IsEnabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled
}

// SessionCompleted announces a finished session.
func (n *Notifier) SessionCompleted(s models.Session) {
	n.mu.RLock()
	show := n.enabled && n.showCompleted
	n.mu.RUnlock()
	if !show {
		return
	}

	message := fmt.Sprintf("Session %s is ready to export (%d segments).", shortID(s.SessionID), s.TotalSegments)
	if err := n.send("Optimization Complete", message); err != nil {
		n.logger.Warn().Err(err).Str("session_id", s.SessionID).Msg("Failed to send completion notification")
	}
}

// SessionFailed announces a failed session with the service's message.
func (n *Notifier) SessionFailed(s models.Session) {
	n.mu.RLock()
	show := n.enabled && n.showFailed
	n.mu.RUnlock()
	if !show {
		return
	}

	message := truncate(core.FailureSummary(s), 160)
	if err := n.send("Optimization Failed", message); err != nil {
		n.logger.Warn().Err(err).Str("session_id", s.SessionID).Msg("Failed to send failure notification")
	}
}

// ExportWritten announces where an export went.
func (n *Notifier) ExportWritten(location string) {
	if !n.IsEnabled() {
		return
	}
	if err := n.send("Export Saved", shortenPath(location)); err != nil {
		n.logger.Warn().Err(err).Str("location", location).Msg("Failed to send export notification")
	}
}

// Alert sends a prominent notification, falling back to a regular one.
func (n *Notifier) Alert(message string) {
	if !n.IsEnabled() {
		return
	}
	title := appTitle + " Alert"
	if err := n.alert(title, message); err != nil {
		if err := n.send(title, message); err != nil {
			n.logger.Error().Err(err).Str("message", message).Msg("Failed to send alert notification")
		}
	}
}

// Listen forwards terminal session events and card key rejections from bus
// until ctx ends.
func (n *Notifier) Listen(ctx context.Context, bus *events.EventBus) {
	ch := bus.SubscribeAll()
	defer bus.UnsubscribeAll(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case *events.SessionEvent:
				switch e.Type() {
				case events.EventSessionCompleted:
					n.SessionCompleted(e.Session)
				case events.EventSessionFailed:
					n.SessionFailed(e.Session)
				}
			case *events.AuthEvent:
				n.Alert(e.Reason)
			}
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// truncate shortens a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// shortenPath abbreviates a long path for display in notifications.
func shortenPath(path string) string {
	const maxLen = 60

	if len(path) <= maxLen {
		return path
	}

	_, file := filepath.Split(path)
	short := filepath.Join("...", filepath.Base(filepath.Dir(path)), file)
	if len(short) > maxLen {
		return "..." + path[len(path)-(maxLen-3):]
	}
	return short
}
