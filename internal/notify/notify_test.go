package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paperpolish/polish-int/internal/config"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	titles []string
	bodies []string
}

func (r *recorder) send(title, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	r.bodies = append(r.bodies, message)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.titles)
}

func newTestNotifier(cfg config.NotificationConfig) (*Notifier, *recorder) {
	rec := &recorder{}
	n := NewNotifier(cfg, logging.Nop())
	n.send = rec.send
	n.alert = rec.send
	return n, rec
}

func TestNotifierRespectsSettings(t *testing.T) {
	completed := models.Session{SessionID: "abcdef123456", Status: models.StatusCompleted, TotalSegments: 3}
	failed := models.Session{SessionID: "s2", Status: models.StatusFailed, ErrorMessage: "quota exceeded"}

	tests := []struct {
		name string
		cfg  config.NotificationConfig
		want int
	}{
		{"all on", config.NotificationConfig{Enabled: true, ShowCompleted: true, ShowFailed: true}, 2},
		{"disabled", config.NotificationConfig{Enabled: false, ShowCompleted: true, ShowFailed: true}, 0},
		{"failures only", config.NotificationConfig{Enabled: true, ShowFailed: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, rec := newTestNotifier(tt.cfg)
			n.SessionCompleted(completed)
			n.SessionFailed(failed)
			if rec.count() != tt.want {
				t.Errorf("sent %d notifications, want %d", rec.count(), tt.want)
			}
		})
	}
}

func TestSessionFailedCarriesServerMessage(t *testing.T) {
	n, rec := newTestNotifier(config.NotificationConfig{Enabled: true, ShowFailed: true})
	n.SessionFailed(models.Session{SessionID: "s2", Status: models.StatusFailed, ErrorMessage: "quota exceeded"})
	if rec.count() != 1 || !strings.Contains(rec.bodies[0], "quota exceeded") {
		t.Errorf("bodies = %v", rec.bodies)
	}
}

func TestAlertFallsBackToNotify(t *testing.T) {
	n, rec := newTestNotifier(config.NotificationConfig{Enabled: true})
	n.alert = func(string, string) error { return errors.New("no alert support") }
	n.Alert("card key rejected")
	if rec.count() != 1 || rec.bodies[0] != "card key rejected" {
		t.Errorf("bodies = %v", rec.bodies)
	}
}

func TestListenForwardsTerminalEvents(t *testing.T) {
	n, rec := newTestNotifier(config.NotificationConfig{Enabled: true, ShowCompleted: true, ShowFailed: true})
	bus := events.NewEventBus(16)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		n.Listen(ctx, bus)
	}()

	// Give Listen time to subscribe.
	deadline := time.Now().Add(time.Second)
	for rec.count() < 3 && time.Now().Before(deadline) {
		bus.PublishSession(events.EventSessionProgress, models.Session{SessionID: "s1"})
		bus.PublishSession(events.EventSessionCompleted, models.Session{SessionID: "s1", Status: models.StatusCompleted})
		bus.PublishSession(events.EventSessionFailed, models.Session{SessionID: "s2", Status: models.StatusFailed})
		bus.PublishAuthInvalidated("card key rejected")
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	if rec.count() < 3 {
		t.Fatalf("notifications = %d, want at least 3", rec.count())
	}
	for _, title := range rec.titles {
		if title == "" {
			t.Error("empty notification title")
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly10c", 10, "exactly10c"},
		{"this is a long string", 10, "this is..."},
		{"", 10, ""},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestShortenPath(t *testing.T) {
	long := "/a/very/long/path/that/exceeds/the/maximum/length/for/notification/display/optimized_s1.txt"
	if got := shortenPath(long); len(got) >= len(long) || !strings.HasSuffix(got, "optimized_s1.txt") {
		t.Errorf("shortenPath() = %q", got)
	}
	if got := shortenPath("s3://papers/x.txt"); got != "s3://papers/x.txt" {
		t.Errorf("short path changed: %q", got)
	}
}
