// Package progress renders session and queue progress on the terminal:
// a single bar while one session is followed and a multi-bar dashboard for
// watch mode.
package progress

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/models"
)

// barScale is the number of bar steps per percent.
const barScale = 10

// Reporter receives snapshots of the session being followed.
type Reporter interface {
	Update(s models.Session)
	Finish(s models.Session)
	Error(err error)
}

// Describe renders the one-line state of a session.
func Describe(s models.Session) string {
	var b strings.Builder
	b.WriteString(s.Status.Label())
	if s.Status == models.StatusProcessing && s.CurrentStage != "" {
		b.WriteString(": ")
		b.WriteString(s.CurrentStage.Label())
	}
	if s.TotalSegments > 0 {
		fmt.Fprintf(&b, "  segment %d/%d", s.DisplayPosition(), s.TotalSegments)
	}
	return b.String()
}

// QueueLine renders a queue snapshot.
func QueueLine(q models.QueueStatus) string {
	line := fmt.Sprintf("%d/%d in use, %d waiting", q.CurrentUsers, q.MaxUsers, q.QueueLength)
	if q.Waiting() {
		line += fmt.Sprintf(", your position %d", *q.YourPosition)
		if mins, ok := q.EstimatedWaitMinutes(); ok {
			line += fmt.Sprintf(" (about %d min)", mins)
		}
	} else if q.AtCapacity() {
		line += ", at capacity"
	}
	return line
}

func clampPercent(p float64) float64 {
	if math.IsNaN(p) || p < 0 {
		return 0
	}
	return math.Min(p, 100)
}

// SessionBar draws one session as a progressbar/v3 bar.
type SessionBar struct {
	mu  sync.Mutex
	w   io.Writer
	bar *progressbar.ProgressBar
}

// NewSessionBar creates a bar writing to w.
func NewSessionBar(w io.Writer, sessionID string) *SessionBar {
	bar := progressbar.NewOptions64(100*barScale,
		progressbar.OptionSetDescription(sessionID),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(constants.ProgressBarWidth),
		progressbar.OptionThrottle(constants.ProgressBarThrottle),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return &SessionBar{w: w, bar: bar}
}

// Update moves the bar to the session's progress.
func (b *SessionBar) Update(s models.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.Describe(Describe(s))
	_ = b.bar.Set64(int64(clampPercent(s.Progress) * barScale))
}

// Finish draws the final state and ends the bar. Only a completed session
// fills the bar.
func (b *SessionBar) Finish(s models.Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.Describe(Describe(s))
	if s.Status == models.StatusCompleted {
		_ = b.bar.Finish()
	} else {
		_ = b.bar.Set64(int64(clampPercent(s.Progress) * barScale))
		_ = b.bar.Exit()
	}
	fmt.Fprintln(b.w)
}

// Error prints err below the bar.
func (b *SessionBar) Error(err error) {
	if err == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	_ = b.bar.Exit()
	fmt.Fprintf(b.w, "\nError: %v\n", err)
}

// TextReporter writes a line whenever the rendered state changes. Used when
// the output is not a terminal.
type TextReporter struct {
	mu   sync.Mutex
	w    io.Writer
	last string
}

// NewTextReporter creates a reporter writing to w.
func NewTextReporter(w io.Writer) *TextReporter {
	return &TextReporter{w: w}
}

func (r *TextReporter) line(s models.Session) {
	text := fmt.Sprintf("%s %5.1f%%  %s", s.SessionID, clampPercent(s.Progress), Describe(s))
	if text == r.last {
		return
	}
	r.last = text
	fmt.Fprintln(r.w, text)
}

func (r *TextReporter) Update(s models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line(s)
}

func (r *TextReporter) Finish(s models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.line(s)
}

func (r *TextReporter) Error(err error) {
	if err != nil {
		fmt.Fprintf(r.w, "Error: %v\n", err)
	}
}

// NoOpReporter discards everything. Used with --quiet.
type NoOpReporter struct{}

func (NoOpReporter) Update(models.Session) {}
func (NoOpReporter) Finish(models.Session) {}
func (NoOpReporter) Error(error) {}

// NewReporter picks a bar when f is a terminal and plain lines otherwise.
func NewReporter(f *os.File, sessionID string) Reporter {
	if term.IsTerminal(int(f.Fd())) {
		enableANSI(f)
		return NewSessionBar(f, sessionID)
	}
	return NewTextReporter(f)
}

// Follow feeds r with the progress events of sessionID until ctx is done or
// ch is closed. The terminal state is left to the caller, which reads it
// from the tracking result.
func Follow(ctx context.Context, ch <-chan events.Event, sessionID string, r Reporter) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			se, isSession := ev.(*events.SessionEvent)
			if !isSession || se.Session.SessionID != sessionID {
				continue
			}
			switch se.Type() {
			case events.EventSessionSubmitted, events.EventSessionProgress, events.EventSessionResumed:
				r.Update(se.Session)
			}
		}
	}
}
