package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
	"golang.org/x/term"

	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/events"
	"github.com/paperpolish/polish-int/internal/models"
)

// Dashboard shows the queue and every followed session as mpb bars. When
// the output is not a terminal it prints a line per change instead.
type Dashboard struct {
	out        io.Writer
	progress   *mpb.Progress
	isTerminal bool

	// mu guards the rows. Decorators run on mpb's goroutines and only read
	// the atomic text fields, never mu.
	mu        sync.Mutex
	queueText atomic.Value
	queueBar  *mpb.Bar
	sessions  map[string]*sessionRow
	lastLine  map[string]string
}

type sessionRow struct {
	bar  *mpb.Bar
	text atomic.Value
	done bool
}

// NewDashboard creates a dashboard on f.
func NewDashboard(ctx context.Context, f *os.File) *Dashboard {
	isTerminal := term.IsTerminal(int(f.Fd()))
	if isTerminal {
		enableANSI(f)
	}
	return newDashboard(ctx, f, isTerminal)
}

func newDashboard(ctx context.Context, w io.Writer, isTerminal bool) *Dashboard {
	d := &Dashboard{
		out:        w,
		isTerminal: isTerminal,
		sessions:   make(map[string]*sessionRow),
		lastLine:   make(map[string]string),
	}
	if isTerminal {
		d.progress = mpb.NewWithContext(ctx,
			mpb.WithOutput(w),
			mpb.WithRefreshRate(constants.DashboardRefreshRate),
			mpb.WithWidth(constants.DashboardWidth),
		)
	}
	return d
}

func barStyle() mpb.BarFillerBuilder {
	return mpb.BarStyle().
		Lbound("[").
		Filler("█").
		Tip("█").
		Padding("░").
		Rbound("]")
}

// Run consumes events until ctx is done or ch is closed, then stops the
// bars.
func (d *Dashboard) Run(ctx context.Context, ch <-chan events.Event) {
	defer d.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			d.Handle(ev)
		}
	}
}

// Handle applies one event.
func (d *Dashboard) Handle(ev events.Event) {
	switch e := ev.(type) {
	case *events.QueueEvent:
		d.setQueue(e.Status)
	case *events.SessionEvent:
		d.setSession(e.Session)
	case *events.SessionListEvent:
		for _, s := range e.Sessions {
			if s.Status.IsActive() {
				d.setSession(s)
			}
		}
	case *events.NoticeEvent:
		if e.Level >= events.InfoLevel {
			d.println(e.Message)
		}
	case *events.AuthEvent:
		d.println("card key rejected: " + e.Reason)
	}
}

func (d *Dashboard) setQueue(q models.QueueStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	line := QueueLine(q)
	d.queueText.Store(line)

	if !d.isTerminal {
		d.printChanged("queue", "queue: "+line)
		return
	}
	if d.queueBar == nil {
		d.queueBar = d.progress.New(0, barStyle(),
			mpb.BarPriority(0),
			mpb.PrependDecorators(decor.Name("queue", decor.WCSyncSpaceR)),
			mpb.AppendDecorators(decor.Any(func(decor.Statistics) string {
				text, _ := d.queueText.Load().(string)
				return text
			}, decor.WCSyncSpace)),
		)
	}
	// A full service is not a finished bar.
	d.queueBar.SetTotal(int64(max(q.MaxUsers, 1)), false)
	d.queueBar.SetCurrent(int64(q.CurrentUsers))
}

func (d *Dashboard) setSession(s models.Session) {
	d.mu.Lock()
	defer d.mu.Unlock()

	row, ok := d.sessions[s.SessionID]
	if ok && row.done {
		return
	}
	if !ok {
		row = &sessionRow{}
		d.sessions[s.SessionID] = row
	}
	row.text.Store(Describe(s))

	if !d.isTerminal {
		d.printChanged(s.SessionID, fmt.Sprintf("%s %5.1f%%  %s", s.SessionID, clampPercent(s.Progress), Describe(s)))
	} else {
		if row.bar == nil {
			r := row
			row.bar = d.progress.New(100*barScale, barStyle(),
				mpb.PrependDecorators(decor.Name(shortID(s.SessionID), decor.WCSyncSpaceR)),
				mpb.AppendDecorators(
					decor.Percentage(decor.WCSyncSpace),
					decor.Name("  "),
					decor.Any(func(decor.Statistics) string {
						text, _ := r.text.Load().(string)
						return text
					}, decor.WCSyncSpace),
				),
			)
		}
		row.bar.SetCurrent(int64(clampPercent(s.Progress) * barScale))
	}

	if s.Status.IsTerminal() {
		row.done = true
		if row.bar != nil {
			if s.Status == models.StatusCompleted {
				row.bar.SetTotal(100*barScale, true)
			} else {
				row.bar.Abort(false)
			}
		}
	}
}

// printChanged writes line unless key last printed the same text. Callers
// hold d.mu.
func (d *Dashboard) printChanged(key, line string) {
	if d.lastLine[key] == line {
		return
	}
	d.lastLine[key] = line
	fmt.Fprintln(d.out, line)
}

func (d *Dashboard) println(msg string) {
	if d.isTerminal {
		// Write through mpb so the bars are redrawn below the message.
		_, _ = d.progress.Write([]byte(msg + "\n"))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	fmt.Fprintln(d.out, msg)
}

func (d *Dashboard) stop() {
	if !d.isTerminal {
		return
	}
	d.mu.Lock()
	if d.queueBar != nil {
		d.queueBar.Abort(false)
	}
	for _, row := range d.sessions {
		if row.bar != nil && !row.done {
			row.bar.Abort(false)
		}
	}
	d.mu.Unlock()
	d.progress.Wait()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
