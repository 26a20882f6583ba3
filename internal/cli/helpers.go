package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/app"
	"github.com/paperpolish/polish-int/internal/core"
	"github.com/paperpolish/polish-int/internal/models"
	"github.com/paperpolish/polish-int/internal/progress"
)

// userError prints the user-facing message of err while keeping it in the
// chain for errors.Is.
type userError struct {
	err error
	msg string
}

func (e *userError) Error() string {
	if e.msg != "" {
		return e.msg
	}
	return api.UserMessage(e.err)
}

func (e *userError) Unwrap() error { return e.err }

func friendly(err error) error {
	if err == nil {
		return nil
	}
	return &userError{err: err}
}

// syncActive loads the session list so that a session the service is
// already queueing or processing holds the active slot before anything new
// is admitted.
func syncActive(ctx context.Context, e *core.Engine) error {
	if _, err := e.Refresh(ctx); err != nil {
		return friendly(err)
	}
	return nil
}

// admissionError names the session that blocks a new one.
func admissionError(e *core.Engine, err error) error {
	if !errors.Is(err, core.ErrActiveSession) {
		return friendly(err)
	}
	msg := "another session is still queued or processing; follow it with 'polish-int watch'"
	if id, ok := e.Active(); ok {
		msg = fmt.Sprintf("session %s is still queued or processing; follow it with 'polish-int watch'", id)
	}
	return &userError{err: err, msg: msg}
}

// requireCardKey fails early when no card key is known.
func requireCardKey(a *app.App) error {
	if a.CardKeys().Get() == "" {
		return errors.New("no card key configured; run 'polish-int login' or pass --card-key")
	}
	return nil
}

// engineFor builds the engine after checking the card key.
func engineFor(a *app.App) (*core.Engine, error) {
	if err := requireCardKey(a); err != nil {
		return nil, err
	}
	e, err := a.Engine()
	if err != nil {
		return nil, err
	}
	return e, nil
}

func newReporter(cmd *cobra.Command, sessionID string) progress.Reporter {
	if f, ok := cmd.ErrOrStderr().(*os.File); ok {
		return progress.NewReporter(f, sessionID)
	}
	return progress.NewTextReporter(cmd.ErrOrStderr())
}

// waitForSession follows sessionID until it completes or fails. A failed
// session is returned as an error so the exit status reflects it.
func waitForSession(cmd *cobra.Command, a *app.App, e *core.Engine, sessionID string, notifications bool) error {
	ctx := GetContext()
	bus := a.Events()

	followCtx, stop := context.WithCancel(ctx)
	defer stop()

	if notifications {
		if n, err := a.Notifier(); err == nil {
			go n.Listen(followCtx, bus)
		}
	}

	reporter := newReporter(cmd, sessionID)
	ch := bus.SubscribeAll()
	done := make(chan struct{})
	go func() {
		defer close(done)
		progress.Follow(followCtx, ch, sessionID, reporter)
	}()

	final, err := e.Await(ctx, sessionID)
	stop()
	<-done
	bus.UnsubscribeAll(ch)

	if err != nil {
		err = friendly(err)
		reporter.Error(err)
		return err
	}
	reporter.Finish(final)

	out := cmd.OutOrStdout()
	switch final.Status {
	case models.StatusCompleted:
		fmt.Fprintln(out, core.CompletionSummary(final))
		fmt.Fprintf(out, "Export with: polish-int export %s --acknowledge-integrity\n", final.SessionID)
		return nil
	case models.StatusFailed:
		return errors.New(core.FailureSummary(final))
	}
	return nil
}
