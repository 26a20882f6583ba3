package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/core"
)

func newRetryCmd() *cobra.Command {
	var (
		yes           bool
		wait          bool
		notifications bool
	)

	cmd := &cobra.Command{
		Use:   "retry SESSION_ID",
		Short: "Resume a failed session",
		Long: `Resume a failed session from the segment where it stopped.

Segments that were already processed are not sent again. Only failed
sessions with unfinished segments can be resumed, and only while no other
session is active.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}

			ctx := GetContext()
			if err := syncActive(ctx, e); err != nil {
				return err
			}
			msg, err := e.Retry(ctx, id, newPrompter(cmd).confirmer(yes))
			if errors.Is(err, core.ErrDeclined) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}
			if err != nil {
				return admissionError(e, err)
			}

			out := cmd.OutOrStdout()
			if msg == "" {
				msg = "session re-queued"
			}
			fmt.Fprintf(out, "Session %s: %s\n", id, msg)
			if !wait {
				return nil
			}
			return waitForSession(cmd, a, e, id, notifications)
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow progress until the session finishes")
	cmd.Flags().BoolVar(&notifications, "notify", true, "Show a desktop notification when the session finishes")
	return cmd
}
