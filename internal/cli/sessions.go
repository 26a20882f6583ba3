package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/models"
	"github.com/paperpolish/polish-int/internal/progress"
)

const timeLayout = "2006-01-02 15:04"

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"session"},
		Short:   "List and inspect optimization sessions",
	}
	cmd.AddCommand(newSessionsListCmd())
	cmd.AddCommand(newSessionsShowCmd())
	cmd.AddCommand(newSessionsChangesCmd())
	cmd.AddCommand(newSessionsDeleteCmd())
	return cmd
}

func newSessionsListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd)
			defer a.Close()
			if err := requireCardKey(a); err != nil {
				return err
			}
			svc, err := a.Service()
			if err != nil {
				return err
			}

			sessions, err := svc.ListSessions(GetContext(), api.ListOptions{Limit: limit, Offset: offset})
			if err != nil {
				return friendly(err)
			}
			out := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(out, "No sessions found")
				return nil
			}

			fmt.Fprintf(out, "%-36s %-10s %8s %-9s %-16s %s\n", "SESSION", "STATUS", "PROGRESS", "SEGMENTS", "CREATED", "TEXT")
			for _, s := range sessions {
				created := ""
				if !s.CreatedAt.IsZero() {
					created = s.CreatedAt.Local().Format(timeLayout)
				}
				fmt.Fprintf(out, "%-36s %-10s %7.1f%% %-9s %-16s %s\n",
					s.SessionID,
					s.Status.Label(),
					s.Progress,
					fmt.Sprintf("%d/%d", min(s.CurrentPosition, s.TotalSegments), s.TotalSegments),
					created,
					oneLine(s.Excerpt(constants.ExcerptLength)))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", constants.DefaultSessionPageSize, "Maximum number of sessions to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of sessions to skip")
	return cmd
}

func newSessionsShowCmd() *cobra.Command {
	var original bool

	cmd := &cobra.Command{
		Use:   "show SESSION_ID",
		Short: "Show a session and its segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}

			d, err := e.Detail(GetContext(), args[0])
			if err != nil {
				return friendly(err)
			}
			s := d.Session
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session:  %s\n", s.SessionID)
			fmt.Fprintf(out, "Status:   %s\n", progress.Describe(s))
			fmt.Fprintf(out, "Progress: %.1f%%\n", s.Progress)
			if s.ProcessingMode != "" {
				fmt.Fprintf(out, "Mode:     %s\n", s.ProcessingMode)
			}
			if !s.CreatedAt.IsZero() {
				fmt.Fprintf(out, "Created:  %s\n", s.CreatedAt.Local().Format(timeLayout))
			}
			if s.CompletedAt != nil && !s.CompletedAt.IsZero() {
				fmt.Fprintf(out, "Finished: %s\n", s.CompletedAt.Local().Format(timeLayout))
			}
			if s.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:    %s\n", s.ErrorMessage)
			}
			if s.IsRetryable() {
				fmt.Fprintf(out, "Resume:   polish-int retry %s\n", s.SessionID)
			}

			for _, seg := range d.Segments {
				fmt.Fprintln(out)
				if original {
					fmt.Fprintf(out, "[%d] original\n%s\n", seg.SegmentIndex+1, seg.OriginalText)
					continue
				}
				best := seg.Best()
				fmt.Fprintf(out, "[%d] %s\n%s\n", seg.SegmentIndex+1, best.Kind, best.Text)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&original, "original", false, "Show the submitted text instead of the best version")
	return cmd
}

func newSessionsChangesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "changes SESSION_ID",
		Short: "Show what each stage changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}

			records, err := e.Changes(GetContext(), args[0])
			if err != nil {
				return friendly(err)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No changes recorded yet")
				return nil
			}
			for _, r := range records {
				fmt.Fprintf(out, "segment %d, %s\n", r.SegmentIndex+1, r.Stage.Label())
				fmt.Fprintf(out, "  - %s\n", oneLine(r.BeforeText))
				fmt.Fprintf(out, "  + %s\n", oneLine(r.AfterText))
			}
			return nil
		},
	}
}

func newSessionsDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "delete SESSION_ID",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !yes {
				ok, err := newPrompter(cmd).confirm(fmt.Sprintf("Delete session %s? This cannot be undone.", id))
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
					return nil
				}
			}

			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}
			if err := e.Delete(GetContext(), id); err != nil {
				return friendly(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted\n", id)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Do not ask for confirmation")
	return cmd
}

func newQueueCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Show the service queue",
		Long: `Show how many processing slots are in use and how many sessions wait.

With --session, or when one of your sessions is still queued, your position
and the estimated wait are shown as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}
			ctx := GetContext()

			var status *models.QueueStatus
			if sessionID != "" {
				svc, err := a.Service()
				if err != nil {
					return err
				}
				if status, err = svc.QueryQueue(ctx, sessionID); err != nil {
					return friendly(err)
				}
			} else {
				// Adopts a queued or processing session so the answer is personalized.
				if _, err := e.Refresh(ctx); err != nil {
					return friendly(err)
				}
				snap, err := e.QueueStatus(ctx)
				if err != nil {
					return friendly(err)
				}
				status = &snap.Status
			}
			fmt.Fprintln(cmd.OutOrStdout(), progress.QueueLine(*status))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session to report the queue position for")
	return cmd
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
