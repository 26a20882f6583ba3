package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/models"
	"github.com/paperpolish/polish-int/internal/progress"
)

func newSubmitCmd() *cobra.Command {
	var (
		mode          string
		file          string
		wait          bool
		notifications bool
	)

	cmd := &cobra.Command{
		Use:   "submit [text...]",
		Short: "Submit text for optimization",
		Long: `Submit text for optimization. Every non-blank line becomes one segment.

Modes:
  paper_polish           language polish only
  paper_polish_enhance   polish, then originality enhancement (default)
  emotion_polish         natural-tone polish

Only one session can be active at a time.

Example:
  polish-int submit --file thesis.txt --wait
  polish-int submit --mode paper_polish "First paragraph."
  cat draft.txt | polish-int submit --file -`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := models.ParseMode(mode)
			if err != nil {
				return err
			}
			text, err := readSubmission(cmd, file, args)
			if err != nil {
				return err
			}

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
			sess, err := e.Submit(ctx, text, m)
			if err != nil {
				return admissionError(e, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Session %s submitted (%d segments, mode %s)\n", sess.SessionID, sess.TotalSegments, m)
			if snap, err := e.QueueStatus(ctx); err == nil {
				fmt.Fprintf(out, "Queue: %s\n", progress.QueueLine(snap.Status))
			} else {
				GetLogger().Debug().Err(err).Msg("queue status unavailable")
			}

			if !wait {
				fmt.Fprintf(out, "Follow with: polish-int watch\n")
				return nil
			}
			return waitForSession(cmd, a, e, sess.SessionID, notifications)
		},
	}

	cmd.Flags().StringVarP(&mode, "mode", "m", string(models.DefaultMode), "Processing mode")
	cmd.Flags().StringVarP(&file, "file", "f", "", "Read text from a file ('-' for stdin)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow progress until the session finishes")
	cmd.Flags().BoolVar(&notifications, "notify", true, "Show a desktop notification when the session finishes")
	return cmd
}

// readSubmission returns the text from --file, or the arguments joined by
// spaces.
func readSubmission(cmd *cobra.Command, file string, args []string) (string, error) {
	if file != "" && len(args) > 0 {
		return "", errors.New("pass either --file or text arguments, not both")
	}
	var text string
	switch file {
	case "":
		text = strings.Join(args, " ")
	case "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		text = string(b)
	default:
		b, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", file, err)
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return "", errors.New("nothing to submit: the text is empty")
	}
	return text, nil
}
