package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/progress"
)

func newWatchCmd() *cobra.Command {
	var notifications bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Show the queue and the active session until Ctrl+C",
		Long: `Show a live dashboard of the service queue and your active session.

A session that is already queued or processing is picked up automatically.
When it finishes, the next active session (if any) is followed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}
			ctx := GetContext()
			bus := a.Events()

			if notifications {
				if n, err := a.Notifier(); err == nil {
					go n.Listen(ctx, bus)
				}
			}

			out, ok := cmd.ErrOrStderr().(*os.File)
			if !ok {
				out = os.Stderr
			}
			dash := progress.NewDashboard(ctx, out)
			ch := bus.SubscribeAll()
			done := make(chan struct{})
			go func() {
				defer close(done)
				dash.Run(ctx, ch)
			}()

			if _, err := e.Refresh(ctx); err != nil {
				return friendly(err)
			}
			e.Queue().Start(ctx)

			<-done
			return nil
		},
	}

	cmd.Flags().BoolVar(&notifications, "notify", true, "Show desktop notifications for finished sessions")
	return cmd
}
