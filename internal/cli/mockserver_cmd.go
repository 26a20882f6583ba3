package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/mockserver"
)

func newMockServerCmd() *cobra.Command {
	var (
		addr         string
		stepInterval time.Duration
		maxUsers     int
		usageLimit   int
		cardKeys     []string
	)

	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Run a local fake of the optimization service",
		Long: `Run an in-process fake of the optimization service for local testing.

Every step each processing session handles one segment and queued
sessions are admitted while slots are free. Processed text is the input
tagged with the stage name.

Example:
  polish-int mock-server --addr :8089 &
  polish-int --api-url http://localhost:8089/api --card-key demo submit "Hello world."`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(GetContext())
			defer cancel()

			srv := mockserver.New(mockserver.Options{
				CardKeys:   cardKeys,
				MaxUsers:   maxUsers,
				UsageLimit: usageLimit,
			})
			httpSrv := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: constants.HTTPTLSHandshakeTimeout,
			}

			go srv.Run(ctx, stepInterval)
			go func() {
				<-ctx.Done()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			host := addr
			if strings.HasPrefix(host, ":") {
				host = "localhost" + host
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Mock service listening on %s (base URL http://%s%s)\n", addr, host, mockserver.PathPrefix)
			GetLogger().Info().Str("addr", addr).Dur("step", stepInterval).Int("max_users", maxUsers).Msg("mock service started")

			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("mock service failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8089", "Listen address")
	cmd.Flags().DurationVar(&stepInterval, "step-interval", 2*time.Second, "Time between processing steps")
	cmd.Flags().IntVar(&maxUsers, "max-users", 2, "Sessions processed concurrently")
	cmd.Flags().IntVar(&usageLimit, "usage-limit", 0, "Submissions allowed per card key (0 = unlimited)")
	cmd.Flags().StringSliceVar(&cardKeys, "card-keys", nil, "Accepted card keys (default: any non-empty key)")
	return cmd
}
