package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/config"
)

func newLoginCmd() *cobra.Command {
	var noVerify bool

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store a card key",
		Long: `Store the card key used to authenticate against the service.

The key is read from --card-key, or prompted for without echo. It is saved
to the config file and checked against the service unless --no-verify is
given. A key the service rejects is removed again.

Example:
  polish-int login
  polish-int login --card-key ABCD-1234`,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := cardKey
			if key == "" {
				var err error
				key, err = newPrompter(cmd).secret("Card key")
				if err != nil {
					return err
				}
			}
			if key == "" {
				return errors.New("card key is empty")
			}

			a := newApp(cmd)
			defer a.Close()

			store := a.CardKeys()
			if err := store.Save(key); err != nil {
				return fmt.Errorf("failed to store card key: %w", err)
			}
			out := cmd.OutOrStdout()
			if noVerify {
				fmt.Fprintln(out, "Card key saved")
				return nil
			}

			svc, err := a.Service()
			if err != nil {
				return err
			}
			status, err := svc.QueryQueue(GetContext(), "")
			if err != nil {
				if api.IsUnauthorized(err) {
					if err := store.Invalidate(); err != nil {
						GetLogger().Warn().Err(err).Msg("failed to remove rejected card key")
					}
					return errors.New("card key rejected by the service; nothing was saved")
				}
				fmt.Fprintf(out, "Card key saved, but it could not be verified: %s\n", api.UserMessage(err))
				return nil
			}
			fmt.Fprintf(out, "Card key saved and verified (%d/%d in use)\n", status.CurrentUsers, status.MaxUsers)
			return nil
		},
	}

	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "Save without checking the key against the service")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove the stored card key",
		RunE: func(cmd *cobra.Command, args []string) error {
			store := config.NewCardKeyStore("", map[string]string{}, cfgFile)
			if err := store.Invalidate(); err != nil {
				return fmt.Errorf("failed to remove card key: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Card key removed")
			return nil
		},
	}
}
