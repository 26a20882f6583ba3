package cli

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage polish-int configuration",
		Long: `Configuration management commands for polish-int.

Commands:
  init  - Interactive configuration setup
  show  - Display current configuration
  set   - Change one setting
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigSetCmd())
	configCmd.AddCommand(newConfigPathCmd())

	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultConfigPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for polish-int.

The configuration is saved to ~/.config/polish-int/config.

Use --force to overwrite existing configuration.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "polish-int Configuration Setup")
			fmt.Fprintln(out, "==============================")
			fmt.Fprintln(out)

			p := newPrompter(cmd)
			if cfg.BaseURL, err = p.ask("Service base URL", cfg.BaseURL); err != nil {
				return err
			}
			key, err := p.secret("Card key (leave empty to set later)")
			if err != nil {
				return err
			}
			if key != "" {
				cfg.CardKey = key
			}
			if cfg.Export.Destination, err = p.ask("Export destination", cfg.Export.Destination); err != nil {
				return err
			}

			fmt.Fprintln(out)
			fmt.Fprintln(out, "Polling (seconds, press Enter for defaults)")
			fmt.Fprintln(out, "-------------------------------------------")
			if err := askSeconds(p, "Queue refresh", &cfg.QueueInterval); err != nil {
				return err
			}
			if err := askSeconds(p, "Progress refresh", &cfg.ProgressInterval); err != nil {
				return err
			}

			fmt.Fprintln(out)
			useProxy, err := p.confirm("Configure proxy?")
			if err != nil {
				return err
			}
			if useProxy {
				fmt.Fprintln(out, "Proxy modes: no-proxy, system, basic, ntlm")
				if cfg.ProxyMode, err = p.ask("Proxy mode", config.ProxyModeSystem); err != nil {
					return err
				}
				if cfg.ProxyMode == config.ProxyModeBasic || cfg.ProxyMode == config.ProxyModeNTLM {
					if cfg.ProxyHost, err = p.ask("Proxy host", cfg.ProxyHost); err != nil {
						return err
					}
					portText, err := p.ask("Proxy port", "8080")
					if err != nil {
						return err
					}
					if v, err := strconv.Atoi(portText); err == nil && v > 0 {
						cfg.ProxyPort = v
					}
					if cfg.ProxyUser, err = p.ask("Proxy user", cfg.ProxyUser); err != nil {
						return err
					}
				}
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration not saved: %w", err)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "Configuration saved to: %s\n", path)
			if cfg.ProxyUser != "" {
				fmt.Fprintln(out, "Set the proxy password with POLISH_PROXY_PASSWORD; it is never written to the file.")
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

func askSeconds(p *prompter, label string, d *time.Duration) error {
	answer, err := p.ask(label, strconv.Itoa(int(d.Seconds())))
	if err != nil {
		return err
	}
	v, err := strconv.Atoi(answer)
	if err != nil || v <= 0 {
		return fmt.Errorf("%s: %q is not a positive number of seconds", label, answer)
	}
	*d = time.Duration(v) * time.Second
	return nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration settings.

The values shown merge the configuration file with environment variables
(POLISH_BASE_URL, POLISH_CARD_KEY, ...). Secrets are masked.

Priority: flags > environment > config file > defaults`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if err := cfg.ApplyEnv(nil); err != nil {
				return err
			}
			if apiBaseURL != "" {
				cfg.BaseURL = apiBaseURL
			}
			if cardKey != "" {
				cfg.CardKey = cardKey
			}

			out := cmd.OutOrStdout()
			for _, key := range config.Keys() {
				value, _ := cfg.Get(key)
				if value == "" {
					value = "<not set>"
				}
				fmt.Fprintf(out, "%-36s %s\n", key, value)
			}
			fmt.Fprintln(out)
			fmt.Fprintf(out, "Configuration file: %s\n", path)
			if _, err := os.Stat(path); os.IsNotExist(err) {
				fmt.Fprintln(out, "  (file does not exist - using defaults)")
			}
			if err := cfg.Validate(); err != nil {
				fmt.Fprintf(out, "Warning: %v\n", err)
			}
			return nil
		},
	}
}

// newConfigSetCmd creates the 'config set' command.
func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change one setting",
		Long: `Change one setting in the configuration file.

Keys use section.name form, for example:
  polish-int config set service.base_url https://polish.example.edu/api
  polish-int config set polling.queue_interval_seconds 15
  polish-int config set export.destination s3://my-bucket/papers`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			cfg, err := config.LoadFile(path)
			if err != nil {
				return err
			}
			if err := cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("not saved: %w", err)
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			value, _ := cfg.Get(args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", args[0], value)
			return nil
		},
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
