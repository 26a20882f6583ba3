package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/paperpolish/polish-int/internal/core"
)

func newExportCmd() *cobra.Command {
	var (
		format        string
		acknowledge   bool
		to            string
		notifications bool
	)

	cmd := &cobra.Command{
		Use:   "export SESSION_ID",
		Short: "Export the optimized document of a completed session",
		Long: `Export the optimized document of a completed session.

Before anything is exported you must confirm the academic integrity
statement, either interactively or with --acknowledge-integrity.

Destinations (--to, default from export.destination):
  ./exports                    a local directory
  s3://bucket/prefix           an S3 or S3-compatible bucket
  azblob://container/prefix    an Azure Blob Storage container
  -                            print the document to stdout

Formats: ` + formatList(),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]

			ack := core.Acknowledgment{Accepted: acknowledge}
			if !ack.Accepted {
				p := newPrompter(cmd)
				if p.interactive() {
					fmt.Fprintf(cmd.ErrOrStderr(), "\n%s\n\n", core.IntegrityStatement)
					ok, err := p.confirm("Do you accept this statement?")
					if err != nil {
						return err
					}
					ack.Accepted = ok
				}
			}

			a := newApp(cmd)
			defer a.Close()
			e, err := engineFor(a)
			if err != nil {
				return err
			}
			if format == "" {
				if cfg, err := a.Config(); err == nil {
					format = cfg.Export.DefaultFormat
				}
			}

			ctx := GetContext()
			art, err := e.Export(ctx, id, ack, format)
			if err != nil {
				return friendly(err)
			}

			out := cmd.OutOrStdout()
			if to == "-" {
				fmt.Fprintln(out, art.Content)
				return nil
			}

			sink, dest, err := a.OpenSink(ctx, to)
			if err != nil {
				return err
			}
			location, err := sink.Write(ctx, art)
			if err != nil {
				return fmt.Errorf("failed to write export to %s: %w", dest, err)
			}
			fmt.Fprintf(out, "Exported session %s to %s\n", id, location)

			if notifications {
				if n, err := a.Notifier(); err == nil {
					n.ExportWritten(location)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "", "Export format (default from export.default_format)")
	cmd.Flags().BoolVar(&acknowledge, "acknowledge-integrity", false, "Accept the academic integrity statement")
	cmd.Flags().StringVar(&to, "to", "", "Destination directory or URL")
	cmd.Flags().BoolVar(&notifications, "notify", false, "Show a desktop notification when the file is written")
	return cmd
}

func formatList() string {
	var parts []string
	for _, f := range core.Formats() {
		label := f.Name
		if !f.Enabled {
			label += " (coming soon)"
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, ", ")
}
