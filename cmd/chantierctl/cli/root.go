// Package cli implements chantierctl, the operator command line.
package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chantier-erp/chantier/internal/app"
)

type rootOptions struct {
	envFile string
	cfg     *app.Config
	logger  *slog.Logger
}

// NewRootCommand assembles chantierctl and its subcommands.
func NewRootCommand() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "chantierctl",
		Short:        "Operate the chantier billing service",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var files []string
			if opts.envFile != "" {
				files = append(files, opts.envFile)
			}
			cfg, err := app.LoadConfig(files...)
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = app.NewLogger(cfg)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", "", "dotenv file to load before reading the environment (default .env)")

	root.AddCommand(
		newMigrateCommand(opts),
		newImportCommand(opts),
		newJobsCommand(opts),
	)
	return root
}
