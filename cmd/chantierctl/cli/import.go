package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chantier-erp/chantier/internal/markets"
	"github.com/chantier-erp/chantier/internal/platform/db"
)

func newImportCommand(opts *rootOptions) *cobra.Command {
	var projectID int64
	cmd := &cobra.Command{
		Use:     "import-market <workbook.xlsx>",
		Short:   "Import lots and articles of a contract workbook into a project",
		Example: `  chantierctl import-market --project 3 marche.xlsx`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if projectID <= 0 {
				return fmt.Errorf("--project must be a positive id")
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx := cmd.Context()
			pool, err := db.New(ctx, opts.cfg.PGDSN, db.PoolOptions{MaxConns: 2})
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := markets.NewService(markets.NewRepository(pool), opts.logger, markets.ServiceConfig{
				DefaultSettings: opts.cfg.DefaultSettings(),
			})
			result, err := svc.ImportWorkbook(ctx, projectID, f)
			if err != nil {
				return err
			}
			return printImportResult(cmd, result)
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "target project id")
	return cmd
}

func printImportResult(cmd *cobra.Command, result markets.ImportResult) error {
	out := cmd.OutOrStdout()
	if _, err := fmt.Fprintf(out, "lots created: %d, articles created: %d, rows failed: %d\n",
		result.LotsCreated, result.ArticlesCreated, result.Failed); err != nil {
		return err
	}
	for _, e := range result.Errors {
		if _, err := fmt.Fprintf(out, "  row %d: %s\n", e.Row, e.Message); err != nil {
			return err
		}
	}
	return nil
}
