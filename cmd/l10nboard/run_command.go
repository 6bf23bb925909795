package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "run", Short: "Manage build runs"}

	var req api.RunRequest
	record := &cobra.Command{
		Use:   "record",
		Short: "Record a build run of a locale on a tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			run, err := svc.RecordRun(commandCtx(cmd), req)
			if err != nil {
				return err
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, run)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Recorded run %d for %s (clean: %s)\n", run.ID, shortRevision(run.Revision), yesNo(run.Clean))
			return nil
		},
	}
	record.Flags().StringVar(&req.Tree, "tree", "", "Tree code")
	record.Flags().StringVarP(&req.Locale, "locale", "l", "", "Locale code")
	record.Flags().StringVar(&req.Revision, "revision", "", "Revision that was built")
	record.Flags().IntVar(&req.Errors, "errors", 0, "Number of errors")
	record.Flags().IntVar(&req.Missing, "missing", 0, "Number of missing strings")
	record.Flags().StringVar(&req.SrcTime, "src-time", "", "Source timestamp (RFC3339, default now)")
	for _, name := range []string{"tree", "locale", "revision"} {
		_ = record.MarkFlagRequired(name)
	}

	cmd.AddCommand(record)
	return cmd
}
