package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
	"l10nboard/internal/daemon"
	"l10nboard/internal/pushlog"
)

func newIngestCommand(ctx *commandContext) *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "ingest <repository>",
		Short: "Ingest push records from a JSON file",
		Long: "Reads {\"pushes\": [{\"pushId\", \"date\", \"user\", \"revisions\"}]} from --file " +
			"(or stdin with -) and stores the pushes and their changesets.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var reader io.Reader = cmd.InOrStdin()
			if file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open push file: %w", err)
				}
				defer f.Close()
				reader = f
			}
			var req api.IngestRequest
			if err := json.NewDecoder(reader).Decode(&req); err != nil {
				return fmt.Errorf("decode push file: %w", err)
			}
			svc, err := ctx.service(cmd, true)
			if err != nil {
				return err
			}
			resp, err := svc.IngestPushes(commandCtx(cmd), args[0], req)
			if ctx.wantJSON() {
				if jsonErr := writeJSON(cmd, resp); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Processed %d of %d pushes for %s\n", resp.Processed, len(req.Pushes), args[0])
			return err
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "Push record JSON file, - for stdin")

	poll := &cobra.Command{
		Use:   "poll",
		Short: "Fetch and ingest new pushes for every repository once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if _, err := ctx.service(cmd, true); err != nil {
				return err
			}
			source := pushlog.New(cfg.Pushlog, ctx.log())
			sched := daemon.NewScheduler(ctx.store, source, ctx.runtime.Engine, cfg.PollInterval(), cfg.Ingest.Parallelism, ctx.log())
			pollErr := sched.PollOnce(commandCtx(cmd))
			status := sched.Status()
			if ctx.wantJSON() {
				if err := writeJSON(cmd, status); err != nil {
					return err
				}
				return pollErr
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Polled %d repositories, %d failed\n", status.Repositories, status.Failures)
			return pollErr
		},
	}

	cmd.AddCommand(poll)
	return cmd
}
