package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
	"l10nboard/internal/daemonrun"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var logLevel string
	var development bool

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the ingestion scheduler and HTTP API in the foreground",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			return daemonrun.Run(commandCtx(cmd), cfg, daemonrun.Options{
				LogLevel:    logLevel,
				Development: development,
			})
		},
	}
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override the configured log level")
	cmd.Flags().BoolVar(&development, "dev", false, "Include source locations in log output")
	return cmd
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			bind := strings.TrimSpace(cfg.API.Bind)
			if bind == "" {
				return fmt.Errorf("api.bind is empty; the daemon does not expose a status endpoint")
			}
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get("http://" + bind + "/api/status")
			if err != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon: not running (%s)\n", bind)
				return nil
			}
			defer resp.Body.Close()
			var status api.DaemonStatus
			if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, status)
			}
			rows := [][]string{
				{"Running", yesNo(status.Running)},
				{"PID", strconv.Itoa(status.PID)},
				{"Database", status.Driver + " " + status.DatabasePath},
				{"Ingestion", yesNo(status.Ingest.Enabled)},
				{"Last poll", dash(status.Ingest.LastPoll)},
				{"Poll failures", strconv.Itoa(status.Ingest.Failures)},
				{"Repositories", strconv.FormatInt(status.Stats.Repositories, 10)},
				{"Pushes", strconv.FormatInt(status.Stats.Pushes, 10)},
				{"Changesets", strconv.FormatInt(status.Stats.Changesets, 10)},
				{"Sign-offs", strconv.FormatInt(status.Stats.Signoffs, 10)},
				{"Runs", strconv.FormatInt(status.Stats.Runs, 10)},
			}
			if status.Ingest.LastError != "" {
				rows = append(rows, []string{"Last error", status.Ingest.LastError})
			}
			return emit(cmd, ctx, status, []string{"Field", "Value"}, rows, nil)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "HTTP timeout for the status request")
	return cmd
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
