package main

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
)

func newFlagsCommand(ctx *commandContext) *cobra.Command {
	var (
		versions []string
		locales  []string
		upUntil  string
	)

	cmd := &cobra.Command{
		Use:   "flags",
		Short: "Show effective sign-off flags per locale, following fallbacks",
		RunE: func(cmd *cobra.Command, args []string) error {
			var until *time.Time
			if upUntil != "" {
				t, err := api.ParseTime(upUntil)
				if err != nil {
					return err
				}
				until = &t
			}
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			resp, err := svc.Flags(commandCtx(cmd), versions, locales, until)
			if err != nil {
				return err
			}
			var rows [][]string
			for _, av := range resp.AppVersions {
				for _, lf := range av.Locales {
					source := lf.AppVersion
					if lf.Fallback {
						source += " (fallback)"
					}
					rows = append(rows, []string{av.AppVersion, lf.Locale, formatFlags(lf.Flags), source})
				}
			}
			return emit(cmd, ctx, resp, []string{"App version", "Locale", "Flags", "From"}, rows, nil)
		},
	}
	cmd.Flags().StringSliceVarP(&versions, "app-version", "a", nil, "App version codes (repeatable)")
	cmd.Flags().StringSliceVarP(&locales, "locale", "l", nil, "Locale codes (default: active locales of each app version)")
	cmd.Flags().StringVar(&upUntil, "up-until", "", "Ignore actions after this RFC3339 time")
	_ = cmd.MarkFlagRequired("app-version")
	return cmd
}

func formatFlags(flags map[string]int64) string {
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"#"+strconv.FormatInt(flags[name], 10))
	}
	return strings.Join(parts, " ")
}

func newPushesCommand(ctx *commandContext) *cobra.Command {
	var (
		locale, appVersion, cursor string
		pageSize                   int
	)

	cmd := &cobra.Command{
		Use:   "pushes",
		Short: "List pushes for a locale with sign-off and run annotations",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			page, err := svc.Pushes(commandCtx(cmd), locale, appVersion, pageSize, cursor)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(page.Pushes))
			for _, p := range page.Pushes {
				tip := ""
				if len(p.Changesets) > 0 {
					tip = shortRevision(p.Changesets[0].Revision)
				}
				var statuses []string
				for _, so := range p.Signoffs {
					statuses = append(statuses, strconv.FormatInt(so.ID, 10)+":"+so.Status)
				}
				marks := ""
				if p.Suggest {
					marks += "suggest "
				}
				if p.Fallback {
					marks += "fallback"
				}
				rows = append(rows, []string{
					strconv.FormatInt(p.ID, 10),
					strconv.FormatInt(p.PushID, 10),
					p.Date,
					p.Author,
					tip,
					strconv.Itoa(len(p.Changesets)),
					dash(strings.Join(statuses, " ")),
					dash(strings.TrimSpace(marks)),
				})
			}
			if err := emit(cmd, ctx, page,
				[]string{"ID", "Push", "Date", "User", "Tip", "Changesets", "Sign-offs", "Notes"}, rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignRight}); err != nil {
				return err
			}
			if !ctx.wantJSON() && page.NextCursor != "" {
				cmd.Printf("%d older pushes; continue with --cursor %s\n", page.PushesLeft, page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&locale, "locale", "l", "", "Locale code")
	cmd.Flags().StringVarP(&appVersion, "app-version", "a", "", "App version code")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Continue from a previous page")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Pushes per page (default from config)")
	_ = cmd.MarkFlagRequired("locale")
	_ = cmd.MarkFlagRequired("app-version")
	return cmd
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
