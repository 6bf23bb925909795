package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
)

func newSignoffCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "signoff", Short: "Propose and review sign-offs"}

	var (
		appVersion, locale, author string
		pushID                     int64
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Propose a push for sign-off",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			resp, err := svc.AddSignoff(commandCtx(cmd), api.AddSignoffRequest{
				AppVersion: appVersion,
				Locale:     locale,
				PushID:     pushID,
				Author:     author,
			})
			if err != nil {
				return err
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, resp)
			}
			verb := "Existing"
			if resp.Created {
				verb = "Created"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s sign-off %d (%s)\n", verb, resp.Signoff.ID, resp.Signoff.Status)
			return nil
		},
	}
	add.Flags().StringVarP(&appVersion, "app-version", "a", "", "App version code")
	add.Flags().StringVarP(&locale, "locale", "l", "", "Locale code")
	add.Flags().Int64Var(&pushID, "push", 0, "Push id as shown by `l10nboard pushes`")
	add.Flags().StringVar(&author, "author", "", "Who proposes the sign-off")
	for _, name := range []string{"app-version", "locale", "push", "author"} {
		_ = add.MarkFlagRequired(name)
	}

	cmd.AddCommand(add,
		newReviewCommand(ctx, "accept", "accepted"),
		newReviewCommand(ctx, "reject", "rejected"),
		newTransitionCommand(ctx, "cancel", "Withdraw a pending sign-off", (*api.Service).Cancel),
		newTransitionCommand(ctx, "reopen", "Return a canceled sign-off to pending", (*api.Service).Reopen),
		newObsoleteCommand(ctx),
		newSignoffShowCommand(ctx),
	)
	return cmd
}

func newReviewCommand(ctx *commandContext, use, outcome string) *cobra.Command {
	var (
		author, comment string
		cascade         bool
		expectSeq       int64
	)
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: "Mark a pending sign-off " + outcome,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			req := api.ReviewRequest{Outcome: outcome, Author: author, Comment: comment, ExpectSeq: expectSeq}
			if cmd.Flags().Changed("cascade") {
				req.Cascade = &cascade
			}
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			tr, err := svc.Review(commandCtx(cmd), id, req)
			if err != nil {
				return err
			}
			return printTransition(cmd, ctx, tr)
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Reviewer")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Review comment")
	cmd.Flags().Int64Var(&expectSeq, "expect-seq", 0, "Fail unless the latest action has this sequence number")
	if outcome == "rejected" {
		cmd.Flags().BoolVar(&cascade, "cascade", false, "Cancel older pending sign-offs (default from config)")
	}
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func newTransitionCommand(ctx *commandContext, use, short string, fn func(*api.Service, context.Context, int64, api.TransitionRequest) (api.TransitionResponse, error)) *cobra.Command {
	var author, comment string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			tr, err := fn(svc, commandCtx(cmd), id, api.TransitionRequest{Author: author, Comment: comment})
			if err != nil {
				return err
			}
			return printTransition(cmd, ctx, tr)
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Who makes the change")
	cmd.Flags().StringVarP(&comment, "comment", "m", "", "Comment")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func newObsoleteCommand(ctx *commandContext) *cobra.Command {
	var (
		author  string
		locales []string
	)
	cmd := &cobra.Command{
		Use:   "obsolete <app-version>",
		Short: "Mark an app version's sign-offs obsoleted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			n, err := svc.Obsolete(commandCtx(cmd), args[0], locales, author)
			if err != nil {
				return err
			}
			if ctx.wantJSON() {
				return writeJSON(cmd, map[string]any{"appVersion": args[0], "obsoleted": n})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Obsoleted %d sign-offs of %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&author, "author", "", "Who makes the change")
	cmd.Flags().StringSliceVarP(&locales, "locale", "l", nil, "Limit to these locales (default all)")
	_ = cmd.MarkFlagRequired("author")
	return cmd
}

func newSignoffShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a sign-off and its action log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			svc, err := ctx.service(cmd, false)
			if err != nil {
				return err
			}
			so, err := svc.Signoff(commandCtx(cmd), id)
			if err != nil {
				return err
			}
			if !ctx.wantJSON() {
				fmt.Fprintf(cmd.OutOrStdout(), "Sign-off %d for push %d by %s: %s\n", so.ID, so.PushID, so.Author, so.Status)
			}
			rows := make([][]string, 0, len(so.Actions))
			for _, a := range so.Actions {
				rows = append(rows, []string{strconv.FormatInt(a.Seq, 10), a.Flag, a.Author, a.CreatedAt, a.Comment})
			}
			return emit(cmd, ctx, so, []string{"Seq", "Flag", "Author", "When", "Comment"}, rows,
				[]columnAlignment{alignRight})
		},
	}
}

func printTransition(cmd *cobra.Command, ctx *commandContext, tr api.TransitionResponse) error {
	if ctx.wantJSON() {
		return writeJSON(cmd, tr)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Sign-off %d: %s -> %s (seq %d)\n", tr.SignoffID, tr.Previous, tr.Action.Flag, tr.Action.Seq)
	for _, id := range tr.Canceled {
		fmt.Fprintf(out, "Canceled superseded sign-off %d\n", id)
	}
	return nil
}

func parseID(value string) (int64, error) {
	id, err := strconv.ParseInt(value, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", value)
	}
	return id, nil
}
