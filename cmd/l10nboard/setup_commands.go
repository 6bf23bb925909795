package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
	"l10nboard/internal/store"
)

func newLocaleCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "locale", Short: "Manage locales"}

	var name string
	add := &cobra.Command{
		Use:   "add <code>",
		Short: "Register a locale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			locale, err := st.CreateLocale(commandCtx(cmd), args[0], name)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added locale %s (%s)\n", locale.Code, locale.Name)
			return nil
		},
	}
	add.Flags().StringVar(&name, "name", "", "Display name (defaults to the English name of the tag)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List locales",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			locales, err := st.ListLocales(commandCtx(cmd))
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(locales))
			for _, l := range locales {
				rows = append(rows, []string{l.Code, l.Name})
			}
			return emit(cmd, ctx, locales, []string{"Code", "Name"}, rows, nil)
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func newForestCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "forest", Short: "Manage forests of sibling repositories"}

	var forkOf string
	add := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Register a forest",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			var forkID int64
			if forkOf != "" {
				parent, err := st.ForestByName(commandCtx(cmd), forkOf)
				if err != nil {
					return err
				}
				forkID = parent.ID
			}
			forest, err := st.CreateForest(commandCtx(cmd), args[0], args[1], forkID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added forest %s\n", forest.Name)
			return nil
		},
	}
	add.Flags().StringVar(&forkOf, "fork-of", "", "Forest this one was forked from")

	cmd.AddCommand(add)
	return cmd
}

func newRepoCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "repo", Short: "Manage repositories"}

	var forestName, localeCode string
	add := &cobra.Command{
		Use:   "add <name> <url>",
		Short: "Register a repository",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			params := store.RepositoryParams{Name: args[0], URL: args[1]}
			if forestName != "" {
				forest, err := st.ForestByName(commandCtx(cmd), forestName)
				if err != nil {
					return err
				}
				params.ForestID = forest.ID
			}
			if localeCode != "" {
				locale, err := st.LocaleByCode(commandCtx(cmd), localeCode)
				if err != nil {
					return err
				}
				params.LocaleID = locale.ID
			}
			repo, err := st.CreateRepository(commandCtx(cmd), params)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added repository %s\n", repo.Name)
			return nil
		},
	}
	add.Flags().StringVar(&forestName, "forest", "", "Forest the repository belongs to")
	add.Flags().StringVar(&localeCode, "locale", "", "Locale the repository holds")

	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List repositories",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			repos, err := st.ListRepositories(commandCtx(cmd), all)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(repos))
			for _, r := range repos {
				latest, err := st.LatestPushID(commandCtx(cmd), r.ID)
				if err != nil {
					return err
				}
				rows = append(rows, []string{r.Name, r.URL, strconv.FormatInt(latest, 10), yesNo(r.Archived)})
			}
			return emit(cmd, ctx, repos, []string{"Name", "URL", "Last push", "Archived"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "Include archived repositories")

	archive := &cobra.Command{
		Use:   "archive <name>",
		Short: "Stop polling a repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			repo, err := st.RepositoryByName(commandCtx(cmd), args[0])
			if err != nil {
				return err
			}
			if err := st.SetRepositoryArchived(commandCtx(cmd), repo.ID, true); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived repository %s\n", repo.Name)
			return nil
		},
	}

	cmd.AddCommand(add, list, archive)
	return cmd
}

func newTreeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "tree", Short: "Manage build trees"}

	var forestName string
	add := &cobra.Command{
		Use:   "add <code>",
		Short: "Register a tree built from a forest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			var forestID int64
			if forestName != "" {
				forest, err := st.ForestByName(commandCtx(cmd), forestName)
				if err != nil {
					return err
				}
				forestID = forest.ID
			}
			tree, err := st.CreateTree(commandCtx(cmd), args[0], forestID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added tree %s\n", tree.Code)
			return nil
		},
	}
	add.Flags().StringVar(&forestName, "forest", "", "Forest the tree builds from")

	cmd.AddCommand(add)
	return cmd
}

func newAppVersionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{Use: "appversion", Short: "Manage application versions"}

	var (
		appCode, version, name, fallback, treeCode string
		closed                                     bool
	)
	add := &cobra.Command{
		Use:   "add <code>",
		Short: "Register an app version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			c := commandCtx(cmd)
			app, err := st.ApplicationByCode(c, appCode)
			if store.IsNotFound(err) {
				app, err = st.CreateApplication(c, appCode, appCode)
			}
			if err != nil {
				return err
			}
			params := store.AppVersionParams{
				ApplicationID:   app.ID,
				Version:         version,
				Code:            args[0],
				Name:            name,
				AcceptsSignoffs: !closed,
			}
			if fallback != "" {
				fb, err := st.AppVersionByCode(c, fallback)
				if err != nil {
					return err
				}
				params.FallbackID = fb.ID
			}
			av, err := st.CreateAppVersion(c, params)
			if err != nil {
				return err
			}
			if treeCode != "" {
				tree, err := st.TreeByCode(c, treeCode)
				if err != nil {
					return err
				}
				if _, err := st.AssociateTree(c, av.ID, tree.ID, time.Now()); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added app version %s\n", av.Code)
			return nil
		},
	}
	add.Flags().StringVar(&appCode, "app", "", "Application code")
	add.Flags().StringVar(&version, "version", "", "Version string")
	add.Flags().StringVar(&name, "name", "", "Display name")
	add.Flags().StringVar(&fallback, "fallback", "", "App version to inherit accepted sign-offs from")
	add.Flags().StringVar(&treeCode, "tree", "", "Tree to associate starting now")
	add.Flags().BoolVar(&closed, "closed", false, "Create without accepting sign-offs")
	_ = add.MarkFlagRequired("app")

	var clearFallback bool
	fallbackCmd := &cobra.Command{
		Use:   "fallback <code> [fallback-code]",
		Short: "Set or clear an app version's fallback",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			c := commandCtx(cmd)
			av, err := st.AppVersionByCode(c, args[0])
			if err != nil {
				return err
			}
			var fallbackID int64
			switch {
			case clearFallback:
			case len(args) == 2:
				fb, err := st.AppVersionByCode(c, args[1])
				if err != nil {
					return err
				}
				fallbackID = fb.ID
			default:
				return fmt.Errorf("fallback code or --clear required")
			}
			if err := st.SetFallback(c, av.ID, fallbackID); err != nil {
				return err
			}
			if fallbackID == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared fallback of %s\n", av.Code)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s now falls back to %s\n", av.Code, args[1])
			}
			return nil
		},
	}
	fallbackCmd.Flags().BoolVar(&clearFallback, "clear", false, "Remove the fallback")

	var treeStart string
	treeCmd := &cobra.Command{
		Use:   "tree <code> <tree>",
		Short: "Associate an app version with a tree",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			c := commandCtx(cmd)
			av, err := st.AppVersionByCode(c, args[0])
			if err != nil {
				return err
			}
			tree, err := st.TreeByCode(c, args[1])
			if err != nil {
				return err
			}
			start := time.Now()
			if treeStart != "" {
				if start, err = api.ParseTime(treeStart); err != nil {
					return err
				}
			}
			if _, err := st.AssociateTree(c, av.ID, tree.ID, start); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s builds on %s\n", av.Code, tree.Code)
			return nil
		},
	}
	treeCmd.Flags().StringVar(&treeStart, "start", "", "Association start (RFC3339, default now)")

	openClose := func(use, short string, accepts bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <code>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				st, err := ctx.openStore()
				if err != nil {
					return err
				}
				av, err := st.AppVersionByCode(commandCtx(cmd), args[0])
				if err != nil {
					return err
				}
				if err := st.SetAcceptsSignoffs(commandCtx(cmd), av.ID, accepts); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s accepts sign-offs: %s\n", av.Code, yesNo(accepts))
				return nil
			},
		}
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List app versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore()
			if err != nil {
				return err
			}
			versions, err := st.ListAppVersions(commandCtx(cmd))
			if err != nil {
				return err
			}
			codes := make(map[int64]string, len(versions))
			for _, av := range versions {
				codes[av.ID] = av.Code
			}
			rows := make([][]string, 0, len(versions))
			for _, av := range versions {
				rows = append(rows, []string{av.Code, av.Version, yesNo(av.AcceptsSignoffs), dash(codes[av.FallbackID])})
			}
			return emit(cmd, ctx, versions, []string{"Code", "Version", "Open", "Fallback"}, rows, nil)
		},
	}

	cmd.AddCommand(add, fallbackCmd, treeCmd, list,
		openClose("open", "Accept new sign-offs", true),
		openClose("close", "Stop accepting new sign-offs", false),
	)
	return cmd
}
