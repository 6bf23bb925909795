package main

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"l10nboard/internal/api"
	"l10nboard/internal/config"
	"l10nboard/internal/daemonrun"
	"l10nboard/internal/logging"
	"l10nboard/internal/store"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error

	store   *store.Store
	runtime *daemonrun.Runtime
	logger  *slog.Logger
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		jsonFlag:   jsonFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) wantJSON() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

// log returns a stderr logger so command output stays parseable.
func (c *commandContext) log() *slog.Logger {
	if c.logger != nil {
		return c.logger
	}
	level := "warn"
	format := "console"
	if c.config != nil {
		format = c.config.Logging.Format
		if strings.EqualFold(c.config.Logging.Level, "debug") {
			level = "debug"
		}
	}
	logger, err := logging.New(logging.Options{Level: level, Format: format, OutputPaths: []string{"stderr"}})
	if err != nil {
		logger = logging.NewNop()
	}
	c.logger = logger
	return logger
}

func (c *commandContext) openStore() (*store.Store, error) {
	if c.store != nil {
		return c.store, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	c.store = st
	return st, nil
}

// service opens the store and wires the dashboard services. withEngine also
// prepares hg mirrors and ingestion locks.
func (c *commandContext) service(cmd *cobra.Command, withEngine bool) (*api.Service, error) {
	st, err := c.openStore()
	if err != nil {
		return nil, err
	}
	cfg := c.config
	svc := api.NewService(st, nil, cfg.Signoffs, c.log())
	if !withEngine {
		return svc, nil
	}
	if c.runtime == nil {
		rt, err := daemonrun.NewRuntime(commandCtx(cmd), cfg, st, c.log())
		if err != nil {
			return nil, err
		}
		c.runtime = rt
	}
	return api.NewService(st, c.runtime.Engine, cfg.Signoffs, c.log()), nil
}

func (c *commandContext) close() error {
	var errs []error
	if c.runtime != nil {
		errs = append(errs, c.runtime.Close())
		c.runtime = nil
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
		c.store = nil
	}
	return errors.Join(errs...)
}

func commandCtx(cmd *cobra.Command) context.Context {
	if cmd != nil && cmd.Context() != nil {
		return cmd.Context()
	}
	return context.Background()
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
