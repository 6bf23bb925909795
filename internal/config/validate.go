package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}
	if err := c.validateTimings(); err != nil {
		return err
	}
	if err := c.validatePushlog(); err != nil {
		return err
	}
	if err := c.validateRedis(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if c.Signoffs.PageSize <= 0 {
		return errors.New("signoffs.page_size must be positive")
	}
	return nil
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.DSN == "" && c.Paths.DataDir == "" {
			return errors.New("paths.data_dir must be set when database.dsn is empty")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the postgres driver (or set L10NBOARD_DATABASE_DSN)")
		}
	default:
		return fmt.Errorf("database.driver: unsupported value %q (expected sqlite or postgres)", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateTimings() error {
	if err := ensurePositiveMap(map[string]int{
		"vcs.command_timeout":     c.VCS.CommandTimeout,
		"ingest.poll_interval":    c.Ingest.PollInterval,
		"ingest.lock_timeout":     c.Ingest.LockTimeout,
		"pushlog.batch_size":      c.Pushlog.BatchSize,
		"pushlog.request_timeout": c.Pushlog.RequestTimeout,
		"pushlog.max_attempts":    c.Pushlog.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Paths.MirrorDir == "" {
		return errors.New("paths.mirror_dir must be set")
	}
	return nil
}

func (c *Config) validatePushlog() error {
	if c.Pushlog.RequestsPerSecond <= 0 {
		return errors.New("pushlog.requests_per_second must be positive")
	}
	return nil
}

func (c *Config) validateRedis() error {
	if !c.RedisEnabled() {
		return nil
	}
	if c.Redis.LockTTL <= 0 {
		return errors.New("redis.lock_ttl must be positive when redis.addr is set")
	}
	if c.Redis.DB < 0 {
		return errors.New("redis.db must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
