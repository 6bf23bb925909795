package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeDatabase()
	c.normalizeVCS()
	c.normalizeIngest()
	c.normalizeRedis()
	c.normalizeLogging()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.MirrorDir) == "" {
		c.Paths.MirrorDir = defaultMirrorDir
	}
	if c.Paths.MirrorDir, err = expandPath(c.Paths.MirrorDir); err != nil {
		return fmt.Errorf("paths.mirror_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeDatabase() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if c.Database.Driver == "" {
		c.Database.Driver = defaultDatabaseDriver
	}
	if c.Database.Driver == "postgresql" {
		c.Database.Driver = "postgres"
	}
	if c.Database.DSN == "" {
		if value, ok := os.LookupEnv("L10NBOARD_DATABASE_DSN"); ok {
			c.Database.DSN = value
		}
	}
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	if c.Database.MaxOpenConns <= 0 {
		if c.Database.Driver == "postgres" {
			c.Database.MaxOpenConns = defaultPostgresMaxOpenConn
		} else {
			c.Database.MaxOpenConns = defaultSQLiteMaxOpenConns
		}
	}
}

func (c *Config) normalizeVCS() {
	c.VCS.HgBinary = strings.TrimSpace(c.VCS.HgBinary)
	if c.VCS.HgBinary == "" {
		c.VCS.HgBinary = defaultHgBinary
	}
}

func (c *Config) normalizeIngest() {
	if c.Ingest.FileChunkSize <= 0 || c.Ingest.FileChunkSize > maxFileChunkSize {
		c.Ingest.FileChunkSize = maxFileChunkSize
	}
	if c.Ingest.Parallelism <= 0 {
		c.Ingest.Parallelism = 1
	}
}

func (c *Config) normalizeRedis() {
	if c.Redis.Addr == "" {
		if value, ok := os.LookupEnv("L10NBOARD_REDIS_ADDR"); ok {
			c.Redis.Addr = value
		}
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Redis.KeyPrefix = strings.TrimSpace(c.Redis.KeyPrefix)
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = defaultRedisKeyPrefix
	}
}

func (c *Config) normalizeLogging() {
	format := strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if format == "" {
		format = defaultLogFormat
	}
	c.Logging.Format = format

	level := strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if level == "" {
		level = defaultLogLevel
	}
	c.Logging.Level = level
}
