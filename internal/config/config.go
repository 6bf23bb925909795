package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	MirrorDir string `toml:"mirror_dir"`
	LogDir    string `toml:"log_dir"`
}

// Database selects the persistence backend.
type Database struct {
	// Driver is either "sqlite" or "postgres".
	Driver string `toml:"driver"`
	// DSN is required for postgres. For sqlite it defaults to data_dir/l10nboard.db.
	DSN          string `toml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns"`
}

// VCS contains settings for the local Mercurial mirrors.
type VCS struct {
	HgBinary       string `toml:"hg_binary"`
	CommandTimeout int    `toml:"command_timeout"`
}

// Ingest contains push ingestion settings.
type Ingest struct {
	Enabled       bool `toml:"enabled"`
	PollInterval  int  `toml:"poll_interval"`
	Parallelism   int  `toml:"parallelism"`
	FileChunkSize int  `toml:"file_chunk_size"`
	LockTimeout   int  `toml:"lock_timeout"`
}

// Pushlog contains settings for the remote push log client.
type Pushlog struct {
	BatchSize         int     `toml:"batch_size"`
	RequestTimeout    int     `toml:"request_timeout"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	MaxAttempts       int     `toml:"max_attempts"`
}

// Redis configures the optional distributed ingestion lock.
type Redis struct {
	Addr      string `toml:"addr"`
	Password  string `toml:"password"`
	DB        int    `toml:"db"`
	KeyPrefix string `toml:"key_prefix"`
	LockTTL   int    `toml:"lock_ttl"`
}

// API contains the HTTP API bind address.
type API struct {
	Bind string `toml:"bind"`
}

// Signoffs contains sign-off review behaviour.
type Signoffs struct {
	// CascadeRejections cancels older pending sign-offs when a newer one is rejected.
	CascadeRejections bool `toml:"cascade_rejections"`
	PageSize          int  `toml:"page_size"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for l10nboard.
//
// Configuration sections by subsystem:
//   - Paths: data, mirror, and log directories
//   - Database: sqlite or postgres backend
//   - VCS: hg binary and command timeouts
//   - Ingest: scheduler interval, parallelism, and bulk insert sizing
//   - Pushlog: remote push log polling limits
//   - Redis: optional cross-host ingestion lock
//   - API: HTTP bind address
//   - Signoffs: review cascade and pagination
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Database Database `toml:"database"`
	VCS      VCS      `toml:"vcs"`
	Ingest   Ingest   `toml:"ingest"`
	Pushlog  Pushlog  `toml:"pushlog"`
	Redis    Redis    `toml:"redis"`
	API      API      `toml:"api"`
	Signoffs Signoffs `toml:"signoffs"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("l10nboard.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.MirrorDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the SQLite database file used when no DSN is configured.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.DataDir, "l10nboard.db")
}

// LockDir returns the directory holding per-repository ingestion lock files.
func (c *Config) LockDir() string {
	return filepath.Join(c.Paths.MirrorDir, ".locks")
}

// CommandTimeout returns the timeout applied to each VCS command.
func (c *Config) CommandTimeout() time.Duration {
	return time.Duration(c.VCS.CommandTimeout) * time.Second
}

// PollInterval returns the ingestion scheduler interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Ingest.PollInterval) * time.Second
}

// LockTimeout returns how long ingestion waits for a repository lock.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.Ingest.LockTimeout) * time.Second
}

// RedisEnabled reports whether the distributed ingestion lock is configured.
func (c *Config) RedisEnabled() bool {
	return strings.TrimSpace(c.Redis.Addr) != ""
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
