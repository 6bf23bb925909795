package config

const (
	defaultConfigPath          = "~/.config/l10nboard/config.toml"
	defaultDataDir             = "~/.local/share/l10nboard"
	defaultMirrorDir           = "~/.local/share/l10nboard/mirrors"
	defaultLogDir              = "~/.local/share/l10nboard/logs"
	defaultDatabaseDriver      = "sqlite"
	defaultHgBinary            = "hg"
	defaultCommandTimeout      = 600
	defaultPollInterval        = 60
	defaultIngestParallelism   = 4
	defaultFileChunkSize       = 1000
	defaultLockTimeout         = 300
	defaultPushlogBatchSize    = 200
	defaultPushlogTimeout      = 30
	defaultPushlogRate         = 2.0
	defaultPushlogMaxAttempts  = 3
	defaultRedisKeyPrefix      = "l10nboard"
	defaultRedisLockTTL        = 900
	defaultAPIBind             = "127.0.0.1:7590"
	defaultSignoffPageSize     = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	maxFileChunkSize           = 1000
	defaultSQLiteMaxOpenConns  = 4
	defaultPostgresMaxOpenConn = 16
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			MirrorDir: defaultMirrorDir,
			LogDir:    defaultLogDir,
		},
		Database: Database{
			Driver: defaultDatabaseDriver,
		},
		VCS: VCS{
			HgBinary:       defaultHgBinary,
			CommandTimeout: defaultCommandTimeout,
		},
		Ingest: Ingest{
			Enabled:       true,
			PollInterval:  defaultPollInterval,
			Parallelism:   defaultIngestParallelism,
			FileChunkSize: defaultFileChunkSize,
			LockTimeout:   defaultLockTimeout,
		},
		Pushlog: Pushlog{
			BatchSize:         defaultPushlogBatchSize,
			RequestTimeout:    defaultPushlogTimeout,
			RequestsPerSecond: defaultPushlogRate,
			MaxAttempts:       defaultPushlogMaxAttempts,
		},
		Redis: Redis{
			KeyPrefix: defaultRedisKeyPrefix,
			LockTTL:   defaultRedisLockTTL,
		},
		API: API{
			Bind: defaultAPIBind,
		},
		Signoffs: Signoffs{
			CascadeRejections: true,
			PageSize:          defaultSignoffPageSize,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
