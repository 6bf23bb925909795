package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"l10nboard/internal/api"
	"l10nboard/internal/config"
	"l10nboard/internal/daemon"
	"l10nboard/internal/ingest"
	"l10nboard/internal/logging"
	"l10nboard/internal/pushlog"
	"l10nboard/internal/store"
	"l10nboard/internal/vcs"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
}

// Runtime bundles the ingestion engine with the resources it holds open.
type Runtime struct {
	Engine *ingest.Engine
	redis  *redis.Client
}

// Close releases the Redis connection when one was opened.
func (r *Runtime) Close() error {
	if r == nil || r.redis == nil {
		return nil
	}
	return r.redis.Close()
}

// NewRuntime builds the ingestion engine for cfg: hg mirrors under the mirror
// directory, a per-repository file lock, and a Redis lock when configured.
func NewRuntime(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*Runtime, error) {
	client, err := vcs.New(cfg.VCS.HgBinary, cfg.CommandTimeout())
	if err != nil {
		return nil, err
	}
	mirrors := vcs.NewMirrors(cfg.Paths.MirrorDir, client, logger)

	rt := &Runtime{}
	var locker ingest.Locker = ingest.NewFileLocker(cfg.LockDir(), cfg.LockTimeout())
	if cfg.RedisEnabled() {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rt.redis.Ping(ctx).Err(); err != nil {
			_ = rt.redis.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		ttl := time.Duration(cfg.Redis.LockTTL) * time.Second
		locker = ingest.MultiLocker{
			locker,
			ingest.NewRedisLocker(rt.redis, cfg.Redis.KeyPrefix, ttl, cfg.LockTimeout()),
		}
	}
	rt.Engine = ingest.NewEngine(st, mirrors, locker, cfg.Ingest.FileChunkSize, logger)
	return rt, nil
}

// Run starts the l10nboard daemon runtime loop.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}
	level := opts.LogLevel
	if level == "" {
		level = cfg.Logging.Level
	}
	logger, err := logging.New(logging.Options{
		Level:       level,
		Format:      cfg.Logging.Format,
		OutputPaths: []string{"stdout", filepath.Join(cfg.Paths.LogDir, "l10nboard.log")},
		Development: opts.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	logDependencySnapshot(logger, cfg)
	pidPath := filepath.Join(cfg.Paths.DataDir, "l10nboard.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	st, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return err
	}

	var (
		engine    *ingest.Engine
		scheduler *daemon.Scheduler
	)
	if cfg.Ingest.Enabled {
		rt, err := NewRuntime(signalCtx, cfg, st, logger)
		if err != nil {
			_ = st.Close()
			return fmt.Errorf("init ingestion: %w", err)
		}
		defer rt.Close()
		engine = rt.Engine
		source := pushlog.New(cfg.Pushlog, logger)
		scheduler = daemon.NewScheduler(st, source, engine, cfg.PollInterval(), cfg.Ingest.Parallelism, logger)
	}

	svc := api.NewService(st, engine, cfg.Signoffs, logger)
	d, err := daemon.New(cfg, st, svc, scheduler, logger)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check that no other daemon uses this data directory and the API bind address is free"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("l10nboard daemon shutting down")
	if errors.Is(signalCtx.Err(), context.Canceled) {
		return nil
	}
	return signalCtx.Err()
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	logger.Info("dependency snapshot",
		logging.String(logging.FieldEventType, "dependency_snapshot"),
		logging.String("database_driver", cfg.Database.Driver),
		logging.Bool("hg_available", binaryAvailable(cfg.VCS.HgBinary)),
		logging.String("hg_binary", cfg.VCS.HgBinary),
		logging.Bool("ingest_enabled", cfg.Ingest.Enabled),
		logging.Bool("redis_lock", cfg.RedisEnabled()),
		logging.String("api_bind", cfg.API.Bind),
	)
}

func binaryAvailable(name string) bool {
	if name == "" {
		return false
	}
	_, err := exec.LookPath(name)
	return err == nil
}
