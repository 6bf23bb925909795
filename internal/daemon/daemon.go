package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"l10nboard/internal/api"
	"l10nboard/internal/config"
	"l10nboard/internal/logging"
	"l10nboard/internal/store"
)

// Daemon coordinates the scheduler and API server and enforces single-instance execution.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	service   *api.Service
	scheduler *Scheduler
	server    *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New constructs a daemon. scheduler may be nil when ingestion polling is
// disabled.
func New(cfg *config.Config, st *store.Store, svc *api.Service, scheduler *Scheduler, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || st == nil || svc == nil {
		return nil, errors.New("daemon requires config, store, and api service")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.DataDir, "l10nboard.lock")
	d := &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		store:     st,
		service:   svc,
		scheduler: scheduler,
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
	}
	d.server = newAPIServer(cfg.API.Bind, d, logger)
	return d, nil
}

// Start acquires the daemon lock, starts the API server, and launches the
// scheduler.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another l10nboard daemon instance is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.server.start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api server: %w", err)
	}
	d.cancel = cancel

	if d.scheduler != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.scheduler.Run(runCtx)
		}()
	}

	d.running.Store(true)
	d.logger.Info("l10nboard daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.server.address()),
		logging.Bool("ingest", d.scheduler != nil),
	)
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("l10nboard daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.store.Close()
}

// Address returns the API listen address once started.
func (d *Daemon) Address() string {
	return d.server.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) api.DaemonStatus {
	status := api.DaemonStatus{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		Driver:       d.store.Driver(),
		DatabasePath: d.store.Path(),
		LockFilePath: d.lockPath,
		Ingest:       d.scheduler.Status(),
	}
	stats, err := d.service.Stats(ctx)
	if err != nil {
		d.logger.Warn("store stats unavailable", logging.Error(err))
	} else {
		status.Stats = stats
	}
	return status
}
