package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"l10nboard/internal/api"
	"l10nboard/internal/ingest"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
)

// maxBatchesPerPoll bounds how many pushlog batches one repository may
// consume in a single poll so a long backlog cannot starve the others.
const maxBatchesPerPoll = 50

// PushSource fetches push records newer than startID.
type PushSource interface {
	Fetch(ctx context.Context, repoURL string, startID int64) ([]ingest.PushRecord, int64, error)
}

// Ingester stores push records for a repository.
type Ingester interface {
	IngestPushes(ctx context.Context, repositoryID int64, records []ingest.PushRecord) (int, error)
}

// Scheduler polls repositories on an interval.
type Scheduler struct {
	store       *store.Store
	source      PushSource
	engine      Ingester
	interval    time.Duration
	parallelism int
	logger      *slog.Logger

	mu           sync.Mutex
	lastPoll     time.Time
	lastErr      error
	failures     int
	repositories int
}

// NewScheduler constructs a scheduler. Parallelism below one polls
// repositories sequentially.
func NewScheduler(st *store.Store, source PushSource, engine Ingester, interval time.Duration, parallelism int, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		store:       st,
		source:      source,
		engine:      engine,
		interval:    interval,
		parallelism: max(parallelism, 1),
		logger:      logging.NewComponentLogger(logger, "scheduler"),
	}
}

// Run polls immediately and then on every tick until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Warn("scheduler disabled", logging.String(logging.FieldEventType, "scheduler_disabled"))
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.PollOnce(ctx); err != nil && ctx.Err() == nil {
			logging.WarnWithContext(s.logger, "poll finished with failures", "poll_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "failed repositories are retried on the next tick"),
			)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce fetches and ingests new pushes for every active repository. One
// repository failing does not stop the others; their errors are joined.
func (s *Scheduler) PollOnce(ctx context.Context) error {
	repos, err := s.store.ListRepositories(ctx, false)
	if err != nil {
		s.record(0, 0, err)
		return err
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for _, repo := range repos {
		g.Go(func() error {
			if err := s.pollRepository(ctx, repo); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", repo.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	joined := errors.Join(errs...)
	s.record(len(repos), len(errs), joined)
	return joined
}

func (s *Scheduler) pollRepository(ctx context.Context, repo store.Repository) error {
	ctx = services.WithRepository(ctx, repo.Name)
	logger := logging.WithContext(ctx, s.logger)

	for batch := 0; batch < maxBatchesPerPoll; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start, err := s.store.LatestPushID(ctx, repo.ID)
		if err != nil {
			return err
		}
		records, last, err := s.source.Fetch(ctx, repo.URL, start)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		n, err := s.engine.IngestPushes(ctx, repo.ID, records)
		if err != nil {
			return err
		}
		newest := records[len(records)-1].PushID
		logger.Debug("pushlog batch ingested",
			logging.Int("pushes", n),
			logging.Int64(logging.FieldPushID, newest),
			logging.Int64("last_push_id", last),
		)
		if newest >= last {
			return nil
		}
	}
	logger.Info("pushlog backlog remains, continuing next poll")
	return nil
}

func (s *Scheduler) record(repositories, failures int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPoll = time.Now()
	s.repositories = repositories
	s.failures = failures
	s.lastErr = err
}

// Status reports the outcome of the latest poll.
func (s *Scheduler) Status() api.IngestStatus {
	if s == nil {
		return api.IngestStatus{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	status := api.IngestStatus{
		Enabled:      true,
		Repositories: s.repositories,
		Failures:     s.failures,
	}
	if !s.lastPoll.IsZero() {
		status.LastPoll = s.lastPoll.UTC().Format(time.RFC3339)
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	return status
}
