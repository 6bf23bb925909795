package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
	"l10nboard/internal/vcs"
)

// PushRecord is one entry of a repository's push log.
type PushRecord struct {
	PushID    int64
	Date      time.Time
	User      string
	Revisions []string
}

// MirrorProvider prepares the local mirror of a repository.
type MirrorProvider interface {
	Ensure(ctx context.Context, repo vcs.Source, siblings []vcs.Source) (vcs.Repo, error)
}

// Engine ingests push records into the store.
type Engine struct {
	store     *store.Store
	mirrors   MirrorProvider
	locker    Locker
	chunkSize int
	logger    *slog.Logger
}

// NewEngine constructs an ingestion engine. A nil locker disables locking.
func NewEngine(st *store.Store, mirrors MirrorProvider, locker Locker, chunkSize int, logger *slog.Logger) *Engine {
	if locker == nil {
		locker = noopLocker{}
	}
	return &Engine{
		store:     st,
		mirrors:   mirrors,
		locker:    locker,
		chunkSize: chunkSize,
		logger:    logging.NewComponentLogger(logger, "ingest"),
	}
}

// IngestPushes stores records for the repository and returns how many were
// processed. Each record is committed in its own transaction; the first
// failing record stops the batch and earlier records stay committed.
func (e *Engine) IngestPushes(ctx context.Context, repositoryID int64, records []PushRecord) (int, error) {
	repo, err := e.store.RepositoryByID(ctx, repositoryID)
	if err != nil {
		return 0, err
	}
	ctx = services.WithRepository(ctx, repo.Name)
	logger := logging.WithContext(ctx, e.logger)

	release, err := e.locker.Acquire(ctx, repo.Name)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := release(); err != nil {
			logging.WarnWithContext(logger, "release repository lock failed", "ingest_unlock_failed", logging.Error(err))
		}
	}()

	siblings, err := e.store.SiblingRepositories(ctx, *repo)
	if err != nil {
		return 0, err
	}
	sources := make([]vcs.Source, 0, len(siblings))
	for _, s := range siblings {
		sources = append(sources, vcs.Source{Name: s.Name, URL: s.URL})
	}

	mirror, err := e.mirrors.Ensure(ctx, vcs.Source{Name: repo.Name, URL: repo.URL}, sources)
	if err != nil {
		logging.ErrorWithContext(logger, "mirror unavailable", "ingest_mirror_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ingestion will be retried on the next poll"),
		)
		return 0, err
	}

	memo := make(map[string]int64)
	processed := 0
	for _, record := range records {
		revisions := record.Revisions
		if len(revisions) == 0 {
			head, err := mirror.Head(ctx)
			if err != nil {
				return processed, err
			}
			revisions = []string{head}
		}

		var (
			res     *resolver
			created bool
		)
		err := e.store.WithTx(ctx, func(q *store.Queries) error {
			res = newResolver(q, mirror, repo.ID, memo, e.chunkSize)
			ids := make([]int64, 0, len(revisions))
			for _, rev := range revisions {
				id, err := res.resolve(ctx, rev)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			pushID, isNew, err := q.UpsertPush(ctx, repo.ID, record.PushID, record.Date, record.User)
			if err != nil {
				return err
			}
			created = isNew
			return q.SetPushChangesets(ctx, pushID, ids)
		})
		if err != nil {
			logging.ErrorWithContext(logger, "push ingestion failed", "ingest_push_failed",
				logging.Int64(logging.FieldPushID, record.PushID),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "verify the push log revisions exist upstream"),
			)
			return processed, fmt.Errorf("push %d: %w", record.PushID, err)
		}
		res.commit()
		processed++
		logger.Debug("push stored",
			logging.Int64(logging.FieldPushID, record.PushID),
			logging.Int("changesets", len(revisions)),
			logging.Int("new_changesets", res.created),
			logging.Bool("new_push", created),
		)
	}

	if processed > 0 {
		logger.Info("ingested pushes", logging.Int("count", processed))
	}
	return processed, nil
}
