package api

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"l10nboard/internal/config"
	"l10nboard/internal/flags"
	"l10nboard/internal/ingest"
	"l10nboard/internal/logging"
	"l10nboard/internal/pushview"
	"l10nboard/internal/services"
	"l10nboard/internal/signoff"
	"l10nboard/internal/store"
)

// Service exposes dashboard operations returning API DTOs.
type Service struct {
	store    *store.Store
	engine   *ingest.Engine
	signoffs *signoff.Service
	resolver *flags.Resolver
	pages    *pushview.Builder
	cascade  bool
	pageSize int
	logger   *slog.Logger
}

// NewService wires the domain services around a store. engine may be nil, in
// which case ingestion requests fail with a configuration error.
func NewService(st *store.Store, engine *ingest.Engine, cfg config.Signoffs, logger *slog.Logger) *Service {
	if st == nil {
		return nil
	}
	resolver := flags.NewResolver(st, logger)
	return &Service{
		store:    st,
		engine:   engine,
		signoffs: signoff.NewService(st, logger),
		resolver: resolver,
		pages:    pushview.NewBuilder(st, resolver, logger),
		cascade:  cfg.CascadeRejections,
		pageSize: cfg.PageSize,
		logger:   logging.NewComponentLogger(logger, "api"),
	}
}

// Stats returns table counts.
func (s *Service) Stats(ctx context.Context) (StoreStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return StoreStats{}, err
	}
	return FromStats(stats), nil
}

// IngestPushes stores push records for the named repository.
func (s *Service) IngestPushes(ctx context.Context, repository string, req IngestRequest) (IngestResponse, error) {
	if s.engine == nil {
		return IngestResponse{}, services.Wrap(services.ErrConfiguration, "api", "ingest", "ingestion engine not configured", nil)
	}
	records, err := ToPushRecords(req.Pushes)
	if err != nil {
		return IngestResponse{}, err
	}
	repo, err := s.store.RepositoryByName(ctx, repository)
	if err != nil {
		return IngestResponse{}, err
	}
	n, err := s.engine.IngestPushes(ctx, repo.ID, records)
	resp := IngestResponse{Repository: repo.Name, Processed: n}
	return resp, err
}

// Flags resolves effective flags for app version codes. Empty locales use
// each app version's active locales.
func (s *Service) Flags(ctx context.Context, versionCodes, locales []string, upUntil *time.Time) (FlagsResponse, error) {
	if len(versionCodes) == 0 {
		return FlagsResponse{}, services.Wrap(services.ErrValidation, "api", "flags", "at least one app version required", nil)
	}
	versions := make([]store.AppVersion, 0, len(versionCodes))
	ids := make([]int64, 0, len(versionCodes))
	for _, code := range versionCodes {
		av, err := s.store.AppVersionByCode(ctx, strings.TrimSpace(code))
		if err != nil {
			return FlagsResponse{}, err
		}
		versions = append(versions, *av)
		ids = append(ids, av.ID)
	}
	result, err := s.resolver.Resolve(ctx, ids, locales, upUntil)
	if err != nil {
		return FlagsResponse{}, err
	}
	return FromResult(result, versions), nil
}

// Pushes returns one page of annotated pushes.
func (s *Service) Pushes(ctx context.Context, locale, appVersion string, pageSize int, cursor string) (PushPage, error) {
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	page, err := s.pages.AnnotatedPushes(ctx, pushview.Request{
		Locale:     locale,
		AppVersion: appVersion,
		PageSize:   pageSize,
		Cursor:     cursor,
	})
	if err != nil {
		return PushPage{}, err
	}
	return FromPage(page), nil
}

// AddSignoff proposes a push for sign-off.
func (s *Service) AddSignoff(ctx context.Context, req AddSignoffRequest) (SignoffResponse, error) {
	so, created, err := s.signoffs.AddSignoff(ctx, req.AppVersion, req.Locale, req.PushID, req.Author)
	if err != nil {
		return SignoffResponse{}, err
	}
	state, err := s.store.SignoffStateByID(ctx, so.ID)
	if err != nil {
		return SignoffResponse{}, err
	}
	return SignoffResponse{Signoff: FromSignoffState(*state), Created: created}, nil
}

// Signoff returns a sign-off with its full action log.
func (s *Service) Signoff(ctx context.Context, id int64) (Signoff, error) {
	state, actions, err := s.signoffs.History(ctx, id)
	if err != nil {
		return Signoff{}, err
	}
	dto := FromSignoffState(*state)
	for _, action := range actions {
		dto.Actions = append(dto.Actions, FromAction(action))
	}
	return dto, nil
}

// Review accepts or rejects a sign-off.
func (s *Service) Review(ctx context.Context, id int64, req ReviewRequest) (TransitionResponse, error) {
	outcome, err := store.ParseFlag(req.Outcome)
	if err != nil {
		return TransitionResponse{}, services.Wrap(services.ErrValidation, "api", "review", "unknown outcome", err)
	}
	cascade := s.cascade
	if req.Cascade != nil {
		cascade = *req.Cascade
	}
	tr, err := s.signoffs.Review(ctx, id, outcome, req.Author, req.Comment, signoff.ReviewOptions{
		Cascade:   cascade,
		ExpectSeq: req.ExpectSeq,
	})
	if err != nil {
		return TransitionResponse{}, err
	}
	return FromTransition(tr), nil
}

// Cancel withdraws a pending sign-off.
func (s *Service) Cancel(ctx context.Context, id int64, req TransitionRequest) (TransitionResponse, error) {
	tr, err := s.signoffs.Cancel(ctx, id, req.Author, req.Comment)
	if err != nil {
		return TransitionResponse{}, err
	}
	return FromTransition(tr), nil
}

// Reopen returns a canceled sign-off to pending.
func (s *Service) Reopen(ctx context.Context, id int64, req TransitionRequest) (TransitionResponse, error) {
	tr, err := s.signoffs.Reopen(ctx, id, req.Author, req.Comment)
	if err != nil {
		return TransitionResponse{}, err
	}
	return FromTransition(tr), nil
}

// Obsolete marks the sign-offs of an app version as obsoleted.
func (s *Service) Obsolete(ctx context.Context, appVersion string, locales []string, author string) (int, error) {
	return s.signoffs.Obsolete(ctx, appVersion, locales, author)
}

// RecordRun stores a build run.
func (s *Service) RecordRun(ctx context.Context, req RunRequest) (Run, error) {
	tree, err := s.store.TreeByCode(ctx, req.Tree)
	if err != nil {
		return Run{}, err
	}
	locale, err := s.store.LocaleByCode(ctx, req.Locale)
	if err != nil {
		return Run{}, err
	}
	run := store.Run{
		TreeID:   tree.ID,
		LocaleID: locale.ID,
		Revision: strings.TrimSpace(req.Revision),
		Errors:   req.Errors,
		Missing:  req.Missing,
	}
	if strings.TrimSpace(req.SrcTime) != "" {
		run.SrcTime, err = ParseTime(req.SrcTime)
		if err != nil {
			return Run{}, err
		}
	}
	var recorded *store.Run
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		r, err := q.RecordRun(ctx, run)
		recorded = r
		return err
	})
	if err != nil {
		return Run{}, err
	}
	logging.WithContext(ctx, s.logger).Info("run recorded",
		logging.String("tree", tree.Code),
		logging.String(logging.FieldLocale, locale.Code),
		logging.String("revision", recorded.Revision),
		logging.Bool("clean", recorded.Clean()),
	)
	return FromRun(*recorded), nil
}
