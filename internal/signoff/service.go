package signoff

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
)

// Service applies sign-off transitions.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// NewService constructs the sign-off service.
func NewService(st *store.Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logging.NewComponentLogger(logger, "signoff")}
}

// ReviewOptions tune Review.
type ReviewOptions struct {
	// Cascade cancels older pending sign-offs of the same app version and
	// locale when the outcome is REJECTED, stopping at the first one that is
	// not pending.
	Cascade bool
	// ExpectSeq, when non-zero, must equal the sequence of the latest action.
	ExpectSeq int64
}

// Transition reports the action appended by a mutation.
type Transition struct {
	Signoff  store.Signoff
	Action   store.Action
	Previous store.Flag
	// Canceled lists sign-offs canceled by a rejection cascade.
	Canceled []int64
}

// AddSignoff creates a pending sign-off for a push. When one already exists
// for the app version, locale and push, it is returned with created false.
func (s *Service) AddSignoff(ctx context.Context, versionCode, localeCode string, pushID int64, author string) (*store.Signoff, bool, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, false, services.Wrap(services.ErrValidation, "signoff", "add", "author required", nil)
	}
	av, err := s.store.AppVersionByCode(ctx, versionCode)
	if err != nil {
		return nil, false, err
	}
	ctx = services.WithAppVersion(ctx, av.Code)
	if !av.AcceptsSignoffs {
		return nil, false, fmt.Errorf("app version %s: %w", av.Code, store.ErrSignoffsClosed)
	}
	locale, err := s.store.LocaleByCode(ctx, localeCode)
	if err != nil {
		return nil, false, err
	}
	push, err := s.store.PushByID(ctx, pushID)
	if err != nil {
		return nil, false, err
	}
	repo, err := s.store.RepositoryByID(ctx, push.RepositoryID)
	if err != nil {
		return nil, false, err
	}
	if repo.LocaleID != 0 && repo.LocaleID != locale.ID {
		return nil, false, services.Wrap(services.ErrValidation, "signoff", "add",
			fmt.Sprintf("push %d belongs to repository %s, not locale %s", pushID, repo.Name, locale.Code), nil)
	}

	var (
		result  *store.Signoff
		created bool
	)
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		existing, err := q.SignoffByKey(ctx, av.ID, locale.ID, push.ID)
		if err == nil {
			result = existing
			return nil
		}
		if !store.IsNotFound(err) {
			return err
		}
		so, err := q.InsertSignoff(ctx, store.Signoff{
			PushID:       push.ID,
			AppVersionID: av.ID,
			LocaleID:     locale.ID,
			Author:       author,
		})
		if err != nil {
			return err
		}
		if _, err := q.AppendAction(ctx, store.Action{SignoffID: so.ID, Seq: 1, Flag: store.FlagPending, Author: author}); err != nil {
			return err
		}
		result, created = so, true
		return nil
	})
	if errors.Is(err, services.ErrConflict) {
		// Lost the insert race; the winner's row is the answer.
		existing, lookupErr := s.store.SignoffByKey(ctx, av.ID, locale.ID, push.ID)
		if lookupErr != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if created {
		logging.WithContext(ctx, s.logger).Info("signoff added",
			logging.Int64(logging.FieldSignoffID, result.ID),
			logging.String(logging.FieldLocale, locale.Code),
			logging.Int64(logging.FieldPushID, push.PushID),
			logging.String(logging.FieldEventType, "signoff_added"),
		)
	}
	return result, created, nil
}

// Review accepts or rejects a pending sign-off.
func (s *Service) Review(ctx context.Context, signoffID int64, outcome store.Flag, author, comment string, opts ReviewOptions) (*Transition, error) {
	if outcome != store.FlagAccepted && outcome != store.FlagRejected {
		return nil, services.Wrap(services.ErrValidation, "signoff", "review",
			fmt.Sprintf("outcome must be accepted or rejected, got %s", outcome), nil)
	}
	tr, err := s.transition(ctx, signoffID, author, comment, opts.ExpectSeq, outcome, store.FlagPending,
		func(q *store.Queries, tr *Transition) error {
			if outcome != store.FlagRejected || !opts.Cascade {
				return nil
			}
			canceled, err := cascadeCancel(ctx, q, tr.Signoff, author)
			tr.Canceled = canceled
			return err
		})
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, tr, "signoff_reviewed")
	return tr, nil
}

// Cancel withdraws a pending sign-off.
func (s *Service) Cancel(ctx context.Context, signoffID int64, author, comment string) (*Transition, error) {
	tr, err := s.transition(ctx, signoffID, author, comment, 0, store.FlagCanceled, store.FlagPending, nil)
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, tr, "signoff_canceled")
	return tr, nil
}

// Reopen returns a canceled sign-off to pending.
func (s *Service) Reopen(ctx context.Context, signoffID int64, author, comment string) (*Transition, error) {
	tr, err := s.transition(ctx, signoffID, author, comment, 0, store.FlagPending, store.FlagCanceled, nil)
	if err != nil {
		return nil, err
	}
	s.logTransition(ctx, tr, "signoff_reopened")
	return tr, nil
}

// Obsolete marks every sign-off of the app version for the given locales as
// OBSOLETED. Sign-offs already obsoleted are skipped. It returns the number of
// sign-offs changed.
func (s *Service) Obsolete(ctx context.Context, versionCode string, localeCodes []string, author string) (int, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return 0, services.Wrap(services.ErrValidation, "signoff", "obsolete", "author required", nil)
	}
	av, err := s.store.AppVersionByCode(ctx, versionCode)
	if err != nil {
		return 0, err
	}
	ctx = services.WithAppVersion(ctx, av.Code)
	var locales []store.Locale
	if len(localeCodes) == 0 {
		locales, err = s.store.ListLocales(ctx)
	} else {
		locales, err = s.store.LocalesByCode(ctx, localeCodes)
	}
	if err != nil {
		return 0, err
	}
	localeIDs := make([]int64, 0, len(locales))
	for _, loc := range locales {
		localeIDs = append(localeIDs, loc.ID)
	}

	changed := 0
	err = s.store.WithTx(ctx, func(q *store.Queries) error {
		changed = 0
		states, err := q.SignoffsForLocales(ctx, av.ID, localeIDs)
		if err != nil {
			return err
		}
		for _, st := range states {
			if st.Status() == store.FlagObsoleted {
				continue
			}
			if _, err := q.AppendAction(ctx, store.Action{
				SignoffID: st.ID,
				Seq:       nextSeq(st.Latest),
				Flag:      store.FlagObsoleted,
				Author:    author,
			}); err != nil {
				return err
			}
			changed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	logging.WithContext(ctx, s.logger).Info("signoffs obsoleted",
		logging.Int("count", changed),
		logging.Int("locales", len(localeIDs)),
		logging.String(logging.FieldEventType, "signoffs_obsoleted"),
	)
	return changed, nil
}

// History returns a sign-off with its full action log in sequence order.
func (s *Service) History(ctx context.Context, signoffID int64) (*store.SignoffState, []store.Action, error) {
	state, err := s.store.SignoffStateByID(ctx, signoffID)
	if err != nil {
		return nil, nil, err
	}
	actions, err := s.store.ListActions(ctx, signoffID)
	if err != nil {
		return nil, nil, err
	}
	return state, actions, nil
}

// transition appends next to a sign-off whose current status is from. after
// runs inside the same transaction once the action is appended.
func (s *Service) transition(
	ctx context.Context,
	signoffID int64,
	author, comment string,
	expectSeq int64,
	next, from store.Flag,
	after func(*store.Queries, *Transition) error,
) (*Transition, error) {
	author = strings.TrimSpace(author)
	if author == "" {
		return nil, services.Wrap(services.ErrValidation, "signoff", next.String(), "author required", nil)
	}

	var tr *Transition
	err := s.store.WithTx(ctx, func(q *store.Queries) error {
		so, err := q.LockSignoff(ctx, signoffID)
		if err != nil {
			return err
		}
		latest, err := q.LatestAction(ctx, so.ID)
		if err != nil {
			return err
		}
		current := store.FlagUnknown
		var seq int64
		if latest != nil {
			current, seq = latest.Flag, latest.Seq
		}
		if expectSeq != 0 && expectSeq != seq {
			return services.Wrap(services.ErrConflict, "signoff", next.String(),
				fmt.Sprintf("signoff %d is at action %d, expected %d", so.ID, seq, expectSeq), nil)
		}
		if current != from {
			return services.Wrap(services.ErrInvalidState, "signoff", next.String(),
				fmt.Sprintf("signoff %d is %s, must be %s", so.ID, current, from), nil)
		}
		action, err := q.AppendAction(ctx, store.Action{
			SignoffID: so.ID,
			Seq:       seq + 1,
			Flag:      next,
			Author:    author,
			Comment:   comment,
		})
		if err != nil {
			return err
		}
		tr = &Transition{Signoff: *so, Action: *action, Previous: current}
		if after != nil {
			return after(q, tr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tr, nil
}

// cascadeCancel cancels pending sign-offs older than rejected, newest first,
// and stops at the first one that is not pending.
func cascadeCancel(ctx context.Context, q *store.Queries, rejected store.Signoff, author string) ([]int64, error) {
	older, err := q.OlderSignoffs(ctx, rejected.AppVersionID, rejected.LocaleID, rejected.ID)
	if err != nil {
		return nil, err
	}
	var canceled []int64
	for _, st := range older {
		if st.Status() != store.FlagPending {
			break
		}
		if _, err := q.LockSignoff(ctx, st.ID); err != nil {
			return nil, err
		}
		if _, err := q.AppendAction(ctx, store.Action{
			SignoffID: st.ID,
			Seq:       nextSeq(st.Latest),
			Flag:      store.FlagCanceled,
			Author:    author,
			Comment:   fmt.Sprintf("superseded by rejected sign-off %d", rejected.ID),
		}); err != nil {
			return nil, err
		}
		canceled = append(canceled, st.ID)
	}
	return canceled, nil
}

func nextSeq(latest *store.Action) int64 {
	if latest == nil {
		return 1
	}
	return latest.Seq + 1
}

func (s *Service) logTransition(ctx context.Context, tr *Transition, event string) {
	attrs := []logging.Attr{
		logging.Int64(logging.FieldSignoffID, tr.Signoff.ID),
		logging.String("from", tr.Previous.String()),
		logging.String("to", tr.Action.Flag.String()),
		logging.Int64("seq", tr.Action.Seq),
		logging.String(logging.FieldEventType, event),
	}
	if len(tr.Canceled) > 0 {
		attrs = append(attrs, logging.Int("cascade_canceled", len(tr.Canceled)))
	}
	logging.WithContext(ctx, s.logger).Info("signoff transition", logging.Args(attrs...)...)
}
