package pushview

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"l10nboard/internal/flags"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
)

// DefaultPageSize is used when a request does not set one.
const DefaultPageSize = 20

const (
	cursorLayout = time.RFC3339Nano
	cursorSep    = "_"
)

// Request selects one page of annotated pushes.
type Request struct {
	Locale     string
	AppVersion string
	// Flags are the effective flags of the locale under the app version.
	// When nil on the first page they are resolved by the builder.
	Flags map[store.Flag]int64
	// FallbackPush is the internal id of a push accepted on a fallback app
	// version; it is kept on the first page and marked.
	FallbackPush int64
	PageSize     int
	// Cursor continues after a previous page. Empty requests the first page.
	Cursor string
}

// AnnotatedPush is a push with everything a reviewer needs to sign it off.
type AnnotatedPush struct {
	Push       store.Push
	Changesets []store.PushChangeset
	Signoffs   []store.SignoffState
	Run        *store.Run
	// Suggest is set when the push's tip built cleanly and nobody signed it
	// off yet.
	Suggest  bool
	Fallback bool
}

// Page is one page of pushes, newest first.
type Page struct {
	Pushes     []AnnotatedPush
	PushesLeft int64
	NextCursor string
}

// Builder assembles pages.
type Builder struct {
	store    *store.Store
	resolver *flags.Resolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewBuilder constructs a page builder. resolver may be nil when callers
// always pass flags.
func NewBuilder(st *store.Store, resolver *flags.Resolver, logger *slog.Logger) *Builder {
	return &Builder{
		store:    st,
		resolver: resolver,
		logger:   logging.NewComponentLogger(logger, "pushview"),
		now:      time.Now,
	}
}

type target struct {
	av     *store.AppVersion
	locale *store.Locale
	tree   *store.Tree
}

// AnnotatedPushes returns one page of pushes for the request.
func (b *Builder) AnnotatedPushes(ctx context.Context, req Request) (*Page, error) {
	if req.PageSize <= 0 {
		req.PageSize = DefaultPageSize
	}
	tgt, err := b.target(ctx, req)
	if err != nil {
		return nil, err
	}
	ctx = services.WithAppVersion(ctx, tgt.av.Code)
	filter := store.PushFilter{ForestID: tgt.tree.ForestID, LocaleID: tgt.locale.ID}

	var pushes []store.Push
	if req.Cursor == "" {
		pushes, req, err = b.firstPage(ctx, tgt, filter, req)
	} else {
		before, beforeID, perr := parseCursor(req.Cursor)
		if perr != nil {
			return nil, services.Wrap(services.ErrValidation, "pushview", "cursor", "malformed cursor", perr)
		}
		filter.Before, filter.BeforeID = &before, beforeID
		filter.Limit = req.PageSize
		pushes, err = b.store.ListPushes(ctx, filter)
	}
	if err != nil {
		return nil, err
	}

	page := &Page{Pushes: make([]AnnotatedPush, 0, len(pushes))}
	if len(pushes) == 0 {
		return page, nil
	}
	if err := b.annotate(ctx, tgt, req, pushes, page); err != nil {
		return nil, err
	}

	oldest := pushes[len(pushes)-1]
	left := filter
	left.Since, left.Limit = nil, 0
	left.Before, left.BeforeID = &oldest.Date, oldest.ID
	page.PushesLeft, err = b.store.CountMatchingPushes(ctx, left)
	if err != nil {
		return nil, err
	}
	if page.PushesLeft > 0 {
		page.NextCursor = formatCursor(oldest)
	}
	logging.WithContext(ctx, b.logger).Debug("built push page",
		logging.String(logging.FieldLocale, tgt.locale.Code),
		logging.Int("pushes", len(page.Pushes)),
		logging.Int64("pushes_left", page.PushesLeft),
	)
	return page, nil
}

// A cursor is the date and internal id of the last push shown, so pushes
// sharing that date are not skipped. A bare date continues strictly before it.
func formatCursor(p store.Push) string {
	return p.Date.UTC().Format(cursorLayout) + cursorSep + strconv.FormatInt(p.ID, 10)
}

func parseCursor(cursor string) (time.Time, int64, error) {
	date, rawID, hasID := strings.Cut(cursor, cursorSep)
	before, err := time.Parse(cursorLayout, date)
	if err != nil {
		return time.Time{}, 0, err
	}
	if !hasID {
		return before, 0, nil
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || id <= 0 {
		return time.Time{}, 0, fmt.Errorf("cursor push id %q", rawID)
	}
	return before, id, nil
}

func (b *Builder) target(ctx context.Context, req Request) (*target, error) {
	av, err := b.store.AppVersionByCode(ctx, req.AppVersion)
	if err != nil {
		return nil, err
	}
	locale, err := b.store.LocaleByCode(ctx, req.Locale)
	if err != nil {
		return nil, err
	}
	tree, err := b.store.TreeFor(ctx, av.ID, b.now())
	if err != nil {
		return nil, err
	}
	if tree.ForestID == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "pushview", "tree",
			fmt.Sprintf("tree %s has no forest", tree.Code), nil)
	}
	return &target{av: av, locale: locale, tree: tree}, nil
}

// firstPage starts at the oldest push carrying a current sign-off, else at
// the latest build run, and always covers at least one page of pushes.
func (b *Builder) firstPage(ctx context.Context, tgt *target, filter store.PushFilter, req Request) ([]store.Push, Request, error) {
	if req.Flags == nil && b.resolver != nil {
		res, err := b.resolver.Resolve(ctx, []int64{tgt.av.ID}, []string{tgt.locale.Code}, nil)
		if err != nil {
			return nil, req, err
		}
		if lf, ok := res[tgt.av.ID][tgt.locale.Code]; ok {
			req.Flags = lf.Flags
			if lf.Fallback {
				pushes, err := b.store.ActionPushes(ctx, []int64{lf.Flags[store.FlagAccepted]})
				if err != nil {
					return nil, req, err
				}
				req.FallbackPush = pushes[lf.Flags[store.FlagAccepted]].ID
			}
		}
	}

	cutoff, err := b.cutoff(ctx, tgt, req)
	if err != nil {
		return nil, req, err
	}

	latest := filter
	latest.Limit = req.PageSize
	pushes, err := b.store.ListPushes(ctx, latest)
	if err != nil || cutoff == nil {
		return pushes, req, err
	}
	since := filter
	since.Since = cutoff
	covered, err := b.store.ListPushes(ctx, since)
	if err != nil {
		return nil, req, err
	}
	if len(covered) > len(pushes) {
		pushes = covered
	}
	return pushes, req, nil
}

func (b *Builder) cutoff(ctx context.Context, tgt *target, req Request) (*time.Time, error) {
	var actionIDs []int64
	for _, flag := range []store.Flag{store.FlagPending, store.FlagAccepted, store.FlagRejected} {
		if id, ok := req.Flags[flag]; ok {
			actionIDs = append(actionIDs, id)
		}
	}
	var cutoff *time.Time
	earliest := func(t time.Time) {
		if cutoff == nil || t.Before(*cutoff) {
			c := t
			cutoff = &c
		}
	}
	if len(actionIDs) > 0 {
		pushes, err := b.store.ActionPushes(ctx, actionIDs)
		if err != nil {
			return nil, err
		}
		for _, p := range pushes {
			earliest(p.Date)
		}
	}
	if req.FallbackPush != 0 {
		p, err := b.store.PushByID(ctx, req.FallbackPush)
		if err != nil {
			return nil, err
		}
		earliest(p.Date)
	}
	if cutoff != nil {
		return cutoff, nil
	}

	run, err := b.store.LatestRunFor(ctx, tgt.tree.ID, tgt.locale.ID)
	if err != nil || run == nil {
		return nil, err
	}
	earliest(run.SrcTime)
	return cutoff, nil
}

func (b *Builder) annotate(ctx context.Context, tgt *target, req Request, pushes []store.Push, page *Page) error {
	ids := make([]int64, 0, len(pushes))
	for _, p := range pushes {
		ids = append(ids, p.ID)
	}
	changesets, err := b.store.PushChangesets(ctx, ids)
	if err != nil {
		return err
	}
	states, err := b.store.SignoffsForPushes(ctx, tgt.av.ID, tgt.locale.ID, ids)
	if err != nil {
		return err
	}
	byPush := make(map[int64][]store.SignoffState, len(states))
	for _, st := range states {
		byPush[st.PushID] = append(byPush[st.PushID], st)
	}

	tips := make([]string, 0, len(pushes))
	for _, id := range ids {
		if cs := changesets[id]; len(cs) > 0 {
			tips = append(tips, cs[0].Revision)
		}
	}
	runs, err := b.store.RunsForRevisions(ctx, tgt.tree.ID, tgt.locale.ID, tips)
	if err != nil {
		return err
	}

	for _, p := range pushes {
		ap := AnnotatedPush{
			Push:       p,
			Changesets: changesets[p.ID],
			Signoffs:   byPush[p.ID],
			Fallback:   p.ID == req.FallbackPush,
		}
		if len(ap.Changesets) > 0 {
			if run, ok := runs[ap.Changesets[0].Revision]; ok {
				ap.Run = &run
				ap.Suggest = run.Clean() && len(ap.Signoffs) == 0
			}
		}
		page.Pushes = append(page.Pushes, ap)
	}
	return nil
}
