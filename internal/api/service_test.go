package api_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"l10nboard/internal/api"
	"l10nboard/internal/config"
	"l10nboard/internal/ingest"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
	"l10nboard/internal/testsupport"
)

type fixture struct {
	svc  *api.Service
	st   *store.Store
	fake *testsupport.FakeRepo
	av   *store.AppVersion
}

func newFixture(t *testing.T, cascade bool) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)
	ctx := context.Background()
	forest, err := st.CreateForest(ctx, "l10n-central", "https://hg.example.org/l10n-central", 0)
	if err != nil {
		t.Fatalf("CreateForest failed: %v", err)
	}
	de := testsupport.MustLocale(t, st, "de")
	repo := testsupport.MustRepository(t, st, "l10n-central/de", forest.ID, de.ID)
	av := testsupport.MustAppVersion(t, st, "fx", "fx121", 0)
	tree, err := st.CreateTree(ctx, "fx_central", forest.ID)
	if err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}
	if _, err := st.AssociateTree(ctx, av.ID, tree.ID, time.Now().Add(-48*time.Hour)); err != nil {
		t.Fatalf("AssociateTree failed: %v", err)
	}

	fake := testsupport.NewFakeRepo()
	mirrors := testsupport.NewFakeMirrors()
	mirrors.Repos[repo.Name] = fake
	engine := ingest.NewEngine(st, mirrors, nil, cfg.Ingest.FileChunkSize, logging.NewNop())

	signoffs := config.Signoffs{CascadeRejections: cascade, PageSize: 10}
	return &fixture{svc: api.NewService(st, engine, signoffs, logging.NewNop()), st: st, fake: fake, av: av}
}

func (f *fixture) ingest(t *testing.T, pushes ...api.PushRecord) {
	t.Helper()
	resp, err := f.svc.IngestPushes(context.Background(), "l10n-central/de", api.IngestRequest{Pushes: pushes})
	if err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	if resp.Processed != len(pushes) {
		t.Fatalf("expected %d processed, got %d", len(pushes), resp.Processed)
	}
}

func TestServiceSignoffLifecycle(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	a := f.fake.Commit("a1", nil, "browser/app.ftl")
	b := f.fake.Commit("b1", []string{"a1"}, "browser/app.ftl")
	f.ingest(t,
		api.PushRecord{PushID: 1, Date: "2024-03-01T10:00:00Z", User: "p@example.org", Revisions: []string{a}},
		api.PushRecord{PushID: 2, Date: "2024-03-02T10:00:00Z", User: "p@example.org", Revisions: []string{b}},
	)

	page, err := f.svc.Pushes(ctx, "de", f.av.Code, 0, "")
	if err != nil {
		t.Fatalf("Pushes failed: %v", err)
	}
	if len(page.Pushes) != 2 || page.Pushes[0].PushID != 2 {
		t.Fatalf("unexpected page %+v", page)
	}

	older, err := f.svc.AddSignoff(ctx, api.AddSignoffRequest{AppVersion: f.av.Code, Locale: "de", PushID: page.Pushes[1].ID, Author: "l10n@example.org"})
	if err != nil {
		t.Fatalf("AddSignoff failed: %v", err)
	}
	newer, err := f.svc.AddSignoff(ctx, api.AddSignoffRequest{AppVersion: f.av.Code, Locale: "de", PushID: page.Pushes[0].ID, Author: "l10n@example.org"})
	if err != nil {
		t.Fatalf("AddSignoff failed: %v", err)
	}
	if !newer.Created || newer.Signoff.Status != "pending" {
		t.Fatalf("unexpected sign-off %+v", newer)
	}

	// Cascade defaults to the configured policy.
	tr, err := f.svc.Review(ctx, newer.Signoff.ID, api.ReviewRequest{Outcome: "rejected", Author: "driver@example.org"})
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if len(tr.Canceled) != 1 || tr.Canceled[0] != older.Signoff.ID {
		t.Fatalf("expected cascade to cancel %d, got %v", older.Signoff.ID, tr.Canceled)
	}

	reopened, err := f.svc.Reopen(ctx, older.Signoff.ID, api.TransitionRequest{Author: "l10n@example.org"})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	if reopened.Previous != "canceled" || reopened.Action.Flag != "pending" {
		t.Fatalf("unexpected reopen %+v", reopened)
	}

	noCascade := false
	if _, err := f.svc.Review(ctx, older.Signoff.ID, api.ReviewRequest{Outcome: "accepted", Author: "driver@example.org", Cascade: &noCascade}); err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	detail, err := f.svc.Signoff(ctx, older.Signoff.ID)
	if err != nil {
		t.Fatalf("Signoff failed: %v", err)
	}
	if detail.Status != "accepted" || len(detail.Actions) != 4 {
		t.Fatalf("unexpected detail %+v", detail)
	}

	flags, err := f.svc.Flags(ctx, []string{f.av.Code}, []string{"de"}, nil)
	if err != nil {
		t.Fatalf("Flags failed: %v", err)
	}
	de := flags.AppVersions[0].Locales[0]
	if _, ok := de.Flags["accepted"]; !ok {
		t.Fatalf("expected accepted flag, got %+v", de)
	}
	if _, ok := de.Flags["rejected"]; !ok {
		t.Fatalf("expected rejected flag from newer sign-off, got %+v", de)
	}
}

func TestServiceRejectsBadRequests(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	if _, err := f.svc.Review(ctx, 1, api.ReviewRequest{Outcome: "maybe", Author: "x"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.Flags(ctx, nil, nil, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := f.svc.IngestPushes(ctx, "missing", api.IngestRequest{}); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := f.svc.RecordRun(ctx, api.RunRequest{Tree: "fx_central", Locale: "de", Revision: "abc", SrcTime: "now"}); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	nilEngine := api.NewService(f.st, nil, config.Signoffs{}, logging.NewNop())
	if _, err := nilEngine.IngestPushes(ctx, "l10n-central/de", api.IngestRequest{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestServiceRecordRunFeedsSuggestions(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	a := f.fake.Commit("a1", nil)
	f.ingest(t, api.PushRecord{PushID: 1, Date: "2024-03-01T10:00:00Z", User: "p@example.org", Revisions: []string{a}})

	run, err := f.svc.RecordRun(ctx, api.RunRequest{Tree: "fx_central", Locale: "de", Revision: a, SrcTime: "2024-03-01T11:00:00Z"})
	if err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if !run.Active || !run.Clean {
		t.Fatalf("unexpected run %+v", run)
	}

	page, err := f.svc.Pushes(ctx, "de", f.av.Code, 5, "")
	if err != nil {
		t.Fatalf("Pushes failed: %v", err)
	}
	if len(page.Pushes) != 1 || !page.Pushes[0].Suggest {
		t.Fatalf("expected suggested push, got %+v", page.Pushes)
	}

	stats, err := f.svc.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Runs != 1 || stats.Pushes != 1 || stats.Changesets != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
