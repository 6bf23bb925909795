package ingest_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"l10nboard/internal/ingest"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
	"l10nboard/internal/testsupport"
)

type fixture struct {
	st      *store.Store
	repo    *store.Repository
	fake    *testsupport.FakeRepo
	mirrors *testsupport.FakeMirrors
	engine  *ingest.Engine
}

func newFixture(t *testing.T, locker ingest.Locker) *fixture {
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

	fake := testsupport.NewFakeRepo()
	mirrors := testsupport.NewFakeMirrors()
	mirrors.Repos[repo.Name] = fake

	return &fixture{
		st:      st,
		repo:    repo,
		fake:    fake,
		mirrors: mirrors,
		engine:  ingest.NewEngine(st, mirrors, locker, cfg.Ingest.FileChunkSize, logging.NewNop()),
	}
}

func record(pushID int64, revisions ...string) ingest.PushRecord {
	return ingest.PushRecord{
		PushID:    pushID,
		Date:      time.Date(2024, 3, 1, 12, int(pushID), 0, 0, time.UTC),
		User:      "pusher@example.org",
		Revisions: revisions,
	}
}

func mustCount(t *testing.T, what string, fn func(context.Context) (int64, error)) int64 {
	t.Helper()
	n, err := fn(context.Background())
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
	return n
}

func TestIngestPushesIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.fake.Commit("a1", nil, "browser/app.ftl")
	b := f.fake.Commit("b1", []string{"a1"}, "browser/app.ftl", "toolkit/menu.ftl")
	c := f.fake.Commit("c1", []string{"b1"}, "toolkit/menu.ftl")

	n, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(1, a, b), record(2, c)})
	if err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 pushes processed, got %d", n)
	}

	if got := mustCount(t, "CountChangesets", f.st.CountChangesets); got != 4 {
		t.Fatalf("expected 3 changesets plus root, got %d", got)
	}
	repoCount := mustCount(t, "CountRepositoryChangesets", func(ctx context.Context) (int64, error) {
		return f.st.CountRepositoryChangesets(ctx, f.repo.ID)
	})
	if repoCount != 4 {
		t.Fatalf("expected repository changeset count 4, got %d", repoCount)
	}
	pushCount := func(ctx context.Context) (int64, error) { return f.st.CountPushes(ctx, f.repo.ID) }
	if got := mustCount(t, "CountPushes", pushCount); got != 2 {
		t.Fatalf("expected 2 pushes, got %d", got)
	}

	n, err = f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(1, a, b)})
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected re-ingest to report 1, got %d", n)
	}
	if got := mustCount(t, "CountChangesets", f.st.CountChangesets); got != 4 {
		t.Fatalf("re-ingest created changesets: %d", got)
	}
	if got := mustCount(t, "CountPushes", pushCount); got != 2 {
		t.Fatalf("re-ingest created pushes: %d", got)
	}
}

func TestIngestPushesBuildsCompleteDAG(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.fake.Commit("a1", nil)
	f.fake.Commit("b1", []string{"a1"})
	f.fake.Commit("c1", []string{"a1"})
	merge := f.fake.Commit("d1", []string{"b1", "c1"}, "shared/strings.ftl")

	// Only the merge is pushed; its ancestors are discovered through parents.
	if _, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(7, merge)}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	if got := mustCount(t, "CountChangesets", f.st.CountChangesets); got != 5 {
		t.Fatalf("expected 4 changesets plus root, got %d", got)
	}
	if got := mustCount(t, "CountDanglingParents", f.st.CountDanglingParents); got != 0 {
		t.Fatalf("expected no dangling parents, got %d", got)
	}

	cs, err := f.st.ChangesetByRevision(ctx, merge)
	if err != nil {
		t.Fatalf("ChangesetByRevision failed: %v", err)
	}
	if len(cs.Parents) != 2 {
		t.Fatalf("expected merge with two parents, got %v", cs.Parents)
	}
	if len(cs.Files) != 1 || cs.Files[0] != "shared/strings.ftl" {
		t.Fatalf("unexpected files %v", cs.Files)
	}

	first, err := f.st.ChangesetByRevision(ctx, testsupport.FullRevision("a1"))
	if err != nil {
		t.Fatalf("ChangesetByRevision failed: %v", err)
	}
	if len(first.Parents) != 1 || first.Parents[0] != store.RootRevision {
		t.Fatalf("expected root parent, got %v", first.Parents)
	}
}

func TestIngestPushesHandlesDeepHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("deep history ingestion is slow")
	}
	f := newFixture(t, nil)

	const depth = 5000
	parent := ""
	var head string
	for i := 0; i < depth; i++ {
		var parents []string
		if parent != "" {
			parents = []string{parent}
		}
		rev := fmt.Sprintf("c%d", i)
		head = f.fake.Commit(rev, parents)
		parent = rev
	}

	if _, err := f.engine.IngestPushes(context.Background(), f.repo.ID, []ingest.PushRecord{record(1, head)}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	if got := mustCount(t, "CountChangesets", f.st.CountChangesets); got != depth+1 {
		t.Fatalf("expected %d changesets, got %d", depth+1, got)
	}
}

func TestIngestPushesRollsBackFailingPush(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.fake.Commit("a1", nil)
	b := f.fake.Commit("b1", []string{"a1"})

	n, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{
		record(1, a),
		record(2, b, testsupport.FullRevision("ff")),
	})
	if err == nil {
		t.Fatal("expected error for unknown revision")
	}
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if n != 1 {
		t.Fatalf("expected first push committed, got %d", n)
	}
	if _, err := f.st.ChangesetIDByRevision(ctx, b); !store.IsNotFound(err) {
		t.Fatalf("expected changeset of failed push rolled back, got %v", err)
	}
	if _, err := f.st.PushByExternalID(ctx, f.repo.ID, 2); !store.IsNotFound(err) {
		t.Fatalf("expected failed push absent, got %v", err)
	}
	if _, err := f.st.PushByExternalID(ctx, f.repo.ID, 1); err != nil {
		t.Fatalf("expected first push stored: %v", err)
	}
}

func TestIngestPushesUsesHeadForEmptyRevisionList(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.fake.Commit("a1", nil)
	head := f.fake.Commit("b1", []string{"a1"})

	if _, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(3)}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	push, err := f.st.PushByExternalID(ctx, f.repo.ID, 3)
	if err != nil {
		t.Fatalf("PushByExternalID failed: %v", err)
	}
	tip, err := f.st.PushTip(ctx, push.ID)
	if err != nil {
		t.Fatalf("PushTip failed: %v", err)
	}
	if tip.Revision != head {
		t.Fatalf("expected head %s, got %s", head, tip.Revision)
	}
}

func TestIngestPushesCanonicalizesShortRevisions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	f.fake.Commit("a1", nil)
	f.fake.Commit("b1", []string{"a1"})

	if _, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(1, "a1", "b1")}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	if got := mustCount(t, "CountChangesets", f.st.CountChangesets); got != 3 {
		t.Fatalf("expected 2 changesets plus root, got %d", got)
	}
	if _, err := f.st.ChangesetIDByRevision(ctx, testsupport.FullRevision("b1")); err != nil {
		t.Fatalf("expected full revision stored: %v", err)
	}
}

func TestIngestPushesKeepsWhitespaceFilePaths(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	a := f.fake.Commit("a1", nil, "mail/chrome.dtd")
	b := f.fake.Commit("b1", []string{"a1"}, "mail/chrome.dtd ", "mail/chrome.dtd")

	if _, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(1, a, b)}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	cs, err := f.st.ChangesetByRevision(ctx, b)
	if err != nil {
		t.Fatalf("ChangesetByRevision failed: %v", err)
	}
	if len(cs.Files) != 2 {
		t.Fatalf("expected two distinct files, got %q", cs.Files)
	}
	seen := map[string]bool{}
	for _, path := range cs.Files {
		seen[path] = true
	}
	if !seen["mail/chrome.dtd "] || !seen["mail/chrome.dtd"] {
		t.Fatalf("unexpected files %q", cs.Files)
	}
}

func TestIngestPushesInsertsFilesAcrossChunks(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	engine := ingest.NewEngine(f.st, f.mirrors, nil, 7, logging.NewNop())

	first := make([]string, 0, 2501)
	for i := range 2501 {
		first = append(first, fmt.Sprintf("browser/locales/file%04d.ftl", i))
	}
	// Overlaps the first commit across several lookup chunks and adds new paths.
	second := append([]string{}, first[995:2205]...)
	for i := range 13 {
		second = append(second, fmt.Sprintf("toolkit/locales/extra%02d.ftl", i))
	}
	a := f.fake.Commit("c1", nil, first...)
	b := f.fake.Commit("d1", []string{"c1"}, second...)

	if _, err := engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(1, a), record(2, b)}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}

	if got := mustCount(t, "CountFiles", f.st.CountFiles); got != 2501+13 {
		t.Fatalf("expected %d files stored once, got %d", 2501+13, got)
	}
	for rev, want := range map[string]int{a: len(first), b: len(second)} {
		cs, err := f.st.ChangesetByRevision(ctx, rev)
		if err != nil {
			t.Fatalf("ChangesetByRevision failed: %v", err)
		}
		attached, err := f.st.CountChangesetFiles(ctx, cs.ID)
		if err != nil {
			t.Fatalf("CountChangesetFiles failed: %v", err)
		}
		if attached != int64(want) {
			t.Fatalf("changeset %s: expected %d attached files, got %d", rev[:12], want, attached)
		}
		if len(cs.Files) != want {
			t.Fatalf("changeset %s: expected %d file paths, got %d", rev[:12], want, len(cs.Files))
		}
	}
}

func TestIngestPushesPassesSiblingsToMirror(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	fr := testsupport.MustLocale(t, f.st, "fr")
	testsupport.MustRepository(t, f.st, "l10n-central/fr", f.repo.ForestID, fr.ID)

	a := f.fake.Commit("a1", nil)
	if _, err := f.engine.IngestPushes(ctx, f.repo.ID, []ingest.PushRecord{record(1, a)}); err != nil {
		t.Fatalf("IngestPushes failed: %v", err)
	}
	calls := f.mirrors.Calls()
	if len(calls) != 1 || calls[0] != "l10n-central/de<l10n-central/fr" {
		t.Fatalf("unexpected mirror calls %v", calls)
	}
}

func TestIngestPushesFailsWhenMirrorUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	f.mirrors.Err = services.Wrap(services.ErrVCS, "vcs", "clone", "network down", nil)

	n, err := f.engine.IngestPushes(context.Background(), f.repo.ID, []ingest.PushRecord{record(1, "a1")})
	if !errors.Is(err, services.ErrVCS) {
		t.Fatalf("expected ErrVCS, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing processed, got %d", n)
	}
}

func TestIngestPushesUnknownRepository(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.engine.IngestPushes(context.Background(), 999, nil); !store.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}
