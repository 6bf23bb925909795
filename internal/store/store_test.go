package store_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"l10nboard/internal/services"
	"l10nboard/internal/store"
	"l10nboard/internal/testsupport"
)

func TestOpenCreatesRootChangeset(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	st := testsupport.MustOpenStore(t, cfg)

	ctx := context.Background()
	id, err := st.ChangesetIDByRevision(ctx, store.RootRevision)
	if err != nil {
		t.Fatalf("ChangesetIDByRevision failed: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected root changeset to have id 1, got %d", id)
	}

	// Reopening an initialized database must accept the recorded version.
	if err := st.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	reopened := testsupport.MustOpenStore(t, cfg)
	if n, err := reopened.CountChangesets(ctx); err != nil || n != 1 {
		t.Fatalf("expected single root changeset after reopen, got %d (%v)", n, err)
	}
}

func TestCreateRepositoryAttachesRoot(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	de := testsupport.MustLocale(t, st, "de")
	repo := testsupport.MustRepository(t, st, "l10n/de", 0, de.ID)

	n, err := st.CountRepositoryChangesets(ctx, repo.ID)
	if err != nil {
		t.Fatalf("CountRepositoryChangesets failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected root attached, got %d changesets", n)
	}

	if _, err := st.CreateRepository(ctx, store.RepositoryParams{Name: "l10n/de", URL: "https://x"}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict for duplicate repository, got %v", err)
	}
}

func TestUpsertPushIsIdempotent(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	repo := testsupport.MustRepository(t, st, "central", 0, 0)

	when := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	first, created, err := st.UpsertPush(ctx, repo.ID, 7, when, "a@example.org")
	if err != nil || !created {
		t.Fatalf("first UpsertPush: id=%d created=%v err=%v", first, created, err)
	}
	second, created, err := st.UpsertPush(ctx, repo.ID, 7, when.Add(time.Hour), "b@example.org")
	if err != nil {
		t.Fatalf("second UpsertPush failed: %v", err)
	}
	if created || second != first {
		t.Fatalf("expected existing push %d to be reused, got %d created=%v", first, second, created)
	}

	push, err := st.PushByExternalID(ctx, repo.ID, 7)
	if err != nil {
		t.Fatalf("PushByExternalID failed: %v", err)
	}
	if !push.Date.Equal(when) || push.Author != "a@example.org" {
		t.Fatalf("push should keep original data, got %+v", push)
	}
	latest, err := st.LatestPushID(ctx, repo.ID)
	if err != nil || latest != 7 {
		t.Fatalf("expected latest push id 7, got %d (%v)", latest, err)
	}
}

func TestPushTipIsHighestChangeset(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	repo := testsupport.MustRepository(t, st, "central", 0, 0)

	pushID := testsupport.SeedPush(t, st, repo.ID, 1, time.Now(), "aaa", "bbb", "ccc")
	tip, err := st.PushTip(ctx, pushID)
	if err != nil {
		t.Fatalf("PushTip failed: %v", err)
	}
	if tip.Revision != "ccc" {
		t.Fatalf("expected tip ccc, got %s", tip.Revision)
	}

	byPush, err := st.PushChangesets(ctx, []int64{pushID})
	if err != nil {
		t.Fatalf("PushChangesets failed: %v", err)
	}
	if len(byPush[pushID]) != 3 || byPush[pushID][0].Revision != "ccc" {
		t.Fatalf("unexpected push changesets: %+v", byPush[pushID])
	}
}

func TestSetFallbackRejectsCycle(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	v1 := testsupport.MustAppVersion(t, st, "fx", "fx1", 0)
	v2 := testsupport.MustAppVersion(t, st, "fx", "fx2", v1.ID)
	v3 := testsupport.MustAppVersion(t, st, "fx", "fx3", v2.ID)

	err := st.SetFallback(ctx, v1.ID, v3.ID)
	if !errors.Is(err, store.ErrFallbackCycle) {
		t.Fatalf("expected fallback cycle error, got %v", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("cycle should be a configuration error, got %v", err)
	}
	if err := st.SetFallback(ctx, v1.ID, v1.ID); !errors.Is(err, store.ErrFallbackCycle) {
		t.Fatalf("expected self fallback to be rejected, got %v", err)
	}

	loaded, err := st.AppVersionByCode(ctx, "fx1")
	if err != nil {
		t.Fatalf("AppVersionByCode failed: %v", err)
	}
	if loaded.FallbackID != 0 {
		t.Fatalf("rejected fallback must not be stored, got %d", loaded.FallbackID)
	}

	if err := st.SetFallback(ctx, v3.ID, 0); err != nil {
		t.Fatalf("clearing fallback failed: %v", err)
	}
}

func TestAssociateTreeClosesPreviousAssociation(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	av := testsupport.MustAppVersion(t, st, "fx", "fx1", 0)
	central, err := st.CreateTree(ctx, "fx_central", 0)
	if err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}
	beta, err := st.CreateTree(ctx, "fx_beta", 0)
	if err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}

	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(30 * 24 * time.Hour)
	if _, err := st.AssociateTree(ctx, av.ID, central.ID, t0); err != nil {
		t.Fatalf("AssociateTree failed: %v", err)
	}
	if _, err := st.AssociateTree(ctx, av.ID, beta.ID, t1); err != nil {
		t.Fatalf("AssociateTree failed: %v", err)
	}

	tree, err := st.TreeFor(ctx, av.ID, t0.Add(time.Hour))
	if err != nil || tree.Code != "fx_central" {
		t.Fatalf("expected fx_central before the switch, got %+v (%v)", tree, err)
	}
	tree, err = st.TreeFor(ctx, av.ID, t1.Add(time.Hour))
	if err != nil || tree.Code != "fx_beta" {
		t.Fatalf("expected fx_beta after the switch, got %+v (%v)", tree, err)
	}
	if _, err := st.TreeFor(ctx, av.ID, t0.Add(-time.Hour)); !store.IsNotFound(err) {
		t.Fatalf("expected not found before any association, got %v", err)
	}
}

func TestAppendActionRejectsDuplicateSequence(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	de := testsupport.MustLocale(t, st, "de")
	repo := testsupport.MustRepository(t, st, "l10n/de", 0, de.ID)
	av := testsupport.MustAppVersion(t, st, "fx", "fx1", 0)
	pushID := testsupport.SeedPush(t, st, repo.ID, 1, time.Now(), "aaa")

	so, err := st.InsertSignoff(ctx, store.Signoff{PushID: pushID, AppVersionID: av.ID, LocaleID: de.ID, Author: "l10n@example.org"})
	if err != nil {
		t.Fatalf("InsertSignoff failed: %v", err)
	}
	if _, err := st.AppendAction(ctx, store.Action{SignoffID: so.ID, Seq: 1, Flag: store.FlagPending, Author: "l10n@example.org"}); err != nil {
		t.Fatalf("AppendAction failed: %v", err)
	}
	_, err = st.AppendAction(ctx, store.Action{SignoffID: so.ID, Seq: 1, Flag: store.FlagAccepted, Author: "driver@example.org"})
	if !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on duplicate seq, got %v", err)
	}

	if _, err := st.InsertSignoff(ctx, store.Signoff{PushID: pushID, AppVersionID: av.ID, LocaleID: de.ID, Author: "x"}); !errors.Is(err, services.ErrConflict) {
		t.Fatalf("expected conflict on duplicate signoff, got %v", err)
	}

	state, err := st.SignoffStateByID(ctx, so.ID)
	if err != nil {
		t.Fatalf("SignoffStateByID failed: %v", err)
	}
	if state.Status() != store.FlagPending {
		t.Fatalf("expected pending status, got %s", state.Status())
	}
}

func TestSignoffStatusFollowsLatestSequence(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	fr := testsupport.MustLocale(t, st, "fr")
	repo := testsupport.MustRepository(t, st, "l10n/fr", 0, fr.ID)
	av := testsupport.MustAppVersion(t, st, "fx", "fx1", 0)
	pushID := testsupport.SeedPush(t, st, repo.ID, 1, time.Now(), "aaa")

	so, err := st.InsertSignoff(ctx, store.Signoff{PushID: pushID, AppVersionID: av.ID, LocaleID: fr.ID, Author: "a"})
	if err != nil {
		t.Fatalf("InsertSignoff failed: %v", err)
	}
	states, err := st.SignoffsForLocales(ctx, av.ID, []int64{fr.ID})
	if err != nil {
		t.Fatalf("SignoffsForLocales failed: %v", err)
	}
	if len(states) != 1 || states[0].Status() != store.FlagUnknown {
		t.Fatalf("sign-off without actions should be unknown, got %+v", states)
	}

	// Identical timestamps must still order by sequence.
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	flags := []store.Flag{store.FlagPending, store.FlagCanceled, store.FlagPending, store.FlagAccepted}
	for i, flag := range flags {
		if _, err := st.AppendAction(ctx, store.Action{SignoffID: so.ID, Seq: int64(i + 1), Flag: flag, Author: "a", CreatedAt: at}); err != nil {
			t.Fatalf("AppendAction %d failed: %v", i, err)
		}
	}

	latest, err := st.LatestAction(ctx, so.ID)
	if err != nil {
		t.Fatalf("LatestAction failed: %v", err)
	}
	if latest.Flag != store.FlagAccepted || latest.Seq != 4 {
		t.Fatalf("unexpected latest action %+v", latest)
	}
	log, err := st.ListActions(ctx, so.ID)
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	for i, action := range log {
		if action.Flag != flags[i] {
			t.Fatalf("action %d flag changed: got %s want %s", i, action.Flag, flags[i])
		}
	}
}

func TestRecordRunDeactivatesPrevious(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	de := testsupport.MustLocale(t, st, "de")
	fr := testsupport.MustLocale(t, st, "fr")
	tree, err := st.CreateTree(ctx, "fx", 0)
	if err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}

	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	if _, err := st.RecordRun(ctx, store.Run{TreeID: tree.ID, LocaleID: de.ID, Revision: "r1", Errors: 2, SrcTime: base}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if _, err := st.RecordRun(ctx, store.Run{TreeID: tree.ID, LocaleID: de.ID, Revision: "r2", SrcTime: base.Add(time.Hour)}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	if _, err := st.RecordRun(ctx, store.Run{TreeID: tree.ID, LocaleID: fr.ID, Revision: "r2", Missing: 4, SrcTime: base}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	latest, err := st.LatestRunFor(ctx, tree.ID, de.ID)
	if err != nil {
		t.Fatalf("LatestRunFor failed: %v", err)
	}
	if latest == nil || latest.Revision != "r2" || !latest.Active || !latest.Clean() {
		t.Fatalf("unexpected latest run %+v", latest)
	}

	active, err := st.ActiveLocales(ctx, tree.ID)
	if err != nil {
		t.Fatalf("ActiveLocales failed: %v", err)
	}
	if len(active) != 2 || active[0].Code != "de" || active[1].Code != "fr" {
		t.Fatalf("unexpected active locales %+v", active)
	}

	runs, err := st.RunsForRevisions(ctx, tree.ID, de.ID, []string{"r1", "r2", "r3"})
	if err != nil {
		t.Fatalf("RunsForRevisions failed: %v", err)
	}
	if len(runs) != 2 || runs["r1"].Errors != 2 || runs["r1"].Active {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

func TestSiblingRepositoriesFollowForkAncestry(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	central, err := st.CreateForest(ctx, "l10n-central", "https://hg.example.org/l10n-central", 0)
	if err != nil {
		t.Fatalf("CreateForest failed: %v", err)
	}
	beta, err := st.CreateForest(ctx, "l10n-beta", "https://hg.example.org/l10n-beta", central.ID)
	if err != nil {
		t.Fatalf("CreateForest failed: %v", err)
	}
	other, err := st.CreateForest(ctx, "other", "https://hg.example.org/other", 0)
	if err != nil {
		t.Fatalf("CreateForest failed: %v", err)
	}

	deCentral := testsupport.MustRepository(t, st, "l10n-central/de", central.ID, 0)
	testsupport.MustRepository(t, st, "l10n-central/fr", central.ID, 0)
	testsupport.MustRepository(t, st, "l10n-beta/de", beta.ID, 0)
	testsupport.MustRepository(t, st, "other/de", other.ID, 0)

	siblings, err := st.SiblingRepositories(ctx, *deCentral)
	if err != nil {
		t.Fatalf("SiblingRepositories failed: %v", err)
	}
	names := map[string]bool{}
	for _, s := range siblings {
		names[s.Name] = true
	}
	if len(siblings) != 2 || !names["l10n-central/fr"] || !names["l10n-beta/de"] {
		t.Fatalf("unexpected siblings %+v", siblings)
	}
}

func TestFilesKeepTrailingWhitespace(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	paths := []string{"browser/app.ftl", "browser/app.ftl ", "toolkit/x.dtd"}
	if err := st.InsertFiles(ctx, paths, 2); err != nil {
		t.Fatalf("InsertFiles failed: %v", err)
	}
	found, err := st.LookupFiles(ctx, []string{"browser/app.ftl "})
	if err != nil {
		t.Fatalf("LookupFiles failed: %v", err)
	}
	if len(found) != 1 || found[0].Path != "browser/app.ftl " {
		t.Fatalf("expected exact whitespace match, got %+v", found)
	}
}

func TestFileChunkBoundaries(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()

	csID, err := st.InsertChangeset(ctx, store.NewChangeset{Revision: testsupport.FullRevision("f1"), Author: "a"})
	if err != nil {
		t.Fatalf("InsertChangeset failed: %v", err)
	}

	total := 0
	for _, tc := range []struct {
		size, chunk int
	}{
		{size: 21, chunk: 7},
		{size: 22, chunk: 7},
		{size: 2001, chunk: 0},
	} {
		paths := make([]string, 0, tc.size)
		for i := range tc.size {
			paths = append(paths, fmt.Sprintf("set%d/chunk%d/file%04d.ftl", tc.size, tc.chunk, i))
		}
		if err := st.InsertFiles(ctx, paths, tc.chunk); err != nil {
			t.Fatalf("InsertFiles(%d, %d) failed: %v", tc.size, tc.chunk, err)
		}
		found, err := st.LookupFiles(ctx, paths)
		if err != nil {
			t.Fatalf("LookupFiles failed: %v", err)
		}
		if len(found) != tc.size {
			t.Fatalf("size %d chunk %d: expected %d files, got %d", tc.size, tc.chunk, tc.size, len(found))
		}
		ids := make([]int64, 0, len(found))
		for _, f := range found {
			ids = append(ids, f.ID)
		}
		if err := st.AttachFiles(ctx, csID, ids, tc.chunk); err != nil {
			t.Fatalf("AttachFiles failed: %v", err)
		}
		total += tc.size
	}

	files, err := st.CountFiles(ctx)
	if err != nil {
		t.Fatalf("CountFiles failed: %v", err)
	}
	attached, err := st.CountChangesetFiles(ctx, csID)
	if err != nil {
		t.Fatalf("CountChangesetFiles failed: %v", err)
	}
	if files != int64(total) || attached != int64(total) {
		t.Fatalf("expected %d files stored and attached, got %d and %d", total, files, attached)
	}
}

func TestLocaleDisplayName(t *testing.T) {
	if got := store.LocaleDisplayName("de"); got != "German" {
		t.Fatalf("expected German, got %q", got)
	}
	if got := store.LocaleDisplayName("not a tag"); got != "not a tag" {
		t.Fatalf("expected fallback to code, got %q", got)
	}
}

func TestStatsCountsRows(t *testing.T) {
	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	ctx := context.Background()
	repo := testsupport.MustRepository(t, st, "central", 0, 0)
	testsupport.SeedPush(t, st, repo.ID, 1, time.Now(), "aaa", "bbb")

	stats, err := st.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Repositories != 1 || stats.Changesets != 3 || stats.Pushes != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}
