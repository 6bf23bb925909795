package flags_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"l10nboard/internal/flags"
	"l10nboard/internal/logging"
	"l10nboard/internal/services"
	"l10nboard/internal/signoff"
	"l10nboard/internal/store"
	"l10nboard/internal/testsupport"
)

type fixture struct {
	t        *testing.T
	st       *store.Store
	svc      *signoff.Service
	resolver *flags.Resolver
	forest   *store.Forest
	repos    map[string]*store.Repository
	pushes   map[string][]int64
}

func newFixture(t *testing.T, locales ...string) *fixture {
	t.Helper()

	st := testsupport.MustOpenStore(t, testsupport.NewConfig(t))
	forest, err := st.CreateForest(context.Background(), "l10n-central", "https://hg.example.org/l10n-central", 0)
	if err != nil {
		t.Fatalf("CreateForest failed: %v", err)
	}
	f := &fixture{
		t:        t,
		st:       st,
		svc:      signoff.NewService(st, logging.NewNop()),
		resolver: flags.NewResolver(st, logging.NewNop()),
		forest:   forest,
		repos:    map[string]*store.Repository{},
		pushes:   map[string][]int64{},
	}
	base := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	for i, code := range locales {
		loc := testsupport.MustLocale(t, st, code)
		repo := testsupport.MustRepository(t, st, "l10n-central/"+code, forest.ID, loc.ID)
		f.repos[code] = repo
		for p := 1; p <= 4; p++ {
			rev := testsupport.FullRevision(fmt.Sprintf("%x%x", i+1, p))
			id := testsupport.SeedPush(t, st, repo.ID, int64(p), base.Add(time.Duration(p)*time.Hour), rev)
			f.pushes[code] = append(f.pushes[code], id)
		}
	}
	return f
}

// drive creates a sign-off on the locale's push and drives it to flag,
// returning the id of the action that set flag.
func (f *fixture) drive(av *store.AppVersion, locale string, push int, flag store.Flag) (int64, int64) {
	f.t.Helper()
	ctx := context.Background()
	so, _, err := f.svc.AddSignoff(ctx, av.Code, locale, f.pushes[locale][push], "l10n@example.org")
	if err != nil {
		f.t.Fatalf("AddSignoff failed: %v", err)
	}
	var tr *signoff.Transition
	switch flag {
	case store.FlagPending:
		latest, err := f.st.LatestAction(ctx, so.ID)
		if err != nil {
			f.t.Fatalf("LatestAction failed: %v", err)
		}
		return so.ID, latest.ID
	case store.FlagAccepted, store.FlagRejected:
		tr, err = f.svc.Review(ctx, so.ID, flag, "driver@example.org", "", signoff.ReviewOptions{})
	case store.FlagCanceled:
		tr, err = f.svc.Cancel(ctx, so.ID, "driver@example.org", "")
	default:
		f.t.Fatalf("unsupported flag %s", flag)
	}
	if err != nil {
		f.t.Fatalf("drive sign-off to %s: %v", flag, err)
	}
	return so.ID, tr.Action.ID
}

func (f *fixture) resolve(ids []int64, locales []string, upUntil *time.Time) flags.Result {
	f.t.Helper()
	res, err := f.resolver.Resolve(context.Background(), ids, locales, upUntil)
	if err != nil {
		f.t.Fatalf("Resolve failed: %v", err)
	}
	return res
}

func assertFlags(t *testing.T, got flags.LocaleFlags, code string, want map[store.Flag]int64) {
	t.Helper()
	if got.AppVersion != code {
		t.Fatalf("expected app version %s, got %s", code, got.AppVersion)
	}
	if len(got.Flags) != len(want) {
		t.Fatalf("expected flags %v, got %v", want, got.Flags)
	}
	for flag, id := range want {
		if got.Flags[flag] != id {
			t.Fatalf("flag %s: expected action %d, got %d", flag, id, got.Flags[flag])
		}
	}
}

func TestResolveInheritsAcceptedFromFallback(t *testing.T) {
	f := newFixture(t, "de")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)
	v2 := testsupport.MustAppVersion(t, f.st, "fx", "v2", v1.ID)

	_, accepted := f.drive(v1, "de", 0, store.FlagAccepted)

	res := f.resolve([]int64{v2.ID}, []string{"de"}, nil)
	got, ok := res[v2.ID]["de"]
	if !ok {
		t.Fatalf("expected de under v2, got %v", res)
	}
	assertFlags(t, got, "v1", map[store.Flag]int64{store.FlagAccepted: accepted})
	if !got.Fallback {
		t.Fatal("expected result marked as fallback")
	}
}

func TestResolveIgnoresNonAcceptedFallback(t *testing.T) {
	for _, flag := range []store.Flag{store.FlagPending, store.FlagRejected, store.FlagCanceled} {
		t.Run(flag.String(), func(t *testing.T) {
			f := newFixture(t, "de")
			v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)
			v2 := testsupport.MustAppVersion(t, f.st, "fx", "v2", v1.ID)
			f.drive(v1, "de", 0, flag)

			res := f.resolve([]int64{v2.ID}, []string{"de"}, nil)
			if got, ok := res[v2.ID]["de"]; ok {
				t.Fatalf("expected no inherited data, got %+v", got)
			}
		})
	}
}

func TestResolveOwnDataWins(t *testing.T) {
	f := newFixture(t, "de")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)
	v2 := testsupport.MustAppVersion(t, f.st, "fx", "v2", v1.ID)

	f.drive(v1, "de", 0, store.FlagAccepted)
	_, rejected := f.drive(v2, "de", 1, store.FlagRejected)

	res := f.resolve([]int64{v2.ID}, []string{"de"}, nil)
	got := res[v2.ID]["de"]
	assertFlags(t, got, "v2", map[store.Flag]int64{store.FlagRejected: rejected})
	if got.Fallback {
		t.Fatal("own data must not be marked as fallback")
	}
}

func TestResolveScansNewestFirst(t *testing.T) {
	f := newFixture(t, "de")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)

	_, accepted := f.drive(v1, "de", 0, store.FlagAccepted)
	_, rejected := f.drive(v1, "de", 1, store.FlagRejected)
	_, pending := f.drive(v1, "de", 2, store.FlagPending)
	f.drive(v1, "de", 3, store.FlagCanceled)

	res := f.resolve([]int64{v1.ID}, []string{"de"}, nil)
	assertFlags(t, res[v1.ID]["de"], "v1", map[store.Flag]int64{
		store.FlagPending:  pending,
		store.FlagRejected: rejected,
		store.FlagAccepted: accepted,
	})
}

func TestResolveStopsAtAccepted(t *testing.T) {
	f := newFixture(t, "de")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)

	f.drive(v1, "de", 0, store.FlagRejected)
	_, accepted := f.drive(v1, "de", 1, store.FlagAccepted)

	res := f.resolve([]int64{v1.ID}, []string{"de"}, nil)
	assertFlags(t, res[v1.ID]["de"], "v1", map[store.Flag]int64{store.FlagAccepted: accepted})
}

func TestResolveOrdersByActionNotSignoff(t *testing.T) {
	ctx := context.Background()

	t.Run("older signoff accepted after newer pending", func(t *testing.T) {
		f := newFixture(t, "de")
		v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)

		older, _ := f.drive(v1, "de", 0, store.FlagPending)
		f.drive(v1, "de", 1, store.FlagPending)
		tr, err := f.svc.Review(ctx, older, store.FlagAccepted, "r@example.org", "", signoff.ReviewOptions{})
		if err != nil {
			t.Fatalf("Review failed: %v", err)
		}

		res := f.resolve([]int64{v1.ID}, []string{"de"}, nil)
		assertFlags(t, res[v1.ID]["de"], "v1", map[store.Flag]int64{store.FlagAccepted: tr.Action.ID})
	})

	t.Run("older signoff rejected after newer accepted", func(t *testing.T) {
		f := newFixture(t, "de")
		v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)

		older, _ := f.drive(v1, "de", 0, store.FlagPending)
		_, accepted := f.drive(v1, "de", 1, store.FlagAccepted)
		tr, err := f.svc.Review(ctx, older, store.FlagRejected, "r@example.org", "", signoff.ReviewOptions{})
		if err != nil {
			t.Fatalf("Review failed: %v", err)
		}

		res := f.resolve([]int64{v1.ID}, []string{"de"}, nil)
		assertFlags(t, res[v1.ID]["de"], "v1", map[store.Flag]int64{
			store.FlagRejected: tr.Action.ID,
			store.FlagAccepted: accepted,
		})
	})
}

func TestResolveHonorsUpUntil(t *testing.T) {
	f := newFixture(t, "de")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)

	soID, pending := f.drive(v1, "de", 0, store.FlagPending)
	time.Sleep(20 * time.Millisecond)
	cutoff := time.Now()
	time.Sleep(20 * time.Millisecond)
	if _, err := f.svc.Review(context.Background(), soID, store.FlagAccepted, "r@example.org", "", signoff.ReviewOptions{}); err != nil {
		t.Fatalf("Review failed: %v", err)
	}

	historic := f.resolve([]int64{v1.ID}, []string{"de"}, &cutoff)
	assertFlags(t, historic[v1.ID]["de"], "v1", map[store.Flag]int64{store.FlagPending: pending})

	current := f.resolve([]int64{v1.ID}, []string{"de"}, nil)
	if _, ok := current[v1.ID]["de"].Flags[store.FlagAccepted]; !ok {
		t.Fatalf("expected accepted now, got %+v", current[v1.ID]["de"])
	}
}

func TestResolveDefaultsToActiveLocales(t *testing.T) {
	f := newFixture(t, "de", "fr")
	ctx := context.Background()
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)

	tree, err := f.st.CreateTree(ctx, "fx_central", f.forest.ID)
	if err != nil {
		t.Fatalf("CreateTree failed: %v", err)
	}
	if _, err := f.st.AssociateTree(ctx, v1.ID, tree.ID, time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("AssociateTree failed: %v", err)
	}
	if _, err := f.st.RecordRun(ctx, store.Run{TreeID: tree.ID, LocaleID: f.repos["de"].LocaleID, Revision: "abc"}); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}

	f.drive(v1, "de", 0, store.FlagAccepted)
	f.drive(v1, "fr", 0, store.FlagAccepted)

	res := f.resolve([]int64{v1.ID}, nil, nil)
	if _, ok := res[v1.ID]["de"]; !ok {
		t.Fatalf("expected active locale de, got %v", res[v1.ID])
	}
	if _, ok := res[v1.ID]["fr"]; ok {
		t.Fatal("inactive locale fr must not be resolved by default")
	}
}

func TestResolveSharedAndChainedFallbacks(t *testing.T) {
	f := newFixture(t, "de", "fr")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)
	v2 := testsupport.MustAppVersion(t, f.st, "fx", "v2", v1.ID)
	v3 := testsupport.MustAppVersion(t, f.st, "fx", "v3", v2.ID)
	beta := testsupport.MustAppVersion(t, f.st, "fx", "beta", v1.ID)

	_, deAccepted := f.drive(v1, "de", 0, store.FlagAccepted)
	_, frAccepted := f.drive(v2, "fr", 0, store.FlagAccepted)

	res := f.resolve([]int64{v3.ID, beta.ID}, []string{"de", "fr"}, nil)
	assertFlags(t, res[v3.ID]["de"], "v1", map[store.Flag]int64{store.FlagAccepted: deAccepted})
	assertFlags(t, res[v3.ID]["fr"], "v2", map[store.Flag]int64{store.FlagAccepted: frAccepted})
	assertFlags(t, res[beta.ID]["de"], "v1", map[store.Flag]int64{store.FlagAccepted: deAccepted})
	if _, ok := res[beta.ID]["fr"]; ok {
		t.Fatal("beta does not reach v2's sign-offs")
	}
	if _, ok := res[v1.ID]; ok {
		t.Fatal("only requested app versions are returned")
	}
}

func TestResolveDetectsFallbackCycle(t *testing.T) {
	f := newFixture(t, "de")
	v1 := testsupport.MustAppVersion(t, f.st, "fx", "v1", 0)
	v2 := testsupport.MustAppVersion(t, f.st, "fx", "v2", v1.ID)

	// SetFallback refuses cycles, so close the loop behind its back.
	db, err := sql.Open("sqlite", f.st.Path())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec("UPDATE app_versions SET fallback_id = ? WHERE id = ?", v2.ID, v1.ID); err != nil {
		t.Fatalf("update: %v", err)
	}

	_, err = f.resolver.Resolve(context.Background(), []int64{v2.ID}, []string{"de"}, nil)
	if !errors.Is(err, store.ErrFallbackCycle) {
		t.Fatalf("expected ErrFallbackCycle, got %v", err)
	}
	if !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration marker, got %v", err)
	}
}

func TestResolveUnknownAppVersion(t *testing.T) {
	f := newFixture(t)
	_, err := f.resolver.Resolve(context.Background(), []int64{404}, []string{"de"}, nil)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
