package testsupport

import (
	"context"
	"testing"
	"time"

	"l10nboard/internal/config"
	"l10nboard/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// MustLocale creates a locale for tests.
func MustLocale(t testing.TB, st *store.Store, code string) *store.Locale {
	t.Helper()

	loc, err := st.CreateLocale(context.Background(), code, "")
	if err != nil {
		t.Fatalf("CreateLocale %s: %v", code, err)
	}
	return loc
}

// MustRepository creates a repository for tests.
func MustRepository(t testing.TB, st *store.Store, name string, forestID, localeID int64) *store.Repository {
	t.Helper()

	repo, err := st.CreateRepository(context.Background(), store.RepositoryParams{
		Name:     name,
		URL:      "https://hg.example.org/" + name,
		ForestID: forestID,
		LocaleID: localeID,
	})
	if err != nil {
		t.Fatalf("CreateRepository %s: %v", name, err)
	}
	return repo
}

// MustAppVersion creates an application (when missing) and an app version
// accepting sign-offs.
func MustAppVersion(t testing.TB, st *store.Store, appCode, code string, fallbackID int64) *store.AppVersion {
	t.Helper()

	ctx := context.Background()
	app, err := st.ApplicationByCode(ctx, appCode)
	if store.IsNotFound(err) {
		app, err = st.CreateApplication(ctx, appCode, appCode)
	}
	if err != nil {
		t.Fatalf("application %s: %v", appCode, err)
	}
	av, err := st.CreateAppVersion(ctx, store.AppVersionParams{
		ApplicationID:   app.ID,
		Version:         code,
		Code:            code,
		Name:            code,
		AcceptsSignoffs: true,
		FallbackID:      fallbackID,
	})
	if err != nil {
		t.Fatalf("CreateAppVersion %s: %v", code, err)
	}
	return av
}

// SeedPush stores a push whose changesets form a linear chain on top of the
// root, bypassing the VCS. It returns the internal push id.
func SeedPush(t testing.TB, st *store.Store, repositoryID, pushID int64, date time.Time, revisions ...string) int64 {
	t.Helper()

	ctx := context.Background()
	var id int64
	err := st.WithTx(ctx, func(q *store.Queries) error {
		var csIDs []int64
		for _, rev := range revisions {
			known, err := q.ChangesetIDsByRevision(ctx, []string{rev})
			if err != nil {
				return err
			}
			csID, ok := known[rev]
			if !ok {
				csID, err = q.InsertChangeset(ctx, store.NewChangeset{Revision: rev, Author: "tester", Description: "seed " + rev})
				if err != nil {
					return err
				}
			}
			if err := q.AttachChangeset(ctx, repositoryID, csID); err != nil {
				return err
			}
			csIDs = append(csIDs, csID)
		}
		pid, _, err := q.UpsertPush(ctx, repositoryID, pushID, date, "pusher@example.org")
		if err != nil {
			return err
		}
		id = pid
		return q.SetPushChangesets(ctx, pid, csIDs)
	})
	if err != nil {
		t.Fatalf("SeedPush %d: %v", pushID, err)
	}
	return id
}
