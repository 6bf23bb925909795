package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"l10nboard/internal/api"
	"l10nboard/internal/services"
	"l10nboard/internal/store"
	"l10nboard/internal/testsupport"
)

func decodeJSON(t *testing.T, out string, dest any) {
	t.Helper()
	if err := json.Unmarshal([]byte(out), dest); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
}

func seedDashboard(t *testing.T, env *cliTestEnv) int64 {
	t.Helper()
	env.mustRun(t, "locale", "add", "de")
	env.mustRun(t, "forest", "add", "l10n-central", "https://hg.example.org/l10n-central")
	env.mustRun(t, "repo", "add", "l10n-central/de", "https://hg.example.org/l10n-central/de", "--forest", "l10n-central", "--locale", "de")
	env.mustRun(t, "tree", "add", "fx_central", "--forest", "l10n-central")
	env.mustRun(t, "appversion", "add", "fx121", "--app", "fx", "--version", "121", "--tree", "fx_central")
	env.mustRun(t, "appversion", "add", "fx122", "--app", "fx", "--version", "122", "--tree", "fx_central", "--fallback", "fx121")

	st := testsupport.MustOpenStore(t, env.cfg)
	repo, err := st.RepositoryByName(context.Background(), "l10n-central/de")
	if err != nil {
		t.Fatalf("RepositoryByName: %v", err)
	}
	base := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	testsupport.SeedPush(t, st, repo.ID, 1, base, testsupport.FullRevision("a1"))
	return testsupport.SeedPush(t, st, repo.ID, 2, base.Add(time.Hour), testsupport.FullRevision("b1"))
}

func TestSignoffWorkflowThroughCLI(t *testing.T) {
	env := setupCLITestEnv(t)
	pushID := seedDashboard(t, env)

	out := env.mustRun(t, "locale", "list")
	requireContains(t, out, "German")

	var page api.PushPage
	decodeJSON(t, env.mustRun(t, "--json", "pushes", "-l", "de", "-a", "fx121"), &page)
	if len(page.Pushes) != 2 || page.Pushes[0].ID != pushID {
		t.Fatalf("unexpected pushes %+v", page.Pushes)
	}

	var added api.SignoffResponse
	decodeJSON(t, env.mustRun(t, "--json", "signoff", "add",
		"-a", "fx121", "-l", "de", "--push", strconv.FormatInt(pushID, 10), "--author", "l10n@example.org"), &added)
	if !added.Created || added.Signoff.Status != "pending" {
		t.Fatalf("unexpected sign-off %+v", added)
	}
	id := strconv.FormatInt(added.Signoff.ID, 10)

	out = env.mustRun(t, "signoff", "accept", id, "--author", "driver@example.org", "-m", "looks good")
	requireContains(t, out, "pending -> accepted (seq 2)")

	var flags api.FlagsResponse
	decodeJSON(t, env.mustRun(t, "--json", "flags", "-a", "fx122", "-l", "de"), &flags)
	if len(flags.AppVersions) != 1 || len(flags.AppVersions[0].Locales) != 1 {
		t.Fatalf("unexpected flags %+v", flags)
	}
	de := flags.AppVersions[0].Locales[0]
	if !de.Fallback || de.AppVersion != "fx121" {
		t.Fatalf("expected fx122 to inherit from fx121, got %+v", de)
	}

	out = env.mustRun(t, "flags", "-a", "fx122", "-l", "de")
	requireContains(t, out, "fx121 (fallback)")

	out = env.mustRun(t, "signoff", "show", id)
	requireContains(t, out, "looks good")

	_, _, err := runCLI(t, []string{"signoff", "cancel", id, "--author", "l10n@example.org"}, env.configPath)
	if !errors.Is(err, services.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState cancelling an accepted sign-off, got %v", err)
	}

	out = env.mustRun(t, "signoff", "obsolete", "fx121", "--author", "driver@example.org")
	requireContains(t, out, "Obsoleted 1 sign-offs")
}

func TestAppVersionFallbackRejectsCycle(t *testing.T) {
	env := setupCLITestEnv(t)
	seedDashboard(t, env)

	_, _, err := runCLI(t, []string{"appversion", "fallback", "fx121", "fx122"}, env.configPath)
	if !errors.Is(err, store.ErrFallbackCycle) {
		t.Fatalf("expected fallback cycle, got %v", err)
	}
	out := env.mustRun(t, "appversion", "fallback", "fx122", "--clear")
	requireContains(t, out, "Cleared fallback of fx122")

	out = env.mustRun(t, "appversion", "list")
	requireContains(t, out, "fx122")
}

func TestRunRecordMarksSuggestion(t *testing.T) {
	env := setupCLITestEnv(t)
	seedDashboard(t, env)

	out := env.mustRun(t, "run", "record", "--tree", "fx_central", "-l", "de",
		"--revision", testsupport.FullRevision("b1"), "--src-time", "2024-03-01T12:00:00Z")
	requireContains(t, out, "clean: yes")

	var page api.PushPage
	decodeJSON(t, env.mustRun(t, "--json", "pushes", "-l", "de", "-a", "fx121"), &page)
	if len(page.Pushes) == 0 || !page.Pushes[0].Suggest {
		t.Fatalf("expected newest push suggested, got %+v", page.Pushes)
	}
}

func TestIngestRejectsUnknownRepository(t *testing.T) {
	env := setupCLITestEnv(t)

	path := filepath.Join(t.TempDir(), "pushes.json")
	payload := `{"pushes":[{"pushId":1,"date":"2024-03-01T10:00:00Z","user":"p@example.org","revisions":["abc"]}]}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("write pushes: %v", err)
	}
	_, _, err := runCLI(t, []string{"ingest", "missing/repo", "--file", path}, env.configPath)
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	env.cfg.API.Bind = "127.0.0.1:1"
	writeTestConfig(t, env.configPath, env.cfg)

	out := env.mustRun(t, "status", "--timeout", "500ms")
	requireContains(t, out, "not running")
}
