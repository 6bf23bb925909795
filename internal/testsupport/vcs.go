package testsupport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"l10nboard/internal/services"
	"l10nboard/internal/vcs"
)

// FakeRepo is an in-memory vcs.Repo.
type FakeRepo struct {
	mu       sync.Mutex
	commits  map[string]*vcs.ChangesetInfo
	aliases  map[string]string
	head     string
	resolves int
}

// NewFakeRepo returns an empty fake repository.
func NewFakeRepo() *FakeRepo {
	return &FakeRepo{
		commits: make(map[string]*vcs.ChangesetInfo),
		aliases: make(map[string]string),
	}
}

// Commit adds a changeset with the given parents and files and makes it the
// head. Revisions shorter than 40 characters are padded with zeros on the
// right and the short form is kept as an alias.
func (r *FakeRepo) Commit(revision string, parents []string, files ...string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := FullRevision(revision)
	if full != revision {
		r.aliases[revision] = full
	}
	fullParents := make([]string, 0, len(parents))
	for _, p := range parents {
		fullParents = append(fullParents, FullRevision(p))
	}
	if len(fullParents) == 0 {
		fullParents = []string{vcs.NullRevision}
	}
	r.commits[full] = &vcs.ChangesetInfo{
		Revision:    full,
		Parents:     fullParents,
		Author:      "dev@example.org",
		Description: "commit " + revision,
		Branch:      "default",
		Files:       files,
	}
	r.head = full
	return full
}

// Resolve implements vcs.Repo.
func (r *FakeRepo) Resolve(_ context.Context, revision string) (*vcs.ChangesetInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resolves++
	if alias, ok := r.aliases[revision]; ok {
		revision = alias
	}
	info, ok := r.commits[revision]
	if !ok {
		return nil, services.Wrap(services.ErrNotFound, "vcs", "log", fmt.Sprintf("unknown revision %s", revision), nil)
	}
	clone := *info
	clone.Parents = append([]string(nil), info.Parents...)
	return &clone, nil
}

// Head implements vcs.Repo.
func (r *FakeRepo) Head(context.Context) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.head == "" {
		return "", services.Wrap(services.ErrVCS, "vcs", "identify", "empty repository", nil)
	}
	return r.head, nil
}

// Resolves reports how many times Resolve has been called.
func (r *FakeRepo) Resolves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolves
}

// FakeMirrors serves FakeRepos by repository name.
type FakeMirrors struct {
	mu    sync.Mutex
	Repos map[string]*FakeRepo
	Err   error
	calls []string
}

// NewFakeMirrors returns an empty mirror provider.
func NewFakeMirrors() *FakeMirrors {
	return &FakeMirrors{Repos: make(map[string]*FakeRepo)}
}

// Ensure implements the ingestion mirror provider.
func (m *FakeMirrors) Ensure(_ context.Context, repo vcs.Source, siblings []vcs.Source) (vcs.Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(siblings))
	for _, s := range siblings {
		names = append(names, s.Name)
	}
	m.calls = append(m.calls, repo.Name+"<"+strings.Join(names, ","))
	if m.Err != nil {
		return nil, m.Err
	}
	r, ok := m.Repos[repo.Name]
	if !ok {
		return nil, services.Wrap(services.ErrVCS, "vcs", "clone", "no such repository "+repo.Name, nil)
	}
	return r, nil
}

// Calls lists Ensure invocations as "name<sibling,sibling".
func (m *FakeMirrors) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// FullRevision pads a short test revision to 40 hex characters.
func FullRevision(rev string) string {
	if len(rev) >= 40 {
		return rev
	}
	return rev + strings.Repeat("0", 40-len(rev))
}
