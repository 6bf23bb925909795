package vcs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"l10nboard/internal/logging"
	"l10nboard/internal/services"
)

// Repo is a resolved local mirror of one remote repository.
type Repo interface {
	// Resolve returns metadata for revision. Unknown revisions fail with
	// services.ErrNotFound.
	Resolve(ctx context.Context, revision string) (*ChangesetInfo, error)
	// Head returns the latest revision on the remote's default branch.
	Head(ctx context.Context) (string, error)
}

// Source names a remote repository.
type Source struct {
	Name string
	URL  string
}

// Mirrors manages local clones under a root directory.
type Mirrors struct {
	root   string
	client *Client
	logger *slog.Logger
}

// NewMirrors constructs a mirror manager rooted at dir.
func NewMirrors(root string, client *Client, logger *slog.Logger) *Mirrors {
	return &Mirrors{
		root:   root,
		client: client,
		logger: logging.NewComponentLogger(logger, "vcs"),
	}
}

// Path returns the mirror directory for a repository name.
func (m *Mirrors) Path(name string) string {
	clean := strings.Trim(filepath.ToSlash(name), "/")
	clean = strings.ReplaceAll(clean, "..", "_")
	return filepath.Join(m.root, filepath.FromSlash(clean))
}

// Ensure brings the mirror of repo up to date and returns a handle on it.
// Missing or broken mirrors are cloned and seeded from siblings. Any failure
// wipes the mirror and retries once; a second failure is returned marked
// services.ErrVCS.
func (m *Mirrors) Ensure(ctx context.Context, repo Source, siblings []Source) (Repo, error) {
	dir := m.Path(repo.Name)
	logger := logging.WithContext(ctx, m.logger).With(logging.String(logging.FieldRepository, repo.Name))

	err := m.sync(ctx, dir, repo, siblings)
	if err != nil {
		logging.WarnWithContext(logger, "mirror sync failed; rebuilding", "vcs_mirror_rebuild",
			logging.Error(err),
			logging.String("mirror", dir),
			logging.String(logging.FieldErrorHint, "check network access to the repository host"),
		)
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			return nil, services.Wrap(services.ErrVCS, "vcs", "wipe mirror", dir, rmErr)
		}
		if err = m.sync(ctx, dir, repo, siblings); err != nil {
			if errors.Is(err, services.ErrVCS) {
				return nil, fmt.Errorf("mirror %s unavailable after rebuild: %w", repo.Name, err)
			}
			return nil, services.Wrap(services.ErrVCS, "vcs", "ensure mirror", repo.Name, err)
		}
	}
	return &mirrorRepo{dir: dir, url: repo.URL, client: m.client}, nil
}

func (m *Mirrors) sync(ctx context.Context, dir string, repo Source, siblings []Source) error {
	if !m.valid(ctx, dir) {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove broken mirror: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
			return fmt.Errorf("create mirror parent: %w", err)
		}
		m.logger.Info("cloning mirror", logging.String(logging.FieldRepository, repo.Name), logging.String("url", repo.URL))
		if err := m.client.Clone(ctx, repo.URL, dir); err != nil {
			return err
		}
		for _, sibling := range siblings {
			m.logger.Debug("seeding mirror from sibling",
				logging.String(logging.FieldRepository, repo.Name),
				logging.String("sibling", sibling.Name),
			)
			if err := m.client.Pull(ctx, dir, sibling.URL); err != nil {
				return err
			}
		}
	}
	return m.client.Pull(ctx, dir, repo.URL)
}

func (m *Mirrors) valid(ctx context.Context, dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".hg"))
	if err != nil || !info.IsDir() {
		return false
	}
	return m.client.Verify(ctx, dir) == nil
}

type mirrorRepo struct {
	dir    string
	url    string
	client *Client
}

func (r *mirrorRepo) Resolve(ctx context.Context, revision string) (*ChangesetInfo, error) {
	return r.client.Log(ctx, r.dir, revision)
}

func (r *mirrorRepo) Head(ctx context.Context) (string, error) {
	return r.client.Identify(ctx, r.url)
}
