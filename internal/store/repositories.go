package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"l10nboard/internal/services"
)

const repositoryColumns = "id, name, url, forest_id, locale_id, archived"

// CreateForest inserts a forest, optionally forked from another forest.
func (q *Queries) CreateForest(ctx context.Context, name, url string, forkOfID int64) (*Forest, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create forest", "name required", nil)
	}
	id, err := q.insertReturningID(ctx,
		"INSERT INTO forests (name, url, fork_of_id, archived) VALUES (?, ?, ?, 0)",
		name, url, nullableInt64(forkOfID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create forest", fmt.Sprintf("forest %q exists", name), err)
		}
		return nil, fmt.Errorf("insert forest: %w", err)
	}
	return &Forest{ID: id, Name: name, URL: url, ForkOfID: forkOfID}, nil
}

// ForestByName fetches a forest by name.
func (q *Queries) ForestByName(ctx context.Context, name string) (*Forest, error) {
	row := q.queryRow(ctx, "SELECT id, name, url, fork_of_id, archived FROM forests WHERE name = ?", name)
	forest, err := scanForest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("forest", fmt.Sprintf("forest %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("get forest: %w", err)
	}
	return forest, nil
}

func (q *Queries) listForests(ctx context.Context) (map[int64]Forest, error) {
	rows, err := q.query(ctx, "SELECT id, name, url, fork_of_id, archived FROM forests")
	if err != nil {
		return nil, fmt.Errorf("list forests: %w", err)
	}
	defer rows.Close()
	out := make(map[int64]Forest)
	for rows.Next() {
		forest, err := scanForest(rows)
		if err != nil {
			return nil, err
		}
		out[forest.ID] = *forest
	}
	return out, rows.Err()
}

func scanForest(s scanner) (*Forest, error) {
	var (
		forest   Forest
		forkOf   sql.NullInt64
		archived int64
	)
	if err := s.Scan(&forest.ID, &forest.Name, &forest.URL, &forkOf, &archived); err != nil {
		return nil, err
	}
	forest.ForkOfID = forkOf.Int64
	forest.Archived = archived != 0
	return &forest, nil
}

// RepositoryParams describes a repository to register.
type RepositoryParams struct {
	Name     string
	URL      string
	ForestID int64
	LocaleID int64
}

// CreateRepository inserts a repository and attaches the root changeset to it.
func (q *Queries) CreateRepository(ctx context.Context, params RepositoryParams) (*Repository, error) {
	name := strings.TrimSpace(params.Name)
	if name == "" || strings.TrimSpace(params.URL) == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create repository", "name and url required", nil)
	}
	id, err := q.insertReturningID(ctx,
		"INSERT INTO repositories (name, url, forest_id, locale_id, archived) VALUES (?, ?, ?, ?, 0)",
		name, params.URL, nullableInt64(params.ForestID), nullableInt64(params.LocaleID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create repository", fmt.Sprintf("repository %q exists", name), err)
		}
		return nil, fmt.Errorf("insert repository: %w", err)
	}
	rootID, err := q.ChangesetIDByRevision(ctx, RootRevision)
	if err != nil {
		return nil, err
	}
	if err := q.AttachChangeset(ctx, id, rootID); err != nil {
		return nil, err
	}
	return &Repository{ID: id, Name: name, URL: params.URL, ForestID: params.ForestID, LocaleID: params.LocaleID}, nil
}

// RepositoryByName fetches a repository by name.
func (q *Queries) RepositoryByName(ctx context.Context, name string) (*Repository, error) {
	row := q.queryRow(ctx, "SELECT "+repositoryColumns+" FROM repositories WHERE name = ?", name)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", fmt.Sprintf("repository %q", name))
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// RepositoryByID fetches a repository by identifier.
func (q *Queries) RepositoryByID(ctx context.Context, id int64) (*Repository, error) {
	row := q.queryRow(ctx, "SELECT "+repositoryColumns+" FROM repositories WHERE id = ?", id)
	repo, err := scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("repository", fmt.Sprintf("repository %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return repo, nil
}

// ListRepositories returns repositories ordered by name. Archived
// repositories are skipped unless includeArchived is set.
func (q *Queries) ListRepositories(ctx context.Context, includeArchived bool) ([]Repository, error) {
	query := "SELECT " + repositoryColumns + " FROM repositories"
	if !includeArchived {
		query += " WHERE archived = 0"
	}
	query += " ORDER BY name"
	rows, err := q.query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()
	var out []Repository
	for rows.Next() {
		repo, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *repo)
	}
	return out, rows.Err()
}

// SetRepositoryArchived toggles whether a repository is polled.
func (q *Queries) SetRepositoryArchived(ctx context.Context, id int64, archived bool) error {
	res, err := q.exec(ctx, "UPDATE repositories SET archived = ? WHERE id = ?", boolToInt(archived), id)
	if err != nil {
		return fmt.Errorf("archive repository: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("archive repository", fmt.Sprintf("repository %d", id))
	}
	return nil
}

// SiblingRepositories returns the repositories whose forests share fork
// ancestry with repo's forest, excluding repo itself. Repositories without a
// forest have no siblings.
func (q *Queries) SiblingRepositories(ctx context.Context, repo Repository) ([]Repository, error) {
	if repo.ForestID == 0 {
		return nil, nil
	}
	forests, err := q.listForests(ctx)
	if err != nil {
		return nil, err
	}
	root := forkRoot(forests, repo.ForestID)
	var related []int64
	for id := range forests {
		if forkRoot(forests, id) == root {
			related = append(related, id)
		}
	}
	if len(related) == 0 {
		return nil, nil
	}
	rows, err := q.query(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE forest_id IN ("+makePlaceholders(len(related))+") AND id <> ? ORDER BY id",
		append(int64Args(related), repo.ID)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query siblings: %w", err)
	}
	defer rows.Close()
	var out []Repository
	for rows.Next() {
		sibling, err := scanRepository(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sibling)
	}
	return out, rows.Err()
}

// forkRoot follows fork_of pointers to the originating forest, stopping if a
// pointer loops.
func forkRoot(forests map[int64]Forest, id int64) int64 {
	seen := map[int64]struct{}{}
	for {
		if _, ok := seen[id]; ok {
			return id
		}
		seen[id] = struct{}{}
		forest, ok := forests[id]
		if !ok || forest.ForkOfID == 0 {
			return id
		}
		id = forest.ForkOfID
	}
}

func scanRepository(s scanner) (*Repository, error) {
	var (
		repo     Repository
		forestID sql.NullInt64
		localeID sql.NullInt64
		archived int64
	)
	if err := s.Scan(&repo.ID, &repo.Name, &repo.URL, &forestID, &localeID, &archived); err != nil {
		return nil, err
	}
	repo.ForestID = forestID.Int64
	repo.LocaleID = localeID.Int64
	repo.Archived = archived != 0
	return &repo, nil
}

// CreateTree inserts a tree built from a forest.
func (q *Queries) CreateTree(ctx context.Context, code string, forestID int64) (*Tree, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create tree", "code required", nil)
	}
	id, err := q.insertReturningID(ctx, "INSERT INTO trees (code, forest_id) VALUES (?, ?)", code, nullableInt64(forestID))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create tree", fmt.Sprintf("tree %q exists", code), err)
		}
		return nil, fmt.Errorf("insert tree: %w", err)
	}
	return &Tree{ID: id, Code: code, ForestID: forestID}, nil
}

// TreeByCode fetches a tree by code.
func (q *Queries) TreeByCode(ctx context.Context, code string) (*Tree, error) {
	return q.getTree(ctx, "code = ?", code)
}

// TreeByID fetches a tree by identifier.
func (q *Queries) TreeByID(ctx context.Context, id int64) (*Tree, error) {
	return q.getTree(ctx, "id = ?", id)
}

func (q *Queries) getTree(ctx context.Context, where string, arg any) (*Tree, error) {
	var (
		tree     Tree
		forestID sql.NullInt64
	)
	err := q.queryRow(ctx, "SELECT id, code, forest_id FROM trees WHERE "+where, arg).Scan(&tree.ID, &tree.Code, &forestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tree", fmt.Sprintf("tree %v", arg))
	}
	if err != nil {
		return nil, fmt.Errorf("get tree: %w", err)
	}
	tree.ForestID = forestID.Int64
	return &tree, nil
}
