package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// NewChangeset carries the fields of a changeset to insert.
type NewChangeset struct {
	Revision    string
	Author      string
	Description string
	Branch      string
}

// ChangesetIDByRevision returns the identifier of the changeset with the given
// revision.
func (q *Queries) ChangesetIDByRevision(ctx context.Context, revision string) (int64, error) {
	var id int64
	err := q.queryRow(ctx, "SELECT id FROM changesets WHERE revision = ?", revision).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, notFound("changeset", fmt.Sprintf("revision %s", revision))
	}
	if err != nil {
		return 0, fmt.Errorf("get changeset: %w", err)
	}
	return id, nil
}

// ChangesetIDsByRevision maps the known revisions among revisions to their
// identifiers. Unknown revisions are absent from the result.
func (q *Queries) ChangesetIDsByRevision(ctx context.Context, revisions []string) (map[string]int64, error) {
	out := make(map[string]int64, len(revisions))
	for start := 0; start < len(revisions); start += maxFileChunk {
		end := min(start+maxFileChunk, len(revisions))
		chunk := revisions[start:end]
		rows, err := q.query(ctx,
			"SELECT id, revision FROM changesets WHERE revision IN ("+makePlaceholders(len(chunk))+")",
			stringArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("query changesets: %w", err)
		}
		for rows.Next() {
			var (
				id  int64
				rev string
			)
			if err := rows.Scan(&id, &rev); err != nil {
				rows.Close()
				return nil, err
			}
			out[rev] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertChangeset creates a changeset row. Parents and files are attached
// separately.
func (q *Queries) InsertChangeset(ctx context.Context, cs NewChangeset) (int64, error) {
	branch := cs.Branch
	if branch == "" {
		branch = DefaultBranch
	}
	id, err := q.insertReturningID(ctx,
		"INSERT INTO changesets (revision, author, description, branch) VALUES (?, ?, ?, ?)",
		cs.Revision, cs.Author, cs.Description, branch,
	)
	if err != nil {
		return 0, fmt.Errorf("insert changeset %s: %w", cs.Revision, err)
	}
	return id, nil
}

// SetChangesetParents records the ordered parent links of a changeset.
func (q *Queries) SetChangesetParents(ctx context.Context, changesetID int64, parentIDs []int64) error {
	for pos, parentID := range parentIDs {
		if _, err := q.exec(ctx,
			"INSERT INTO changeset_parents (changeset_id, parent_id, position) VALUES (?, ?, ?)",
			changesetID, parentID, pos,
		); err != nil {
			return fmt.Errorf("insert changeset parent: %w", err)
		}
	}
	return nil
}

// AttachChangeset links a changeset to a repository. Existing links are kept.
func (q *Queries) AttachChangeset(ctx context.Context, repositoryID, changesetID int64) error {
	if _, err := q.exec(ctx,
		"INSERT INTO repository_changesets (repository_id, changeset_id) VALUES (?, ?) ON CONFLICT DO NOTHING",
		repositoryID, changesetID,
	); err != nil {
		return fmt.Errorf("attach changeset: %w", err)
	}
	return nil
}

// ChangesetByRevision loads a changeset with its parent revisions and files.
func (q *Queries) ChangesetByRevision(ctx context.Context, revision string) (*Changeset, error) {
	var cs Changeset
	err := q.queryRow(ctx,
		"SELECT id, revision, author, description, branch FROM changesets WHERE revision = ?",
		revision,
	).Scan(&cs.ID, &cs.Revision, &cs.Author, &cs.Description, &cs.Branch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("changeset", fmt.Sprintf("revision %s", revision))
	}
	if err != nil {
		return nil, fmt.Errorf("get changeset: %w", err)
	}

	rows, err := q.query(ctx,
		`SELECT p.revision FROM changeset_parents cp
         JOIN changesets p ON p.id = cp.parent_id
         WHERE cp.changeset_id = ? ORDER BY cp.position`,
		cs.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query parents: %w", err)
	}
	cs.Parents, err = collectStrings(rows)
	if err != nil {
		return nil, err
	}

	rows, err = q.query(ctx,
		`SELECT f.path FROM changeset_files cf
         JOIN files f ON f.id = cf.file_id
         WHERE cf.changeset_id = ? ORDER BY f.path`,
		cs.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("query files: %w", err)
	}
	cs.Files, err = collectStrings(rows)
	if err != nil {
		return nil, err
	}
	return &cs, nil
}

// CountChangesets returns the number of changesets, including the root.
func (q *Queries) CountChangesets(ctx context.Context) (int64, error) {
	return q.count(ctx, "SELECT COUNT(1) FROM changesets")
}

// CountRepositoryChangesets returns the number of changesets attached to a
// repository, including the root.
func (q *Queries) CountRepositoryChangesets(ctx context.Context, repositoryID int64) (int64, error) {
	return q.count(ctx, "SELECT COUNT(1) FROM repository_changesets WHERE repository_id = ?", repositoryID)
}

// CountDanglingParents returns the number of parent links whose parent row is
// missing. It is always zero on a consistent store.
func (q *Queries) CountDanglingParents(ctx context.Context) (int64, error) {
	return q.count(ctx,
		`SELECT COUNT(1) FROM changeset_parents cp
         LEFT JOIN changesets p ON p.id = cp.parent_id
         WHERE p.id IS NULL`,
	)
}

func (q *Queries) count(ctx context.Context, query string, args ...any) (int64, error) {
	var n int64
	if err := q.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

func collectStrings(rows *sql.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
