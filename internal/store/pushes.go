package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const pushColumns = "p.id, p.repository_id, p.push_id, p.push_date, p.author"

// UpsertPush returns the push keyed by (repositoryID, pushID), creating it
// when absent. created reports whether a row was inserted.
func (q *Queries) UpsertPush(ctx context.Context, repositoryID, pushID int64, date time.Time, author string) (int64, bool, error) {
	var id int64
	err := q.queryRow(ctx,
		`INSERT INTO pushes (repository_id, push_id, push_date, author) VALUES (?, ?, ?, ?)
         ON CONFLICT (repository_id, push_id) DO NOTHING RETURNING id`,
		repositoryID, pushID, formatTime(date), author,
	).Scan(&id)
	if err == nil {
		return id, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("insert push: %w", err)
	}
	err = q.queryRow(ctx,
		"SELECT id FROM pushes WHERE repository_id = ? AND push_id = ?",
		repositoryID, pushID,
	).Scan(&id)
	if err != nil {
		return 0, false, fmt.Errorf("get push: %w", err)
	}
	return id, false, nil
}

// SetPushChangesets replaces the ordered changeset set of a push.
func (q *Queries) SetPushChangesets(ctx context.Context, pushID int64, changesetIDs []int64) error {
	if _, err := q.exec(ctx, "DELETE FROM push_changesets WHERE push_id = ?", pushID); err != nil {
		return fmt.Errorf("clear push changesets: %w", err)
	}
	seen := make(map[int64]struct{}, len(changesetIDs))
	for pos, csID := range changesetIDs {
		if _, ok := seen[csID]; ok {
			continue
		}
		seen[csID] = struct{}{}
		if _, err := q.exec(ctx,
			"INSERT INTO push_changesets (push_id, changeset_id, position) VALUES (?, ?, ?)",
			pushID, csID, pos,
		); err != nil {
			return fmt.Errorf("insert push changeset: %w", err)
		}
	}
	return nil
}

// PushByID fetches a push by its internal identifier.
func (q *Queries) PushByID(ctx context.Context, id int64) (*Push, error) {
	row := q.queryRow(ctx, "SELECT "+pushColumns+" FROM pushes p WHERE p.id = ?", id)
	push, err := scanPush(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("push", fmt.Sprintf("push %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get push: %w", err)
	}
	return push, nil
}

// PushByExternalID fetches a push by repository and externally assigned id.
func (q *Queries) PushByExternalID(ctx context.Context, repositoryID, pushID int64) (*Push, error) {
	row := q.queryRow(ctx,
		"SELECT "+pushColumns+" FROM pushes p WHERE p.repository_id = ? AND p.push_id = ?",
		repositoryID, pushID,
	)
	push, err := scanPush(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("push", fmt.Sprintf("push %d of repository %d", pushID, repositoryID))
	}
	if err != nil {
		return nil, fmt.Errorf("get push: %w", err)
	}
	return push, nil
}

// LatestPushID returns the highest external push id stored for a repository,
// zero when none.
func (q *Queries) LatestPushID(ctx context.Context, repositoryID int64) (int64, error) {
	var id sql.NullInt64
	if err := q.queryRow(ctx, "SELECT MAX(push_id) FROM pushes WHERE repository_id = ?", repositoryID).Scan(&id); err != nil {
		return 0, fmt.Errorf("latest push id: %w", err)
	}
	return id.Int64, nil
}

// CountPushes returns the number of pushes stored for a repository.
func (q *Queries) CountPushes(ctx context.Context, repositoryID int64) (int64, error) {
	return q.count(ctx, "SELECT COUNT(1) FROM pushes WHERE repository_id = ?", repositoryID)
}

// PushFilter selects the pushes of the repositories belonging to one forest
// and locale.
type PushFilter struct {
	ForestID int64
	LocaleID int64
	// Before limits to pushes strictly older than the time. With BeforeID
	// set, pushes at exactly Before with a smaller id match as well, which
	// continues the (date, id) order of ListPushes.
	Before   *time.Time
	BeforeID int64
	// Since limits to pushes at or after the time.
	Since *time.Time
	Limit int
}

func (f PushFilter) where() (string, []any) {
	clauses := []string{"r.forest_id = ?", "r.locale_id = ?"}
	args := []any{f.ForestID, f.LocaleID}
	switch {
	case f.Before != nil && f.BeforeID > 0:
		before := formatTime(*f.Before)
		clauses = append(clauses, "(p.push_date < ? OR (p.push_date = ? AND p.id < ?))")
		args = append(args, before, before, f.BeforeID)
	case f.Before != nil:
		clauses = append(clauses, "p.push_date < ?")
		args = append(args, formatTime(*f.Before))
	}
	if f.Since != nil {
		clauses = append(clauses, "p.push_date >= ?")
		args = append(args, formatTime(*f.Since))
	}
	return strings.Join(clauses, " AND "), args
}

// ListPushes returns matching pushes newest first.
func (q *Queries) ListPushes(ctx context.Context, filter PushFilter) ([]Push, error) {
	where, args := filter.where()
	query := "SELECT " + pushColumns + " FROM pushes p JOIN repositories r ON r.id = p.repository_id WHERE " +
		where + " ORDER BY p.push_date DESC, p.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	rows, err := q.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pushes: %w", err)
	}
	defer rows.Close()
	var out []Push
	for rows.Next() {
		push, err := scanPush(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *push)
	}
	return out, rows.Err()
}

// CountMatchingPushes counts pushes selected by filter, ignoring Limit.
func (q *Queries) CountMatchingPushes(ctx context.Context, filter PushFilter) (int64, error) {
	where, args := filter.where()
	return q.count(ctx,
		"SELECT COUNT(1) FROM pushes p JOIN repositories r ON r.id = p.repository_id WHERE "+where,
		args...,
	)
}

// PushChangesets loads the changesets of the given pushes in push order.
func (q *Queries) PushChangesets(ctx context.Context, pushIDs []int64) (map[int64][]PushChangeset, error) {
	out := make(map[int64][]PushChangeset, len(pushIDs))
	if len(pushIDs) == 0 {
		return out, nil
	}
	rows, err := q.query(ctx,
		`SELECT pc.push_id, c.id, c.revision, c.author, c.description, c.branch
         FROM push_changesets pc JOIN changesets c ON c.id = pc.changeset_id
         WHERE pc.push_id IN (`+makePlaceholders(len(pushIDs))+`)
         ORDER BY pc.push_id, c.id DESC`,
		int64Args(pushIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query push changesets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var pc PushChangeset
		if err := rows.Scan(&pc.PushID, &pc.ChangesetID, &pc.Revision, &pc.Author, &pc.Description, &pc.Branch); err != nil {
			return nil, err
		}
		out[pc.PushID] = append(out[pc.PushID], pc)
	}
	return out, rows.Err()
}

// PushTip returns the changeset of a push with the highest internal id.
func (q *Queries) PushTip(ctx context.Context, pushID int64) (*PushChangeset, error) {
	pc := PushChangeset{PushID: pushID}
	err := q.queryRow(ctx,
		`SELECT c.id, c.revision, c.author, c.description, c.branch
         FROM push_changesets pc JOIN changesets c ON c.id = pc.changeset_id
         WHERE pc.push_id = ? ORDER BY c.id DESC LIMIT 1`,
		pushID,
	).Scan(&pc.ChangesetID, &pc.Revision, &pc.Author, &pc.Description, &pc.Branch)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("push tip", fmt.Sprintf("push %d has no changesets", pushID))
	}
	if err != nil {
		return nil, fmt.Errorf("get push tip: %w", err)
	}
	return &pc, nil
}

func scanPush(s scanner) (*Push, error) {
	var (
		push Push
		date string
	)
	if err := s.Scan(&push.ID, &push.RepositoryID, &push.PushID, &date, &push.Author); err != nil {
		return nil, err
	}
	push.Date = parseTime(date)
	return &push, nil
}
