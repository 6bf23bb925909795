package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"l10nboard/internal/services"
)

const appVersionColumns = "id, application_id, version, code, name, accepts_signoffs, fallback_id"

// CreateApplication inserts an application.
func (q *Queries) CreateApplication(ctx context.Context, code, name string) (*Application, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create application", "code required", nil)
	}
	id, err := q.insertReturningID(ctx, "INSERT INTO applications (code, name) VALUES (?, ?)", code, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create application", fmt.Sprintf("application %q exists", code), err)
		}
		return nil, fmt.Errorf("insert application: %w", err)
	}
	return &Application{ID: id, Code: code, Name: name}, nil
}

// ApplicationByCode fetches an application by code.
func (q *Queries) ApplicationByCode(ctx context.Context, code string) (*Application, error) {
	var app Application
	err := q.queryRow(ctx, "SELECT id, code, name FROM applications WHERE code = ?", code).Scan(&app.ID, &app.Code, &app.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("application", fmt.Sprintf("application %q", code))
	}
	if err != nil {
		return nil, fmt.Errorf("get application: %w", err)
	}
	return &app, nil
}

// AppVersionParams describes an app version to create.
type AppVersionParams struct {
	ApplicationID   int64
	Version         string
	Code            string
	Name            string
	AcceptsSignoffs bool
	FallbackID      int64
}

// CreateAppVersion inserts an app version. A fallback given at creation
// cannot form a cycle because the new row is not yet referenced.
func (q *Queries) CreateAppVersion(ctx context.Context, params AppVersionParams) (*AppVersion, error) {
	code := strings.TrimSpace(params.Code)
	if code == "" || params.ApplicationID == 0 {
		return nil, services.Wrap(services.ErrValidation, "store", "create app version", "application and code required", nil)
	}
	id, err := q.insertReturningID(ctx,
		"INSERT INTO app_versions (application_id, version, code, name, accepts_signoffs, fallback_id) VALUES (?, ?, ?, ?, ?, ?)",
		params.ApplicationID, params.Version, code, params.Name, boolToInt(params.AcceptsSignoffs), nullableInt64(params.FallbackID),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create app version", fmt.Sprintf("app version %q exists", code), err)
		}
		return nil, fmt.Errorf("insert app version: %w", err)
	}
	return &AppVersion{
		ID:              id,
		ApplicationID:   params.ApplicationID,
		Version:         params.Version,
		Code:            code,
		Name:            params.Name,
		AcceptsSignoffs: params.AcceptsSignoffs,
		FallbackID:      params.FallbackID,
	}, nil
}

// AppVersionByCode fetches an app version by code.
func (q *Queries) AppVersionByCode(ctx context.Context, code string) (*AppVersion, error) {
	row := q.queryRow(ctx, "SELECT "+appVersionColumns+" FROM app_versions WHERE code = ?", code)
	av, err := scanAppVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("app version", fmt.Sprintf("app version %q", code))
	}
	if err != nil {
		return nil, fmt.Errorf("get app version: %w", err)
	}
	return av, nil
}

// AppVersionsByID loads app versions keyed by identifier.
func (q *Queries) AppVersionsByID(ctx context.Context, ids []int64) (map[int64]AppVersion, error) {
	out := make(map[int64]AppVersion, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.query(ctx,
		"SELECT "+appVersionColumns+" FROM app_versions WHERE id IN ("+makePlaceholders(len(ids))+")",
		int64Args(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query app versions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		av, err := scanAppVersion(rows)
		if err != nil {
			return nil, err
		}
		out[av.ID] = *av
	}
	return out, rows.Err()
}

// ListAppVersions returns all app versions ordered by code.
func (q *Queries) ListAppVersions(ctx context.Context) ([]AppVersion, error) {
	rows, err := q.query(ctx, "SELECT "+appVersionColumns+" FROM app_versions ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list app versions: %w", err)
	}
	defer rows.Close()
	var out []AppVersion
	for rows.Next() {
		av, err := scanAppVersion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *av)
	}
	return out, rows.Err()
}

// SetFallback points an app version at a fallback, or clears it when
// fallbackID is zero. Assignments that would close a loop fail with
// ErrFallbackCycle.
func (q *Queries) SetFallback(ctx context.Context, appVersionID, fallbackID int64) error {
	if fallbackID != 0 {
		if err := q.checkFallbackChain(ctx, appVersionID, fallbackID); err != nil {
			return err
		}
	}
	res, err := q.exec(ctx, "UPDATE app_versions SET fallback_id = ? WHERE id = ?", nullableInt64(fallbackID), appVersionID)
	if err != nil {
		return fmt.Errorf("set fallback: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("set fallback", fmt.Sprintf("app version %d", appVersionID))
	}
	return nil
}

func (q *Queries) checkFallbackChain(ctx context.Context, appVersionID, fallbackID int64) error {
	visited := map[int64]struct{}{appVersionID: {}}
	current := fallbackID
	for current != 0 {
		if _, ok := visited[current]; ok {
			return ErrFallbackCycle
		}
		visited[current] = struct{}{}
		var next sql.NullInt64
		err := q.queryRow(ctx, "SELECT fallback_id FROM app_versions WHERE id = ?", current).Scan(&next)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("set fallback", fmt.Sprintf("app version %d", current))
		}
		if err != nil {
			return fmt.Errorf("walk fallback chain: %w", err)
		}
		current = next.Int64
	}
	return nil
}

func scanAppVersion(s scanner) (*AppVersion, error) {
	var (
		av       AppVersion
		accepts  int64
		fallback sql.NullInt64
	)
	if err := s.Scan(&av.ID, &av.ApplicationID, &av.Version, &av.Code, &av.Name, &accepts, &fallback); err != nil {
		return nil, err
	}
	av.AcceptsSignoffs = accepts != 0
	av.FallbackID = fallback.Int64
	return &av, nil
}

// SetAcceptsSignoffs opens or closes an app version for new sign-offs.
func (q *Queries) SetAcceptsSignoffs(ctx context.Context, appVersionID int64, accepts bool) error {
	res, err := q.exec(ctx, "UPDATE app_versions SET accepts_signoffs = ? WHERE id = ?", boolToInt(accepts), appVersionID)
	if err != nil {
		return fmt.Errorf("set accepts signoffs: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("set accepts signoffs", fmt.Sprintf("app version %d", appVersionID))
	}
	return nil
}

// AssociateTree starts a new tree association for an app version at start,
// ending any association that is still open.
func (q *Queries) AssociateTree(ctx context.Context, appVersionID, treeID int64, start time.Time) (*AppVersionTree, error) {
	startAt := formatTime(start)
	if _, err := q.exec(ctx,
		"UPDATE app_version_trees SET end_at = ? WHERE app_version_id = ? AND end_at IS NULL",
		startAt, appVersionID,
	); err != nil {
		return nil, fmt.Errorf("close tree association: %w", err)
	}
	id, err := q.insertReturningID(ctx,
		"INSERT INTO app_version_trees (app_version_id, tree_id, start_at, end_at) VALUES (?, ?, ?, NULL)",
		appVersionID, treeID, startAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tree association: %w", err)
	}
	startCopy := start.UTC()
	return &AppVersionTree{ID: id, AppVersionID: appVersionID, TreeID: treeID, StartAt: &startCopy}, nil
}

// TreeFor returns the tree associated with an app version at the given time.
func (q *Queries) TreeFor(ctx context.Context, appVersionID int64, at time.Time) (*Tree, error) {
	ts := formatTime(at)
	var (
		tree     Tree
		forestID sql.NullInt64
	)
	err := q.queryRow(ctx,
		`SELECT t.id, t.code, t.forest_id FROM app_version_trees avt
         JOIN trees t ON t.id = avt.tree_id
         WHERE avt.app_version_id = ?
           AND (avt.start_at IS NULL OR avt.start_at <= ?)
           AND (avt.end_at IS NULL OR avt.end_at > ?)
         ORDER BY avt.start_at DESC, avt.id DESC LIMIT 1`,
		appVersionID, ts, ts,
	).Scan(&tree.ID, &tree.Code, &forestID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("tree for app version", fmt.Sprintf("app version %d has no tree at %s", appVersionID, ts))
	}
	if err != nil {
		return nil, fmt.Errorf("get tree for app version: %w", err)
	}
	tree.ForestID = forestID.Int64
	return &tree, nil
}
