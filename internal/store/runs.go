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

const runColumns = "id, tree_id, locale_id, revision, errors, missing, srctime, active"

// RecordRun stores a build run as the active run of its tree and locale,
// deactivating the previously active one.
func (q *Queries) RecordRun(ctx context.Context, run Run) (*Run, error) {
	if run.TreeID == 0 || run.LocaleID == 0 || strings.TrimSpace(run.Revision) == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "record run", "tree, locale and revision required", nil)
	}
	if run.SrcTime.IsZero() {
		run.SrcTime = time.Now()
	}
	run.SrcTime = run.SrcTime.UTC()
	if _, err := q.exec(ctx,
		"UPDATE runs SET active = 0 WHERE tree_id = ? AND locale_id = ? AND active = 1",
		run.TreeID, run.LocaleID,
	); err != nil {
		return nil, fmt.Errorf("deactivate runs: %w", err)
	}
	id, err := q.insertReturningID(ctx,
		"INSERT INTO runs (tree_id, locale_id, revision, errors, missing, srctime, active) VALUES (?, ?, ?, ?, ?, ?, 1)",
		run.TreeID, run.LocaleID, run.Revision, run.Errors, run.Missing, formatTime(run.SrcTime),
	)
	if err != nil {
		return nil, fmt.Errorf("insert run: %w", err)
	}
	run.ID = id
	run.Active = true
	return &run, nil
}

// LatestRunFor returns the most recent run of a locale on a tree, or nil when
// there is none.
func (q *Queries) LatestRunFor(ctx context.Context, treeID, localeID int64) (*Run, error) {
	row := q.queryRow(ctx,
		"SELECT "+runColumns+" FROM runs WHERE tree_id = ? AND locale_id = ? ORDER BY srctime DESC, id DESC LIMIT 1",
		treeID, localeID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest run: %w", err)
	}
	return run, nil
}

// RunsForRevisions returns, per revision, the latest run of a locale on a tree
// built from that revision.
func (q *Queries) RunsForRevisions(ctx context.Context, treeID, localeID int64, revisions []string) (map[string]Run, error) {
	out := make(map[string]Run, len(revisions))
	if len(revisions) == 0 {
		return out, nil
	}
	args := append([]any{treeID, localeID}, stringArgs(revisions)...)
	rows, err := q.query(ctx,
		"SELECT "+runColumns+" FROM runs WHERE tree_id = ? AND locale_id = ? AND revision IN ("+
			makePlaceholders(len(revisions))+") ORDER BY srctime, id",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out[run.Revision] = *run
	}
	return out, rows.Err()
}

// ActiveLocales returns the locales with an active run on the tree.
func (q *Queries) ActiveLocales(ctx context.Context, treeID int64) ([]Locale, error) {
	rows, err := q.query(ctx,
		`SELECT DISTINCT l.id, l.code, l.name FROM runs r
         JOIN locales l ON l.id = r.locale_id
         WHERE r.tree_id = ? AND r.active = 1
         ORDER BY l.code`,
		treeID,
	)
	if err != nil {
		return nil, fmt.Errorf("query active locales: %w", err)
	}
	defer rows.Close()
	var out []Locale
	for rows.Next() {
		var loc Locale
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name); err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func scanRun(s scanner) (*Run, error) {
	var (
		run     Run
		srctime string
		active  int64
	)
	if err := s.Scan(&run.ID, &run.TreeID, &run.LocaleID, &run.Revision, &run.Errors, &run.Missing, &srctime, &active); err != nil {
		return nil, err
	}
	run.SrcTime = parseTime(srctime)
	run.Active = active != 0
	return &run, nil
}
