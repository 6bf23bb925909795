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

const signoffColumns = "s.id, s.push_id, s.app_version_id, s.locale_id, s.author, s.created_at"

// InsertSignoff creates a sign-off row. A duplicate (app version, locale,
// push) fails with services.ErrConflict.
func (q *Queries) InsertSignoff(ctx context.Context, so Signoff) (*Signoff, error) {
	if so.CreatedAt.IsZero() {
		so.CreatedAt = time.Now()
	}
	so.CreatedAt = so.CreatedAt.UTC()
	id, err := q.insertReturningID(ctx,
		"INSERT INTO signoffs (push_id, app_version_id, locale_id, author, created_at) VALUES (?, ?, ?, ?, ?)",
		so.PushID, so.AppVersionID, so.LocaleID, so.Author, formatTime(so.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "insert signoff", "sign-off already exists", err)
		}
		return nil, fmt.Errorf("insert signoff: %w", err)
	}
	so.ID = id
	return &so, nil
}

// SignoffByKey fetches the sign-off for an app version, locale and push.
func (q *Queries) SignoffByKey(ctx context.Context, appVersionID, localeID, pushID int64) (*Signoff, error) {
	row := q.queryRow(ctx,
		"SELECT "+signoffColumns+" FROM signoffs s WHERE s.app_version_id = ? AND s.locale_id = ? AND s.push_id = ?",
		appVersionID, localeID, pushID,
	)
	so, err := scanSignoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("signoff", "no sign-off for push")
	}
	if err != nil {
		return nil, fmt.Errorf("get signoff: %w", err)
	}
	return so, nil
}

// SignoffByID fetches a sign-off by identifier.
func (q *Queries) SignoffByID(ctx context.Context, id int64) (*Signoff, error) {
	return q.signoffByID(ctx, id, "")
}

// LockSignoff fetches a sign-off and holds a row lock on it for the rest of
// the transaction where the backend supports row locks.
func (q *Queries) LockSignoff(ctx context.Context, id int64) (*Signoff, error) {
	return q.signoffByID(ctx, id, q.dialect.forUpdate())
}

func (q *Queries) signoffByID(ctx context.Context, id int64, suffix string) (*Signoff, error) {
	row := q.queryRow(ctx, "SELECT "+signoffColumns+" FROM signoffs s WHERE s.id = ?"+suffix, id)
	so, err := scanSignoff(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("signoff", fmt.Sprintf("signoff %d", id))
	}
	if err != nil {
		return nil, fmt.Errorf("get signoff: %w", err)
	}
	return so, nil
}

// LatestAction returns the highest sequence action of a sign-off, or nil when
// it has none.
func (q *Queries) LatestAction(ctx context.Context, signoffID int64) (*Action, error) {
	row := q.queryRow(ctx,
		"SELECT id, signoff_id, seq, flag, author, created_at, comment FROM actions WHERE signoff_id = ? ORDER BY seq DESC LIMIT 1",
		signoffID,
	)
	action, err := scanAction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest action: %w", err)
	}
	return action, nil
}

// AppendAction inserts an action with the caller-chosen sequence number. A
// sequence already taken by a concurrent writer fails with
// services.ErrConflict.
func (q *Queries) AppendAction(ctx context.Context, action Action) (*Action, error) {
	if action.Flag == FlagUnknown {
		return nil, services.Wrap(services.ErrValidation, "store", "append action", "flag required", nil)
	}
	if action.CreatedAt.IsZero() {
		action.CreatedAt = time.Now()
	}
	action.CreatedAt = action.CreatedAt.UTC()
	id, err := q.insertReturningID(ctx,
		"INSERT INTO actions (signoff_id, seq, flag, author, created_at, comment) VALUES (?, ?, ?, ?, ?, ?)",
		action.SignoffID, action.Seq, action.Flag.String(), action.Author, formatTime(action.CreatedAt), action.Comment,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "append action",
				fmt.Sprintf("signoff %d changed concurrently", action.SignoffID), err)
		}
		return nil, fmt.Errorf("insert action: %w", err)
	}
	action.ID = id
	return &action, nil
}

// ListActions returns the full action log of a sign-off in sequence order.
func (q *Queries) ListActions(ctx context.Context, signoffID int64) ([]Action, error) {
	rows, err := q.query(ctx,
		"SELECT id, signoff_id, seq, flag, author, created_at, comment FROM actions WHERE signoff_id = ? ORDER BY seq",
		signoffID,
	)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()
	var out []Action
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *action)
	}
	return out, rows.Err()
}

// OlderSignoffs returns the sign-offs of an app version and locale created
// before the given sign-off, newest first, each with its latest action.
func (q *Queries) OlderSignoffs(ctx context.Context, appVersionID, localeID, beforeID int64) ([]SignoffState, error) {
	return q.signoffStates(ctx,
		"s.app_version_id = ? AND s.locale_id = ? AND s.id < ?",
		[]any{appVersionID, localeID, beforeID},
	)
}

// SignoffsForPushes returns the sign-offs of an app version and locale on the
// given pushes, newest first.
func (q *Queries) SignoffsForPushes(ctx context.Context, appVersionID, localeID int64, pushIDs []int64) ([]SignoffState, error) {
	if len(pushIDs) == 0 {
		return nil, nil
	}
	args := append([]any{appVersionID, localeID}, int64Args(pushIDs)...)
	return q.signoffStates(ctx,
		"s.app_version_id = ? AND s.locale_id = ? AND s.push_id IN ("+makePlaceholders(len(pushIDs))+")",
		args,
	)
}

// SignoffsForLocales returns every sign-off of an app version for the given
// locales, newest first.
func (q *Queries) SignoffsForLocales(ctx context.Context, appVersionID int64, localeIDs []int64) ([]SignoffState, error) {
	if len(localeIDs) == 0 {
		return nil, nil
	}
	args := append([]any{appVersionID}, int64Args(localeIDs)...)
	return q.signoffStates(ctx,
		"s.app_version_id = ? AND s.locale_id IN ("+makePlaceholders(len(localeIDs))+")",
		args,
	)
}

// SignoffStateByID returns one sign-off with its push date and latest action.
func (q *Queries) SignoffStateByID(ctx context.Context, id int64) (*SignoffState, error) {
	states, err := q.signoffStates(ctx, "s.id = ?", []any{id})
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return nil, notFound("signoff", fmt.Sprintf("signoff %d", id))
	}
	return &states[0], nil
}

func (q *Queries) signoffStates(ctx context.Context, where string, args []any) ([]SignoffState, error) {
	rows, err := q.query(ctx,
		`SELECT `+signoffColumns+`, p.push_date,
                a.id, a.seq, a.flag, a.author, a.created_at, a.comment
         FROM signoffs s
         JOIN pushes p ON p.id = s.push_id
         LEFT JOIN actions a ON a.signoff_id = s.id
              AND a.seq = (SELECT MAX(seq) FROM actions WHERE signoff_id = s.id)
         WHERE `+where+`
         ORDER BY s.id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query signoffs: %w", err)
	}
	defer rows.Close()
	var out []SignoffState
	for rows.Next() {
		var (
			st       SignoffState
			created  string
			pushDate string
			actionID sql.NullInt64
			seq      sql.NullInt64
			flag     sql.NullString
			author   sql.NullString
			actedAt  sql.NullString
			comment  sql.NullString
		)
		if err := rows.Scan(
			&st.ID, &st.PushID, &st.AppVersionID, &st.LocaleID, &st.Author, &created, &pushDate,
			&actionID, &seq, &flag, &author, &actedAt, &comment,
		); err != nil {
			return nil, err
		}
		st.CreatedAt = parseTime(created)
		st.PushDate = parseTime(pushDate)
		if actionID.Valid {
			parsed, err := ParseFlag(flag.String)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", actionID.Int64, err)
			}
			st.Latest = &Action{
				ID:        actionID.Int64,
				SignoffID: st.ID,
				Seq:       seq.Int64,
				Flag:      parsed,
				Author:    author.String,
				CreatedAt: parseTime(actedAt.String),
				Comment:   comment.String,
			}
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// LocaleActions returns the actions recorded against an app version for the
// given locale codes, newest first. Actions created in the same instant keep
// insertion order.
// When upUntil is set, actions created after it are excluded.
func (q *Queries) LocaleActions(ctx context.Context, appVersionID int64, localeCodes []string, upUntil *time.Time) ([]LocaleAction, error) {
	if len(localeCodes) == 0 {
		return nil, nil
	}
	clauses := []string{"s.app_version_id = ?", "l.code IN (" + makePlaceholders(len(localeCodes)) + ")"}
	args := append([]any{appVersionID}, stringArgs(localeCodes)...)
	if upUntil != nil {
		clauses = append(clauses, "a.created_at <= ?")
		args = append(args, formatTime(*upUntil))
	}
	rows, err := q.query(ctx,
		`SELECT a.id, a.signoff_id, a.seq, a.flag, l.code, a.created_at
         FROM actions a
         JOIN signoffs s ON s.id = a.signoff_id
         JOIN locales l ON l.id = s.locale_id
         WHERE `+strings.Join(clauses, " AND ")+`
         ORDER BY a.created_at DESC, a.id DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query locale actions: %w", err)
	}
	defer rows.Close()
	var out []LocaleAction
	for rows.Next() {
		var (
			la      LocaleAction
			flag    string
			created string
		)
		if err := rows.Scan(&la.ActionID, &la.SignoffID, &la.Seq, &flag, &la.LocaleCode, &created); err != nil {
			return nil, err
		}
		parsed, err := ParseFlag(flag)
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", la.ActionID, err)
		}
		la.Flag = parsed
		la.CreatedAt = parseTime(created)
		out = append(out, la)
	}
	return out, rows.Err()
}

// ActionPushes maps action identifiers to the push their sign-off references.
func (q *Queries) ActionPushes(ctx context.Context, actionIDs []int64) (map[int64]Push, error) {
	out := make(map[int64]Push, len(actionIDs))
	if len(actionIDs) == 0 {
		return out, nil
	}
	rows, err := q.query(ctx,
		`SELECT a.id, `+pushColumns+`
         FROM actions a
         JOIN signoffs s ON s.id = a.signoff_id
         JOIN pushes p ON p.id = s.push_id
         WHERE a.id IN (`+makePlaceholders(len(actionIDs))+`)`,
		int64Args(actionIDs)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query action pushes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			actionID int64
			push     Push
			date     string
		)
		if err := rows.Scan(&actionID, &push.ID, &push.RepositoryID, &push.PushID, &date, &push.Author); err != nil {
			return nil, err
		}
		push.Date = parseTime(date)
		out[actionID] = push
	}
	return out, rows.Err()
}

func scanSignoff(s scanner) (*Signoff, error) {
	var (
		so      Signoff
		created string
	)
	if err := s.Scan(&so.ID, &so.PushID, &so.AppVersionID, &so.LocaleID, &so.Author, &created); err != nil {
		return nil, err
	}
	so.CreatedAt = parseTime(created)
	return &so, nil
}

func scanAction(s scanner) (*Action, error) {
	var (
		action  Action
		flag    string
		created string
	)
	if err := s.Scan(&action.ID, &action.SignoffID, &action.Seq, &flag, &action.Author, &created, &action.Comment); err != nil {
		return nil, err
	}
	parsed, err := ParseFlag(flag)
	if err != nil {
		return nil, fmt.Errorf("action %d: %w", action.ID, err)
	}
	action.Flag = parsed
	action.CreatedAt = parseTime(created)
	return &action, nil
}
