package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"l10nboard/internal/services"
)

// CreateLocale inserts a locale. An empty name is filled with the English
// display name of the BCP 47 tag when one is known.
func (q *Queries) CreateLocale(ctx context.Context, code, name string) (*Locale, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, services.Wrap(services.ErrValidation, "store", "create locale", "code required", nil)
	}
	if strings.TrimSpace(name) == "" {
		name = LocaleDisplayName(code)
	}
	id, err := q.insertReturningID(ctx, "INSERT INTO locales (code, name) VALUES (?, ?)", code, name)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, services.Wrap(services.ErrConflict, "store", "create locale", fmt.Sprintf("locale %q exists", code), err)
		}
		return nil, fmt.Errorf("insert locale: %w", err)
	}
	return &Locale{ID: id, Code: code, Name: name}, nil
}

// LocaleDisplayName returns the English name for a locale code, or the code
// itself when the tag cannot be parsed.
func LocaleDisplayName(code string) string {
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

// LocaleByCode fetches a locale by its code.
func (q *Queries) LocaleByCode(ctx context.Context, code string) (*Locale, error) {
	var loc Locale
	err := q.queryRow(ctx, "SELECT id, code, name FROM locales WHERE code = ?", code).Scan(&loc.ID, &loc.Code, &loc.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("locale", fmt.Sprintf("locale %q", code))
	}
	if err != nil {
		return nil, fmt.Errorf("get locale: %w", err)
	}
	return &loc, nil
}

// LocalesByID loads the locales with the given identifiers.
func (q *Queries) LocalesByID(ctx context.Context, ids []int64) (map[int64]Locale, error) {
	out := make(map[int64]Locale, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.query(ctx,
		"SELECT id, code, name FROM locales WHERE id IN ("+makePlaceholders(len(ids))+")",
		int64Args(ids)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query locales: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var loc Locale
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name); err != nil {
			return nil, err
		}
		out[loc.ID] = loc
	}
	return out, rows.Err()
}

// LocalesByCode resolves locale codes, failing when any code is unknown.
func (q *Queries) LocalesByCode(ctx context.Context, codes []string) ([]Locale, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	rows, err := q.query(ctx,
		"SELECT id, code, name FROM locales WHERE code IN ("+makePlaceholders(len(codes))+") ORDER BY code",
		stringArgs(codes)...,
	)
	if err != nil {
		return nil, fmt.Errorf("query locales: %w", err)
	}
	defer rows.Close()
	found := make(map[string]struct{}, len(codes))
	var out []Locale
	for rows.Next() {
		var loc Locale
		if err := rows.Scan(&loc.ID, &loc.Code, &loc.Name); err != nil {
			return nil, err
		}
		found[loc.Code] = struct{}{}
		out = append(out, loc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, code := range codes {
		if _, ok := found[code]; !ok {
			return nil, notFound("locales", fmt.Sprintf("locale %q", code))
		}
	}
	return out, nil
}

// ListLocales returns all locales ordered by code.
func (q *Queries) ListLocales(ctx context.Context) ([]Locale, error) {
	rows, err := q.query(ctx, "SELECT id, code, name FROM locales ORDER BY code")
	if err != nil {
		return nil, fmt.Errorf("list locales: %w", err)
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
