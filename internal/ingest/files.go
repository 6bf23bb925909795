package ingest

import (
	"context"
	"strings"
	"unicode"

	"l10nboard/internal/store"
)

// ensureFiles returns ids for paths, inserting the ones not yet stored.
//
// Paths with trailing whitespace are looked up one at a time and matched by
// exact string equality, because backends that trim trailing spaces when
// comparing would otherwise map "a.ftl " onto "a.ftl".
func ensureFiles(ctx context.Context, q *store.Queries, paths []string, chunkSize int) ([]int64, error) {
	unique := make([]string, 0, len(paths))
	seen := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}

	wellFormed, spaced := partitionPaths(unique)
	ids := make(map[string]int64, len(unique))
	if err := lookupExact(ctx, q, wellFormed, spaced, ids); err != nil {
		return nil, err
	}

	var missing []string
	for _, p := range unique {
		if _, ok := ids[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		if err := q.InsertFiles(ctx, missing, chunkSize); err != nil {
			return nil, err
		}
		wellFormed, spaced = partitionPaths(missing)
		if err := lookupExact(ctx, q, wellFormed, spaced, ids); err != nil {
			return nil, err
		}
	}

	out := make([]int64, 0, len(unique))
	for _, p := range unique {
		if id, ok := ids[p]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func partitionPaths(paths []string) (wellFormed, spaced []string) {
	for _, p := range paths {
		if strings.TrimRightFunc(p, unicode.IsSpace) != p {
			spaced = append(spaced, p)
		} else {
			wellFormed = append(wellFormed, p)
		}
	}
	return wellFormed, spaced
}

func lookupExact(ctx context.Context, q *store.Queries, wellFormed, spaced []string, ids map[string]int64) error {
	if len(wellFormed) > 0 {
		files, err := q.LookupFiles(ctx, wellFormed)
		if err != nil {
			return err
		}
		for _, f := range files {
			ids[f.Path] = f.ID
		}
	}
	for _, p := range spaced {
		files, err := q.LookupFiles(ctx, []string{p})
		if err != nil {
			return err
		}
		for _, f := range files {
			if f.Path == p {
				ids[p] = f.ID
			}
		}
	}
	return nil
}
