package store

import (
	"context"
	"fmt"
)

// Stats holds row counts for status reporting.
type Stats struct {
	Repositories int64
	Changesets   int64
	Pushes       int64
	Signoffs     int64
	Actions      int64
	Runs         int64
}

// Stats counts the main tables.
func (q *Queries) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	targets := []struct {
		table string
		dest  *int64
	}{
		{"repositories", &stats.Repositories},
		{"changesets", &stats.Changesets},
		{"pushes", &stats.Pushes},
		{"signoffs", &stats.Signoffs},
		{"actions", &stats.Actions},
		{"runs", &stats.Runs},
	}
	for _, target := range targets {
		n, err := q.count(ctx, "SELECT COUNT(1) FROM "+target.table)
		if err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", target.table, err)
		}
		*target.dest = n
	}
	return stats, nil
}
