package store

import (
	"context"
	"fmt"
	"strings"
)

// maxFileChunk bounds the number of rows or bind values in one statement.
const maxFileChunk = 1000

// LookupFiles returns the stored rows matching paths. Callers that need exact
// matching must compare the returned Path themselves; some backends compare
// with trailing spaces trimmed.
func (q *Queries) LookupFiles(ctx context.Context, paths []string) ([]File, error) {
	var out []File
	for start := 0; start < len(paths); start += maxFileChunk {
		end := min(start+maxFileChunk, len(paths))
		chunk := paths[start:end]
		rows, err := q.query(ctx,
			"SELECT id, path FROM files WHERE path IN ("+makePlaceholders(len(chunk))+")",
			stringArgs(chunk)...,
		)
		if err != nil {
			return nil, fmt.Errorf("query files: %w", err)
		}
		for rows.Next() {
			var f File
			if err := rows.Scan(&f.ID, &f.Path); err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, f)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// InsertFiles bulk inserts paths using multi-row statements of at most
// chunkSize rows.
func (q *Queries) InsertFiles(ctx context.Context, paths []string, chunkSize int) error {
	if chunkSize <= 0 || chunkSize > maxFileChunk {
		chunkSize = maxFileChunk
	}
	for start := 0; start < len(paths); start += chunkSize {
		end := min(start+chunkSize, len(paths))
		chunk := paths[start:end]
		values := strings.TrimSuffix(strings.Repeat("(?),", len(chunk)), ",")
		if _, err := q.exec(ctx, "INSERT INTO files (path) VALUES "+values, stringArgs(chunk)...); err != nil {
			return fmt.Errorf("insert files: %w", err)
		}
	}
	return nil
}

// AttachFiles links files to a changeset.
func (q *Queries) AttachFiles(ctx context.Context, changesetID int64, fileIDs []int64, chunkSize int) error {
	if chunkSize <= 0 || chunkSize > maxFileChunk {
		chunkSize = maxFileChunk
	}
	for start := 0; start < len(fileIDs); start += chunkSize {
		end := min(start+chunkSize, len(fileIDs))
		chunk := fileIDs[start:end]
		values := strings.TrimSuffix(strings.Repeat("(?, ?),", len(chunk)), ",")
		args := make([]any, 0, len(chunk)*2)
		for _, id := range chunk {
			args = append(args, changesetID, id)
		}
		if _, err := q.exec(ctx,
			"INSERT INTO changeset_files (changeset_id, file_id) VALUES "+values+" ON CONFLICT DO NOTHING",
			args...,
		); err != nil {
			return fmt.Errorf("attach files: %w", err)
		}
	}
	return nil
}

// CountFiles returns the number of stored paths.
func (q *Queries) CountFiles(ctx context.Context) (int64, error) {
	return q.count(ctx, "SELECT COUNT(1) FROM files")
}

// CountChangesetFiles returns the number of files attached to a changeset.
func (q *Queries) CountChangesetFiles(ctx context.Context, changesetID int64) (int64, error) {
	return q.count(ctx, "SELECT COUNT(1) FROM changeset_files WHERE changeset_id = ?", changesetID)
}
