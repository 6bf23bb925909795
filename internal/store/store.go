package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"l10nboard/internal/config"
)

// Store owns the connection pool. Its embedded Queries run outside any
// transaction; use WithTx for atomic units of work.
type Store struct {
	*Queries
	db      *sql.DB
	dialect dialect
	path    string
}

// Open connects to the configured database and initializes the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	var (
		db   *sql.DB
		err  error
		path string
	)
	switch cfg.Database.Driver {
	case string(dialectPostgres):
		db, err = sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres db: %w", err)
		}
	default:
		path = cfg.DatabasePath()
		db, err = sql.Open("sqlite", sqliteDSN(path))
		if err != nil {
			return nil, fmt.Errorf("open sqlite db: %w", err)
		}
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	store := New(db, cfg.Database.Driver)
	store.path = path
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an existing connection pool without touching the schema.
func New(db *sql.DB, driver string) *Store {
	d := dialectSQLite
	if driver == string(dialectPostgres) {
		d = dialectPostgres
	}
	return &Store{
		Queries: &Queries{run: db, dialect: d},
		db:      db,
		dialect: d,
	}
}

func sqliteDSN(path string) string {
	params := url.Values{}
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "busy_timeout(5000)")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}

// Path returns the SQLite database file, empty for PostgreSQL.
func (s *Store) Path() string {
	return s.path
}

// Driver reports the active backend name.
func (s *Store) Driver() string {
	return string(s.dialect)
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ensureContext(ctx))
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// WithTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back otherwise. A transaction that fails because the
// SQLite database is busy is retried from the start.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	ctx = ensureContext(ctx)
	return retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		if err := fn(&Queries{run: tx, dialect: s.dialect, inTx: true}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}
