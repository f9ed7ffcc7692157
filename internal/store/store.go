// Package store keeps measurement history and settings in SQLite.
//
// Every measurement that ends, finished or aborted, becomes one row in
// measurements with its raw samples in measurement_samples. The recorder is
// the only writer; the HTTP history endpoints and the sessions command read
// while it runs. Settings hold the camera position and mode between runs.
package store

import (
	"database/sql"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// pragmas apply to the single pooled connection.
var pragmas = []struct {
	name, stmt string
}{
	{"foreign keys", "PRAGMA foreign_keys = ON"},
	{"journal mode", "PRAGMA journal_mode = WAL"},
	// Readers wait on the recorder's write lock rather than fail.
	{"busy timeout", "PRAGMA busy_timeout = 5000"},
}

// Store is the measurement history database.
type Store struct {
	db   *sql.DB
	path string
}

// New opens or creates the database at dbPath and brings its schema up to
// date. Deleting a measurement removes its samples.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	// Pragmas are per connection, and SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to set %s", p.name)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to run migrations")
	}
	return s, nil
}

// Close closes the database. Pending recorder writes must be finished first.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file path, shown by the sessions command.
func (s *Store) Path() string {
	return s.path
}
