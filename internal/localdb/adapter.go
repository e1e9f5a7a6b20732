// Package localdb hosts the in-process relational engine behind the sync
// subsystem. The concrete engine is SQLite; callers only ever see the
// Adapter interface so platform-specific engines can be swapped in.
package localdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Row is a single result row, column name to value. Byte columns are
// surfaced as strings; there is no identity mapping or lazy loading.
type Row = map[string]any

// Adapter is the uniform query surface over the embedded engine. All calls
// are synchronous; the engine is in-process and never does network I/O.
type Adapter interface {
	// All runs a query and returns every row.
	All(query string, args ...any) ([]Row, error)
	// Get runs a query and returns the first row, or nil if there is none.
	Get(query string, args ...any) (Row, error)
	// Run executes a mutation that returns no rows.
	Run(query string, args ...any) error
	// Exec executes raw, possibly multi-statement DDL.
	Exec(ddl string) error
	// Export serializes the current database state to bytes.
	Export() ([]byte, error)
	// Vacuum reclaims space after bulk deletes.
	Vacuum() error
	Close() error
}

// SQLite is the Adapter implementation over mattn/go-sqlite3. The engine
// lives in a private temp file owned by this process; Export snapshots it
// with VACUUM INTO so the caller always gets a consistent image.
type SQLite struct {
	db   *sql.DB
	dir  string
	path string
}

var _ Adapter = (*SQLite)(nil)

// New creates an empty engine, applies the schema and seeds defaults.
func New() (*SQLite, error) {
	s, err := open(nil)
	if err != nil {
		return nil, err
	}
	if err := SeedDefaults(s); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("localdb: seed: %w", err)
	}
	return s, nil
}

// Load creates an engine from previously exported bytes. The schema is
// migrated forward if the blob predates the current version, and defaults
// are seeded only when the blob carries no categories at all (a fresh
// bootstrap image).
func Load(blob []byte) (*SQLite, error) {
	s, err := open(blob)
	if err != nil {
		return nil, err
	}
	if err := SeedDefaults(s); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("localdb: seed: %w", err)
	}
	return s, nil
}

func open(blob []byte) (*SQLite, error) {
	dir, err := os.MkdirTemp("", "moneyvault-db-*")
	if err != nil {
		return nil, fmt.Errorf("localdb: tempdir: %w", err)
	}
	path := filepath.Join(dir, "vault.db")
	if len(blob) > 0 {
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			_ = os.RemoveAll(dir)
			return nil, fmt.Errorf("localdb: write blob: %w", err)
		}
	}
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("localdb: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite
	db.SetConnMaxLifetime(0)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("localdb: ping: %w", err)
	}
	s := &SQLite{db: db, dir: dir, path: path}
	if err := runMigrations(db); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("localdb: migrate: %w", err)
	}
	return s, nil
}

func (s *SQLite) All(query string, args ...any) ([]Row, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLite) Get(query string, args ...any) (Row, error) {
	rows, err := s.All(query, args...)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (s *SQLite) Run(query string, args ...any) error {
	_, err := s.db.Exec(query, args...)
	return err
}

func (s *SQLite) Exec(ddl string) error {
	_, err := s.db.Exec(ddl)
	return err
}

// Export snapshots the engine into a standalone database image.
func (s *SQLite) Export() ([]byte, error) {
	snap := filepath.Join(s.dir, "export-"+uuid.NewString()+".db")
	if _, err := s.db.Exec(`VACUUM INTO ?`, snap); err != nil {
		return nil, fmt.Errorf("localdb: export: %w", err)
	}
	defer os.Remove(snap)
	data, err := os.ReadFile(snap)
	if err != nil {
		return nil, fmt.Errorf("localdb: read export: %w", err)
	}
	return data, nil
}

func (s *SQLite) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

func (s *SQLite) Close() error {
	err := s.db.Close()
	_ = os.RemoveAll(s.dir)
	return err
}

// WithTx brackets fn in a transaction. The engine runs on a single
// connection, so plain BEGIN/COMMIT statements through the adapter are
// guaranteed to land on the same session as fn's queries.
func WithTx(a Adapter, fn func(Adapter) error) error {
	if err := a.Run(`BEGIN IMMEDIATE`); err != nil {
		return err
	}
	if err := fn(a); err != nil {
		_ = a.Run(`ROLLBACK`)
		return err
	}
	return a.Run(`COMMIT`)
}
