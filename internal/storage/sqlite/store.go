// Package sqlite implements the storage interface on an embedded SQLite
// database. The store holds a single exclusive connection; callers
// serialize access.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	// Import SQLite driver
	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/shaharoded/CDSS-Dev-Project/internal/storage"
)

// Store implements storage.Store on a single SQLite connection.
type Store struct {
	db     *sql.DB
	dbPath string
}

var _ storage.Store = (*Store)(nil)

// setupWASMCache configures WASM compilation caching so the embedded SQLite
// build compiles once per machine instead of on every process start.
// Falls back to an in-memory cache if the filesystem cache cannot be created.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "cdss", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Use ":memory:" for an in-memory database.
func Open(ctx context.Context, path string) (*Store, error) {
	var connStr string
	if path == ":memory:" {
		// Named shared-cache in-memory database so a reopened connection
		// sees the same data. WAL does not apply in memory.
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else if strings.HasPrefix(path, "file:") {
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
		connStr = "file:" + path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single exclusive connection. The core's concurrency model is
	// single-threaded cooperative; a pool would also break shared in-memory
	// databases, which are isolated per connection by default.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db, dbPath: path}
	if err := s.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string { return s.dbPath }

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Execute runs a mutating statement.
func (s *Store) Execute(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

// Fetch runs a SELECT and returns all rows as generic NullString tuples.
func (s *Store) Fetch(ctx context.Context, query string, args ...any) ([]storage.Row, error) {
	return fetchRows(ctx, s.db, query, args...)
}

// Scalar runs a SELECT expected to yield a single value.
func (s *Store) Scalar(ctx context.Context, query string, args ...any) (string, bool, error) {
	return fetchScalar(ctx, s.db, query, args...)
}

// Exists reports whether the query matched at least one row.
func (s *Store) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	return fetchExists(ctx, s.db, query, args...)
}

// InTransaction runs fn inside one immediate transaction. IMMEDIATE acquires
// the write lock up front so the statement pair a caller issues (e.g. the
// update's deletion-stamp plus re-insert) appears atomically to readers.
//
// We issue raw BEGIN IMMEDIATE instead of BeginTx because database/sql does
// not expose transaction modes and the driver's BeginTx uses DEFERRED.
func (s *Store) InTransaction(ctx context.Context, fn func(tx storage.Executor) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if err := beginImmediate(ctx, conn); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so cleanup happens even if ctx is canceled.
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(&txExecutor{conn: conn}); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// beginImmediate starts an IMMEDIATE transaction, retrying with exponential
// backoff while the database is busy.
func beginImmediate(ctx context.Context, conn *sql.Conn) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second

	return backoff.Retry(func() error {
		_, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE")
		if err == nil {
			return nil
		}
		if strings.Contains(err.Error(), "busy") || strings.Contains(err.Error(), "locked") {
			return err // Retryable
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(bo, ctx))
}

// txExecutor routes statements through the transaction's dedicated connection.
type txExecutor struct {
	conn *sql.Conn
}

var _ storage.Executor = (*txExecutor)(nil)

func (t *txExecutor) Execute(ctx context.Context, query string, args ...any) error {
	if _, err := t.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	return nil
}

func (t *txExecutor) Fetch(ctx context.Context, query string, args ...any) ([]storage.Row, error) {
	return fetchRows(ctx, t.conn, query, args...)
}

func (t *txExecutor) Scalar(ctx context.Context, query string, args ...any) (string, bool, error) {
	return fetchScalar(ctx, t.conn, query, args...)
}

func (t *txExecutor) Exists(ctx context.Context, query string, args ...any) (bool, error) {
	return fetchExists(ctx, t.conn, query, args...)
}

// querier is the read surface shared by *sql.DB and *sql.Conn.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func fetchRows(ctx context.Context, q querier, query string, args ...any) ([]storage.Row, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("fetch columns: %w", err)
	}

	var out []storage.Row
	for rows.Next() {
		row := make(storage.Row, len(cols))
		dest := make([]any, len(cols))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("fetch scan: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetch rows: %w", err)
	}
	return out, nil
}

func fetchScalar(ctx context.Context, q querier, query string, args ...any) (string, bool, error) {
	rows, err := fetchRows(ctx, q, query, args...)
	if err != nil {
		return "", false, err
	}
	if len(rows) == 0 || len(rows[0]) == 0 || !rows[0][0].Valid {
		return "", false, nil
	}
	return rows[0][0].String, true, nil
}

func fetchExists(ctx context.Context, q querier, query string, args ...any) (bool, error) {
	rows, err := fetchRows(ctx, q, query, args...)
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}
