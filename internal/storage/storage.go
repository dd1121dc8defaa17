// Package storage provides the query-executor interface the CDSS core
// persists through, plus shared value and error types.
//
// The concrete implementation lives in the sqlite sub-package. Consumers
// depend on this interface rather than on the concrete type so that
// alternative implementations (mocks, proxies, etc.) can be substituted.
package storage

import (
	"context"
	"database/sql"
)

// Row is one fetched result row. Every column in the schema is TEXT (or an
// integer key), so a generic NullString scan covers all queries; callers
// convert rows into typed records at the store boundary.
type Row []sql.NullString

// Executor runs parameterized SQL. Queries are fixed templates owned by the
// calling package; user input travels only through args.
type Executor interface {
	// Execute runs a mutating statement (INSERT/UPDATE/DELETE/DDL).
	Execute(ctx context.Context, query string, args ...any) error

	// Fetch runs a SELECT and returns all rows.
	Fetch(ctx context.Context, query string, args ...any) ([]Row, error)

	// Scalar runs a SELECT expected to yield a single value. ok is false
	// when no row matched or the value was NULL.
	Scalar(ctx context.Context, query string, args ...any) (value string, ok bool, err error)

	// Exists reports whether the query matched at least one row.
	Exists(ctx context.Context, query string, args ...any) (bool, error)
}

// Store is the full persistence surface: an Executor with transactional
// grouping and lifecycle management. The store owns the only database
// handle in the process; callers serialize access.
type Store interface {
	Executor

	// InTransaction runs fn inside a single immediate transaction. Either
	// every statement fn issues commits, or none do.
	InTransaction(ctx context.Context, fn func(tx Executor) error) error

	Close() error
}
