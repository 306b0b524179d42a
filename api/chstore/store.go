// Package chstore is the harness's view of the analytical store: a narrow
// client interface, its ClickHouse implementation, and the process
// configuration needed to open one.
package chstore

import (
	"context"
)

// Store is everything the harness asks of the store. One caller at a time.
type Store interface {
	// Exec runs a single statement and waits for it to finish.
	Exec(ctx context.Context, stmt string) error

	// PrepareInsert opens a write stream bound to table. Values passed to
	// Append must follow the column order given here.
	PrepareInsert(ctx context.Context, table string, columns ...string) (InsertStream, error)

	// Select runs query and decodes every row into dest, which must be a
	// pointer to a slice of structs tagged with `ch:"<column>"`.
	Select(ctx context.Context, dest any, query string, args ...any) error

	Close() error
}

// InsertStream buffers rows until Send. A stream is finished by exactly one
// Send or Abort.
type InsertStream interface {
	Append(values ...any) error
	Send() error
	Abort() error
}
