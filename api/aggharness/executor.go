// Package aggharness bootstraps the argMax JSON aggregation schema, writes
// events into its raw table and reads them back through the merge view,
// classifying the failures it meets along the way.
package aggharness

import (
	"context"
	"strings"

	"github.com/chendingplano/aggview/api/chstore"
)

// Location codes for schema execution
const (
	LOC_EXEC_STMT = "AGV_EXE_001"
)

// StatementTerminator separates statements in a schema script.
const StatementTerminator = ";"

// SplitStatements splits script on ';' and returns the trimmed, non-empty
// statements in source order. A ';' inside a string literal is not
// recognized.
func SplitStatements(script string) []string {
	parts := strings.Split(script, StatementTerminator)
	stmts := make([]string, 0, len(parts))
	for _, part := range parts {
		stmt := strings.TrimSpace(part)
		if stmt == "" {
			continue
		}
		stmts = append(stmts, stmt)
	}
	return stmts
}

// ExecuteStatements runs stmts one at a time, in order. The first failure
// stops execution and is returned as a *StatementError; earlier statements
// are not rolled back.
func ExecuteStatements(ctx context.Context, store chstore.Store, sink Sink, stmts []string) error {
	sink = sinkOrNop(sink)
	for i, stmt := range stmts {
		sink.StatementStart(i, stmt)
		if err := store.Exec(ctx, stmt); err != nil {
			return &StatementError{Index: i, Statement: stmt, Err: err}
		}
	}
	return nil
}

// ExecuteScript splits script and executes the result.
func ExecuteScript(ctx context.Context, store chstore.Store, sink Sink, script string) error {
	return ExecuteStatements(ctx, store, sink, SplitStatements(script))
}
