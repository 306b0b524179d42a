package aggharness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	sq "github.com/Masterminds/squirrel"
	"github.com/chendingplano/aggview/api/aggschema"
	"github.com/chendingplano/aggview/api/chstore"
)

// Location codes for query operations
const (
	LOC_QUERY_RUN    = "AGV_QRY_001"
	LOC_QUERY_FILTER = "AGV_QRY_002"
	LOC_QUERY_BUILD  = "AGV_QRY_003"
)

// ClickHouse error codes that say nothing about the filtered column: the
// statement, the target, the session or the server failed. Any other
// exception raised for a query filtering on an event_data sub-field means
// the view chain could not resolve that sub-field.
var genericQueryCodes = map[int32]string{
	3:   "UNEXPECTED_END_OF_FILE",
	32:  "ATTEMPT_TO_READ_AFTER_EOF",
	60:  "UNKNOWN_TABLE",
	62:  "SYNTAX_ERROR",
	81:  "UNKNOWN_DATABASE",
	159: "TIMEOUT_EXCEEDED",
	164: "READONLY",
	192: "UNKNOWN_USER",
	202: "TOO_MANY_SIMULTANEOUS_QUERIES",
	209: "SOCKET_TIMEOUT",
	210: "NETWORK_ERROR",
	241: "MEMORY_LIMIT_EXCEEDED",
	242: "TABLE_IS_READ_ONLY",
	394: "QUERY_WAS_CANCELLED",
	497: "ACCESS_DENIED",
	516: "AUTHENTICATION_FAILED",
}

// Query runs query and decodes every row into T by `ch` tag. Rows come back
// in the order the store produced them. A failure is a *QueryError whose
// Kind says whether it was a sub-field filter the view chain cannot serve.
func Query[T any](ctx context.Context, store chstore.Store, sink Sink, query string, args ...any) ([]T, error) {
	sink = sinkOrNop(sink)
	display := describeQuery(query, args)
	sink.QueryStart(display)

	var rows []T
	if err := store.Select(ctx, &rows, query, args...); err != nil {
		return nil, &QueryError{Query: query, Args: args, Kind: Classify(query, err), Err: err}
	}

	sink.RowsDecoded(display, len(rows))
	return rows, nil
}

// Classify decides whether err, returned for query, means the store cannot
// filter on a sub-field of the aggregated event_data column: the query
// filters on such a sub-field and the store raised an exception that is not
// one of the generic codes. Errors that are not store exceptions, such as
// connectivity failures or cancellation, are KindQuery.
func Classify(query string, err error) ErrorKind {
	if err == nil {
		return KindNone
	}
	if !ReferencesSubfield(query) {
		return KindQuery
	}

	var ex *clickhouse.Exception
	if !errors.As(err, &ex) {
		return KindQuery
	}
	if _, generic := genericQueryCodes[ex.Code]; generic {
		return KindQuery
	}
	return KindUnsupportedFilter
}

var (
	literalRegex           = regexp.MustCompile(`'(?:[^'\\]|\\.)*'`)
	predicateRegex         = regexp.MustCompile(`(?is)\b(?:PREWHERE|WHERE|HAVING)\b(.*?)(?:\bORDER\s+BY\b|\bLIMIT\b|\bSETTINGS\b|\bFORMAT\b|$)`)
	eventDataSubfieldRegex = regexp.MustCompile("(?i)(^|[^A-Za-z0-9_])" + aggschema.ColEventData + "\\s*\\.\\s*[A-Za-z_`^]")
)

// ReferencesSubfield reports whether a WHERE, PREWHERE or HAVING clause of
// query reads a sub-field of event_data, as in `event_data.key = 'x'`.
// String literals are ignored.
func ReferencesSubfield(query string) bool {
	stripped := literalRegex.ReplaceAllString(query, "''")

	for _, m := range predicateRegex.FindAllStringSubmatch(stripped, -1) {
		if eventDataSubfieldRegex.MatchString(m[1]) {
			return true
		}
	}
	return false
}

var eventColumns = []string{aggschema.ColEventID, aggschema.ColEventData}

// SelectAll reads every row of the merge view.
func SelectAll(s aggschema.Schema) (string, []any, error) {
	return sq.Select(eventColumns...).
		From(s.Qualified(s.MergeView)).
		ToSql()
}

// SelectByID reads the merged row for one event_id.
func SelectByID(s aggschema.Schema, id string) (string, []any, error) {
	return sq.Select(eventColumns...).
		From(s.Qualified(s.MergeView)).
		Where(sq.Eq{aggschema.ColEventID: id}).
		ToSql()
}

// SelectBySubfield filters the merge view on event_data.<path> = value.
// path is a dot-separated list of identifiers.
func SelectBySubfield(s aggschema.Schema, path, value string) (string, []any, error) {
	if !validSubfieldPath(path) {
		return "", nil, fmt.Errorf("invalid event_data sub-field path %q (%s)", path, LOC_QUERY_BUILD)
	}
	return sq.Select(eventColumns...).
		From(s.Qualified(s.MergeView)).
		Where(sq.Expr(aggschema.ColEventData+"."+path+" = ?", value)).
		ToSql()
}

// describeQuery renders query with its arguments for log lines.
func describeQuery(query string, args []any) string {
	if len(args) == 0 {
		return query
	}
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return query + " [" + strings.Join(parts, ", ") + "]"
}

func sqSystemTables(database string, names []string) (string, []any, error) {
	return sq.Select("name", "engine").
		From("system.tables").
		Where(sq.Eq{"database": database, "name": names}).
		OrderBy("name").
		ToSql()
}

func sqSystemColumns(database string, names []string) (string, []any, error) {
	return sq.Select("table", "name", "type").
		From("system.columns").
		Where(sq.Eq{"database": database, "table": names}).
		OrderBy("table", "position").
		ToSql()
}
