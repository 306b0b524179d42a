package aggharness

import (
	"errors"
	"fmt"

	"github.com/chendingplano/aggview/api/chstore"
)

// Sentinels for errors.Is. Every typed error below matches exactly one of them.
var (
	ErrConfig            = chstore.ErrConfig
	ErrSchema            = errors.New("schema execution error")
	ErrEncode            = errors.New("document encoding error")
	ErrTransport         = errors.New("store write error")
	ErrQuery             = errors.New("query error")
	ErrUnsupportedFilter = errors.New("filter on aggregated JSON sub-field is not supported")
)

// ErrorKind categorizes a harness failure.
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindConfig
	KindSchema
	KindEncode
	KindTransport
	KindQuery
	KindUnsupportedFilter
	KindUnknown
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindConfig:
		return "config"
	case KindSchema:
		return "schema"
	case KindEncode:
		return "encode"
	case KindTransport:
		return "transport"
	case KindQuery:
		return "query"
	case KindUnsupportedFilter:
		return "unsupported_filter"
	default:
		return "unknown"
	}
}

// KindOf reports the category of err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		return qe.Kind
	}
	var se *StatementError
	if errors.As(err, &se) {
		return KindSchema
	}
	var ee *EncodeError
	if errors.As(err, &ee) {
		return KindEncode
	}
	var we *WriteError
	if errors.As(err, &we) {
		return KindTransport
	}
	if errors.Is(err, ErrConfig) {
		return KindConfig
	}
	return KindUnknown
}

// StatementError is returned by the schema executor for the first statement
// the store rejected. Statements after Index were not issued.
type StatementError struct {
	Index     int
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("schema statement %d failed: %v\nstatement: %s (%s)",
		e.Index, e.Err, e.Statement, LOC_EXEC_STMT)
}

func (e *StatementError) Unwrap() error { return e.Err }

func (e *StatementError) Is(target error) bool { return target == ErrSchema }

// EncodeError reports a document that could not be prepared for the store.
// Nothing from the batch containing it was sent.
type EncodeError struct {
	Index   int
	EventID string
	Err     error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("cannot encode event_data for event %q (record %d): %v (%s)",
		e.EventID, e.Index, e.Err, LOC_WRITE_ENCODE)
}

func (e *EncodeError) Unwrap() error { return e.Err }

func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// WriteError wraps a store-side failure while streaming rows. Op is one of
// "prepare", "append" or "send".
type WriteError struct {
	Table string
	Op    string
	Err   error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("insert into %s failed during %s: %v (%s)", e.Table, e.Op, e.Err, LOC_WRITE_STREAM)
}

func (e *WriteError) Unwrap() error { return e.Err }

func (e *WriteError) Is(target error) bool { return target == ErrTransport }

// QueryError carries the query text, its arguments and the classification of
// the failure. A KindUnsupportedFilter error matches ErrUnsupportedFilter and
// not ErrQuery, so callers can tell the two apart with errors.Is.
type QueryError struct {
	Query string
	Args  []any
	Kind  ErrorKind
	Err   error
}

func (e *QueryError) Error() string {
	if e.Kind == KindUnsupportedFilter {
		return fmt.Sprintf("%v: %v\nquery: %s (%s)", ErrUnsupportedFilter, e.Err, e.Query, LOC_QUERY_FILTER)
	}
	return fmt.Sprintf("query failed: %v\nquery: %s (%s)", e.Err, e.Query, LOC_QUERY_RUN)
}

func (e *QueryError) Unwrap() error { return e.Err }

func (e *QueryError) Is(target error) bool {
	if e.Kind == KindUnsupportedFilter {
		return target == ErrUnsupportedFilter
	}
	return target == ErrQuery
}
