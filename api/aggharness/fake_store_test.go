package aggharness

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/chendingplano/aggview/api/chstore"
	json "github.com/goccy/go-json"
)

type subfieldMode int

const (
	subfieldReject subfieldMode = iota
	subfieldEvaluate
	subfieldEmpty
)

type fakeColumn struct {
	name string
	typ  string
}

type fakeObject struct {
	engine  string
	columns []fakeColumn
}

type fakeStream struct {
	table   string
	columns []string
	rows    [][]any
	sent    int
	aborted int
}

// fakeStore is an in-memory stand-in for ClickHouse. It understands the DDL
// produced by aggschema well enough to track objects, folds inserted rows
// into one value per event_id once the materialized view exists, and serves
// the merge-view and system-table queries the harness issues.
type fakeStore struct {
	execs   []string
	selects []string
	streams []*fakeStream

	execErrAt   map[int]error
	prepareErr  error
	appendErrAt int
	appendErr   error
	sendErr     error
	abortErr    error
	selectErr   error
	subfield    subfieldMode

	objects map[string]fakeObject
	raw     [][2]string
	merged  map[string]string
	closed  bool
}

var _ chstore.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{
		execErrAt:   map[int]error{},
		appendErrAt: -1,
		objects:     map[string]fakeObject{},
		merged:      map[string]string{},
	}
}

var (
	dropRegex        = regexp.MustCompile(`^DROP (?:VIEW|TABLE) IF EXISTS (\S+)`)
	createTableRegex = regexp.MustCompile(`(?s)^CREATE TABLE (\S+) \((.*?)\)\s*ENGINE = (\w+)`)
	createMVRegex    = regexp.MustCompile(`^CREATE MATERIALIZED VIEW (\S+)\s+TO (\S+)`)
	createViewRegex  = regexp.MustCompile(`^CREATE VIEW (\S+)`)
	subfieldRegex    = regexp.MustCompile(`event_data\.([A-Za-z0-9_.]+) = \?`)
)

func unqualify(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (f *fakeStore) Exec(_ context.Context, stmt string) error {
	idx := len(f.execs)
	f.execs = append(f.execs, stmt)
	if err, ok := f.execErrAt[idx]; ok {
		return err
	}

	switch {
	case dropRegex.MatchString(stmt):
		name := unqualify(dropRegex.FindStringSubmatch(stmt)[1])
		if obj, ok := f.objects[name]; ok && obj.engine == "AggregatingMergeTree" {
			f.merged = map[string]string{}
		}
		if obj, ok := f.objects[name]; ok && obj.engine == "MergeTree" {
			f.raw = nil
		}
		delete(f.objects, name)
	case createTableRegex.MatchString(stmt):
		m := createTableRegex.FindStringSubmatch(stmt)
		var cols []fakeColumn
		for _, line := range strings.Split(m[2], "\n") {
			line = strings.TrimSuffix(strings.TrimSpace(line), ",")
			if line == "" {
				continue
			}
			parts := strings.SplitN(line, " ", 2)
			cols = append(cols, fakeColumn{name: parts[0], typ: parts[1]})
		}
		f.objects[unqualify(m[1])] = fakeObject{engine: m[3], columns: cols}
	case createMVRegex.MatchString(stmt):
		m := createMVRegex.FindStringSubmatch(stmt)
		target := f.objects[unqualify(m[2])]
		f.objects[unqualify(m[1])] = fakeObject{engine: "MaterializedView", columns: target.columns}
	case createViewRegex.MatchString(stmt):
		m := createViewRegex.FindStringSubmatch(stmt)
		f.objects[unqualify(m[1])] = fakeObject{
			engine:  "View",
			columns: []fakeColumn{{"event_id", "String"}, {"event_data", "JSON"}},
		}
	}
	return nil
}

func (f *fakeStore) PrepareInsert(_ context.Context, table string, columns ...string) (chstore.InsertStream, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	s := &fakeStream{table: table, columns: columns}
	f.streams = append(f.streams, s)
	return &fakeStreamHandle{store: f, stream: s}, nil
}

type fakeStreamHandle struct {
	store  *fakeStore
	stream *fakeStream
}

func (h *fakeStreamHandle) Append(values ...any) error {
	if h.store.appendErr != nil && len(h.stream.rows) == h.store.appendErrAt {
		return h.store.appendErr
	}
	h.stream.rows = append(h.stream.rows, values)
	return nil
}

func (h *fakeStreamHandle) Send() error {
	h.stream.sent++
	if h.store.sendErr != nil {
		return h.store.sendErr
	}
	return h.store.apply(h.stream)
}

func (h *fakeStreamHandle) Abort() error {
	h.stream.aborted++
	return h.store.abortErr
}

func (f *fakeStore) hasFoldingView() bool {
	for _, o := range f.objects {
		if o.engine == "MaterializedView" {
			return true
		}
	}
	return false
}

func (f *fakeStore) apply(s *fakeStream) error {
	for _, row := range s.rows {
		id, _ := row[0].(string)
		var data string
		switch v := row[1].(type) {
		case string:
			data = v
		default:
			b, err := json.Marshal(v)
			if err != nil {
				return err
			}
			data = string(b)
		}
		f.raw = append(f.raw, [2]string{id, data})
		if f.hasFoldingView() {
			f.merged[id] = data
		}
	}
	return nil
}

func (f *fakeStore) mergedEvents() []Event {
	ids := make([]string, 0, len(f.merged))
	for id := range f.merged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	events := make([]Event, 0, len(ids))
	for _, id := range ids {
		events = append(events, Event{EventID: id, EventData: f.merged[id]})
	}
	return events
}

func (f *fakeStore) Select(_ context.Context, dest any, query string, args ...any) error {
	f.selects = append(f.selects, query)
	if f.selectErr != nil {
		return f.selectErr
	}

	switch d := dest.(type) {
	case *[]Event:
		all := f.mergedEvents()
		switch {
		case strings.Contains(query, "WHERE event_id = ?"):
			for _, e := range all {
				if e.EventID == args[0] {
					*d = append(*d, e)
				}
			}
		case subfieldRegex.MatchString(query):
			path := subfieldRegex.FindStringSubmatch(query)[1]
			switch f.subfield {
			case subfieldReject:
				return &clickhouse.Exception{
					Code:    47,
					Name:    "DB::Exception",
					Message: fmt.Sprintf("Unknown expression identifier `event_data.%s` in scope", path),
				}
			case subfieldEmpty:
				return nil
			case subfieldEvaluate:
				for _, e := range all {
					doc, err := e.Document()
					if err == nil && MatchesValue(doc, path, fmt.Sprint(args[0])) {
						*d = append(*d, e)
					}
				}
			}
		default:
			*d = append(*d, all...)
		}
		return nil

	case *[]systemTableRow:
		names := make([]string, 0, len(f.objects))
		for n := range f.objects {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			*d = append(*d, systemTableRow{Name: n, Engine: f.objects[n].engine})
		}
		return nil

	case *[]systemColumnRow:
		for n, o := range f.objects {
			for _, c := range o.columns {
				*d = append(*d, systemColumnRow{Table: n, Name: c.name, Type: c.typ})
			}
		}
		sort.SliceStable(*d, func(i, j int) bool { return (*d)[i].Table < (*d)[j].Table })
		return nil
	}
	return errors.New("fakeStore: unsupported destination")
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

type recordingSink struct {
	statements []string
	queries    []string
	decoded    []int
	written    []int
}

func (r *recordingSink) StatementStart(_ int, stmt string) { r.statements = append(r.statements, stmt) }
func (r *recordingSink) QueryStart(q string)               { r.queries = append(r.queries, q) }
func (r *recordingSink) RowsDecoded(_ string, n int)       { r.decoded = append(r.decoded, n) }
func (r *recordingSink) RowsWritten(_ string, n int)       { r.written = append(r.written, n) }
