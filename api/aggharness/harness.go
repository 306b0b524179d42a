package aggharness

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/chendingplano/aggview/api/aggschema"
	"github.com/chendingplano/aggview/api/chstore"
)

// Location codes for harness operations
const (
	LOC_HARNESS_RUN     = "AGV_HRN_001"
	LOC_HARNESS_FILTER  = "AGV_HRN_002"
	LOC_HARNESS_INSPECT = "AGV_HRN_003"
)

// Harness drives the bootstrap, insert and query steps against one store.
// It is not safe for concurrent use, and two harnesses must not share a
// database: each bootstrap drops what the other is using.
type Harness struct {
	store     chstore.Store
	schema    aggschema.Schema
	caps      aggschema.Capabilities
	sink      Sink
	validator *DocumentValidator
}

// Option configures a Harness.
type Option func(*Harness)

func WithSchema(s aggschema.Schema) Option {
	return func(h *Harness) { h.schema = s }
}

func WithCapabilities(c aggschema.Capabilities) Option {
	return func(h *Harness) { h.caps = c }
}

func WithSink(s Sink) Option {
	return func(h *Harness) { h.sink = sinkOrNop(s) }
}

func WithValidator(v *DocumentValidator) Option {
	return func(h *Harness) { h.validator = v }
}

// New returns a harness using the default schema and capabilities unless
// overridden by opts.
func New(store chstore.Store, opts ...Option) *Harness {
	h := &Harness{
		store:  store,
		schema: aggschema.Default(),
		caps:   aggschema.DefaultCapabilities(),
		sink:   NopSink{},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Harness) Schema() aggschema.Schema { return h.schema }

// Bootstrap drops and recreates the four schema objects.
func (h *Harness) Bootstrap(ctx context.Context) error {
	return ExecuteScript(ctx, h.store, h.sink, h.schema.Script())
}

// Teardown drops the four schema objects, leaving the database in place.
func (h *Harness) Teardown(ctx context.Context) error {
	return ExecuteScript(ctx, h.store, h.sink, h.schema.DropScript())
}

// Insert writes events into the raw table.
func (h *Harness) Insert(ctx context.Context, events ...Event) (int, error) {
	return WriteEvents(ctx, h.store, h.sink, h.schema.Qualified(h.schema.RawTable),
		EncodingFor(h.caps), h.validator, events...)
}

// Events reads the whole merge view.
func (h *Harness) Events(ctx context.Context) ([]Event, error) {
	query, args, err := SelectAll(h.schema)
	if err != nil {
		return nil, err
	}
	return Query[Event](ctx, h.store, h.sink, query, args...)
}

// EventByID reads the merged row for id. The merge view holds at most one.
func (h *Harness) EventByID(ctx context.Context, id string) ([]Event, error) {
	query, args, err := SelectByID(h.schema, id)
	if err != nil {
		return nil, err
	}
	return Query[Event](ctx, h.store, h.sink, query, args...)
}

// QueryBySubfield filters the merge view on event_data.<path> = value. The
// result is either the rows that really match or an error for which
// errors.Is(err, ErrUnsupportedFilter) holds: when the store answers, its
// answer is checked against the same predicate evaluated over the whole
// view, and a disagreement (such as zero rows while matching data exists)
// is reported as unsupported rather than returned.
func (h *Harness) QueryBySubfield(ctx context.Context, path, value string) ([]Event, error) {
	query, args, err := SelectBySubfield(h.schema, path, value)
	if err != nil {
		return nil, err
	}

	got, err := Query[Event](ctx, h.store, h.sink, query, args...)
	if err != nil {
		return nil, err
	}

	all, err := h.Events(ctx)
	if err != nil {
		return nil, err
	}

	want := matchingIDs(all, path, value)
	have := eventIDs(got)
	if !sameIDs(have, want) {
		return nil, &QueryError{
			Query: query,
			Args:  args,
			Kind:  KindUnsupportedFilter,
			Err: fmt.Errorf("store returned %d row(s) %v but %d row(s) %v match event_data.%s = %q (%s)",
				len(have), have, len(want), want, path, value, LOC_HARNESS_FILTER),
		}
	}
	return got, nil
}

// FilterReport is the outcome of CheckSubfieldFilter.
type FilterReport struct {
	Path      string
	Value     string
	Supported bool
	Rows      []Event
	// Err is the unsupported-filter error when Supported is false.
	Err error
}

// CheckSubfieldFilter runs QueryBySubfield and turns an unsupported-filter
// outcome into a report. Other failures are returned as errors.
func (h *Harness) CheckSubfieldFilter(ctx context.Context, path, value string) (*FilterReport, error) {
	report := &FilterReport{Path: path, Value: value}

	rows, err := h.QueryBySubfield(ctx, path, value)
	switch {
	case err == nil:
		report.Supported = true
		report.Rows = rows
		return report, nil
	case KindOf(err) == KindUnsupportedFilter:
		report.Err = err
		return report, nil
	default:
		return nil, err
	}
}

// ColumnInfo is one column as reported by system.columns.
type ColumnInfo struct {
	Name string
	Type string
}

// ObjectInfo describes one schema object found in the store.
type ObjectInfo struct {
	Name    string
	Kind    string
	Engine  string
	Columns []ColumnInfo
}

type systemTableRow struct {
	Name   string `ch:"name"`
	Engine string `ch:"engine"`
}

type systemColumnRow struct {
	Table string `ch:"table"`
	Name  string `ch:"name"`
	Type  string `ch:"type"`
}

// Inspect reads the schema objects back from system.tables and
// system.columns, in schema order. Objects that do not exist are omitted.
func (h *Harness) Inspect(ctx context.Context) ([]ObjectInfo, error) {
	objects := h.schema.Objects()
	names := make([]string, len(objects))
	for i, o := range objects {
		names[i] = o.Name
	}

	tq, targs, err := sqSystemTables(h.schema.Database, names)
	if err != nil {
		return nil, fmt.Errorf("failed to build system.tables query: %w (%s)", err, LOC_HARNESS_INSPECT)
	}
	tables, err := Query[systemTableRow](ctx, h.store, h.sink, tq, targs...)
	if err != nil {
		return nil, err
	}

	cq, cargs, err := sqSystemColumns(h.schema.Database, names)
	if err != nil {
		return nil, fmt.Errorf("failed to build system.columns query: %w (%s)", err, LOC_HARNESS_INSPECT)
	}
	columns, err := Query[systemColumnRow](ctx, h.store, h.sink, cq, cargs...)
	if err != nil {
		return nil, err
	}

	engines := make(map[string]string, len(tables))
	for _, t := range tables {
		engines[t.Name] = t.Engine
	}
	byTable := make(map[string][]ColumnInfo)
	for _, c := range columns {
		byTable[c.Table] = append(byTable[c.Table], ColumnInfo{Name: c.Name, Type: c.Type})
	}

	var infos []ObjectInfo
	for _, o := range objects {
		engine, ok := engines[o.Name]
		if !ok {
			continue
		}
		infos = append(infos, ObjectInfo{
			Name:    o.Name,
			Kind:    kindForEngine(engine),
			Engine:  engine,
			Columns: byTable[o.Name],
		})
	}
	return infos, nil
}

func kindForEngine(engine string) string {
	switch engine {
	case "MaterializedView":
		return aggschema.KindMaterializedView
	case "View":
		return aggschema.KindView
	default:
		return aggschema.KindTable
	}
}

// RunOptions controls Run.
type RunOptions struct {
	Events      []Event
	FilterPath  string
	FilterValue string
}

// DefaultRunOptions inserts event_id1 = {"fizz":"buzz","foo":"bar"} and
// checks the filter event_data.fizz = 'buzz'.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Events: []Event{{
			EventID:   "event_id1",
			EventData: `{"fizz":"buzz","foo":"bar"}`,
		}},
		FilterPath:  "fizz",
		FilterValue: "buzz",
	}
}

// RunResult summarizes Run.
type RunResult struct {
	Inserted int
	Rows     []Event
	Filter   *FilterReport
	Duration time.Duration
}

// Run bootstraps the schema, inserts opts.Events, reads the merge view and
// checks the sub-field filter, strictly in that order. Any failure other
// than an unsupported filter stops the run; partial progress is left in
// place.
func (h *Harness) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	if err := h.Bootstrap(ctx); err != nil {
		return result, err
	}

	inserted, err := h.Insert(ctx, opts.Events...)
	if err != nil {
		return result, err
	}
	result.Inserted = inserted

	rows, err := h.Events(ctx)
	if err != nil {
		return result, err
	}
	result.Rows = rows

	if opts.FilterPath != "" {
		report, err := h.CheckSubfieldFilter(ctx, opts.FilterPath, opts.FilterValue)
		if err != nil {
			return result, fmt.Errorf("filter check failed: %w (%s)", err, LOC_HARNESS_RUN)
		}
		result.Filter = report
	}

	result.Duration = time.Since(start)
	return result, nil
}

func eventIDs(events []Event) []string {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.EventID)
	}
	sort.Strings(ids)
	return ids
}

func matchingIDs(events []Event, path, value string) []string {
	ids := make([]string, 0)
	for _, e := range events {
		doc, err := e.Document()
		if err != nil {
			continue
		}
		if MatchesValue(doc, path, value) {
			ids = append(ids, e.EventID)
		}
	}
	sort.Strings(ids)
	return ids
}

func sameIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
