// Package aggschema defines the four ClickHouse objects that make up the
// last-value-wins JSON aggregation: a raw insert table, an argMax aggregate
// state table, a materialized view folding raw rows into that state, and a
// merge view exposing one finalized row per event_id.
package aggschema

import (
	"fmt"
	"regexp"
	"strings"
)

// Location codes for schema operations
const (
	LOC_SCHEMA_NAME = "AGV_SCH_001"
)

// Column names shared by every object of the schema.
const (
	ColEventID   = "event_id"
	ColEventData = "event_data"
)

// Object kinds as reported by system.tables.engine.
const (
	KindTable            = "table"
	KindMaterializedView = "materialized_view"
	KindView             = "view"
)

var identRegex = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// IsValidIdentifier reports whether name is safe to splice into DDL unquoted.
func IsValidIdentifier(name string) bool {
	return identRegex.MatchString(name)
}

// Schema names the database and the four objects. The zero value is not
// usable; start from Default or New.
type Schema struct {
	Database  string
	RawTable  string
	AggTable  string
	FoldView  string
	MergeView string
}

// Object is one schema object together with the kind it must have.
type Object struct {
	Name string
	Kind string
}

// Default returns the schema used by the harness when nothing is configured.
func Default() Schema {
	return Schema{
		Database:  "sam_test",
		RawTable:  "event_insert_table",
		AggTable:  "event_agg_table",
		FoldView:  "event_mv",
		MergeView: "event_view",
	}
}

// New returns the default object names placed in the given database.
func New(database string) (Schema, error) {
	s := Default()
	if database != "" {
		s.Database = database
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

// Validate checks that every name is a plain identifier.
func (s Schema) Validate() error {
	for _, name := range []string{s.Database, s.RawTable, s.AggTable, s.FoldView, s.MergeView} {
		if !IsValidIdentifier(name) {
			return fmt.Errorf("invalid schema identifier %q (%s)", name, LOC_SCHEMA_NAME)
		}
	}
	return nil
}

// Qualified returns database.name.
func (s Schema) Qualified(name string) string {
	return s.Database + "." + name
}

// Objects lists the schema objects in creation order.
func (s Schema) Objects() []Object {
	return []Object{
		{Name: s.RawTable, Kind: KindTable},
		{Name: s.AggTable, Kind: KindTable},
		{Name: s.FoldView, Kind: KindMaterializedView},
		{Name: s.MergeView, Kind: KindView},
	}
}

// DropScript returns the drop statements only, views before the tables they read.
func (s Schema) DropScript() string {
	var b strings.Builder
	fmt.Fprintf(&b, "DROP VIEW IF EXISTS %s;\n", s.Qualified(s.MergeView))
	fmt.Fprintf(&b, "DROP VIEW IF EXISTS %s;\n", s.Qualified(s.FoldView))
	fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s;\n", s.Qualified(s.AggTable))
	fmt.Fprintf(&b, "DROP TABLE IF EXISTS %s;\n", s.Qualified(s.RawTable))
	return b.String()
}

// Script returns the full bootstrap script. Every object is dropped
// unconditionally before being created, so running it twice leaves the same
// schema behind.
func (s Schema) Script() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE DATABASE IF NOT EXISTS %s;\n\n", s.Database)
	b.WriteString(s.DropScript())
	b.WriteString("\n")

	fmt.Fprintf(&b, `CREATE TABLE %s (
    %s String,
    %s JSON
)
ENGINE = MergeTree()
ORDER BY %s
SETTINGS %s = 1;

`, s.Qualified(s.RawTable), ColEventID, ColEventData, ColEventID, SettingEnableJSONType)

	// argMax keyed on event_id: the state keeps the value seen with the
	// greatest event_id within its group.
	fmt.Fprintf(&b, `CREATE TABLE %s (
    %s String,
    %s AggregateFunction(argMax, JSON, String)
)
ENGINE = AggregatingMergeTree()
ORDER BY %s
SETTINGS %s = 1;

`, s.Qualified(s.AggTable), ColEventID, ColEventData, ColEventID, SettingEnableJSONType)

	fmt.Fprintf(&b, `CREATE MATERIALIZED VIEW %s
TO %s AS
SELECT
    %s,
    argMaxState(%s, %s) AS %s
FROM %s
GROUP BY %s;

`, s.Qualified(s.FoldView), s.Qualified(s.AggTable),
		ColEventID, ColEventData, ColEventID, ColEventData,
		s.Qualified(s.RawTable), ColEventID)

	fmt.Fprintf(&b, `CREATE VIEW %s AS
SELECT
    %s,
    argMaxMerge(%s) AS %s
FROM %s
GROUP BY %s;
`, s.Qualified(s.MergeView), ColEventID, ColEventData, ColEventData,
		s.Qualified(s.AggTable), ColEventID)

	return b.String()
}
