package aggharness

import (
	"log/slog"
)

// Sink observes the harness. It never influences control flow.
type Sink interface {
	StatementStart(index int, stmt string)
	QueryStart(query string)
	RowsDecoded(query string, n int)
	RowsWritten(table string, n int)
}

// SlogSink writes observations to a slog.Logger.
type SlogSink struct {
	Logger *slog.Logger
}

func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{Logger: logger}
}

func (s *SlogSink) StatementStart(index int, stmt string) {
	s.Logger.Debug("Executing statement", "index", index, "statement", stmt)
}

func (s *SlogSink) QueryStart(query string) {
	s.Logger.Info("Running query", "query", query)
}

func (s *SlogSink) RowsDecoded(query string, n int) {
	s.Logger.Info("Decoded rows", "query", query, "rows", n)
}

func (s *SlogSink) RowsWritten(table string, n int) {
	s.Logger.Info("Inserted rows", "table", table, "rows", n)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) StatementStart(int, string) {}
func (NopSink) QueryStart(string)          {}
func (NopSink) RowsDecoded(string, int)    {}
func (NopSink) RowsWritten(string, int)    {}

func sinkOrNop(s Sink) Sink {
	if s == nil {
		return NopSink{}
	}
	return s
}
