package chstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Location codes for store operations
const (
	LOC_STORE_OPEN   = "AGV_STO_010"
	LOC_STORE_PING   = "AGV_STO_011"
	LOC_STORE_INSERT = "AGV_STO_012"
)

// ClickHouseStore implements Store on top of a clickhouse-go native connection.
type ClickHouseStore struct {
	conn driver.Conn
}

var _ Store = (*ClickHouseStore)(nil)

// Open connects using cfg, applies settings at connection scope so every
// statement, insert and query sees them, and pings the server.
func Open(ctx context.Context, cfg *Config, settings map[string]string) (*ClickHouseStore, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	if opts.Settings == nil {
		opts.Settings = clickhouse.Settings{}
	}
	for k, v := range settings {
		opts.Settings[k] = v
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse connection: %w (%s)", err, LOC_STORE_OPEN)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to clickhouse at %s: %w (%s)",
			strings.Join(opts.Addr, ","), err, LOC_STORE_PING)
	}

	return &ClickHouseStore{conn: conn}, nil
}

// NewClickHouseStore wraps an existing connection.
func NewClickHouseStore(conn driver.Conn) *ClickHouseStore {
	return &ClickHouseStore{conn: conn}
}

func (s *ClickHouseStore) Exec(ctx context.Context, stmt string) error {
	return s.conn.Exec(ctx, stmt)
}

func (s *ClickHouseStore) PrepareInsert(ctx context.Context, table string, columns ...string) (InsertStream, error) {
	query := "INSERT INTO " + table
	if len(columns) > 0 {
		query += " (" + strings.Join(columns, ", ") + ")"
	}
	batch, err := s.conn.PrepareBatch(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare insert into %s: %w (%s)", table, err, LOC_STORE_INSERT)
	}
	return &batchStream{batch: batch}, nil
}

func (s *ClickHouseStore) Select(ctx context.Context, dest any, query string, args ...any) error {
	return s.conn.Select(ctx, dest, query, args...)
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

type batchStream struct {
	batch driver.Batch
}

func (b *batchStream) Append(values ...any) error {
	return b.batch.Append(values...)
}

func (b *batchStream) Send() error {
	return b.batch.Send()
}

func (b *batchStream) Abort() error {
	return b.batch.Abort()
}
