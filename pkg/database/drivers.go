package database

import (
	"context"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/marcboeker/go-duckdb"
)

// OpenPostgres opens the relational-upsert writer.
func OpenPostgres(ctx context.Context, dsn, schema, table string) (*Writer, error) {
	return Open(ctx, Postgres, Config{
		DSN:             dsn,
		Schema:          schema,
		Table:           table,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	})
}

// OpenDuckDB opens the embedded-upsert writer on a database file.
// An empty path gives an in-memory database.
func OpenDuckDB(ctx context.Context, path, table string) (*Writer, error) {
	// A single connection keeps in-memory databases from splitting into
	// one database per connection.
	return Open(ctx, DuckDB, Config{
		DSN:          path,
		Table:        table,
		MaxOpenConns: 1,
	})
}
