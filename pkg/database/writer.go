// Package database persists aggregate rows into SQL stores with upsert
// semantics: PostgreSQL for the relational sink and DuckDB for the
// embedded one.
package database

import (
	"context"
	"database/sql"
	"math"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/logging"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

const pingTimeout = 5 * time.Second

// Config holds connection options for a Writer.
type Config struct {
	DSN    string
	Schema string // Postgres only
	Table  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Writer upserts aggregate rows keyed by uuid.
//
// A PersistBatch call is all-or-nothing: every row runs inside one
// transaction and the first failing row rolls the batch back.
type Writer struct {
	db      *sql.DB
	dialect Dialect
	table   string

	// Stats
	rowsWritten    uint64
	batchesWritten uint64
}

// Open connects to the store and makes sure the table exists.
// Connection problems are ConfigErrors; table problems are SchemaErrors.
func Open(ctx context.Context, d Dialect, cfg Config) (*Writer, error) {
	db, err := sql.Open(d.Driver, cfg.DSN)
	if err != nil {
		return nil, &models.ConfigError{Field: d.Name, Msg: errors.Wrap(err, "open database").Error()}
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, &models.ConfigError{Field: d.Name, Msg: errors.Wrap(err, "ping database").Error()}
	}

	w := &Writer{
		db:      db,
		dialect: d,
		table:   tableRef(cfg.Schema, cfg.Table),
	}
	if err := w.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, &models.SchemaError{Sink: d.Name, Err: err}
	}

	logging.Component("database").Info("connected", "dialect", d.Name, "table", w.table)
	return w, nil
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, w.dialect.createTableSQL(w.table)); err != nil {
		return errors.Wrapf(err, "create table %s", w.table)
	}
	rows, err := w.db.QueryContext(ctx, w.dialect.verifySQL(w.table))
	if err != nil {
		return errors.Wrapf(err, "verify table %s", w.table)
	}
	return rows.Close()
}

// DB returns the underlying connection pool.
func (w *Writer) DB() *sql.DB {
	return w.db
}

// Table returns the quoted table reference rows are written to.
func (w *Writer) Table() string {
	return w.table
}

// PersistBatch upserts rows in a single transaction.
func (w *Writer) PersistBatch(ctx context.Context, rows []models.AggregateRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, w.dialect.upsertSQL(w.table))
	if err != nil {
		return errors.Wrap(err, "prepare upsert")
	}
	defer stmt.Close()

	for i := range rows {
		if err := w.writeRow(ctx, stmt, &rows[i]); err != nil {
			return &models.SinkWriteError{
				Sink: w.dialect.Name,
				UUID: rows[i].UUID,
				Err:  errors.Wrap(err, "batch rolled back"),
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit batch")
	}

	atomic.AddUint64(&w.rowsWritten, uint64(len(rows)))
	atomic.AddUint64(&w.batchesWritten, 1)
	return nil
}

func (w *Writer) writeRow(ctx context.Context, stmt *sql.Stmt, row *models.AggregateRow) error {
	if row.Count > math.MaxInt64 {
		return errors.Wrapf(models.ErrCountOverflow, "count %d exceeds BIGINT", row.Count)
	}
	_, err := stmt.ExecContext(ctx,
		row.UUID,
		row.ElemType,
		row.Prefix,
		row.ASPath,
		row.ASN,
		row.NextHop,
		row.PeerIP,
		row.MinTimestamp,
		row.MaxTimestamp,
		int64(row.Count),
		row.StartIP,
		row.EndIP,
	)
	return err
}

// Stats returns writer statistics.
func (w *Writer) Stats() map[string]interface{} {
	return map[string]interface{}{
		"rows_written":    atomic.LoadUint64(&w.rowsWritten),
		"batches_written": atomic.LoadUint64(&w.batchesWritten),
	}
}

// Close releases the connection pool.
func (w *Writer) Close() error {
	logging.Component("database").Info("writer closed",
		"dialect", w.dialect.Name,
		"rows_written", atomic.LoadUint64(&w.rowsWritten),
		"batches_written", atomic.LoadUint64(&w.batchesWritten))
	return w.db.Close()
}
