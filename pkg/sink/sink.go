// Package sink delivers finalized aggregate rows to their destination.
//
// Stream and file sinks serialize row by row: a row that fails is logged
// and skipped, and PersistBatch reports all such rows in a
// *models.BatchError. Store sinks that keep state across runs apply the
// additive merge on conflict; see the individual constructors for their
// atomicity.
package sink

import (
	"context"

	"github.com/hervehildenbrand/bgpagg/pkg/logging"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// Sink accepts finalized rows.
type Sink interface {
	PersistBatch(ctx context.Context, rows []models.AggregateRow) error
	Close() error
}

// rowWriter serializes a single row.
type rowWriter func(row *models.AggregateRow) error

// persistRows runs write for every row, logging and collecting failures.
func persistRows(ctx context.Context, name string, rows []models.AggregateRow, write rowWriter) error {
	log := logging.Component("sink")
	var failed []*models.SinkWriteError
	for i := range rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := write(&rows[i]); err != nil {
			swe := &models.SinkWriteError{Sink: name, UUID: rows[i].UUID, Err: err}
			log.Error("row write failed", "sink", name, "uuid", rows[i].UUID, "prefix", rows[i].Prefix, "error", err)
			failed = append(failed, swe)
		}
	}
	if len(failed) > 0 {
		return &models.BatchError{Sink: name, Total: len(rows), Failed: failed}
	}
	return nil
}
