// Package pipeline drives a run: sources are consumed into aggregators,
// the aggregators are merged, and the finalized rows are handed to a sink.
// Nothing is persisted unless every source was read to its end.
package pipeline

import (
	"context"
	"io"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hervehildenbrand/bgpagg/pkg/aggregate"
	"github.com/hervehildenbrand/bgpagg/pkg/enrich"
	"github.com/hervehildenbrand/bgpagg/pkg/logging"
	"github.com/hervehildenbrand/bgpagg/pkg/metrics"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
	"github.com/hervehildenbrand/bgpagg/pkg/sink"
	"github.com/hervehildenbrand/bgpagg/pkg/source"
)

// Opener opens the source at a location.
type Opener func(ctx context.Context, location string) (source.Source, error)

// DefaultOpener opens locations with source.Open.
func DefaultOpener(opts source.Options) Opener {
	return func(ctx context.Context, location string) (source.Source, error) {
		return source.Open(ctx, location, opts)
	}
}

// Run consumes src exactly once into agg. It returns nil at the end of
// the stream and a *models.SourceError if the stream breaks.
func Run(ctx context.Context, location string, src source.Source, agg *aggregate.Aggregator, m *metrics.Metrics) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := src.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var se *models.SourceError
			if errors.As(err, &se) {
				return err
			}
			return &models.SourceError{Location: location, Err: err}
		}
		if _, err := agg.Add(rec); err != nil {
			return errors.Wrapf(err, "aggregating %s", rec.Prefix)
		}
		m.ObserveRecord(rec.Type)
	}
}

// RunAll aggregates every location with its own Aggregator, at most
// concurrency at a time, and merges the results in location order.
// The first failure cancels the remaining sources.
func RunAll(ctx context.Context, locations []string, open Opener, concurrency int, m *metrics.Metrics) (*aggregate.Aggregator, error) {
	if len(locations) == 0 {
		return nil, &models.ConfigError{Field: "locations", Msg: "at least one source location is required"}
	}
	log := logging.Component("pipeline")

	aggs := make([]*aggregate.Aggregator, len(locations))
	eg, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		eg.SetLimit(concurrency)
	}
	for i, location := range locations {
		eg.Go(func() error {
			started := time.Now()
			src, err := open(ctx, location)
			if err != nil {
				return err
			}
			defer src.Close()

			agg := aggregate.New()
			if err := Run(ctx, location, src, agg, m); err != nil {
				return err
			}
			log.Info("source consumed",
				"location", location,
				"records", agg.Observed(),
				"rows", agg.Len(),
				"elapsed", time.Since(started))
			aggs[i] = agg
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	total := aggs[0]
	for _, agg := range aggs[1:] {
		if err := total.Merge(agg); err != nil {
			return nil, errors.Wrap(err, "merging aggregates")
		}
	}
	return total, nil
}

// Job describes one end-to-end run.
type Job struct {
	Locations   []string
	Open        Opener
	Concurrency int

	Sink     sink.Sink
	SinkName string

	// Resolver fills OriginCountry before persisting. Nil means
	// enrich.NullResolver, which leaves every row unannotated.
	Resolver enrich.CountryResolver
	Metrics  *metrics.Metrics
}

// Summary reports what a run did.
type Summary struct {
	Records   uint64
	Rows      int
	Annotated int
}

// Execute aggregates the job's sources and persists the rows in a single
// batch. The returned error is the sink's error when persistence fails,
// so a *models.BatchError reaches the caller unchanged.
func Execute(ctx context.Context, job Job) (Summary, error) {
	var sum Summary

	agg, err := RunAll(ctx, job.Locations, job.Open, job.Concurrency, job.Metrics)
	if err != nil {
		return sum, err
	}
	sum.Records = agg.Observed()

	rows := agg.Drain()
	sort.Slice(rows, func(i, j int) bool { return rows[i].UUID < rows[j].UUID })
	sum.Rows = len(rows)
	job.Metrics.ObserveRows(len(rows))

	resolver := job.Resolver
	if resolver == nil {
		resolver = enrich.NullResolver{}
	}
	sum.Annotated = enrich.Annotate(rows, resolver)

	err = job.Sink.PersistBatch(ctx, rows)
	job.Metrics.ObservePersist(job.SinkName, len(rows), err)

	logging.Component("pipeline").Info("run finished",
		"records", sum.Records,
		"rows", sum.Rows,
		"annotated", sum.Annotated,
		"sink", job.SinkName,
		"error", err)
	return sum, err
}
