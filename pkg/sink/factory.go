package sink

import (
	"context"
	"fmt"

	"github.com/hervehildenbrand/bgpagg/pkg/config"
	"github.com/hervehildenbrand/bgpagg/pkg/database"
	"github.com/hervehildenbrand/bgpagg/pkg/logging"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// New opens the sink selected by cfg.Type. Connection problems surface
// as *models.ConfigError and table problems as *models.SchemaError, both
// before any row is written.
func New(ctx context.Context, cfg config.SinkConfig) (Sink, error) {
	s, err := open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logging.Component("sink").Info("sink opened", "type", cfg.Type, "output", cfg.Output)
	return s, nil
}

func open(ctx context.Context, cfg config.SinkConfig) (Sink, error) {
	switch cfg.Type {
	case config.SinkStdoutJSONL:
		if cfg.Output == "" || cfg.Output == "-" {
			return NewStdoutJSONL(cfg.WithUUID), nil
		}
		return nonNil(NewJSONLFile(cfg.Output, cfg.WithUUID))
	case config.SinkCSVFile:
		return nonNil(NewCSVFile(cfg.Output))
	case config.SinkTextFile:
		return nonNil(NewTextFile(cfg.Output))
	case config.SinkParquetFile:
		return nonNil(NewParquetFile(cfg.Output, cfg.Parquet.Compression))
	case config.SinkRelationalUpsert:
		return nonNil(database.OpenPostgres(ctx, cfg.Postgres.URL, cfg.Postgres.Schema, cfg.Table))
	case config.SinkEmbeddedUpsert:
		return nonNil(database.OpenDuckDB(ctx, cfg.DuckDB.Path, cfg.Table))
	case config.SinkRedisUpsert:
		return nonNil(NewRedisUpsert(ctx, cfg.Redis.URL, cfg.Redis.Prefix))
	default:
		return nil, &models.ConfigError{Field: "sink.type", Msg: fmt.Sprintf("unknown sink %q", cfg.Type)}
	}
}

// nonNil keeps a failed constructor from yielding a non-nil Sink
// that wraps a nil pointer.
func nonNil[S Sink](s S, err error) (Sink, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
