// Package config loads bgpagg configuration from a YAML file and the
// environment. Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// Sink kinds.
const (
	SinkStdoutJSONL      = "stdout-jsonl"
	SinkRelationalUpsert = "relational-upsert"
	SinkEmbeddedUpsert   = "embedded-upsert"
	SinkCSVFile          = "csv-file"
	SinkTextFile         = "text-file"
	SinkParquetFile      = "parquet-file"
	SinkRedisUpsert      = "redis-upsert"
)

// SinkKinds lists every recognized sink.
var SinkKinds = []string{
	SinkStdoutJSONL, SinkRelationalUpsert, SinkEmbeddedUpsert,
	SinkCSVFile, SinkTextFile, SinkParquetFile, SinkRedisUpsert,
}

const (
	DefaultTable       = "log_table"
	DefaultRedisPrefix = "bgpagg"
	DefaultHTTPTimeout = 5 * time.Minute
)

// Config is the root configuration.
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Sink    SinkConfig    `yaml:"sink"`
	Enrich  EnrichConfig  `yaml:"enrich"`
	Metrics MetricsConfig `yaml:"metrics"`
	Logging LoggingConfig `yaml:"logging"`
}

// SourceConfig bounds how records are read.
type SourceConfig struct {
	Limit       uint64        `yaml:"limit"`
	Duration    time.Duration `yaml:"duration"`
	Collector   string        `yaml:"collector"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`
}

// SinkConfig selects and configures the destination.
type SinkConfig struct {
	Type     string         `yaml:"type"`
	Output   string         `yaml:"output"`
	WithUUID bool           `yaml:"with_uuid"`
	Table    string         `yaml:"table"`
	Parquet  ParquetConfig  `yaml:"parquet"`
	Postgres PostgresConfig `yaml:"postgres"`
	DuckDB   DuckDBConfig   `yaml:"duckdb"`
	Redis    RedisConfig    `yaml:"redis"`
}

// ParquetConfig controls parquet-file output.
type ParquetConfig struct {
	Compression string `yaml:"compression"`
}

// PostgresConfig controls relational-upsert.
type PostgresConfig struct {
	URL    string `yaml:"url"`
	Schema string `yaml:"schema"`
}

// DuckDBConfig controls embedded-upsert.
type DuckDBConfig struct {
	Path string `yaml:"path"`
}

// RedisConfig controls redis-upsert.
type RedisConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
}

// EnrichConfig controls optional row annotation.
type EnrichConfig struct {
	ASNData string `yaml:"asn_data"`
}

// MetricsConfig controls the Prometheus textfile written at the end of a run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Source: SourceConfig{HTTPTimeout: DefaultHTTPTimeout},
		Sink: SinkConfig{
			Type:    SinkStdoutJSONL,
			Table:   DefaultTable,
			Parquet: ParquetConfig{Compression: "zstd"},
			Redis:   RedisConfig{Prefix: DefaultRedisPrefix},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{Field: "config", Msg: err.Error()}
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &models.ConfigError{Field: "config", Msg: errors.Wrapf(err, "parsing %s", path).Error()}
	}
	return cfg, nil
}

// ApplyEnv overrides settings from environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.Sink.Type, "BGPAGG_SINK")
	setString(&c.Sink.Output, "BGPAGG_OUTPUT")
	setString(&c.Sink.Table, "BGPAGG_TABLE")
	setString(&c.Sink.Postgres.URL, "BGPAGG_DATABASE")
	setString(&c.Sink.DuckDB.Path, "BGPAGG_DUCKDB")
	setString(&c.Sink.Redis.URL, "BGPAGG_REDIS")
	setString(&c.Enrich.ASNData, "BGPAGG_ASN_DATA")
	setString(&c.Metrics.Textfile, "BGPAGG_METRICS_TEXTFILE")
	setString(&c.Logging.Level, "BGPAGG_LOG_LEVEL")
	if v := os.Getenv("BGPAGG_WITH_UUID"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Sink.WithUUID = b
		}
	}

	// libpq-style variables, as used by earlier deployments of log_table.
	setString(&c.Sink.Postgres.Schema, "PGSCHEMA")
	if c.Sink.Postgres.URL == "" && os.Getenv("PGHOST") != "" {
		c.Sink.Postgres.URL = fmt.Sprintf("host=%s user=%s password=%s dbname=%s",
			os.Getenv("PGHOST"), os.Getenv("PGUSER"), os.Getenv("PGPASSWORD"), os.Getenv("PGDATABASE"))
		if mode := os.Getenv("PGSSLMODE"); mode != "" {
			c.Sink.Postgres.URL += " sslmode=" + mode
		}
	}
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that the selected sink has what it needs.
func (c *Config) Validate() error {
	s := &c.Sink
	known := false
	for _, k := range SinkKinds {
		if s.Type == k {
			known = true
			break
		}
	}
	if !known {
		return &models.ConfigError{Field: "sink.type", Msg: fmt.Sprintf("unknown sink %q", s.Type)}
	}

	switch s.Type {
	case SinkCSVFile, SinkTextFile, SinkParquetFile:
		if s.Output == "" {
			return &models.ConfigError{Field: "sink.output", Msg: "required for " + s.Type}
		}
	case SinkRelationalUpsert:
		if s.Postgres.URL == "" {
			return &models.ConfigError{Field: "sink.postgres.url", Msg: "set BGPAGG_DATABASE or PGHOST/PGUSER/PGPASSWORD/PGDATABASE"}
		}
		if s.Postgres.Schema != "" && !identRe.MatchString(s.Postgres.Schema) {
			return &models.ConfigError{Field: "sink.postgres.schema", Msg: fmt.Sprintf("invalid identifier %q", s.Postgres.Schema)}
		}
	case SinkEmbeddedUpsert:
		if s.DuckDB.Path == "" {
			return &models.ConfigError{Field: "sink.duckdb.path", Msg: "required for " + s.Type}
		}
	case SinkRedisUpsert:
		if s.Redis.URL == "" {
			return &models.ConfigError{Field: "sink.redis.url", Msg: "required for " + s.Type}
		}
	}

	if !identRe.MatchString(s.Table) {
		return &models.ConfigError{Field: "sink.table", Msg: fmt.Sprintf("invalid identifier %q", s.Table)}
	}
	return nil
}
