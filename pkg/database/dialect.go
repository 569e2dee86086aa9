package database

import (
	"fmt"
	"strings"
)

// Dialect captures the SQL differences between the supported stores.
type Dialect struct {
	Name   string
	Driver string

	// FloatType is the column type for timestamps.
	FloatType string

	// TargetAlias names the stored row in ON CONFLICT DO UPDATE.
	// Empty means unqualified column references.
	TargetAlias string
}

var (
	// Postgres backs the relational-upsert sink.
	Postgres = Dialect{Name: "postgres", Driver: "postgres", FloatType: "DOUBLE PRECISION", TargetAlias: "existing"}

	// DuckDB backs the embedded-upsert sink.
	DuckDB = Dialect{Name: "duckdb", Driver: "duckdb", FloatType: "DOUBLE"}
)

// quoteIdent quotes an identifier that has already been validated.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// tableRef returns the optionally schema-qualified, quoted table name.
func tableRef(schema, table string) string {
	if schema == "" {
		return quoteIdent(table)
	}
	return quoteIdent(schema) + "." + quoteIdent(table)
}

func (d Dialect) createTableSQL(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		"uuid" UUID PRIMARY KEY,
		elem_type VARCHAR(255) NOT NULL,
		prefix VARCHAR(255) NOT NULL,
		as_path TEXT NOT NULL,
		asn VARCHAR(16) NOT NULL,
		next_hop VARCHAR(255) NOT NULL,
		peer_ip VARCHAR(255) NOT NULL,
		min_timestamp %[2]s NOT NULL,
		max_timestamp %[2]s NOT NULL,
		"count" BIGINT NOT NULL,
		start_ip VARCHAR(40) NOT NULL,
		end_ip VARCHAR(40) NOT NULL
	)`, table, d.FloatType)
}

func (d Dialect) verifySQL(table string) string {
	return fmt.Sprintf(`SELECT "uuid", elem_type, prefix, as_path, asn, next_hop, peer_ip,
		min_timestamp, max_timestamp, "count", start_ip, end_ip
		FROM %s WHERE 1 = 0`, table)
}

// upsertSQL inserts a row or, for an existing uuid, adds the counts and
// widens the time range. Canonical columns are never rewritten.
func (d Dialect) upsertSQL(table string) string {
	target, existing := table, ""
	if d.TargetAlias != "" {
		target = table + " AS " + d.TargetAlias
		existing = d.TargetAlias + "."
	}
	return fmt.Sprintf(`INSERT INTO %[1]s (
		"uuid", elem_type, prefix, as_path, asn, next_hop, peer_ip,
		min_timestamp, max_timestamp, "count", start_ip, end_ip
	) VALUES (CAST($1 AS UUID), $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT ("uuid") DO UPDATE SET
		"count" = %[2]s"count" + EXCLUDED."count",
		min_timestamp = LEAST(%[2]smin_timestamp, EXCLUDED.min_timestamp),
		max_timestamp = GREATEST(%[2]smax_timestamp, EXCLUDED.max_timestamp)`, target, existing)
}
