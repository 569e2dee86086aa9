package models

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrCountOverflow is returned when a count would exceed 64 bits.
var ErrCountOverflow = errors.New("aggregate count overflow")

// SourceError means the record source could not be opened or decoded.
// It aborts the run before anything is persisted.
type SourceError struct {
	Location string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source %s: %v", e.Location, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// ConfigError means required configuration is missing or invalid.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Msg)
}

// SchemaError means the destination structure could not be created or verified.
type SchemaError struct {
	Sink string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s schema: %v", e.Sink, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// SinkWriteError is a single row that failed to persist or serialize.
type SinkWriteError struct {
	Sink string
	UUID string
	Err  error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%s: row %s: %v", e.Sink, e.UUID, e.Err)
}

func (e *SinkWriteError) Unwrap() error { return e.Err }

// BatchError collects the per-row failures of one batch.
type BatchError struct {
	Sink   string
	Total  int
	Failed []*SinkWriteError
}

func (e *BatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d of %d rows failed", e.Sink, len(e.Failed), e.Total)
	if len(e.Failed) > 0 {
		fmt.Fprintf(&b, " (first: %v)", e.Failed[0].Err)
	}
	return b.String()
}

// Unwrap exposes the individual row errors to errors.Is/As.
func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failed))
	for i, f := range e.Failed {
		errs[i] = f
	}
	return errs
}

// IsFatal reports whether err should abort a run at startup.
func IsFatal(err error) bool {
	var se *SourceError
	var ce *ConfigError
	var sc *SchemaError
	return errors.As(err, &se) || errors.As(err, &ce) || errors.As(err, &sc)
}
