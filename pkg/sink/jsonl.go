package sink

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// JSONL writes one JSON object per row.
type JSONL struct {
	mu       sync.Mutex
	out      *bufio.Writer
	closer   io.Closer
	withUUID bool
}

// NewStdoutJSONL writes to standard output.
func NewStdoutJSONL(withUUID bool) *JSONL {
	return NewJSONL(os.Stdout, nil, withUUID)
}

// NewJSONL writes to w; closer, when non-nil, is closed by Close.
func NewJSONL(w io.Writer, closer io.Closer, withUUID bool) *JSONL {
	return &JSONL{out: bufio.NewWriter(w), closer: closer, withUUID: withUUID}
}

// NewJSONLFile writes JSON lines to a file instead of stdout.
func NewJSONLFile(path string, withUUID bool) (*JSONL, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return NewJSONL(f, f, withUUID), nil
}

// PersistBatch encodes every row; rows that cannot be encoded (for
// example a NaN timestamp) are reported and skipped.
func (s *JSONL) PersistBatch(ctx context.Context, rows []models.AggregateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := persistRows(ctx, "stdout-jsonl", rows, func(row *models.AggregateRow) error {
		out := *row
		if !s.withUUID {
			out.UUID = ""
		}
		b, err := json.Marshal(&out)
		if err != nil {
			return errors.Wrap(err, "encode row")
		}
		b = append(b, '\n')
		_, err = s.out.Write(b)
		return err
	})
	if ferr := s.out.Flush(); ferr != nil {
		return errors.Wrap(ferr, "flush output")
	}
	return err
}

// Close flushes and closes the underlying file, if any.
func (s *JSONL) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.out.Flush(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
