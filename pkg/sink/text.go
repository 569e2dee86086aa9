package sink

import (
	"bufio"
	"context"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// TextSeparator sits between columns of the text-file sink.
const TextSeparator = "\t|\t"

// TextFile writes one separator-delimited line per row, without a header.
type TextFile struct {
	mu   sync.Mutex
	file *os.File
	out  *bufio.Writer
}

// NewTextFile creates path for writing.
func NewTextFile(path string) (*TextFile, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	return &TextFile{file: f, out: bufio.NewWriter(f)}, nil
}

// PersistBatch writes every row. The format has no escaping, so a row
// with a line break or the separator inside a field is rejected.
func (s *TextFile) PersistBatch(ctx context.Context, rows []models.AggregateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := persistRows(ctx, "text-file", rows, func(row *models.AggregateRow) error {
		values := rowValues(row)
		for i, v := range values {
			if strings.ContainsAny(v, "\r\n") || strings.Contains(v, TextSeparator) {
				return errors.Errorf("column %s cannot be represented in text output", models.Columns[i])
			}
		}
		_, err := s.out.WriteString(strings.Join(values, TextSeparator) + "\n")
		return err
	})
	if ferr := s.out.Flush(); ferr != nil {
		return errors.Wrap(ferr, "flush output")
	}
	return err
}

func (s *TextFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.out.Flush(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
