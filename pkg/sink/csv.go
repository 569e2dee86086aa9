package sink

import (
	"context"
	"encoding/csv"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// CSVFile writes rows as comma separated values with a header line.
type CSVFile struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewCSVFile creates path and writes the header.
func NewCSVFile(path string) (*CSVFile, error) {
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}
	w := csv.NewWriter(f)
	if err := w.Write(models.Columns); err != nil {
		f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	return &CSVFile{file: f, w: w}, nil
}

func (s *CSVFile) PersistBatch(ctx context.Context, rows []models.AggregateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := persistRows(ctx, "csv-file", rows, func(row *models.AggregateRow) error {
		return s.w.Write(rowValues(row))
	})
	s.w.Flush()
	if ferr := s.w.Error(); ferr != nil {
		return errors.Wrap(ferr, "flush csv")
	}
	return err
}

func (s *CSVFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.w.Flush()
	if err := s.w.Error(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
