package sink

import (
	"context"
	"os"
	"strings"
	"sync"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// parquetCodec maps a compression name to a parquet-go codec.
func parquetCodec(name string) (compress.Codec, error) {
	switch strings.ToLower(name) {
	case "zstd", "":
		return &parquet.Zstd, nil
	case "snappy":
		return &parquet.Snappy, nil
	case "lz4":
		return &parquet.Lz4Raw, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "none":
		return &parquet.Uncompressed, nil
	default:
		return nil, &models.ConfigError{Field: "sink.parquet.compression", Msg: "unknown codec " + name}
	}
}

// ParquetFile writes rows to a single columnar file. The file is only
// readable after Close has written the footer.
type ParquetFile struct {
	mu     sync.Mutex
	file   *os.File
	writer *parquet.GenericWriter[models.AggregateRow]
	rows   int64
	closed bool
}

// NewParquetFile creates path with the named compression codec.
func NewParquetFile(path, compression string) (*ParquetFile, error) {
	codec, err := parquetCodec(compression)
	if err != nil {
		return nil, err
	}
	f, err := createFile(path)
	if err != nil {
		return nil, err
	}

	writer := parquet.NewGenericWriter[models.AggregateRow](f, parquet.Compression(codec))
	return &ParquetFile{file: f, writer: writer}, nil
}

func (s *ParquetFile) PersistBatch(ctx context.Context, rows []models.AggregateRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("parquet-file: writer closed")
	}
	return persistRows(ctx, "parquet-file", rows, func(row *models.AggregateRow) error {
		n, err := s.writer.Write([]models.AggregateRow{*row})
		s.rows += int64(n)
		return err
	})
}

// RowCount returns the number of rows written so far.
func (s *ParquetFile) RowCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

func (s *ParquetFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.writer.Close(); err != nil {
		s.file.Close()
		return errors.Wrap(err, "close parquet writer")
	}
	return s.file.Close()
}
