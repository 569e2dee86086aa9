package source

import (
	"bufio"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
	"github.com/hervehildenbrand/bgpagg/pkg/rislive"
)

const maxLineSize = 16 * 1024 * 1024

// dump reads archived RIS Live messages, one JSON object per line.
// A line is either a full {"type":"ris_message","data":{...}} envelope or
// just the data object. Blank lines are skipped.
type dump struct {
	name    string
	closers []io.Closer
	scanner *bufio.Scanner
	pending []models.RawRecord
	line    int
}

// openStream unwraps gzip or bzip2 compression, detected by magic bytes,
// and picks the reader by content: RIS Live JSON lines start with '{',
// anything else is read as MRT.
func openStream(name string, r io.ReadCloser) (Source, error) {
	closers := []io.Closer{r}
	br := bufio.NewReader(r)
	magic, err := br.Peek(3)
	if err != nil && err != io.EOF {
		r.Close()
		return nil, errors.Wrap(err, "reading stream")
	}

	var rd io.Reader = br
	switch {
	case bytes.HasPrefix(magic, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			r.Close()
			return nil, errors.Wrap(err, "opening gzip stream")
		}
		closers = append([]io.Closer{zr}, closers...)
		rd = zr
	case bytes.HasPrefix(magic, bzip2Magic):
		rd = bzip2.NewReader(br)
	}

	content := bufio.NewReaderSize(rd, 64*1024)
	first, err := content.Peek(1)
	if err != nil && err != io.EOF {
		closeAll(closers)
		return nil, errors.Wrap(err, "reading stream")
	}
	if len(first) == 0 || isJSONStart(first[0]) {
		scanner := bufio.NewScanner(content)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)
		return &dump{name: name, closers: closers, scanner: scanner}, nil
	}
	return &mrtDump{name: name, r: content, closers: closers}, nil
}

var (
	gzipMagic  = []byte{0x1f, 0x8b}
	bzip2Magic = []byte("BZh")
)

func isJSONStart(b byte) bool {
	switch b {
	case '{', ' ', '\t', '\r', '\n':
		return true
	}
	return false
}

func openFile(path string) (Source, error) {
	if path == "-" {
		return openStream("stdin", io.NopCloser(os.Stdin))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening file")
	}
	return openStream(path, f)
}

func openHTTP(ctx context.Context, url string, opts Options) (Source, error) {
	client := &http.Client{Timeout: opts.HTTPTimeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building request")
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "getting via http")
	}
	if resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.Errorf("got status %d via http", resp.StatusCode)
	}
	return openStream(strings.SplitN(url, "?", 2)[0], resp.Body)
}

func (d *dump) Next() (models.RawRecord, error) {
	for len(d.pending) == 0 {
		if !d.scanner.Scan() {
			if err := d.scanner.Err(); err != nil {
				return models.RawRecord{}, errors.Wrapf(err, "reading line %d", d.line+1)
			}
			return models.RawRecord{}, io.EOF
		}
		d.line++
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}

		var (
			records []models.RawRecord
			err     error
		)
		if strings.Contains(line, `"ris_message"`) || strings.Contains(line, `"ris_error"`) {
			records, err = rislive.ParseMessage([]byte(line), "")
		} else {
			records, err = rislive.ParseUpdate([]byte(line), "")
		}
		if err != nil {
			return models.RawRecord{}, errors.Wrapf(err, "line %d", d.line)
		}
		d.pending = records
	}

	rec := d.pending[0]
	d.pending = d.pending[1:]
	return rec, nil
}

func (d *dump) Close() error {
	return closeAll(d.closers)
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
