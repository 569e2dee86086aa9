// Package source opens the BGP element stream named by a location: a local
// dump file, a remote dump over HTTP, or the RIS Live WebSocket feed.
// Dumps are either RIS Live JSON lines or MRT update archives, optionally
// gzip or bzip2 compressed; the format is detected from the content.
package source

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

// Source yields a finite, single-pass sequence of BGP elements.
// Next returns io.EOF after the last element. Any other error means the
// stream broke and the run must be aborted.
type Source interface {
	Next() (models.RawRecord, error)
	Close() error
}

// Options tunes how a location is opened.
type Options struct {
	// Limit stops the stream after this many elements (0 = unlimited).
	Limit uint64

	// Duration bounds how long a live stream is followed (0 = until closed).
	Duration time.Duration

	// Collector restricts a RIS Live subscription to one collector.
	Collector string

	// HTTPTimeout bounds fetching a remote dump.
	HTTPTimeout time.Duration
}

// Open picks the source kind from the location's scheme; "-" reads stdin.
// Failures are returned as *models.SourceError.
func Open(ctx context.Context, location string, opts Options) (Source, error) {
	var (
		src Source
		err error
	)
	switch {
	case strings.HasPrefix(location, "ws://"), strings.HasPrefix(location, "wss://"):
		src = openLive(ctx, location, opts)
	case strings.HasPrefix(location, "http://"), strings.HasPrefix(location, "https://"):
		src, err = openHTTP(ctx, location, opts)
	default:
		src, err = openFile(location)
	}
	if err != nil {
		return nil, &models.SourceError{Location: location, Err: err}
	}
	if opts.Limit > 0 {
		src = &limited{Source: src, remaining: opts.Limit}
	}
	return &tagged{Source: src, location: location}, nil
}

// limited ends the stream after a fixed number of elements.
type limited struct {
	Source
	remaining uint64
}

func (l *limited) Next() (models.RawRecord, error) {
	if l.remaining == 0 {
		return models.RawRecord{}, io.EOF
	}
	rec, err := l.Source.Next()
	if err == nil {
		l.remaining--
	}
	return rec, err
}

// tagged wraps stream errors as SourceErrors carrying the location.
type tagged struct {
	Source
	location string
}

func (t *tagged) Next() (models.RawRecord, error) {
	rec, err := t.Source.Next()
	if err != nil && err != io.EOF {
		if _, ok := err.(*models.SourceError); !ok {
			err = &models.SourceError{Location: t.location, Err: err}
		}
	}
	return rec, err
}
