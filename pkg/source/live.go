package source

import (
	"context"
	"io"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
	"github.com/hervehildenbrand/bgpagg/pkg/rislive"
)

// live follows a RIS Live WebSocket. Reaching Duration ends the stream
// normally; a broken connection ends it with an error.
type live struct {
	client *rislive.Client
	cancel context.CancelFunc
}

func openLive(ctx context.Context, url string, opts Options) Source {
	var cancel context.CancelFunc
	if opts.Duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	client := rislive.NewClient(url, rislive.Options{Collector: opts.Collector})
	client.Start(ctx)
	return &live{client: client, cancel: cancel}
}

func (l *live) Next() (models.RawRecord, error) {
	rec, ok := <-l.client.Records()
	if !ok {
		if err := l.client.Err(); err != nil {
			return models.RawRecord{}, err
		}
		return models.RawRecord{}, io.EOF
	}
	return rec, nil
}

func (l *live) Close() error {
	l.cancel()
	l.client.Stop()
	return nil
}
