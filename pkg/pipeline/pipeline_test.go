package pipeline

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hervehildenbrand/bgpagg/pkg/aggregate"
	"github.com/hervehildenbrand/bgpagg/pkg/enrich"
	"github.com/hervehildenbrand/bgpagg/pkg/metrics"
	"github.com/hervehildenbrand/bgpagg/pkg/models"
	"github.com/hervehildenbrand/bgpagg/pkg/source"
)

// sliceSource yields records and then a final error (io.EOF by default).
type sliceSource struct {
	recs   []models.RawRecord
	end    error
	reads  int
	closed bool
}

func (s *sliceSource) Next() (models.RawRecord, error) {
	if s.reads < len(s.recs) {
		s.reads++
		return s.recs[s.reads-1], nil
	}
	if s.end != nil {
		return models.RawRecord{}, s.end
	}
	return models.RawRecord{}, io.EOF
}

func (s *sliceSource) Close() error {
	s.closed = true
	return nil
}

type memSink struct {
	mu    sync.Mutex
	rows  []models.AggregateRow
	calls int
	err   error
}

func (m *memSink) PersistBatch(_ context.Context, rows []models.AggregateRow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.rows = append(m.rows, rows...)
	return m.err
}

func (m *memSink) Close() error { return nil }

func announce(prefix string, ts float64, path ...uint32) models.RawRecord {
	return models.RawRecord{Type: models.ElemAnnounce, Prefix: prefix, ASPath: models.Sequence(path...), NextHop: "1.1.1.1", PeerIP: "2.2.2.2", Timestamp: ts}
}

func withdraw(prefix string, ts float64) models.RawRecord {
	return models.RawRecord{Type: models.ElemWithdraw, Prefix: prefix, PeerIP: "2.2.2.2", Timestamp: ts}
}

func staticOpener(sources map[string]*sliceSource) Opener {
	return func(_ context.Context, location string) (source.Source, error) {
		src, ok := sources[location]
		if !ok {
			return nil, &models.SourceError{Location: location, Err: os.ErrNotExist}
		}
		return src, nil
	}
}

func TestRun(t *testing.T) {
	src := &sliceSource{recs: []models.RawRecord{
		announce("10.0.0.0/24", 100, 100, 200),
		announce("10.0.0.0/24", 50, 100, 200),
		withdraw("10.0.0.0/24", 75),
	}}
	agg := aggregate.New()
	m := metrics.New()

	require.NoError(t, Run(context.Background(), "mem", src, agg, m))
	assert.Equal(t, 3, src.reads)
	assert.Equal(t, 2, agg.Len())
	assert.Equal(t, uint64(3), agg.Observed())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RecordsRead.WithLabelValues("ANNOUNCE")))
}

func TestRun_BrokenStream(t *testing.T) {
	src := &sliceSource{
		recs: []models.RawRecord{announce("10.0.0.0/24", 1, 64500)},
		end:  errors.New("unexpected end of gzip stream"),
	}
	err := Run(context.Background(), "dump.gz", src, aggregate.New(), nil)

	var se *models.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "dump.gz", se.Location)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := &sliceSource{recs: []models.RawRecord{announce("10.0.0.0/24", 1, 64500)}}

	err := Run(ctx, "mem", src, aggregate.New(), nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, src.reads)
}

func TestRunAll_MatchesSingleRun(t *testing.T) {
	recs := []models.RawRecord{
		announce("10.0.0.0/24", 100, 100, 200),
		announce("10.0.0.0/24", 50, 100, 200),
		withdraw("10.0.0.0/24", 75),
		announce("192.0.2.0/24", 10, 64500),
		announce("10.0.0.0/24", 300, 100, 200),
	}

	single := aggregate.New()
	require.NoError(t, Run(context.Background(), "all", &sliceSource{recs: recs}, single, nil))
	want := single.Drain()

	sources := map[string]*sliceSource{
		"a": {recs: recs[:2]},
		"b": {recs: recs[2:4]},
		"c": {recs: recs[4:]},
	}
	agg, err := RunAll(context.Background(), []string{"a", "b", "c"}, staticOpener(sources), 2, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), agg.Observed())
	assert.ElementsMatch(t, want, agg.Drain())

	for name, src := range sources {
		assert.True(t, src.closed, "source %s not closed", name)
	}
}

func TestRunAll_Errors(t *testing.T) {
	_, err := RunAll(context.Background(), nil, staticOpener(nil), 1, nil)
	var ce *models.ConfigError
	assert.ErrorAs(t, err, &ce)

	sources := map[string]*sliceSource{"a": {recs: []models.RawRecord{withdraw("10.0.0.0/24", 1)}}}
	_, err = RunAll(context.Background(), []string{"a", "missing"}, staticOpener(sources), 0, nil)
	var se *models.SourceError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "missing", se.Location)
}

func TestExecute(t *testing.T) {
	sources := map[string]*sliceSource{
		"a": {recs: []models.RawRecord{
			announce("10.0.0.0/24", 100, 100, 13335),
			announce("10.0.0.0/24", 50, 100, 13335),
		}},
		"b": {recs: []models.RawRecord{withdraw("10.0.0.0/24", 75)}},
	}
	csvPath := filepath.Join(t.TempDir(), "asn.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("13335,US\n"), 0644))
	resolver, err := enrich.NewFileResolver(csvPath)
	require.NoError(t, err)

	sink := &memSink{}
	m := metrics.New()
	sum, err := Execute(context.Background(), Job{
		Locations: []string{"a", "b"},
		Open:      staticOpener(sources),
		Sink:      sink,
		SinkName:  "memory",
		Resolver:  resolver,
		Metrics:   m,
	})
	require.NoError(t, err)
	assert.Equal(t, Summary{Records: 3, Rows: 2, Annotated: 1}, sum)

	require.Equal(t, 1, sink.calls)
	require.Len(t, sink.rows, 2)
	assert.Less(t, sink.rows[0].UUID, sink.rows[1].UUID)
	for _, row := range sink.rows {
		if row.ElemType == "ANNOUNCE" {
			assert.Equal(t, uint64(2), row.Count)
			assert.Equal(t, "US", row.OriginCountry)
		}
	}
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RowsProduced))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RowsPersisted.WithLabelValues("memory")))
}

func TestExecute_SourceFailurePersistsNothing(t *testing.T) {
	sources := map[string]*sliceSource{
		"a": {recs: []models.RawRecord{withdraw("10.0.0.0/24", 1)}, end: errors.New("corrupt record")},
	}
	sink := &memSink{}
	_, err := Execute(context.Background(), Job{
		Locations: []string{"a"},
		Open:      staticOpener(sources),
		Sink:      sink,
		SinkName:  "memory",
	})

	var se *models.SourceError
	require.ErrorAs(t, err, &se)
	assert.True(t, models.IsFatal(err))
	assert.Zero(t, sink.calls)
}

func TestExecute_SinkErrorReturned(t *testing.T) {
	sources := map[string]*sliceSource{"a": {recs: []models.RawRecord{withdraw("10.0.0.0/24", 1)}}}
	batchErr := &models.BatchError{Sink: "memory", Total: 1, Failed: []*models.SinkWriteError{{Sink: "memory", UUID: "x"}}}
	sink := &memSink{err: batchErr}
	m := metrics.New()

	_, err := Execute(context.Background(), Job{
		Locations: []string{"a"},
		Open:      staticOpener(sources),
		Sink:      sink,
		SinkName:  "memory",
		Metrics:   m,
	})
	assert.Same(t, batchErr, err)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkWriteErrors.WithLabelValues("memory")))
}

func TestExecute_NilResolverLeavesRowsUnannotated(t *testing.T) {
	sources := map[string]*sliceSource{"a": {recs: []models.RawRecord{announce("10.0.0.0/24", 1, 100, 13335)}}}
	sink := &memSink{}

	sum, err := Execute(context.Background(), Job{
		Locations: []string{"a"},
		Open:      staticOpener(sources),
		Sink:      sink,
		SinkName:  "memory",
	})
	require.NoError(t, err)
	assert.Zero(t, sum.Annotated)
	require.Len(t, sink.rows, 1)
	assert.Equal(t, "13335", sink.rows[0].ASN)
	assert.Empty(t, sink.rows[0].OriginCountry)
}

func TestRunAll_EachLocationGetsItsOwnSlot(t *testing.T) {
	sources := map[string]*sliceSource{
		"a": {recs: []models.RawRecord{withdraw("10.0.0.0/24", 1)}},
		"b": {recs: []models.RawRecord{withdraw("10.0.1.0/24", 2)}},
		"c": {recs: []models.RawRecord{withdraw("10.0.2.0/24", 3)}},
	}
	agg, err := RunAll(context.Background(), []string{"a", "b", "c"}, staticOpener(sources), 3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, agg.Len())
	assert.Equal(t, uint64(3), agg.Observed())
}

func TestExecute_DumpFile(t *testing.T) {
	dump := filepath.Join(t.TempDir(), "updates.jsonl")
	require.NoError(t, os.WriteFile(dump, []byte(
		`{"timestamp":100,"peer":"2.2.2.2","peer_asn":64496,"path":[100,200],"announcements":[{"next_hop":"1.1.1.1","prefixes":["10.0.0.0/24"]}]}
{"timestamp":50,"peer":"2.2.2.2","peer_asn":64496,"path":[100,200],"announcements":[{"next_hop":"1.1.1.1","prefixes":["10.0.0.0/24"]}]}
{"timestamp":75,"peer":"2.2.2.2","peer_asn":64496,"withdrawals":["10.0.0.0/24"]}
`), 0644))

	sink := &memSink{}
	sum, err := Execute(context.Background(), Job{
		Locations: []string{dump},
		Open:      DefaultOpener(source.Options{}),
		Sink:      sink,
		SinkName:  "memory",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Rows)

	byID := map[string]models.AggregateRow{}
	for _, row := range sink.rows {
		byID[row.UUID] = row
	}
	ann := byID["8dc6aa08-e409-54a5-aadf-37c4de314685"]
	assert.Equal(t, uint64(2), ann.Count)
	assert.Equal(t, float64(50), ann.MinTimestamp)
	assert.Equal(t, float64(100), ann.MaxTimestamp)
	assert.Equal(t, "200", ann.ASN)

	wd := byID["fef47887-61d0-590e-824c-25389a453ff7"]
	assert.Equal(t, uint64(1), wd.Count)
	assert.Equal(t, "", wd.ASPath)
	assert.Equal(t, "", wd.NextHop)
}
