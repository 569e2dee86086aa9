// Package metrics exposes run counters in Prometheus form. A batch run
// has no scrape endpoint, so the registry is written to a node_exporter
// textfile when the run ends.
package metrics

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hervehildenbrand/bgpagg/pkg/models"
)

const namespace = "bgpagg"

const (
	MetricRecordsRead     = "records_read_total"
	MetricRowsProduced    = "rows_produced_total"
	MetricRowsPersisted   = "rows_persisted_total"
	MetricSinkWriteErrors = "sink_write_errors_total"
	MetricRunDuration     = "run_duration_seconds"
	MetricLastSuccess     = "last_success_timestamp_seconds"
)

// Metrics holds the counters of one run on a private registry.
// A nil *Metrics ignores every observation.
type Metrics struct {
	Registry *prometheus.Registry

	RecordsRead     *prometheus.CounterVec
	RowsProduced    prometheus.Counter
	RowsPersisted   *prometheus.CounterVec
	SinkWriteErrors *prometheus.CounterVec
	RunDuration     prometheus.Gauge
	LastSuccess     prometheus.Gauge
}

// New registers a fresh set of collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		RecordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRecordsRead,
			Help:      "BGP elements consumed from sources.",
		}, []string{"elem_type"}),
		RowsProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsProduced,
			Help:      "Aggregate rows drained for persistence.",
		}),
		RowsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricRowsPersisted,
			Help:      "Aggregate rows accepted by the sink.",
		}, []string{"sink"}),
		SinkWriteErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      MetricSinkWriteErrors,
			Help:      "Aggregate rows the sink failed to persist.",
		}, []string{"sink"}),
		RunDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricRunDuration,
			Help:      "Wall time of the last run.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      MetricLastSuccess,
			Help:      "Unix time the last successful run finished.",
		}),
	}
	m.Registry.MustRegister(
		m.RecordsRead, m.RowsProduced, m.RowsPersisted,
		m.SinkWriteErrors, m.RunDuration, m.LastSuccess,
	)
	return m
}

func (m *Metrics) ObserveRecord(t models.ElemType) {
	if m == nil {
		return
	}
	m.RecordsRead.WithLabelValues(t.String()).Inc()
}

func (m *Metrics) ObserveRows(n int) {
	if m == nil {
		return
	}
	m.RowsProduced.Add(float64(n))
}

// ObservePersist records the outcome of one PersistBatch call. A
// *models.BatchError counts only its failed rows as errors; any other
// error counts the whole batch.
func (m *Metrics) ObservePersist(sink string, total int, err error) {
	if m == nil {
		return
	}
	failed := 0
	if err != nil {
		var be *models.BatchError
		if errors.As(err, &be) {
			failed = len(be.Failed)
		} else {
			failed = total
		}
	}
	m.RowsPersisted.WithLabelValues(sink).Add(float64(total - failed))
	m.SinkWriteErrors.WithLabelValues(sink).Add(float64(failed))
}

// Finish records the run duration, and the completion time on success.
func (m *Metrics) Finish(started time.Time, success bool) {
	if m == nil {
		return
	}
	now := time.Now()
	m.RunDuration.Set(now.Sub(started).Seconds())
	if success {
		m.LastSuccess.Set(float64(now.Unix()))
	}
}

// WriteTextfile writes the registry atomically to path.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
