package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricSet counts and times the spans of one kind. Every metric is labelled
// with the names of the enclosing spans followed by the span's own name;
// Finished additionally carries the completion status.
type MetricSet struct {
	LabelNames []string

	Started  *prometheus.CounterVec
	Finished *prometheus.CounterVec

	durationOpts prometheus.HistogramOpts
	Duration     *prometheus.HistogramVec
}

var kindHelp = map[string]string{
	string(KindRun):   "staging runs",
	string(KindStage): "pipeline stages",
}

func NewMetricSet(app string, labelNames []string, counterOpts ...CounterOption) *MetricSet {
	opts := counterOptions(counterOpts)
	kind := labelNames[len(labelNames)-1]
	what, ok := kindHelp[kind]
	if !ok {
		what = kind + "s"
	}
	return &MetricSet{
		LabelNames: labelNames,
		Started: prometheus.NewCounterVec(
			opts.apply(prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_%s_started_total", app, kind),
				Help: fmt.Sprintf("Number of %s started.", what),
			}), labelNames),
		Finished: prometheus.NewCounterVec(
			opts.apply(prometheus.CounterOpts{
				Name: fmt.Sprintf("%s_%s_finished_total", app, kind),
				Help: fmt.Sprintf("Number of %s finished, by status.", what),
			}), append(append([]string{}, labelNames...), "status")),
		durationOpts: prometheus.HistogramOpts{
			Name:    fmt.Sprintf("%s_%s_duration_seconds", app, kind),
			Help:    fmt.Sprintf("Wall time of %s in seconds.", what),
			Buckets: prometheus.DefBuckets,
		},
	}
}

// Stages range from a file move to a signing service round trip of tens of
// minutes.
var stageBuckets = []float64{0.1, 1, 5, 15, 60, 300, 900, 1800, 3600}

// EnableDurationHistogram registers the duration histogram alongside the
// counters. Calling it again only applies opts to a histogram not yet created.
func (m *MetricSet) EnableDurationHistogram(opts ...HistogramOption) {
	if m.Duration != nil {
		return
	}
	for _, o := range opts {
		o(&m.durationOpts)
	}
	m.Duration = prometheus.NewHistogramVec(m.durationOpts, m.LabelNames)
}

func (m *MetricSet) Observe(start, end time.Time, status string, labelValues []string) {
	m.Started.WithLabelValues(labelValues...).Inc()
	m.Finished.WithLabelValues(append(append([]string{}, labelValues...), status)...).Inc()
	if m.Duration != nil {
		m.Duration.WithLabelValues(labelValues...).Observe(end.Sub(start).Seconds())
	}
}

func (m *MetricSet) Describe(ch chan<- *prometheus.Desc) {
	m.Started.Describe(ch)
	m.Finished.Describe(ch)
	if m.Duration != nil {
		m.Duration.Describe(ch)
	}
}

func (m *MetricSet) Collect(ch chan<- prometheus.Metric) {
	m.Started.Collect(ch)
	m.Finished.Collect(ch)
	if m.Duration != nil {
		m.Duration.Collect(ch)
	}
}
