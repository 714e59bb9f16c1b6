package telemetry

import (
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics is a collection of one MetricSet per span kind. The metric set of a kind is
// labelled with the names of the spans of all the enclosing kinds.
type Metrics struct {
	labelNames       []string
	kindToMetricSets map[string]*MetricSet
}

// NewMetrics returns a Metrics object for kinds ordered from outermost to innermost.
func NewMetrics(name string, labelNames []string, counterOpts ...CounterOption) *Metrics {
	metricsets := map[string]*MetricSet{}
	for i := 0; i < len(labelNames); i++ {
		l := labelNames[i]
		metricsets[l] = NewMetricSet(name, labelNames[:i+1], counterOpts...)
	}

	return &Metrics{
		labelNames:       labelNames,
		kindToMetricSets: metricsets,
	}
}

// EnableDurationHistogram enables the duration histogram of every kind.
func (m *Metrics) EnableDurationHistogram(opts ...HistogramOption) {
	for _, ms := range m.kindToMetricSets {
		ms.EnableDurationHistogram(opts...)
	}
}

// MetricSet returns the metric set of kind, or nil for an unknown kind.
func (m *Metrics) MetricSet(kind string) *MetricSet {
	return m.kindToMetricSets[kind]
}

func (m *Metrics) Describe(ch chan<- *prom.Desc) {
	for _, ms := range m.kindToMetricSets {
		ms.Describe(ch)
	}
}

func (m *Metrics) Collect(ch chan<- prom.Metric) {
	for _, ms := range m.kindToMetricSets {
		ms.Collect(ch)
	}
}

// See https://prometheus.io/docs/instrumenting/pushing/
//
// pushBase can be something like http://pushgateway:9091 (for pushgateway)
// or http://pushgateway:9091/api/ui (for weaveworks/prom-aggregation-gateway)
func (m *Metrics) Push(pushBase, job string, grouping map[string]string) error {
	p := push.New(pushBase, job).Collector(m)
	for k, v := range grouping {
		p = p.Grouping(k, v)
	}
	return p.Push()
}
