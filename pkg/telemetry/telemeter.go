package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/api/core"
	"go.opentelemetry.io/api/trace"
	"google.golang.org/grpc/codes"
	"k8s.io/klog/klogr"
)

type SpanKind string

const (
	KindRun   SpanKind = "run"
	KindStage SpanKind = "stage"

	AttributeKeyKind = "kind"
)

// Telemeter wraps pipeline work in trace spans and records one observation per span
// in the metric set of its kind. A nil *Telemeter runs the work without any telemetry.
type Telemeter struct {
	jobName          string
	promPushEndpoint string
	grouping         map[string]string

	labelNames   []string
	nonLeafKinds map[string]struct{}
	kinds        map[string]struct{}

	Tracer trace.Tracer

	Metrics *Metrics

	Logger logr.Logger

	CurrentSpan func(ctx context.Context) trace.Span

	now func() time.Time
}

type Option interface {
	SetOption(r *Telemeter) error
}

type optionFunc func(r *Telemeter) error

func (f optionFunc) SetOption(r *Telemeter) error {
	return f(r)
}

func Logger(l logr.Logger) Option {
	return optionFunc(func(r *Telemeter) error {
		r.Logger = l
		return nil
	})
}

// PushURL sets the pushgateway that Push sends the metrics to. Without it Push is a no-op.
func PushURL(u string) Option {
	return optionFunc(func(r *Telemeter) error {
		r.promPushEndpoint = u
		return nil
	})
}

// Grouping adds a grouping label to the pushed metrics.
func Grouping(k, v string) Option {
	return optionFunc(func(r *Telemeter) error {
		r.grouping[k] = v
		return nil
	})
}

func New(jobName string, kinds []SpanKind, opts ...Option) (*Telemeter, error) {
	labelNames := make([]string, len(kinds))
	for i := range kinds {
		labelNames[i] = string(kinds[i])
	}

	r := &Telemeter{
		jobName:      jobName,
		grouping:     map[string]string{},
		labelNames:   labelNames,
		nonLeafKinds: labelNamesToNonLeafKinds(labelNames),
		kinds:        labelNamesToKinds(labelNames),
		CurrentSpan:  trace.CurrentSpan,
		now:          time.Now,
	}

	for _, o := range opts {
		if err := o.SetOption(r); err != nil {
			return nil, err
		}
	}

	if r.Logger == nil {
		r.Logger = klogr.New()
	}

	jobLabels := prometheus.Labels{"job_name": jobName}
	m := NewMetrics(jobName, labelNames, WithConstLabels(jobLabels))
	m.EnableDurationHistogram(WithHistogramBuckets(stageBuckets), WithHistogramConstLabels(jobLabels))

	r.Metrics = m

	setupGlobalTracer(r.Logger)

	r.Tracer = trace.GlobalTracer()

	return r, nil
}

func (r *Telemeter) withNonLeafKind(ctx context.Context, kind, name string) context.Context {
	return context.WithValue(ctx, kindToContextKey(kind), name)
}

type contextKey string

func kindToContextKey(kind string) contextKey {
	return contextKey(fmt.Sprintf("wbstage.%s", kind))
}

func contextGetNameForKind(ctx context.Context, kind string) string {
	name, _ := ctx.Value(kindToContextKey(kind)).(string)
	return name
}

func labelNamesToNonLeafKinds(labelNames []string) map[string]struct{} {
	ctxLabels := map[string]struct{}{}
	for i := 0; i < len(labelNames)-1; i++ {
		ctxLabels[labelNames[i]] = struct{}{}
	}
	return ctxLabels
}

func labelNamesToKinds(labelNames []string) map[string]struct{} {
	kinds := map[string]struct{}{}
	for i := 0; i < len(labelNames); i++ {
		kinds[labelNames[i]] = struct{}{}
	}
	return kinds
}

// WithSpan runs body in a span named operation. The outcome and duration are recorded
// in the metric set of kind, labelled with the names of the enclosing spans.
func (r *Telemeter) WithSpan(ctx context.Context, k SpanKind, operation string, body func(ctx context.Context) error) error {
	if r == nil {
		return body(ctx)
	}

	kind := string(k)

	if _, ok := r.kinds[kind]; !ok {
		return fmt.Errorf("unregistered kind found: %q", kind)
	}

	// Stages are labelled with the run that executed them
	if _, ok := r.nonLeafKinds[kind]; ok {
		ctx = r.withNonLeafKind(ctx, kind, operation)
	}

	start := r.now()
	err := r.Tracer.WithSpan(ctx, operation, func(ctx context.Context) error {
		// This attribute is used to tell the exporter about the kind
		r.setAttribute(ctx, AttributeKeyKind, kind)

		err := body(ctx)

		if err != nil {
			r.CurrentSpan(ctx).SetStatus(codes.Unknown)
		} else {
			r.CurrentSpan(ctx).SetStatus(codes.OK)
		}

		return err
	})
	end := r.now()

	r.observe(ctx, kind, operation, start, end, err)

	return err
}

func (r *Telemeter) observe(ctx context.Context, kind, operation string, start, end time.Time, err error) {
	ms := r.Metrics.MetricSet(kind)
	if ms == nil {
		return
	}

	var labelValues []string
	for _, l := range r.labelNames {
		if l == kind {
			break
		}
		labelValues = append(labelValues, contextGetNameForKind(ctx, l))
	}
	labelValues = append(labelValues, operation)

	status := codes.OK
	if err != nil {
		status = codes.Unknown
	}

	ms.Observe(start, end, status.String(), labelValues)
}

func (r *Telemeter) AddTraceEvent(ctx context.Context, msg string, attrs ...core.KeyValue) {
	if r == nil {
		return
	}

	kvs := make([]interface{}, 0, len(attrs)*2)
	for i := range attrs {
		kvs = append(kvs, attrs[i].Key.Name, attrs[i].Value.Emit())
	}
	r.Logger.V(1).Info(msg, kvs...)

	r.CurrentSpan(ctx).AddEvent(ctx, msg, attrs...)
}

func (r *Telemeter) setAttribute(ctx context.Context, k, v string) {
	r.CurrentSpan(ctx).SetAttribute(core.Key{Name: k}.String(v))
}

// Push sends the collected metrics to the pushgateway, if one is configured.
func (r *Telemeter) Push() error {
	if r == nil || r.promPushEndpoint == "" {
		return nil
	}
	r.Logger.V(1).Info("pushing metrics", "url", r.promPushEndpoint, "job", r.jobName)
	return r.Metrics.Push(r.promPushEndpoint, r.jobName, r.grouping)
}
