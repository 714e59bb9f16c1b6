package telemetry

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/sdk/export"
)

// logExporter is an implementation of trace.Exporter that logs finished spans.
type logExporter struct {
	Logger logr.Logger
}

func (e *logExporter) ExportSpan(ctx context.Context, data *export.SpanData) {
	e.Logger.V(2).Info("span",
		"traceId", data.SpanContext.TraceIDString(),
		"parentSpanId", fmt.Sprintf("%.16x", data.ParentSpanID),
		"spanId", data.SpanContext.SpanIDString(),
		"spanName", data.Name,
		"duration", data.EndTime.Sub(data.StartTime).String(),
	)
}
