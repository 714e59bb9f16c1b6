package telemetry

import (
	"sync"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/sdk/trace"
)

var setupOnce sync.Once

// setupGlobalTracer registers the SDK tracer and a span exporter writing to logger.
// The tracer is process global, so only the first call has an effect.
func setupGlobalTracer(logger logr.Logger) {
	setupOnce.Do(func() {
		trace.Register()

		ssp := trace.NewSimpleSpanProcessor(&logExporter{Logger: logger})
		trace.RegisterSpanProcessor(ssp)

		// Runs are rare and every stage matters, so sample all of them
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	})
}
