// Package telemetry provides traces and metrics for pipeline runs and their stages.
// Supported metrics includes:
// - rps(*_started_total)
// - success/error count(*_handled_total)
// - latency histogram(*_handling_seconds_bucket)
//
// Metrics are pushed to a Prometheus pushgateway at the end of a run when a push URL is set.
package telemetry
