// Package observability provides the runtime's monitoring surface:
// Prometheus metrics, OpenTelemetry tracing, and the context-key helpers
// (run id, session id, message id, agent id) that correlate log lines and
// spans across one agent loop.
//
// Metrics are registered once via NewMetrics and exposed by the daemon's
// metrics endpoint. Tracing is configured via NewTracer with an OTLP
// endpoint and sampling rate; WithSpan wraps one operation in a span.
// The Add*/Get* context helpers are the only part most packages touch.
package observability
