// Package observability provides structured logging, Prometheus metrics,
// health checks, OpenTelemetry wiring, and graceful shutdown for the tenant
// management API.
//
// The logger is a thin wrapper over logrus emitting JSON. Request-scoped
// loggers travel in the request context and carry the request id; use
// FromContext in handlers.
//
// Metrics are registered on an injected *prometheus.Registry so tests can use
// isolated registries. Business gauges (tenant/group/membership counts) are
// refreshed on a cron schedule by StatsCollector rather than on the request
// path.
package observability
