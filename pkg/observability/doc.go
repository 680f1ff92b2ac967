// Package observability provides the shared operational plumbing for the
// warden service: a structured JSON logger with context propagation, a
// Prometheus metrics registry, liveness/readiness probes, graceful
// shutdown coordination, and optional OpenTelemetry export.
package observability
