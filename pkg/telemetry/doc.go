// Package telemetry wires OpenTelemetry tracing and metrics and the
// Prometheus registry used by the chain server.
//
// Handler-level instruments are created lazily against the global meter
// provider the first time they are used, so the pipeline packages never
// need a provider handed to them.
package telemetry
