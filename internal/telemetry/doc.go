// Package telemetry wires the OpenTelemetry SDK for flowstream: OTLP gRPC
// exporters for traces and metrics when enabled, noop providers otherwise.
package telemetry
