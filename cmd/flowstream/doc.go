/*
Package main is the flowstream executable.

# Commands

  - serve: the HTTP ingest service. Each POST to /v1/messages becomes a root
    message whose body is managed as a repeatable stream and run through the
    ingest flow. The config file, when given, is watched and hot reloaded.
  - replay: reads a file through several concurrent cursors and reports
    whether they saw identical bytes while the file was read only once.
  - health: probes /health or /ready of a running server.
  - version: prints build information set through -ldflags.

# Middleware

Recovery, RequestID, SecurityHeaders, OTelTracing, MetricsMiddleware,
RequestLogger and a per-IP RateLimiter, applied in that order. Probe
endpoints skip logging and rate limiting.

# Shutdown

Signal, then hot reload stop, HTTP server, metrics server, dispatch pool
drain, registry close (disposing any provider still held) and telemetry
flush.
*/
package main
