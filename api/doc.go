// Package api holds the wire types of the flowstream HTTP API shared by the
// handlers and the CLI.
//
// # Endpoints
//
//	POST /v1/messages          ingest a payload (?async=true to dispatch)
//	GET  /v1/streaming/stats   streaming engine statistics
//	GET  /health, /healthz     liveness
//	GET  /ready                readiness
//	GET  /version              build information
//
// Metrics are served on a separate port at /metrics.
package api
