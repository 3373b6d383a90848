/*
Package handlers implements the flowstream HTTP API.

# Endpoints

  - IngestHandler: POST /v1/messages runs the request body through a
    pipeline.Flow. Query parameters become message attributes and
    ?async=true dispatches the message and answers 202.
  - StreamingHandler: GET /v1/streaming/stats reports registry, segment
    pool and dispatch pool statistics plus the active streaming defaults.
  - HealthHandler: /health, /healthz, /ready and /version.

Every response uses the Response envelope. Errors are *types.Error values;
engine errors are translated with types.FromStreamingError, so a body too
large to buffer repeatably answers 413.
*/
package handlers
