package api

// Route paths served by flowstream.
const (
	PathMessages       = "/v1/messages"
	PathMessageStatus  = "GET /v1/messages/{id}"
	PathMessageSocket  = "GET " + SocketPath
	PathEvents         = "/v1/events"
	PathStreamingStats = "/v1/streaming/stats"
	PathHealth         = "/health"
	PathHealthz        = "/healthz"
	PathReady          = "/ready"
	PathVersion        = "/version"
	PathMetrics        = "/metrics"
)

// SocketPath is the WebSocket ingest endpoint. It shadows the message id
// "socket" on the status route.
const SocketPath = "/v1/messages/socket"

// HealthPaths lists the probe endpoints that bypass rate limiting and
// request logging.
var HealthPaths = []string{PathHealth, PathHealthz, PathReady}

// IsHealthPath reports whether path is a probe endpoint.
func IsHealthPath(path string) bool {
	for _, p := range HealthPaths {
		if p == path {
			return true
		}
	}
	return false
}
