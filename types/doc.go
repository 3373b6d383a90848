/*
Package types holds the structured error type shared by the pipeline, the
HTTP API and the command line.

Error carries a stable ErrorCode, an HTTP status and a retryable flag.
FromStreamingError maps the streaming engine's sentinel errors onto it, so a
read past the in-memory ceiling surfaces as PAYLOAD_TOO_LARGE with status
413 and a failing source as SOURCE_READ_FAILURE.
*/
package types
