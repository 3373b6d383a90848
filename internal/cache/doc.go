/*
Package cache keeps the outcome of asynchronously dispatched messages so
clients can poll for them by message id.

# Stores

  - MemoryStore: an in-process map with per-entry expiry. The default.
  - RedisStore: go-redis backed, JSON values under "flowstream:message:<id>"
    with a TTL, for deployments running several replicas.
  - SQLStore: GORM over sqlite, postgres or mysql through
    internal/database, schema versioned by internal/migration. Expired
    rows are hidden on read and purged every minute.

# Dispatch integration

DispatchRecorder implements pipeline.DispatchObserver: it writes a pending
status when a message is accepted and the final status when it finishes.
Store failures are logged, never returned to the flow.
*/
package cache
