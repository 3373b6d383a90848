/*
Package server manages the lifecycle of the HTTP servers flowstream runs:
non-blocking start, graceful shutdown, SIGINT/SIGTERM handling and
asynchronous error reporting.

Config.MaxConnections bounds concurrently accepted connections with
netutil.LimitListener. Each connection may hold a request body that the
streaming engine buffers in memory, so the cap is also a memory bound.
StartTLS serves HTTPS with tlsutil.DefaultTLSConfig.
*/
package server
