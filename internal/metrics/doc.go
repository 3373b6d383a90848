/*
Package metrics provides Prometheus metrics for the HTTP surface, the
streaming engine and the message pipeline.

# Overview

Collector registers every metric through promauto, either with the default
registerer or an injected one, under a caller-supplied namespace.

# Core types

  - Collector: holds the counters, gauges and histograms. It implements
    streaming.Recorder, so a Manager or Registry can report into it
    directly.

# Metrics

  - HTTP: request totals by method/path/status class, durations, request
    and response sizes.
  - Streaming: providers opened/disposed by strategy, open cursors, cursor
    leaks, bytes buffered, growth duration, capacity exceeded, source read
    failures, disposed access, disposal failures, segment pool hit ratio.
  - Pipeline: messages by flow and outcome, message duration.
*/
package metrics
