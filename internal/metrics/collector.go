// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/streaming"
)

// =============================================================================
// 📊 Collector
// =============================================================================

// Collector owns every Prometheus metric of the process. It implements
// streaming.Recorder so the engine reports into it directly.
type Collector struct {
	// HTTP
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpRequestSize     *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	// Streaming engine
	providersOpened   *prometheus.CounterVec
	providersDisposed *prometheus.CounterVec
	cursorsOpen       prometheus.Gauge
	cursorLeaks       prometheus.Counter
	bytesBuffered     prometheus.Counter
	growthDuration    prometheus.Histogram
	capacityExceeded  prometheus.Counter
	sourceFailures    prometheus.Counter
	disposedAccess    prometheus.Counter
	disposalFailures  prometheus.Counter

	// Pipeline
	messagesTotal   *prometheus.CounterVec
	messageDuration *prometheus.HistogramVec

	namespace string
	logger    *zap.Logger
}

// NewCollector creates a collector registered with the default registerer.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith creates a collector registered with reg.
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := promauto.With(reg)
	c := &Collector{
		namespace: namespace,
		logger:    logger.With(zap.String("component", "metrics")),
	}

	// HTTP
	c.httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpRequestSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// Streaming engine
	c.providersOpened = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streaming",
			Name:      "providers_opened_total",
			Help:      "Cursor providers created, by strategy",
		},
		[]string{"strategy"},
	)

	c.providersDisposed = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "streaming",
			Name:      "providers_disposed_total",
			Help:      "Cursor providers disposed, by strategy",
		},
		[]string{"strategy"},
	)

	c.cursorsOpen = f.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "cursors_open",
		Help:      "Cursors currently open",
	})

	c.cursorLeaks = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "cursor_leaks_total",
		Help:      "Cursors force-closed because their provider was disposed first",
	})

	c.bytesBuffered = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "buffered_bytes_total",
		Help:      "Bytes pulled from sources into buffers",
	})

	c.growthDuration = f.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "buffer_growth_duration_seconds",
		Help:      "Time spent pulling from a source during one buffer growth",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	c.capacityExceeded = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "capacity_exceeded_total",
		Help:      "Reads that crossed the in-memory ceiling",
	})

	c.sourceFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "source_read_failures_total",
		Help:      "Failed reads from the underlying source",
	})

	c.disposedAccess = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "disposed_access_total",
		Help:      "Reads that reached a disposed stream",
	})

	c.disposalFailures = f.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "disposal_failures_total",
		Help:      "Providers whose disposal returned an error or panicked",
	})

	// Pipeline
	c.messagesTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "messages_total",
			Help:      "Messages processed, by flow and outcome",
		},
		[]string{"flow", "outcome"},
	)

	c.messageDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "message_duration_seconds",
			Help:      "Time from root creation to settlement",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"flow"},
	)

	// Segment pool
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "streaming",
		Name:      "segment_pool_hit_ratio",
		Help:      "Fraction of segment acquisitions served from the pool",
	}, func() float64 { return streaming.DefaultSegmentPool.Stats().HitRate() })

	return c
}

// =============================================================================
// 🎯 HTTP
// =============================================================================

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// =============================================================================
// 🌊 Streaming (streaming.Recorder)
// =============================================================================

func (c *Collector) ProviderOpened(strategy streaming.Strategy) {
	c.providersOpened.WithLabelValues(string(strategy)).Inc()
}

func (c *Collector) ProviderDisposed(strategy streaming.Strategy, leakedCursors int) {
	c.providersDisposed.WithLabelValues(string(strategy)).Inc()
	if leakedCursors > 0 {
		c.cursorLeaks.Add(float64(leakedCursors))
	}
}

func (c *Collector) CursorOpened() { c.cursorsOpen.Inc() }

func (c *Collector) CursorClosed() { c.cursorsOpen.Dec() }

func (c *Collector) BufferGrown(bytes int64, elapsed time.Duration) {
	c.bytesBuffered.Add(float64(bytes))
	c.growthDuration.Observe(elapsed.Seconds())
}

func (c *Collector) CapacityExceeded() { c.capacityExceeded.Inc() }

func (c *Collector) SourceFailed() { c.sourceFailures.Inc() }

func (c *Collector) DisposedAccess() { c.disposedAccess.Inc() }

func (c *Collector) DisposalFailed() { c.disposalFailures.Inc() }

var _ streaming.Recorder = (*Collector)(nil)

// =============================================================================
// 🔀 Pipeline
// =============================================================================

// RecordMessage records a settled root message.
func (c *Collector) RecordMessage(flow, outcome string, duration time.Duration) {
	c.messagesTotal.WithLabelValues(flow, outcome).Inc()
	c.messageDuration.WithLabelValues(flow).Observe(duration.Seconds())
}

// =============================================================================
// 🔧 Helpers
// =============================================================================

// statusCode buckets an HTTP status code.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
