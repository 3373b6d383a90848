package metrics

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/streaming"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

// =============================================================================
// 🧪 Collector tests
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.providersOpened)
	assert.NotNil(t, collector.cursorsOpen)
	assert.NotNil(t, collector.messagesTotal)
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordHTTPRequest("POST", "/v1/messages", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("POST", "/v1/messages", 413, 5*time.Millisecond, 1<<20, 128)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/messages", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/v1/messages", "4xx")))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.httpRequestDuration))
}

func TestCollector_StreamingRecorder(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	var rec streaming.Recorder = collector

	rec.ProviderOpened(streaming.StrategyRepeatableInMemory)
	rec.ProviderOpened(streaming.StrategyNonRepeatable)
	rec.CursorOpened()
	rec.CursorOpened()
	rec.CursorClosed()
	rec.BufferGrown(4096, 2*time.Millisecond)
	rec.BufferGrown(1024, time.Millisecond)
	rec.CapacityExceeded()
	rec.SourceFailed()
	rec.DisposedAccess()
	rec.DisposalFailed()
	rec.ProviderDisposed(streaming.StrategyRepeatableInMemory, 3)
	rec.ProviderDisposed(streaming.StrategyNonRepeatable, 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.providersOpened.WithLabelValues("repeatable-in-memory")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.providersOpened.WithLabelValues("non-repeatable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cursorsOpen))
	assert.Equal(t, 3.0, testutil.ToFloat64(collector.cursorLeaks))
	assert.Equal(t, 5120.0, testutil.ToFloat64(collector.bytesBuffered))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.capacityExceeded))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.sourceFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.disposedAccess))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.disposalFailures))
	assert.Equal(t, 2.0, testutil.ToFloat64(collector.providersDisposed.WithLabelValues("repeatable-in-memory"))+
		testutil.ToFloat64(collector.providersDisposed.WithLabelValues("non-repeatable")))
}

func TestCollector_RecordMessage(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordMessage("ingest", "success", 10*time.Millisecond)
	collector.RecordMessage("ingest", "success", 20*time.Millisecond)
	collector.RecordMessage("ingest", "failure", 5*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.messagesTotal.WithLabelValues("ingest", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.messagesTotal.WithLabelValues("ingest", "failure")))
}

func TestCollector_WiredIntoEngine(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())
	registry := streaming.NewRegistry(streaming.WithRegistryRecorder(collector))
	defer registry.Close()
	mgr, err := streaming.NewManager(registry, streaming.WithManagerRecorder(collector))
	require.NoError(t, err)

	p, err := mgr.Manage(t.Context(), strings.NewReader("hello world"), "root")
	require.NoError(t, err)
	c, err := p.OpenCursor()
	require.NoError(t, err)
	_, _, err = c.Next(64)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cursorsOpen))
	registry.OnRootCompleted("root")

	assert.Equal(t, 0.0, testutil.ToFloat64(collector.cursorsOpen))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.cursorLeaks))
	assert.Equal(t, 11.0, testutil.ToFloat64(collector.bytesBuffered))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				collector.RecordHTTPRequest("GET", "/health", 200, time.Millisecond, 0, 10)
				collector.CursorOpened()
				collector.CursorClosed()
				collector.BufferGrown(1, time.Microsecond)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/health", "2xx")))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.cursorsOpen))
	assert.Equal(t, 1000.0, testutil.ToFloat64(collector.bytesBuffered))
}

func TestCollector_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := NewCollectorWith(reg, "flowstream", zap.NewNop())
	collector.CapacityExceeded()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, mf := range families {
		names[mf.GetName()] = true
	}
	assert.True(t, names["flowstream_streaming_capacity_exceeded_total"])
	assert.True(t, names["flowstream_streaming_segment_pool_hit_ratio"])
}

func TestStatusCode(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 413: "4xx", 500: "5xx", 100: "unknown"}
	for code, want := range tests {
		assert.Equal(t, want, statusCode(code), code)
	}
}
