package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/internal/pool"
	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/types"
)

// =============================================================================
// 🌊 Streaming stats
// =============================================================================

// StreamingHandler reports the state of the streaming engine.
type StreamingHandler struct {
	manager  *streaming.Manager
	dispatch *pool.GoroutinePool
	logger   *zap.Logger
}

// StreamingStats is the /v1/streaming/stats payload.
type StreamingStats struct {
	Registry    streaming.RegistryStats  `json:"registry"`
	SegmentPool SegmentPoolStats         `json:"segment_pool"`
	Dispatch    *pool.GoroutinePoolStats `json:"dispatch,omitempty"`
	Defaults    StreamingDefaults        `json:"defaults"`
}

// SegmentPoolStats adds the hit rate to the raw pool counters.
type SegmentPoolStats struct {
	streaming.PoolStats
	HitRate float64 `json:"hit_rate"`
}

// StreamingDefaults is the configuration applied to newly managed streams.
type StreamingDefaults struct {
	Strategy streaming.Strategy     `json:"strategy"`
	Buffer   streaming.BufferConfig `json:"buffer"`
}

// NewStreamingHandler creates the handler. dispatch may be nil.
func NewStreamingHandler(manager *streaming.Manager, dispatch *pool.GoroutinePool, logger *zap.Logger) *StreamingHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamingHandler{
		manager:  manager,
		dispatch: dispatch,
		logger:   logger.With(zap.String("component", "streaming_handler")),
	}
}

// HandleStats serves GET /v1/streaming/stats.
func (h *StreamingHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}
	WriteSuccess(w, h.Stats())
}

// Stats collects the current statistics.
func (h *StreamingHandler) Stats() StreamingStats {
	segs := h.manager.Pool().Stats()
	stats := StreamingStats{
		Registry:    h.manager.Registry().Stats(),
		SegmentPool: SegmentPoolStats{PoolStats: segs, HitRate: segs.HitRate()},
		Defaults: StreamingDefaults{
			Strategy: h.manager.Strategy(),
			Buffer:   h.manager.Config(),
		},
	}
	if h.dispatch != nil {
		d := h.dispatch.Stats()
		stats.Dispatch = &d
	}
	return stats
}
