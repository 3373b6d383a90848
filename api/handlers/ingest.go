package handlers

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/internal/ctxkeys"
	"github.com/BaSui01/flowstream/pipeline"
	"github.com/BaSui01/flowstream/types"
)

// =============================================================================
// 📥 Ingest
// =============================================================================

// HeaderCorrelationID names the request header whose value becomes the
// message id.
const HeaderCorrelationID = "X-Correlation-ID"

// Attributes the handler sets from the request. They override query
// parameters of the same name.
const (
	AttrContentType = "content_type"
	AttrSubject     = "subject"
	AttrTenantID    = "tenant_id"
)

// IngestHandler feeds request bodies into a flow.
type IngestHandler struct {
	flow   *pipeline.Flow
	logger *zap.Logger
}

// IngestResponse is the result of a synchronous ingest.
type IngestResponse struct {
	MessageID  string            `json:"message_id"`
	Bytes      int64             `json:"bytes"`
	Digest     string            `json:"digest,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	DurationMS int64             `json:"duration_ms"`
}

// AcceptedResponse is the result of an asynchronous ingest.
type AcceptedResponse struct {
	MessageID string `json:"message_id"`
}

// NewIngestHandler creates an ingest handler.
func NewIngestHandler(flow *pipeline.Flow, logger *zap.Logger) *IngestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestHandler{flow: flow, logger: logger.With(zap.String("component", "ingest_handler"))}
}

// HandleMessage serves POST /v1/messages.
func (h *IngestHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	attrs := requestAttributes(r, "async")
	if ct := r.Header.Get("Content-Type"); ct != "" {
		attrs[AttrContentType] = ct
	}

	ctx := r.Context()
	if id := r.Header.Get(HeaderCorrelationID); id != "" {
		ctx = ctxkeys.WithCorrelationID(ctx, id)
	}

	if async {
		id, err := h.flow.Dispatch(ctx, r.Body, attrs)
		if err != nil {
			WriteError(w, r, types.FromStreamingError(err), h.logger)
			return
		}
		WriteJSON(w, http.StatusAccepted, Response{
			Success: true,
			Data:    AcceptedResponse{MessageID: id},
		})
		return
	}

	res, err := h.flow.Process(ctx, r.Body, attrs)
	if err != nil {
		WriteError(w, r, types.FromStreamingError(err), h.logger)
		return
	}

	size, _ := strconv.ParseInt(res.Attributes[pipeline.AttrBytes], 10, 64)
	WriteSuccess(w, IngestResponse{
		MessageID:  res.MessageID,
		Bytes:      size,
		Digest:     res.Attributes[pipeline.AttrDigest],
		Attributes: res.Attributes,
		DurationMS: res.Duration.Milliseconds(),
	})
}

// requestAttributes turns query parameters, minus drop, into message
// attributes and adds the authenticated caller.
func requestAttributes(r *http.Request, drop ...string) map[string]string {
	query := r.URL.Query()
	for _, k := range drop {
		query.Del(k)
	}
	query.Del(AttrSubject)
	query.Del(AttrTenantID)

	attrs := make(map[string]string, len(query)+3)
	for k, v := range query {
		attrs[k] = v[0]
	}
	if sub, ok := ctxkeys.Subject(r.Context()); ok {
		attrs[AttrSubject] = sub
	}
	if tenant, ok := ctxkeys.TenantID(r.Context()); ok {
		attrs[AttrTenantID] = tenant
	}
	return attrs
}
