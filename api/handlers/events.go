package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	cetypes "github.com/cloudevents/sdk-go/v2/types"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/internal/ctxkeys"
	"github.com/BaSui01/flowstream/pipeline"
	"github.com/BaSui01/flowstream/types"
)

// =============================================================================
// ☁️ CloudEvents ingest
// =============================================================================

// AttrEventPrefix prefixes CloudEvents context attributes and extensions
// copied onto a message.
const AttrEventPrefix = "ce."

// EventsHandler accepts CloudEvents over HTTP in binary, structured or batch
// mode. Each event's data is one message; its id becomes the message id, so
// a redelivered event is rejected while its root is still remembered.
type EventsHandler struct {
	flow   *pipeline.Flow
	logger *zap.Logger
}

// EventResult is the outcome of one event.
type EventResult struct {
	ID      string          `json:"id"`
	Success bool            `json:"success"`
	Result  *IngestResponse `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// EventsResponse lists per-event outcomes in request order.
type EventsResponse struct {
	Events []EventResult `json:"events"`
}

// NewEventsHandler creates a CloudEvents handler.
func NewEventsHandler(flow *pipeline.Flow, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{flow: flow, logger: logger.With(zap.String("component", "events_handler"))}
}

// HandleEvents serves POST /v1/events. With ?async=true every event is
// dispatched and the answer is 202; otherwise events run in order and the
// answer is 200 when all succeeded, or the status of the first failure.
func (h *EventsHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, r, http.StatusMethodNotAllowed, types.ErrInvalidRequest, "method not allowed", h.logger)
		return
	}

	var events []cloudevents.Event
	if cehttp.IsHTTPBatch(r.Header) {
		var err error
		if events, err = cehttp.NewEventsFromHTTPRequest(r); err != nil {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid cloudevents batch").WithCause(err), h.logger)
			return
		}
	} else {
		event, err := cehttp.NewEventFromHTTPRequest(r)
		if err != nil {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid cloudevent").WithCause(err), h.logger)
			return
		}
		events = []cloudevents.Event{*event}
	}
	for i := range events {
		if err := events[i].Validate(); err != nil {
			WriteError(w, r, types.NewError(types.ErrInvalidRequest, "invalid cloudevent").WithCause(err), h.logger)
			return
		}
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	base := requestAttributes(r, "async")

	resp := EventsResponse{Events: make([]EventResult, 0, len(events))}
	status := http.StatusOK
	if async {
		status = http.StatusAccepted
	}
	for i := range events {
		res := h.handleEvent(r, &events[i], base, async)
		if !res.Success && status < http.StatusBadRequest {
			status = res.Error.HTTPStatus
		}
		resp.Events = append(resp.Events, res)
	}

	WriteJSON(w, status, Response{Success: status < http.StatusBadRequest, Data: resp, Timestamp: time.Now()})
}

func (h *EventsHandler) handleEvent(r *http.Request, e *cloudevents.Event, base map[string]string, async bool) EventResult {
	attrs := EventAttributes(e)
	for k, v := range base {
		attrs[k] = v
	}
	if ct := e.DataContentType(); ct != "" {
		attrs[AttrContentType] = ct
	}

	ctx := ctxkeys.WithCorrelationID(r.Context(), e.ID())
	payload := bytes.NewReader(e.Data())

	if async {
		id, err := h.flow.Dispatch(ctx, payload, attrs)
		if err != nil {
			return h.failed(e, err)
		}
		return EventResult{ID: id, Success: true}
	}

	res, err := h.flow.Process(ctx, payload, attrs)
	if err != nil {
		return h.failed(e, err)
	}
	size, _ := strconv.ParseInt(res.Attributes[pipeline.AttrBytes], 10, 64)
	return EventResult{ID: e.ID(), Success: true, Result: &IngestResponse{
		MessageID:  res.MessageID,
		Bytes:      size,
		Digest:     res.Attributes[pipeline.AttrDigest],
		Attributes: res.Attributes,
		DurationMS: res.Duration.Milliseconds(),
	}}
}

func (h *EventsHandler) failed(e *cloudevents.Event, err error) EventResult {
	apiErr := types.FromStreamingError(err)
	h.logger.Warn("event failed",
		zap.String("event_id", e.ID()),
		zap.String("event_type", e.Type()),
		zap.String("code", string(apiErr.Code)),
		zap.Error(err))
	return EventResult{ID: e.ID(), Error: &ErrorInfo{
		Code:       string(apiErr.Code),
		Message:    apiErr.Message,
		RootID:     apiErr.RootID,
		Retryable:  apiErr.Retryable,
		HTTPStatus: mapErrorCodeToHTTPStatus(apiErr.Code),
	}}
}

// EventAttributes copies the context attributes and extensions of e into
// message attributes under AttrEventPrefix.
func EventAttributes(e *cloudevents.Event) map[string]string {
	attrs := map[string]string{
		AttrEventPrefix + "id":          e.ID(),
		AttrEventPrefix + "specversion": e.SpecVersion(),
		AttrEventPrefix + "type":        e.Type(),
		AttrEventPrefix + "source":      e.Source(),
	}
	if ds := e.DataSchema(); ds != "" {
		attrs[AttrEventPrefix+"dataschema"] = ds
	}
	if subj := e.Subject(); subj != "" {
		attrs[AttrEventPrefix+"subject"] = subj
	}
	if t := e.Time(); !t.IsZero() {
		attrs[AttrEventPrefix+"time"] = t.UTC().Format(time.RFC3339Nano)
	}
	for k, v := range e.Extensions() {
		if s, err := cetypes.Format(v); err == nil {
			attrs[AttrEventPrefix+k] = s
		}
	}
	return attrs
}
