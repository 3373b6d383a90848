package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/pipeline"
	"github.com/BaSui01/flowstream/types"
)

// =============================================================================
// 🔌 WebSocket ingest
// =============================================================================

// AttrFrameType records whether a socket message arrived as text or binary.
const AttrFrameType = "frame_type"

// SocketHandler runs every message received on a WebSocket through a flow.
// The frame reader is the single-pass source, so a message is never copied
// before the engine buffers it.
type SocketHandler struct {
	flow      *pipeline.Flow
	readLimit int64
	logger    *zap.Logger
}

// SocketReply answers one socket message. Seq counts messages on the
// connection from 1.
type SocketReply struct {
	Seq     int             `json:"seq"`
	Success bool            `json:"success"`
	Result  *IngestResponse `json:"result,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`
}

// NewSocketHandler creates a socket handler. readLimit caps a single
// message in bytes; a non-positive value removes the cap.
func NewSocketHandler(flow *pipeline.Flow, readLimit int64, logger *zap.Logger) *SocketHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SocketHandler{
		flow:      flow,
		readLimit: readLimit,
		logger:    logger.With(zap.String("component", "socket_handler")),
	}
}

// HandleSocket serves GET /v1/messages/socket. Query parameters become
// attributes of every message on the connection.
func (h *SocketHandler) HandleSocket(w http.ResponseWriter, r *http.Request) {
	// Server timeouts are per request; a socket outlives them.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	if h.readLimit > 0 {
		conn.SetReadLimit(h.readLimit)
	} else {
		conn.SetReadLimit(-1)
	}

	ctx := r.Context()
	attrs := requestAttributes(r)
	h.logger.Debug("socket opened", zap.String("remote_addr", r.RemoteAddr))

	for seq := 1; ; seq++ {
		typ, reader, err := conn.Reader(ctx)
		if err != nil {
			h.logClosed(err, seq-1)
			return
		}

		msgAttrs := make(map[string]string, len(attrs)+1)
		for k, v := range attrs {
			msgAttrs[k] = v
		}
		msgAttrs[AttrFrameType] = frameType(typ)

		reply := h.process(ctx, seq, reader, msgAttrs)
		if err := wsjson.Write(ctx, conn, reply); err != nil {
			h.logClosed(err, seq)
			return
		}
		// The next Reader call requires the previous message to be consumed.
		if _, err := io.Copy(io.Discard, reader); err != nil {
			h.logClosed(err, seq)
			return
		}
	}
}

func (h *SocketHandler) process(ctx context.Context, seq int, reader io.Reader, attrs map[string]string) SocketReply {
	res, err := h.flow.Process(ctx, reader, attrs)
	if err != nil {
		apiErr := types.FromStreamingError(err)
		h.logger.Warn("socket message failed",
			zap.Int("seq", seq),
			zap.String("code", string(apiErr.Code)),
			zap.Error(err))
		return SocketReply{Seq: seq, Error: &ErrorInfo{
			Code:       string(apiErr.Code),
			Message:    apiErr.Message,
			RootID:     apiErr.RootID,
			Retryable:  apiErr.Retryable,
			HTTPStatus: mapErrorCodeToHTTPStatus(apiErr.Code),
		}}
	}

	size, _ := strconv.ParseInt(res.Attributes[pipeline.AttrBytes], 10, 64)
	return SocketReply{Seq: seq, Success: true, Result: &IngestResponse{
		MessageID:  res.MessageID,
		Bytes:      size,
		Digest:     res.Attributes[pipeline.AttrDigest],
		Attributes: res.Attributes,
		DurationMS: res.Duration.Milliseconds(),
	}}
}

func (h *SocketHandler) logClosed(err error, messages int) {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		h.logger.Debug("socket closed", zap.Int("messages", messages))
		return
	}
	if errors.Is(err, context.Canceled) {
		h.logger.Debug("socket closed", zap.Int("messages", messages))
		return
	}
	h.logger.Warn("socket closed with error", zap.Int("messages", messages), zap.Error(err))
}

func frameType(t websocket.MessageType) string {
	if t == websocket.MessageBinary {
		return "binary"
	}
	return "text"
}
