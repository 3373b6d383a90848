package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowstream/pipeline"
	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/types"
)

func dialSocket(t *testing.T, h *SocketHandler, query string) (*websocket.Conn, context.Context) {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(h.HandleSocket))
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+query, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

func TestSocketHandler_ProcessesEachMessage(t *testing.T) {
	ingest, r := newTestIngest(t, streaming.BufferConfig{InitialSize: 16, Increment: 16})
	h := NewSocketHandler(ingest.flow, 0, zaptest.NewLogger(t))
	conn, ctx := dialSocket(t, h, "?tenant=acme")

	payloads := []string{strings.Repeat("a", 100), "second", strings.Repeat("flowstream ", 50)}
	for i, p := range payloads {
		typ := websocket.MessageText
		if i == 1 {
			typ = websocket.MessageBinary
		}
		require.NoError(t, conn.Write(ctx, typ, []byte(p)))

		var reply SocketReply
		require.NoError(t, wsjson.Read(ctx, conn, &reply))
		assert.Equal(t, i+1, reply.Seq)
		require.True(t, reply.Success, "%+v", reply.Error)
		assert.EqualValues(t, len(p), reply.Result.Bytes)
		assert.Equal(t, sha(p), reply.Result.Digest)
		assert.Equal(t, sha(p), reply.Result.Attributes["audit."+pipeline.AttrDigest], "fan-out branches replay the frame")
		assert.Equal(t, "acme", reply.Result.Attributes["tenant"])
	}

	var reply SocketReply
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte("x")))
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.Equal(t, "binary", reply.Result.Attributes[AttrFrameType])

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "done"))
	assert.Eventually(t, func() bool { return r.Stats().Providers == 0 }, time.Second, 10*time.Millisecond)
}

func TestSocketHandler_OversizedMessage(t *testing.T) {
	cfg := streaming.BufferConfig{InitialSize: 16, Increment: 16, MaxSize: 64}
	ingest, _ := newTestIngest(t, cfg)
	h := NewSocketHandler(ingest.flow, 65, zaptest.NewLogger(t))
	conn, ctx := dialSocket(t, h, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("fits")))
	var reply SocketReply
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.True(t, reply.Success)

	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte(strings.Repeat("z", 4096))))
	reply = SocketReply{}
	require.NoError(t, wsjson.Read(ctx, conn, &reply))
	assert.False(t, reply.Success)
	require.NotNil(t, reply.Error)
	assert.Equal(t, string(types.ErrPayloadTooLarge), reply.Error.Code)
	assert.Equal(t, 2, reply.Seq)

	_, _, err := conn.Read(ctx)
	assert.Equal(t, websocket.StatusMessageTooBig, websocket.CloseStatus(err))
}

func TestSocketHandler_RejectsPlainRequest(t *testing.T) {
	ingest, _ := newTestIngest(t, streaming.BufferConfig{InitialSize: 16, Increment: 16})
	h := NewSocketHandler(ingest.flow, 0, nil)

	w := httptest.NewRecorder()
	h.HandleSocket(w, httptest.NewRequest(http.MethodGet, "/v1/messages/socket", nil))
	assert.GreaterOrEqual(t, w.Code, 400)
}
