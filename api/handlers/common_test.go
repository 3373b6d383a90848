package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/BaSui01/flowstream/internal/ctxkeys"
	"github.com/BaSui01/flowstream/types"
)

// =============================================================================
// 🧪 Common helpers
// =============================================================================

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder, data any) Response {
	t.Helper()
	var raw struct {
		Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	if data != nil && len(raw.Data) > 0 {
		require.NoError(t, json.Unmarshal(raw.Data, data))
	}
	return raw.Response
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()
	WriteJSON(w, http.StatusCreated, map[string]string{"message": "hello"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.JSONEq(t, `{"message":"hello"}`, w.Body.String())
}

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]string{"key": "value"})

	var data map[string]string
	resp := decodeResponse(t, w, &data)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, "value", data["key"])
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        *types.Error
		wantStatus int
		wantLevel  zapcore.Level
	}{
		{
			name:       "explicit status",
			err:        types.NewError(types.ErrInvalidRequest, "bad").WithHTTPStatus(http.StatusTeapot),
			wantStatus: http.StatusTeapot,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "mapped payload too large",
			err:        types.NewError(types.ErrPayloadTooLarge, "too big").WithRootID("root-1"),
			wantStatus: http.StatusRequestEntityTooLarge,
			wantLevel:  zapcore.WarnLevel,
		},
		{
			name:       "retryable unavailable",
			err:        types.NewError(types.ErrServiceUnavailable, "busy").WithRetryable(true),
			wantStatus: http.StatusServiceUnavailable,
			wantLevel:  zapcore.ErrorLevel,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-7"))
			w := httptest.NewRecorder()

			WriteError(w, r, tt.err, zap.New(core))

			assert.Equal(t, tt.wantStatus, w.Code)
			resp := decodeResponse(t, w, nil)
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
			assert.Equal(t, tt.err.RootID, resp.Error.RootID)
			assert.Equal(t, tt.err.Retryable, resp.Error.Retryable)
			assert.Equal(t, "req-7", resp.RequestID)

			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.wantLevel, logs.All()[0].Level)
		})
	}
}

func TestWriteError_NilRequestAndLogger(t *testing.T) {
	w := httptest.NewRecorder()
	assert.NotPanics(t, func() {
		WriteError(w, nil, types.NewError(types.ErrInternalError, "x"), nil)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestMapErrorCodeToHTTPStatus(t *testing.T) {
	tests := map[types.ErrorCode]int{
		types.ErrInvalidRequest:       http.StatusBadRequest,
		types.ErrSourceReadFailure:    http.StatusBadRequest,
		types.ErrNotFound:             http.StatusNotFound,
		types.ErrRootCompleted:        http.StatusConflict,
		types.ErrPayloadTooLarge:      http.StatusRequestEntityTooLarge,
		types.ErrValidation:           http.StatusUnprocessableEntity,
		types.ErrNoRoute:              http.StatusUnprocessableEntity,
		types.ErrRateLimited:          http.StatusTooManyRequests,
		types.ErrUnauthorized:         http.StatusUnauthorized,
		types.ErrTimeout:              http.StatusGatewayTimeout,
		types.ErrMessageAbandoned:     http.StatusGatewayTimeout,
		types.ErrServiceUnavailable:   http.StatusServiceUnavailable,
		types.ErrDisposedBufferAccess: http.StatusInternalServerError,
	}
	for code, want := range tests {
		assert.Equal(t, want, mapErrorCodeToHTTPStatus(code), code)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)
	assert.Equal(t, http.StatusOK, rw.StatusCode)

	rw.WriteHeader(http.StatusNotFound)
	rw.WriteHeader(http.StatusInternalServerError)
	_, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, http.StatusNotFound, rw.StatusCode, "only the first status counts")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.EqualValues(t, 5, rw.Bytes)
	assert.Same(t, rec, rw.Unwrap())

	implicit := NewResponseWriter(httptest.NewRecorder())
	_, _ = implicit.Write([]byte("x"))
	assert.True(t, implicit.Written)
	assert.Equal(t, http.StatusOK, implicit.StatusCode)
}
