package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/internal/cache"
	"github.com/BaSui01/flowstream/types"
)

// StatusHandler serves the stored outcome of dispatched messages.
type StatusHandler struct {
	store  cache.Store
	logger *zap.Logger
}

// NewStatusHandler creates a status handler over store.
func NewStatusHandler(store cache.Store, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{store: store, logger: logger.With(zap.String("component", "status_handler"))}
}

// HandleStatus serves GET /v1/messages/{id}.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		WriteErrorMessage(w, r, http.StatusBadRequest, types.ErrInvalidRequest, "message id is required", h.logger)
		return
	}

	status, err := h.store.Get(r.Context(), id)
	if cache.IsNotFound(err) {
		WriteErrorMessage(w, r, http.StatusNotFound, types.ErrNotFound, "unknown or expired message id", h.logger)
		return
	}
	if err != nil {
		WriteError(w, r, types.NewError(types.ErrServiceUnavailable, "result store unavailable").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true).
			WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, status)
}

// NewStoreHealthCheck fails when the result store cannot be reached.
func NewStoreHealthCheck(store cache.Store) *FuncHealthCheck {
	return NewFuncHealthCheck("result_store", store.Ping)
}
