package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/pipeline"
	"github.com/BaSui01/flowstream/types"
)

// DispatchRecorder writes dispatched message statuses into a Store.
type DispatchRecorder struct {
	store   Store
	timeout time.Duration
	logger  *zap.Logger
}

// NewDispatchRecorder creates a recorder over store.
func NewDispatchRecorder(store Store, logger *zap.Logger) *DispatchRecorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatchRecorder{
		store:   store,
		timeout: 5 * time.Second,
		logger:  logger.With(zap.String("component", "dispatch_recorder")),
	}
}

func (r *DispatchRecorder) MessageAccepted(id string) {
	r.put(Status{MessageID: id, State: StatePending})
}

func (r *DispatchRecorder) MessageFinished(id string, res *pipeline.Result, err error) {
	st := Status{MessageID: id, State: StateSucceeded}
	if err != nil {
		st.State = StateFailed
		st.Error = err.Error()
		if e, ok := types.AsError(err); ok {
			st.ErrorCode = string(e.Code)
			st.Error = e.Message
		}
	}
	if res != nil {
		st.Attributes = res.Attributes
		st.DurationMS = res.Duration.Milliseconds()
	}
	r.put(st)
}

func (r *DispatchRecorder) put(st Status) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.store.Put(ctx, st); err != nil {
		r.logger.Warn("failed to record message status",
			zap.String("message_id", st.MessageID),
			zap.String("state", string(st.State)),
			zap.Error(err))
	}
}

var _ pipeline.DispatchObserver = (*DispatchRecorder)(nil)
