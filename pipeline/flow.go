package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/event"
	"github.com/BaSui01/flowstream/internal/ctxkeys"
	"github.com/BaSui01/flowstream/internal/pool"
	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/types"
)

const tracerName = "github.com/BaSui01/flowstream/pipeline"

// MessageRecorder receives one call per terminated root message.
type MessageRecorder interface {
	RecordMessage(flow, outcome string, duration time.Duration)
}

// Recorders reports every message to each non-nil recorder in order.
func Recorders(rs ...MessageRecorder) MessageRecorder {
	out := make(multiRecorder, 0, len(rs))
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiRecorder []MessageRecorder

func (m multiRecorder) RecordMessage(flow, outcome string, d time.Duration) {
	for _, r := range m {
		r.RecordMessage(flow, outcome, d)
	}
}

// DispatchObserver follows messages accepted by Dispatch. MessageFinished
// is always called after MessageAccepted for the same id.
type DispatchObserver interface {
	MessageAccepted(id string)
	MessageFinished(id string, res *Result, err error)
}

// Result is what a successful Process returns.
type Result struct {
	MessageID  string            `json:"message_id"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// =============================================================================
// 🔀 Flow
// =============================================================================

// Flow runs a processor chain once per message, each message under its own
// root event. When the root terminates every stream buffered for it is
// disposed.
type Flow struct {
	name      string
	manager   *streaming.Manager
	processor Processor
	logger    *zap.Logger
	recorder  MessageRecorder
	timeout   time.Duration
	pool      *pool.GoroutinePool
	observer  DispatchObserver
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithFlowLogger sets the logger.
func WithFlowLogger(logger *zap.Logger) FlowOption {
	return func(f *Flow) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithMessageRecorder sets where message outcomes are reported.
func WithMessageRecorder(r MessageRecorder) FlowOption {
	return func(f *Flow) { f.recorder = r }
}

// WithMessageTimeout abandons messages that have not terminated after d.
func WithMessageTimeout(d time.Duration) FlowOption {
	return func(f *Flow) { f.timeout = d }
}

// WithDispatchPool sets the worker pool Dispatch runs messages on.
func WithDispatchPool(p *pool.GoroutinePool) FlowOption {
	return func(f *Flow) { f.pool = p }
}

// WithDispatchObserver sets who is told about dispatched messages.
func WithDispatchObserver(o DispatchObserver) FlowOption {
	return func(f *Flow) { f.observer = o }
}

// NewFlow creates a flow. The processor is wrapped in a Chain so raw
// payloads are buffered before and after it.
func NewFlow(name string, manager *streaming.Manager, processor Processor, opts ...FlowOption) (*Flow, error) {
	if manager == nil {
		return nil, errors.New("pipeline: manager is required")
	}
	if processor == nil {
		return nil, errors.New("pipeline: processor is required")
	}
	f := &Flow{
		name:      name,
		manager:   manager,
		processor: Chain(processor),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(zap.String("component", "flow"), zap.String("flow", name))
	return f, nil
}

// Name returns the flow name.
func (f *Flow) Name() string { return f.name }

// Process runs payload through the flow and waits for the outcome. A
// correlation id in ctx becomes the message id. Cancelling ctx abandons the
// message.
func (f *Flow) Process(ctx context.Context, payload any, attrs map[string]string) (*Result, error) {
	root := f.begin(ctx)
	return f.run(ctx, root, payload, attrs)
}

// Dispatch accepts payload for asynchronous processing and returns its
// message id. A raw io.Reader payload is fully buffered before Dispatch
// returns, so the caller may release the source afterwards. Errors found
// while buffering are returned directly.
func (f *Flow) Dispatch(ctx context.Context, payload any, attrs map[string]string) (string, error) {
	if f.pool == nil {
		return "", errors.New("pipeline: flow has no dispatch pool")
	}

	detached := context.WithoutCancel(ctx)
	root := f.begin(detached)
	id := root.ID()

	if r, ok := payload.(io.Reader); ok && !streaming.IsManaged(r) {
		p, err := f.detach(event.NewContext(detached, root), r)
		if err != nil {
			root.Fail(err)
			return "", types.FromStreamingError(err).WithRootID(id)
		}
		payload = p
	}

	if f.observer != nil {
		f.observer.MessageAccepted(id)
	}
	err := f.pool.Submit(detached, func(ctx context.Context) error {
		res, err := f.run(ctx, root, payload, attrs)
		if f.observer != nil {
			f.observer.MessageFinished(id, res, err)
		}
		return err
	})
	if err != nil {
		root.Fail(err)
		rejected := types.NewError(types.ErrServiceUnavailable, "dispatch queue is full").
			WithHTTPStatus(http.StatusServiceUnavailable).
			WithRetryable(true).
			WithRootID(id).
			WithCause(err)
		if f.observer != nil {
			f.observer.MessageFinished(id, nil, rejected)
		}
		return "", rejected
	}
	return id, nil
}

// detach buffers r completely in memory.
func (f *Flow) detach(ctx context.Context, r io.Reader) (streaming.CursorProvider, error) {
	p, err := f.manager.ManageContext(ctx, r, streaming.WithStrategy(streaming.StrategyRepeatableInMemory))
	if err != nil {
		return nil, err
	}
	c, err := p.OpenCursor()
	if err != nil {
		return nil, err
	}
	defer c.Close()
	if _, err := io.Copy(io.Discard, c); err != nil {
		return nil, err
	}
	return p, nil
}

func (f *Flow) begin(ctx context.Context) *event.Context {
	var opts []event.Option
	if id, ok := ctxkeys.CorrelationID(ctx); ok {
		opts = append(opts, event.WithID(id))
	}
	if f.timeout > 0 {
		opts = append(opts, event.WithTimeout(f.timeout))
	}
	root := event.NewRoot(ctx, opts...)

	registry := f.manager.Registry()
	root.OnTerminated(func(res event.Result) {
		registry.OnRootCompleted(res.RootID)
		if f.recorder != nil {
			f.recorder.RecordMessage(f.name, string(res.Outcome), res.Duration)
		}
		fields := []zap.Field{
			zap.String("root_id", res.RootID),
			zap.String("outcome", string(res.Outcome)),
			zap.Duration("duration", res.Duration),
		}
		if res.Err != nil {
			fields = append(fields, zap.Error(res.Err))
			f.logger.Warn("message terminated", fields...)
			return
		}
		f.logger.Debug("message terminated", fields...)
	})
	return root
}

func (f *Flow) run(ctx context.Context, root *event.Context, payload any, attrs map[string]string) (*Result, error) {
	start := time.Now()
	ctx, span := otel.Tracer(tracerName).Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("flowstream.flow", f.name),
			attribute.String("flowstream.root_id", root.ID()),
		))
	defer span.End()

	ctx = WithManager(event.NewContext(ctx, root), f.manager)
	msg := &Message{ID: root.ID(), Payload: payload, Attributes: maps.Clone(attrs)}
	if msg.Attributes == nil {
		msg.Attributes = make(map[string]string)
	}

	out, err := f.process(ctx, msg)
	if err != nil {
		root.Fail(err)
	} else {
		root.Success()
	}

	// A timeout or cancellation may have abandoned the root first.
	if res, _ := root.Result(); res.Outcome == event.OutcomeAbandoned {
		err = types.NewError(types.ErrMessageAbandoned, "message abandoned").
			WithHTTPStatus(http.StatusGatewayTimeout).
			WithCause(res.Err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, types.FromStreamingError(err).WithRootID(root.ID())
	}

	return &Result{
		MessageID:  root.ID(),
		Attributes: out.Attributes,
		Duration:   time.Since(start),
	}, nil
}

func (f *Flow) process(ctx context.Context, msg *Message) (out *Message, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("processor panicked",
				zap.String("root_id", msg.ID),
				zap.Any("panic", r),
				zap.Stack("stack"))
			err = fmt.Errorf("processor panicked: %v", r)
		}
	}()
	return f.processor.Process(ctx, msg)
}
