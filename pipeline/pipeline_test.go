package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowstream/event"
	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/testutil"
)

func newTestManager(t *testing.T, cfg ...streaming.BufferConfig) (*streaming.Manager, *streaming.Registry) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	r := streaming.NewRegistry(streaming.WithRegistryLogger(logger))
	t.Cleanup(r.Close)
	opts := []streaming.ManagerOption{streaming.WithLogger(logger)}
	if len(cfg) > 0 {
		opts = append(opts, streaming.WithBufferConfig(cfg[0]))
	}
	m, err := streaming.NewManager(r, opts...)
	require.NoError(t, err)
	return m, r
}

// rootContext returns a ctx carrying a fresh root event and m.
func rootContext(t *testing.T, m *streaming.Manager) (context.Context, *event.Context) {
	t.Helper()
	root := event.NewRoot(testutil.TestContext(t))
	ctx := event.NewContext(testutil.TestContext(t), root)
	return WithManager(ctx, m), root
}

func readPayload(t *testing.T, ctx context.Context, msg *Message) string {
	t.Helper()
	r, err := OpenPayload(ctx, msg)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

type recordedMessage struct {
	flow, outcome string
	duration      time.Duration
}

type fakeRecorder struct {
	mu       sync.Mutex
	messages []recordedMessage
}

func (r *fakeRecorder) RecordMessage(flow, outcome string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, recordedMessage{flow, outcome, d})
}

func (r *fakeRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.messages))
	for _, m := range r.messages {
		out = append(out, m.outcome)
	}
	return out
}
