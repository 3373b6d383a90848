package streaming

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowstream/testutil"
)

// fakeProvider is a CursorProvider whose Close can fail or panic.
type fakeProvider struct {
	id, root string
	closes   atomic.Int32
	closeErr error
	panicMsg string
}

func (f *fakeProvider) ID() string { return f.id }
func (f *fakeProvider) RootID() string { return f.root }
func (f *fakeProvider) Strategy() Strategy { return StrategyRepeatableInMemory }
func (f *fakeProvider) OpenCursor() (*Cursor, error) { return nil, errors.New("not supported") }
func (f *fakeProvider) OpenCursors() int { return 0 }
func (f *fakeProvider) State() State { return StateCreated }
func (f *fakeProvider) Close() error {
	f.closes.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.closeErr
}

func TestRegistry_RegisterAndComplete(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{id: "a", root: "r1"}
	b := &fakeProvider{id: "b", root: "r1"}
	c := &fakeProvider{id: "c", root: "r2"}

	require.NoError(t, r.Register(a, "r1"))
	require.NoError(t, r.Register(b, "r1"))
	require.NoError(t, r.Register(c, "r2"))
	require.NoError(t, r.Register(a, "r1"), "re-registering under the same root is a no-op")

	assert.Len(t, r.Providers("r1"), 2)
	assert.Equal(t, RegistryStats{Roots: 2, Providers: 3}, r.Stats())

	r.OnRootCompleted("r1")
	assert.EqualValues(t, 1, a.closes.Load())
	assert.EqualValues(t, 1, b.closes.Load())
	assert.Zero(t, c.closes.Load(), "other roots are untouched")
	assert.Empty(t, r.Providers("r1"))

	r.OnRootCompleted("r1")
	assert.EqualValues(t, 1, a.closes.Load(), "completion is idempotent")
	assert.Equal(t, 1, r.Stats().Roots)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	p := &fakeProvider{id: "p"}

	assert.ErrorIs(t, r.Register(nil, "r"), ErrInvalidConfig)
	assert.ErrorIs(t, r.Register(p, ""), ErrMissingRootID)

	require.NoError(t, r.Register(p, "r1"))
	assert.ErrorIs(t, r.Register(p, "r2"), ErrAlreadyRegistered)

	r.OnRootCompleted("done")
	assert.ErrorIs(t, r.Register(&fakeProvider{id: "late"}, "done"), ErrRootCompleted)

	r.Close()
	assert.ErrorIs(t, r.Register(&fakeProvider{id: "q"}, "r3"), ErrRegistryClosed)
}

func TestRegistry_CompletionIsolatesFailures(t *testing.T) {
	logger, logs := observedLogger()
	rec := newCountingRecorder()
	r := NewRegistry(WithRegistryLogger(logger), WithRegistryRecorder(rec))

	failing := &fakeProvider{id: "failing", closeErr: errors.New("source already closed")}
	panicking := &fakeProvider{id: "panicking", panicMsg: "boom"}
	healthy := &fakeProvider{id: "healthy"}
	for _, p := range []*fakeProvider{failing, panicking, healthy} {
		require.NoError(t, r.Register(p, "root"))
	}

	assert.NotPanics(t, func() { r.OnRootCompleted("root") })

	for _, p := range []*fakeProvider{failing, panicking, healthy} {
		assert.EqualValues(t, 1, p.closes.Load(), p.id)
	}
	assert.Equal(t, 2, rec.disposalFailed)
	assert.Len(t, logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("failed to dispose cursor provider").All(), 1)
	assert.Len(t, logs.FilterLevelExact(zapcore.ErrorLevel).FilterMessage("panic while disposing cursor provider").All(), 1)
}

func TestRegistry_Release(t *testing.T) {
	r := NewRegistry()
	a := &fakeProvider{id: "a"}
	b := &fakeProvider{id: "b"}
	require.NoError(t, r.Register(a, "root"))
	require.NoError(t, r.Register(b, "root"))

	require.NoError(t, r.Release(a))
	assert.EqualValues(t, 1, a.closes.Load())
	assert.Len(t, r.Providers("root"), 1)

	r.OnRootCompleted("root")
	assert.EqualValues(t, 1, a.closes.Load(), "released providers are not disposed again by the registry")
	assert.EqualValues(t, 1, b.closes.Load())
	assert.NoError(t, r.Release(nil))
}

func TestRegistry_CloseDisposesEverything(t *testing.T) {
	r := NewRegistry()
	var ps []*fakeProvider
	for i := range 6 {
		p := &fakeProvider{id: fmt.Sprintf("p%d", i)}
		ps = append(ps, p)
		require.NoError(t, r.Register(p, fmt.Sprintf("root-%d", i%3)))
	}

	r.Close()
	r.Close()
	for _, p := range ps {
		assert.EqualValues(t, 1, p.closes.Load(), p.id)
	}
	assert.True(t, r.Stats().Closed)
	assert.Zero(t, r.Stats().Providers)
}

func TestRegistry_CompletedRetentionIsBounded(t *testing.T) {
	r := NewRegistry(WithCompletedRetention(2))
	r.OnRootCompleted("a")
	r.OnRootCompleted("b")
	r.OnRootCompleted("c")

	assert.Equal(t, 2, r.Stats().CompletedRetained)
	assert.NoError(t, r.Register(&fakeProvider{id: "p1"}, "a"), "oldest completed root was forgotten")
	assert.ErrorIs(t, r.Register(&fakeProvider{id: "p2"}, "c"), ErrRootCompleted)

	off := NewRegistry(WithCompletedRetention(0))
	off.OnRootCompleted("x")
	assert.NoError(t, off.Register(&fakeProvider{id: "p3"}, "x"))
}

func TestRegistry_LeakBackstop(t *testing.T) {
	logger, logs := observedLogger()
	r := NewRegistry(WithRegistryLogger(logger))
	m, err := NewManager(r, WithLogger(logger), WithBufferConfig(smallConfig()))
	require.NoError(t, err)

	src := testutil.NewCountingReader(testutil.Sequence(22))
	p, err := m.Manage(testutil.TestContext(t), src, "root")
	require.NoError(t, err)

	c, err := p.OpenCursor()
	require.NoError(t, err)
	_, _, err = c.Next(5)
	require.NoError(t, err)
	// The cursor is never closed.

	r.OnRootCompleted("root")
	assert.Equal(t, StateDisposed, p.State())
	assert.True(t, c.Closed())
	assert.EqualValues(t, 1, src.Closes())

	r.OnRootCompleted("root")
	assert.EqualValues(t, 1, src.Closes(), "the source is closed exactly once")
	assert.Len(t, logs.FilterMessage("cursor provider disposed with open cursors").All(), 1)
}

func TestRegistry_ConcurrentRegisterAndComplete(t *testing.T) {
	r := NewRegistry()
	const roots = 20
	const perRoot = 10

	var all sync.Map
	var wg sync.WaitGroup
	for i := range roots {
		root := fmt.Sprintf("root-%d", i)
		for j := range perRoot {
			wg.Add(1)
			go func() {
				defer wg.Done()
				p := &fakeProvider{id: fmt.Sprintf("%s-%d", root, j)}
				all.Store(p.id, p)
				if err := r.Register(p, root); err != nil {
					// Lost the race against completion; the caller owns p.
					assert.ErrorIs(t, err, ErrRootCompleted)
					_ = p.Close()
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.OnRootCompleted(root)
		}()
	}
	wg.Wait()
	r.Close()

	all.Range(func(_, v any) bool {
		p := v.(*fakeProvider)
		assert.EqualValues(t, 1, p.closes.Load(), p.id)
		return true
	})
}
