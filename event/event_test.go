package event

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/flowstream/internal/ctxkeys"
	"github.com/BaSui01/flowstream/testutil"
)

func TestNewRoot(t *testing.T) {
	root := NewRoot(context.Background())
	assert.NotEmpty(t, root.ID())
	assert.Equal(t, root.ID(), root.RootID())
	assert.True(t, root.IsRoot())
	assert.Nil(t, root.Parent())
	assert.Same(t, root, root.Root())

	named := NewRoot(context.Background(), WithID("corr-1"))
	assert.Equal(t, "corr-1", named.RootID())
}

func TestContext_SettlesOnce(t *testing.T) {
	root := NewRoot(context.Background())

	var results []Result
	root.OnTerminated(func(r Result) { results = append(results, r) })

	assert.True(t, root.Success())
	assert.False(t, root.Fail(errors.New("late")))
	assert.False(t, root.Abandon("late"))

	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, root.ID(), results[0].RootID)
	assert.NoError(t, results[0].Err)
	assert.True(t, root.Terminated())
}

func TestContext_FailAndAbandon(t *testing.T) {
	boom := errors.New("boom")
	failed := NewRoot(context.Background())
	failed.Fail(boom)
	res, ok := failed.Result()
	require.True(t, ok)
	assert.Equal(t, OutcomeFailure, res.Outcome)
	assert.ErrorIs(t, res.Err, boom)

	nilErr := NewRoot(context.Background())
	nilErr.Fail(nil)
	res, _ = nilErr.Result()
	assert.Error(t, res.Err)

	abandoned := NewRoot(context.Background())
	abandoned.Abandon("client went away")
	res, _ = abandoned.Result()
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	var ae *AbandonedError
	require.ErrorAs(t, res.Err, &ae)
	assert.Equal(t, "client went away", ae.Reason)
}

func TestContext_RootWaitsForChildren(t *testing.T) {
	root := NewRoot(context.Background())
	a, err := root.NewChild()
	require.NoError(t, err)
	b, err := root.NewChild()
	require.NoError(t, err)
	grandchild, err := a.NewChild()
	require.NoError(t, err)

	assert.Equal(t, root.ID(), grandchild.RootID())
	assert.Same(t, a, grandchild.Parent())
	assert.False(t, a.IsRoot())

	var fired atomic.Int32
	root.OnTerminated(func(Result) { fired.Add(1) })

	root.Success()
	assert.True(t, root.Settled())
	assert.False(t, root.Terminated(), "children still in flight")

	a.Success()
	b.Fail(errors.New("branch failed"))
	assert.False(t, root.Terminated(), "grandchild still in flight")
	assert.False(t, a.Terminated())

	grandchild.Success()
	assert.True(t, a.Terminated())
	assert.True(t, root.Terminated())
	assert.EqualValues(t, 1, fired.Load())

	res, _ := root.Result()
	assert.Equal(t, OutcomeSuccess, res.Outcome, "the root's own settlement decides its outcome")
}

func TestContext_NoChildAfterTermination(t *testing.T) {
	root := NewRoot(context.Background())
	root.Success()
	_, err := root.NewChild()
	assert.ErrorIs(t, err, ErrTerminated)
}

func TestContext_OnTerminatedAfterTermination(t *testing.T) {
	root := NewRoot(context.Background())
	root.Success()

	called := false
	root.OnTerminated(func(r Result) {
		called = true
		assert.Equal(t, OutcomeSuccess, r.Outcome)
	})
	assert.True(t, called, "late callbacks run immediately")

	select {
	case <-root.Done():
	default:
		t.Fatal("Done must be closed after termination")
	}
}

func TestContext_CallbacksRunOutsideLock(t *testing.T) {
	root := NewRoot(context.Background())
	root.OnTerminated(func(Result) {
		// Re-entering the context from a callback must not deadlock.
		_ = root.Terminated()
		_, _ = root.Result()
		root.OnTerminated(func(Result) {})
	})

	done := make(chan struct{})
	go func() {
		root.Success()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback deadlocked")
	}
}

func TestContext_TimeoutAbandonsTree(t *testing.T) {
	root := NewRoot(context.Background(), WithTimeout(20*time.Millisecond))
	child, err := root.NewChild()
	require.NoError(t, err)

	select {
	case <-root.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("root did not terminate after timeout")
	}

	res, _ := root.Result()
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Contains(t, res.Err.Error(), "timed out")
	assert.True(t, child.Terminated())
	assert.False(t, child.Success(), "abandoned children are settled")
}

func TestContext_TimeoutStoppedOnTermination(t *testing.T) {
	root := NewRoot(context.Background(), WithTimeout(30*time.Millisecond))
	root.Success()
	time.Sleep(60 * time.Millisecond)

	res, _ := root.Result()
	assert.Equal(t, OutcomeSuccess, res.Outcome)
}

func TestContext_CancellationAbandons(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	root := NewRoot(ctx)
	cancel()

	testutil.AssertEventuallyTrue(t, root.Terminated, 2*time.Second)
	res, _ := root.Result()
	assert.Equal(t, OutcomeAbandoned, res.Outcome)
	assert.Contains(t, res.Err.Error(), context.Canceled.Error())
}

func TestContext_ConcurrentChildren(t *testing.T) {
	root := NewRoot(context.Background())
	var terminations atomic.Int32
	root.OnTerminated(func(Result) { terminations.Add(1) })

	var wg sync.WaitGroup
	for range 50 {
		child, err := root.NewChild()
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			child.Success()
		}()
	}
	root.Success()
	wg.Wait()

	assert.True(t, root.Terminated())
	assert.EqualValues(t, 1, terminations.Load())
}

func TestNewContext(t *testing.T) {
	root := NewRoot(context.Background(), WithID("root-7"))
	ctx := NewContext(context.Background(), root)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, root, got)

	rootID, ok := ctxkeys.RootID(ctx)
	require.True(t, ok)
	assert.Equal(t, "root-7", rootID)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}
