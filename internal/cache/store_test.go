package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_PutGet(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Status{MessageID: "m1", State: StatePending}))
	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StatePending, got.State)
	assert.False(t, got.UpdatedAt.IsZero())

	require.NoError(t, s.Put(ctx, Status{MessageID: "m1", State: StateSucceeded, Attributes: map[string]string{"k": "v"}}))
	got, err = s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, got.State)
	assert.Equal(t, "v", got.Attributes["k"])

	_, err = s.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	now := time.Now()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, Status{MessageID: "old"}))
	now = now.Add(2 * time.Minute)

	_, err := s.Get(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Put(ctx, Status{MessageID: "a"}))
	require.NoError(t, s.Put(ctx, Status{MessageID: "b"}))
	now = now.Add(2 * time.Minute)
	require.NoError(t, s.Put(ctx, Status{MessageID: "c"}))
	assert.Equal(t, 1, s.Len(), "expired entries are swept on put")
}

func TestMemoryStore_NoTTL(t *testing.T) {
	s := NewMemoryStore(0)
	now := time.Now()
	s.now = func() time.Time { return now }
	require.NoError(t, s.Put(context.Background(), Status{MessageID: "m"}))
	now = now.Add(24 * time.Hour)
	_, err := s.Get(context.Background(), "m")
	assert.NoError(t, err)
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore(time.Minute)
	require.NoError(t, s.Ping(context.Background()))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Put(context.Background(), Status{MessageID: "m"}), ErrClosed)
	_, err := s.Get(context.Background(), "m")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Ping(context.Background()), ErrClosed)
}
