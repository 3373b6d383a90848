package streaming

import "sync"

// Guard wraps a read/write lock. Readers may drop their lock early through
// the release function handed to WithReadLock, which is how a reader that
// discovers it needs the write lock avoids deadlocking on itself.
type Guard struct {
	mu sync.RWMutex
}

// WithReadLock runs fn under the shared lock. fn may call release to drop the
// lock before returning; release is idempotent and the lock is otherwise
// released when fn returns.
func (g *Guard) WithReadLock(fn func(release func()) error) error {
	g.mu.RLock()
	held := true
	release := func() {
		if held {
			held = false
			g.mu.RUnlock()
		}
	}
	defer release()
	return fn(release)
}

// WithWriteLock runs fn under the exclusive lock.
func (g *Guard) WithWriteLock(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// ReadOrGrow serves a read under the shared lock, escalating to the exclusive
// lock only when needsGrowth reports the data is not there yet:
//
//	read lock → needsGrowth? → release read → write lock → needsGrowth? → grow
//	→ release write → read lock → serve
//
// needsGrowth is evaluated again under the write lock, so of two goroutines
// racing for the same region only the first calls grow. serve always runs
// under the shared lock.
func (g *Guard) ReadOrGrow(needsGrowth func() bool, grow func() error, serve func() error) error {
	escalate := false
	err := g.WithReadLock(func(release func()) error {
		if !needsGrowth() {
			return serve()
		}
		release()
		escalate = true
		return nil
	})
	if !escalate {
		return err
	}

	if err := g.WithWriteLock(func() error {
		if !needsGrowth() {
			return nil
		}
		return grow()
	}); err != nil {
		return err
	}

	return g.WithReadLock(func(func()) error {
		return serve()
	})
}
