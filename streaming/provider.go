package streaming

import (
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// State is the lifecycle state of a CursorProvider.
type State int32

const (
	// StateCreated means no cursor has been opened yet.
	StateCreated State = iota
	// StateActive means at least one cursor has been opened.
	StateActive
	// StateDisposed is terminal.
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateActive:
		return "active"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// CursorProvider owns one managed stream and hands out cursors over it.
type CursorProvider interface {
	// ID uniquely identifies the provider.
	ID() string
	// RootID is the root message the provider is registered under.
	RootID() string
	// Strategy reports how the stream is held.
	Strategy() Strategy
	// OpenCursor returns a new cursor at position 0.
	OpenCursor() (*Cursor, error)
	// OpenCursors returns the number of cursors not yet closed.
	OpenCursors() int
	// State returns the lifecycle state.
	State() State
	// Close force-closes any open cursors and releases the stream. It is
	// idempotent.
	Close() error
}

// providerBase carries what both provider variants share: identity, state,
// the open cursor set and leak reporting.
type providerBase struct {
	id       string
	rootID   string
	strategy Strategy
	logger   *zap.Logger
	recorder Recorder

	state   atomic.Int32
	mu      sync.Mutex
	cursors map[*Cursor]struct{}
}

func (b *providerBase) init(id, rootID string, strategy Strategy, logger *zap.Logger, recorder Recorder) {
	b.id = id
	b.rootID = rootID
	b.strategy = strategy
	b.logger = logger.With(
		zap.String("provider_id", id),
		zap.String("root_id", rootID),
		zap.String("strategy", string(strategy)),
	)
	b.recorder = recorder
	b.cursors = make(map[*Cursor]struct{})
}

func (b *providerBase) ID() string         { return b.id }
func (b *providerBase) RootID() string     { return b.rootID }
func (b *providerBase) Strategy() Strategy { return b.strategy }
func (b *providerBase) State() State       { return State(b.state.Load()) }

func (b *providerBase) OpenCursors() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.cursors)
}

// track registers c as open. Must be called with mu held.
func (b *providerBase) track(c *Cursor) {
	b.cursors[c] = struct{}{}
	b.state.CompareAndSwap(int32(StateCreated), int32(StateActive))
	b.recorder.CursorOpened()
}

func (b *providerBase) release(c *Cursor) {
	b.mu.Lock()
	_, ok := b.cursors[c]
	delete(b.cursors, c)
	b.mu.Unlock()
	if ok {
		b.recorder.CursorClosed()
	}
}

// markDisposed moves the provider to StateDisposed. It returns false if the
// provider was already disposed.
func (b *providerBase) markDisposed() bool {
	for {
		s := b.state.Load()
		if State(s) == StateDisposed {
			return false
		}
		if b.state.CompareAndSwap(s, int32(StateDisposed)) {
			return true
		}
	}
}

// closeCursors force-closes every open cursor and reports a leak when there
// were any.
func (b *providerBase) closeCursors() int {
	b.mu.Lock()
	leaked := make([]*Cursor, 0, len(b.cursors))
	for c := range b.cursors {
		leaked = append(leaked, c)
	}
	clear(b.cursors)
	b.mu.Unlock()

	for _, c := range leaked {
		c.forceClose()
		b.recorder.CursorClosed()
	}
	if len(leaked) > 0 {
		b.logger.Warn("cursor provider disposed with open cursors",
			zap.Int("open_cursors", len(leaked)))
	}
	return len(leaked)
}

func (b *providerBase) disposedAccess(pos int64) error {
	b.recorder.DisposedAccess()
	b.logger.Error("read from disposed stream",
		zap.Int64("position", pos),
		zap.Stack("stack"))
	return ErrDisposedBufferAccess
}

// =============================================================================
// Buffered provider
// =============================================================================

// BufferedProvider makes a single-pass source repeatable by backing every
// cursor with one shared Buffer.
type BufferedProvider struct {
	providerBase
	buffer *Buffer
}

func newBufferedProvider(id, rootID string, buf *Buffer, logger *zap.Logger, recorder Recorder) *BufferedProvider {
	p := &BufferedProvider{buffer: buf}
	p.init(id, rootID, StrategyRepeatableInMemory, logger, recorder)
	return p
}

// OpenCursor returns a new cursor at position 0.
func (p *BufferedProvider) OpenCursor() (*Cursor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() == StateDisposed {
		return nil, p.disposedAccess(0)
	}
	c := newCursor(p, p)
	p.track(c)
	return c, nil
}

// Buffered returns the number of bytes pulled from the source so far.
func (p *BufferedProvider) Buffered() int64 { return p.buffer.Len() }

// Exhausted reports whether the source has been fully drained.
func (p *BufferedProvider) Exhausted() bool { return p.buffer.Exhausted() }

// Close force-closes open cursors, closes the source and releases the
// buffer. Only the first call does any work.
func (p *BufferedProvider) Close() error {
	if !p.markDisposed() {
		return nil
	}
	leaked := p.closeCursors()
	err := p.buffer.Dispose()
	p.recorder.ProviderDisposed(p.strategy, leaked)
	p.logger.Debug("cursor provider disposed", zap.Int64("buffered", p.buffer.Len()))
	return err
}

func (p *BufferedProvider) readAt(dst []byte, pos int64) (int, bool, error) {
	if p.State() == StateDisposed {
		return 0, false, p.disposedAccess(pos)
	}
	n, eod, err := p.buffer.ReadAt(dst, pos)
	if errors.Is(err, ErrDisposedBufferAccess) {
		return 0, false, p.disposedAccess(pos)
	}
	return n, eod, err
}

var _ CursorProvider = (*BufferedProvider)(nil)
