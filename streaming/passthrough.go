package streaming

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// PassThroughProvider hands a single-pass source to exactly one cursor with
// no buffering. Reads go straight to the source, so the cursor can only move
// forward.
type PassThroughProvider struct {
	providerBase

	src       io.Reader
	readMu    sync.Mutex
	opened    bool
	consumed  int64
	eof       bool
	closeOnce sync.Once
	closeErr  error
}

func newPassThroughProvider(id, rootID string, src io.Reader, logger *zap.Logger, recorder Recorder) *PassThroughProvider {
	p := &PassThroughProvider{src: src}
	p.init(id, rootID, StrategyNonRepeatable, logger, recorder)
	return p
}

// OpenCursor returns the only cursor. A second call fails with
// ErrNotRepeatable.
func (p *PassThroughProvider) OpenCursor() (*Cursor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.State() == StateDisposed {
		return nil, p.disposedAccess(0)
	}
	if p.opened {
		return nil, fmt.Errorf("%w: pass-through stream already has a cursor", ErrNotRepeatable)
	}
	p.opened = true
	c := newCursor(p, p)
	p.track(c)
	return c, nil
}

// Consumed returns the number of bytes read from the source.
func (p *PassThroughProvider) Consumed() int64 {
	p.readMu.Lock()
	defer p.readMu.Unlock()
	return p.consumed
}

// Close closes the source and any open cursor. Only the first call does any
// work.
func (p *PassThroughProvider) Close() error {
	if !p.markDisposed() {
		return nil
	}
	// Closing first unblocks a reader stuck in the source.
	err := p.closeSource()
	leaked := p.closeCursors()
	p.recorder.ProviderDisposed(p.strategy, leaked)
	p.logger.Debug("cursor provider disposed")
	return err
}

func (p *PassThroughProvider) closeSource() error {
	p.closeOnce.Do(func() {
		if c, ok := p.src.(io.Closer); ok {
			p.closeErr = c.Close()
		}
	})
	return p.closeErr
}

func (p *PassThroughProvider) readAt(dst []byte, pos int64) (int, bool, error) {
	if p.State() == StateDisposed {
		return 0, false, p.disposedAccess(pos)
	}

	p.readMu.Lock()
	defer p.readMu.Unlock()

	if pos < p.consumed {
		return 0, false, fmt.Errorf("%w: position %d already consumed (at %d)", ErrNotRepeatable, pos, p.consumed)
	}
	if pos > p.consumed && !p.eof {
		skipped, err := io.CopyN(io.Discard, p.src, pos-p.consumed)
		p.consumed += skipped
		if err := p.sourceErr(err); err != nil {
			return 0, false, err
		}
	}
	if p.eof {
		return 0, true, nil
	}

	n, err := p.src.Read(dst)
	p.consumed += int64(n)
	if err := p.sourceErr(err); err != nil {
		return n, false, err
	}
	return n, n == 0 && p.eof, nil
}

// sourceErr records end of data and translates other failures. Must be
// called with readMu held.
func (p *PassThroughProvider) sourceErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		p.eof = true
		return nil
	case p.State() == StateDisposed:
		return p.disposedAccess(p.consumed)
	default:
		p.recorder.SourceFailed()
		return &SourceError{Offset: p.consumed, Cause: err}
	}
}

var _ CursorProvider = (*PassThroughProvider)(nil)
