package streaming

import (
	"fmt"
	"io"
	"sync/atomic"
)

// copyChunk is the read size used by Cursor.WriteTo.
const copyChunk = 32 << 10

// cursorSource is the provider side of a cursor. Cursors never own it.
type cursorSource interface {
	readAt(dst []byte, pos int64) (n int, eod bool, err error)
	release(c *Cursor)
}

// Cursor is an independent read position over a managed stream. A cursor is
// not safe for concurrent use by multiple goroutines; open one cursor per
// reader instead.
//
// Besides Next, Cursor implements io.Reader, io.ReaderAt, io.Seeker,
// io.WriterTo and io.Closer, translating end of data into io.EOF.
type Cursor struct {
	provider CursorProvider
	src      cursorSource
	pos      int64
	closed   atomic.Bool
}

func newCursor(p CursorProvider, src cursorSource) *Cursor {
	return &Cursor{provider: p, src: src}
}

// Next reads up to length bytes at the current position and advances past
// them. eod is true when the stream has ended and nothing remains at the
// current position.
func (c *Cursor) Next(length int) (data []byte, eod bool, err error) {
	if length <= 0 {
		return nil, false, nil
	}
	buf := make([]byte, length)
	n, eod, err := c.next(buf)
	return buf[:n], eod, err
}

func (c *Cursor) next(p []byte) (int, bool, error) {
	if c.closed.Load() {
		return 0, false, ErrCursorClosed
	}
	n, eod, err := c.src.readAt(p, c.pos)
	c.pos += int64(n)
	return n, eod, err
}

// Read implements io.Reader.
func (c *Cursor) Read(p []byte) (int, error) {
	if len(p) == 0 {
		if c.closed.Load() {
			return 0, ErrCursorClosed
		}
		return 0, nil
	}
	n, eod, err := c.next(p)
	switch {
	case err != nil:
		return n, err
	case eod:
		return n, io.EOF
	}
	return n, nil
}

// ReadAt implements io.ReaderAt. It does not move the cursor.
func (c *Cursor) ReadAt(p []byte, off int64) (int, error) {
	if c.closed.Load() {
		return 0, ErrCursorClosed
	}
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", ErrInvalidSeek, off)
	}
	read := 0
	for read < len(p) {
		n, eod, err := c.src.readAt(p[read:], off+int64(read))
		read += n
		switch {
		case err != nil:
			return read, err
		case eod:
			return read, io.EOF
		case n == 0:
			return read, io.ErrNoProgress
		}
	}
	return read, nil
}

// SeekTo moves the cursor to pos. Any non-negative position is legal; bytes
// not yet buffered are pulled on the next read.
func (c *Cursor) SeekTo(pos int64) error {
	if c.closed.Load() {
		return ErrCursorClosed
	}
	if pos < 0 {
		return fmt.Errorf("%w: negative position %d", ErrInvalidSeek, pos)
	}
	c.pos = pos
	return nil
}

// Seek implements io.Seeker. io.SeekEnd is not supported since the length
// of the stream is unknown until the source is drained.
func (c *Cursor) Seek(offset int64, whence int) (int64, error) {
	var target int64
	switch whence {
	case io.SeekStart:
		target = offset
	case io.SeekCurrent:
		target = c.pos + offset
	default:
		return c.pos, fmt.Errorf("%w: unsupported whence %d", ErrInvalidSeek, whence)
	}
	if err := c.SeekTo(target); err != nil {
		return c.pos, err
	}
	return target, nil
}

// WriteTo implements io.WriterTo, copying from the current position to the
// end of the stream.
func (c *Cursor) WriteTo(w io.Writer) (int64, error) {
	buf := make([]byte, copyChunk)
	var written int64
	for {
		n, eod, err := c.next(buf)
		if n > 0 {
			m, werr := w.Write(buf[:n])
			written += int64(m)
			if werr != nil {
				return written, werr
			}
			if m < n {
				return written, io.ErrShortWrite
			}
		}
		if err != nil {
			return written, err
		}
		if eod {
			return written, nil
		}
	}
}

// Position returns the current offset.
func (c *Cursor) Position() int64 { return c.pos }

// Provider returns the provider the cursor reads from. The cursor does not
// own it.
func (c *Cursor) Provider() CursorProvider { return c.provider }

// Closed reports whether the cursor was closed, explicitly or by disposal
// of its provider.
func (c *Cursor) Closed() bool { return c.closed.Load() }

// Close releases the cursor. The shared buffer stays alive for other
// cursors. Closing twice is a no-op.
func (c *Cursor) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.src.release(c)
	}
	return nil
}

// forceClose marks the cursor closed without notifying the provider.
func (c *Cursor) forceClose() bool {
	return c.closed.CompareAndSwap(false, true)
}

var (
	_ io.ReadSeekCloser = (*Cursor)(nil)
	_ io.ReaderAt       = (*Cursor)(nil)
	_ io.WriterTo       = (*Cursor)(nil)
)
