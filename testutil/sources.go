package testutil

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ErrInjected is the failure returned by FailingReader.
var ErrInjected = errors.New("testutil: injected source failure")

// =============================================================================
// 📥 Instrumented sources
// =============================================================================

// CountingReader wraps a byte slice, counting every byte and call served and
// every Close. It deliberately hides Len so consumers cannot size it up
// front.
type CountingReader struct {
	mu     sync.Mutex
	r      *bytes.Reader
	reads  atomic.Int64
	bytes  atomic.Int64
	closes atomic.Int64
	closed atomic.Bool
	chunk  int
}

// NewCountingReader returns a reader over data.
func NewCountingReader(data []byte) *CountingReader {
	return &CountingReader{r: bytes.NewReader(data)}
}

// WithChunk limits each Read to at most n bytes.
func (c *CountingReader) WithChunk(n int) *CountingReader {
	c.chunk = n
	return c
}

func (c *CountingReader) Read(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, errors.New("testutil: read from closed source")
	}
	if c.chunk > 0 && len(p) > c.chunk {
		p = p[:c.chunk]
	}
	c.mu.Lock()
	n, err := c.r.Read(p)
	c.mu.Unlock()
	c.reads.Add(1)
	c.bytes.Add(int64(n))
	return n, err
}

// Close records the close; it never fails.
func (c *CountingReader) Close() error {
	c.closes.Add(1)
	c.closed.Store(true)
	return nil
}

// BytesRead returns the total bytes handed out.
func (c *CountingReader) BytesRead() int64 { return c.bytes.Load() }

// Reads returns the number of Read calls.
func (c *CountingReader) Reads() int64 { return c.reads.Load() }

// Closes returns the number of Close calls.
func (c *CountingReader) Closes() int64 { return c.closes.Load() }

// SizedReader is a CountingReader that also reports its remaining length.
type SizedReader struct {
	*CountingReader
}

// NewSizedReader returns a reader over data that implements Len.
func NewSizedReader(data []byte) *SizedReader {
	return &SizedReader{CountingReader: NewCountingReader(data)}
}

// Len returns the number of unread bytes.
func (s *SizedReader) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.r.Len()
}

// FailingReader serves data and then fails with ErrInjected instead of EOF.
type FailingReader struct {
	data     []byte
	off      int
	closeErr error
	closes   atomic.Int64
}

// NewFailingReader returns a reader that fails after data is consumed.
func NewFailingReader(data []byte) *FailingReader {
	return &FailingReader{data: data}
}

// WithCloseError makes Close return err.
func (f *FailingReader) WithCloseError(err error) *FailingReader {
	f.closeErr = err
	return f
}

func (f *FailingReader) Read(p []byte) (int, error) {
	if f.off >= len(f.data) {
		return 0, ErrInjected
	}
	n := copy(p, f.data[f.off:])
	f.off += n
	return n, nil
}

// Close returns the configured close error.
func (f *FailingReader) Close() error {
	f.closes.Add(1)
	return f.closeErr
}

// Closes returns the number of Close calls.
func (f *FailingReader) Closes() int64 { return f.closes.Load() }

// BlockingReader blocks every Read until Close is called, then fails.
// Started is closed once the first Read is blocked.
type BlockingReader struct {
	Started chan struct{}

	once      sync.Once
	done      chan struct{}
	closeOnce sync.Once
	closes    atomic.Int64
}

// NewBlockingReader returns a reader that never yields data.
func NewBlockingReader() *BlockingReader {
	return &BlockingReader{Started: make(chan struct{}), done: make(chan struct{})}
}

func (b *BlockingReader) Read([]byte) (int, error) {
	b.once.Do(func() { close(b.Started) })
	<-b.done
	return 0, io.ErrClosedPipe
}

// Close unblocks pending reads.
func (b *BlockingReader) Close() error {
	b.closes.Add(1)
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

// Closes returns the number of Close calls.
func (b *BlockingReader) Closes() int64 { return b.closes.Load() }
