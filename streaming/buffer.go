package streaming

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxEmptyReads bounds consecutive (0, nil) reads from a source before the
// buffer gives up with io.ErrNoProgress.
const maxEmptyReads = 100

const tracerName = "github.com/BaSui01/flowstream/streaming"

// lener is implemented by in-memory readers that know how much is left.
type lener interface {
	Len() int
}

// Buffer holds every byte pulled so far from one single-pass source and
// serves reads at arbitrary positions, pulling more from the source on
// demand. The source is read at most once per byte.
//
// All mutation happens under the write side of the guard; reads of buffered
// regions share the read side.
type Buffer struct {
	guard    Guard
	cfg      BufferConfig
	src      io.Reader
	pool     *SegmentPool
	spill    SpillPolicy
	recorder Recorder
	spanCtx  trace.SpanContext

	segments   []*Segment
	starts     []int64
	total      int64
	capacity   int64
	exhausted  bool
	overflowed bool

	disposed  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type bufferOptions struct {
	pool     *SegmentPool
	spill    SpillPolicy
	recorder Recorder
	spanCtx  trace.SpanContext
}

// BufferOption configures a Buffer.
type BufferOption func(*bufferOptions)

// WithSegmentPool sets the pool segments are drawn from.
func WithSegmentPool(p *SegmentPool) BufferOption {
	return func(o *bufferOptions) { o.pool = p }
}

// WithSpillPolicy sets the policy consulted when the ceiling is crossed.
func WithSpillPolicy(p SpillPolicy) BufferOption {
	return func(o *bufferOptions) { o.spill = p }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) BufferOption {
	return func(o *bufferOptions) { o.recorder = r }
}

// WithTraceParent links growth spans to the span found in ctx.
func WithTraceParent(ctx context.Context) BufferOption {
	return func(o *bufferOptions) { o.spanCtx = trace.SpanContextFromContext(ctx) }
}

// NewBuffer wraps src. The buffer takes ownership of src and closes it on
// Dispose if it implements io.Closer.
func NewBuffer(src io.Reader, cfg BufferConfig, opts ...BufferOption) (*Buffer, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	cfg, err := cfg.Normalize()
	if err != nil {
		return nil, err
	}
	o := bufferOptions{
		pool:     DefaultSegmentPool,
		spill:    FailPolicy{},
		recorder: NopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Buffer{
		cfg:      cfg,
		src:      src,
		pool:     o.pool,
		spill:    o.spill,
		recorder: o.recorder,
		spanCtx:  o.spanCtx,
		capacity: cfg.InitialSize,
	}, nil
}

// ReadAt copies bytes starting at pos into dst. It returns eod=true, with
// n == 0 and a nil error, once the source is exhausted and nothing exists at
// pos. A read may be short when it straddles the end of the source or the
// ceiling.
func (b *Buffer) ReadAt(dst []byte, pos int64) (n int, eod bool, err error) {
	if pos < 0 {
		return 0, false, fmt.Errorf("%w: negative position %d", ErrInvalidSeek, pos)
	}
	if b.disposed.Load() {
		return 0, false, ErrDisposedBufferAccess
	}
	if len(dst) == 0 {
		return 0, false, nil
	}
	end := pos + int64(len(dst))
	if end < pos {
		end = math.MaxInt64
	}

	err = b.guard.ReadOrGrow(
		func() bool { return b.needsGrowth(pos, end) },
		func() error { return b.grow(pos, end) },
		func() error {
			var serr error
			n, eod, serr = b.serve(dst, pos)
			return serr
		},
	)
	if err != nil {
		return 0, false, err
	}
	return n, eod, nil
}

// Len returns the number of bytes buffered so far.
func (b *Buffer) Len() int64 {
	var n int64
	_ = b.guard.WithReadLock(func(func()) error {
		n = b.total
		return nil
	})
	return n
}

// Exhausted reports whether the source has been fully drained.
func (b *Buffer) Exhausted() bool {
	var done bool
	_ = b.guard.WithReadLock(func(func()) error {
		done = b.exhausted
		return nil
	})
	return done
}

// Disposed reports whether Dispose has been called.
func (b *Buffer) Disposed() bool { return b.disposed.Load() }

// Config returns the normalized configuration.
func (b *Buffer) Config() BufferConfig { return b.cfg }

// Dispose closes the source, returns all segments to the pool and makes the
// buffer unusable. It is safe to call more than once and from a goroutine
// other than one blocked in a source read; only the first call reports the
// close error.
func (b *Buffer) Dispose() error {
	first := b.disposed.CompareAndSwap(false, true)
	// Closing before taking the lock unblocks a grower stuck in src.Read.
	closeErr := b.closeSource()
	if !first {
		return nil
	}
	_ = b.guard.WithWriteLock(func() error {
		for _, s := range b.segments {
			b.pool.Release(s)
		}
		b.segments = nil
		b.starts = nil
		return nil
	})
	return closeErr
}

// prefill pulls the initial capacity from the source.
func (b *Buffer) prefill() error {
	return b.guard.WithWriteLock(func() error {
		if b.disposed.Load() {
			return ErrDisposedBufferAccess
		}
		return b.fill(b.capacity)
	})
}

func (b *Buffer) closeSource() error {
	b.closeOnce.Do(func() {
		if c, ok := b.src.(io.Closer); ok {
			b.closeErr = c.Close()
		}
	})
	return b.closeErr
}

func (b *Buffer) needsGrowth(pos, end int64) bool {
	if b.disposed.Load() || b.exhausted || end <= b.total {
		return false
	}
	if b.cfg.MaxSize > 0 && b.total >= b.cfg.MaxSize {
		// Full up to the ceiling: a straddling read is served short.
		return pos >= b.total
	}
	return true
}

// serve must run under the read lock.
func (b *Buffer) serve(dst []byte, pos int64) (int, bool, error) {
	if b.disposed.Load() {
		return 0, false, ErrDisposedBufferAccess
	}
	if pos >= b.total {
		return 0, b.exhausted, nil
	}

	i := sort.Search(len(b.starts), func(i int) bool { return b.starts[i] > pos }) - 1
	n := 0
	for ; i < len(b.segments) && n < len(dst); i++ {
		off := pos + int64(n) - b.starts[i]
		n += copy(dst[n:], b.segments[i].Bytes()[off:])
	}
	return n, false, nil
}

// grow must run under the write lock.
func (b *Buffer) grow(pos, end int64) error {
	if b.disposed.Load() {
		return ErrDisposedBufferAccess
	}

	maxSize := b.cfg.MaxSize
	if maxSize > 0 && pos >= maxSize {
		if pos == b.total && b.total == maxSize && !b.overflowed {
			ended, err := b.probe()
			if err != nil || ended {
				return err
			}
		}
		b.recorder.CapacityExceeded()
		cerr := &CapacityError{Position: pos, Requested: end, MaxSize: maxSize, Buffered: b.total}
		if err := b.spill.OnCapacityExceeded(cerr); err != nil {
			return err
		}
		return cerr
	}

	target := b.capacity
	if end > target {
		target = max(end, target+b.cfg.Increment)
	}
	if b.cfg.EagerRead {
		if l, ok := b.src.(lener); ok {
			target = max(target, b.total+int64(l.Len()))
		}
	}
	if maxSize > 0 {
		target = min(target, maxSize)
	}
	b.capacity = max(b.capacity, target)
	return b.fill(target)
}

// probe distinguishes a source that ended exactly at the ceiling from one
// that continues past it. A byte read past the ceiling is dropped; nothing
// beyond the ceiling is ever served.
func (b *Buffer) probe() (bool, error) {
	var one [1]byte
	for range maxEmptyReads {
		n, err := b.src.Read(one[:])
		if b.disposed.Load() {
			return false, ErrDisposedBufferAccess
		}
		if n > 0 {
			b.overflowed = true
			return false, nil
		}
		if errors.Is(err, io.EOF) {
			b.exhausted = true
			return true, nil
		}
		if err != nil {
			b.recorder.SourceFailed()
			return false, &SourceError{Offset: b.total, Cause: err}
		}
	}
	return false, &SourceError{Offset: b.total, Cause: io.ErrNoProgress}
}

// fill drains the source until target bytes are buffered or the source ends.
// Must run under the write lock.
func (b *Buffer) fill(target int64) (err error) {
	if b.exhausted || b.total >= target {
		return nil
	}

	start := time.Now()
	before := b.total
	_, span := otel.GetTracerProvider().Tracer(tracerName).Start(
		trace.ContextWithSpanContext(context.Background(), b.spanCtx),
		"streaming.buffer.grow",
		trace.WithAttributes(
			attribute.Int64("streaming.buffered", before),
			attribute.Int64("streaming.target", target),
		),
	)
	defer func() {
		b.trimEmptyTail()
		grown := b.total - before
		if grown > 0 {
			b.recorder.BufferGrown(grown, time.Since(start))
		}
		span.SetAttributes(
			attribute.Int64("streaming.grown", grown),
			attribute.Bool("streaming.exhausted", b.exhausted),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	empty := 0
	for b.total < target {
		seg := b.tail()
		spare := seg.spare()
		want := min(int64(len(spare)), target-b.total)

		n, rerr := b.src.Read(spare[:want])
		if b.disposed.Load() {
			return ErrDisposedBufferAccess
		}
		if n > 0 {
			seg.n += n
			b.total += int64(n)
			empty = 0
		}
		switch {
		case errors.Is(rerr, io.EOF):
			b.exhausted = true
			return nil
		case rerr != nil:
			b.recorder.SourceFailed()
			return &SourceError{Offset: b.total, Cause: rerr}
		case n == 0:
			empty++
			if empty >= maxEmptyReads {
				b.recorder.SourceFailed()
				return &SourceError{Offset: b.total, Cause: io.ErrNoProgress}
			}
		}
	}
	return nil
}

// tail returns the last segment if it has room, or appends a fresh one.
func (b *Buffer) tail() *Segment {
	if k := len(b.segments); k > 0 && !b.segments[k-1].full() {
		return b.segments[k-1]
	}
	size := b.cfg.Increment
	if len(b.segments) == 0 {
		size = b.cfg.InitialSize
	}
	size = min(size, 1<<maxSegmentShift)

	seg := b.pool.Acquire(int(size))
	b.starts = append(b.starts, b.total)
	b.segments = append(b.segments, seg)
	return seg
}

func (b *Buffer) trimEmptyTail() {
	k := len(b.segments)
	if k == 0 || b.segments[k-1].Len() > 0 {
		return
	}
	b.pool.Release(b.segments[k-1])
	b.segments = b.segments[:k-1]
	b.starts = b.starts[:k-1]
}
