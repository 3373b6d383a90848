package streaming

import (
	"math/bits"
	"sync/atomic"

	"github.com/BaSui01/flowstream/internal/pool"
)

const (
	minSegmentShift = 9  // 512 B
	maxSegmentShift = 22 // 4 MiB
)

// Segment is a fixed-capacity byte region plus the count of valid bytes in
// it. A segment belongs to exactly one Buffer while in use.
type Segment struct {
	buf    []byte
	n      int
	pooled bool
}

// Cap returns the capacity of the segment.
func (s *Segment) Cap() int { return len(s.buf) }

// Len returns the number of valid bytes.
func (s *Segment) Len() int { return s.n }

// Bytes returns the valid region.
func (s *Segment) Bytes() []byte { return s.buf[:s.n] }

func (s *Segment) spare() []byte { return s.buf[s.n:] }

func (s *Segment) full() bool { return s.n == len(s.buf) }

// reset clears the whole segment: a source may have written into the spare
// region without the bytes ever being committed.
func (s *Segment) reset() {
	clear(s.buf)
	s.n = 0
}

// SegmentPool recycles segments in power-of-two size classes. Requests above
// the largest class fall back to direct allocation. Safe for concurrent use.
type SegmentPool struct {
	classes [maxSegmentShift - minSegmentShift + 1]*pool.Pool[*Segment]
	direct  atomic.Int64
}

// DefaultSegmentPool is the process-wide pool used when none is injected.
var DefaultSegmentPool = NewSegmentPool()

// NewSegmentPool creates an empty segment pool.
func NewSegmentPool() *SegmentPool {
	p := &SegmentPool{}
	for i := range p.classes {
		size := 1 << (minSegmentShift + i)
		p.classes[i] = pool.NewPool(
			func() *Segment { return &Segment{buf: make([]byte, size), pooled: true} },
			func(s **Segment) { (*s).reset() },
		)
	}
	return p
}

func classFor(minCapacity int) int {
	if minCapacity <= 1<<minSegmentShift {
		return 0
	}
	shift := bits.Len(uint(minCapacity - 1))
	return shift - minSegmentShift
}

// Acquire returns an empty segment with capacity of at least minCapacity.
func (p *SegmentPool) Acquire(minCapacity int) *Segment {
	if minCapacity < 1 {
		minCapacity = 1
	}
	class := classFor(minCapacity)
	if class >= len(p.classes) {
		p.direct.Add(1)
		return &Segment{buf: make([]byte, minCapacity)}
	}
	return p.classes[class].Get()
}

// Release clears the segment and makes it available for reuse. Segments that
// were allocated directly are cleared and dropped.
func (p *SegmentPool) Release(s *Segment) {
	if s == nil {
		return
	}
	if !s.pooled {
		s.reset()
		return
	}
	p.classes[classFor(len(s.buf))].Put(s)
}

// PoolStats summarises segment pool usage.
type PoolStats struct {
	pool.Stats
	Direct int64 `json:"direct"`
}

// Stats returns aggregated statistics over all size classes.
func (p *SegmentPool) Stats() PoolStats {
	var total pool.Stats
	for _, c := range p.classes {
		total = total.Add(c.Stats())
	}
	return PoolStats{Stats: total, Direct: p.direct.Load()}
}
