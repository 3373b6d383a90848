package streaming

import (
	"bytes"
	"io"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/flowstream/testutil"
)

// Property: any two cursors over the same provider read identical bytes,
// whatever the buffer geometry and read sizes, and the source is drained
// exactly once.
func TestProperty_ReplayEquivalence(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		data := rapid.SliceOfN(rapid.Byte(), 0, 4096).Draw(rt, "data")
		initial := rapid.Int64Range(1, 256).Draw(rt, "initial")
		increment := rapid.Int64Range(1, 256).Draw(rt, "increment")
		chunk := rapid.IntRange(1, 300).Draw(rt, "chunk")
		sizeA := rapid.IntRange(1, 500).Draw(rt, "sizeA")
		sizeB := rapid.IntRange(1, 500).Draw(rt, "sizeB")

		src := testutil.NewCountingReader(data).WithChunk(chunk)
		buf, err := NewBuffer(src, BufferConfig{InitialSize: initial, Increment: increment})
		if err != nil {
			rt.Fatalf("new buffer: %v", err)
		}
		p := newBufferedProvider("p", "root", buf, zap.NewNop(), NopRecorder{})
		defer p.Close()

		readAll := func(size int) []byte {
			c, err := p.OpenCursor()
			if err != nil {
				rt.Fatalf("open cursor: %v", err)
			}
			defer c.Close()
			var out []byte
			for {
				b, eod, err := c.Next(size)
				if err != nil {
					rt.Fatalf("next: %v", err)
				}
				out = append(out, b...)
				if eod {
					return out
				}
			}
		}

		a := readAll(sizeA)
		b := readAll(sizeB)
		if !bytes.Equal(a, data) || !bytes.Equal(b, data) {
			rt.Fatalf("replay mismatch: len(a)=%d len(b)=%d len(data)=%d", len(a), len(b), len(data))
		}
		if got := src.BytesRead(); got != int64(len(data)) {
			rt.Fatalf("source read %d bytes for a %d byte stream", got, len(data))
		}
	})
}

// Property: concurrent cursors reading random overlapping windows never
// cause a source byte to be pulled twice.
func TestProperty_NoDuplicateSourceReads(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 8192).Draw(rt, "size")
		readers := rapid.IntRange(2, 8).Draw(rt, "readers")
		data := testutil.Payload(size, uint64(size))
		src := testutil.NewCountingReader(data).WithChunk(rapid.IntRange(1, 512).Draw(rt, "chunk"))

		buf, err := NewBuffer(src, BufferConfig{InitialSize: 64, Increment: 128})
		if err != nil {
			rt.Fatalf("new buffer: %v", err)
		}
		p := newBufferedProvider("p", "root", buf, zap.NewNop(), NopRecorder{})
		defer p.Close()

		type window struct{ off, n int }
		plans := make([][]window, readers)
		for i := range plans {
			for range rapid.IntRange(1, 6).Draw(rt, "windows") {
				off := rapid.IntRange(0, size-1).Draw(rt, "off")
				n := rapid.IntRange(1, size).Draw(rt, "n")
				plans[i] = append(plans[i], window{off, n})
			}
		}

		var wg sync.WaitGroup
		errs := make(chan string, readers*6)
		for _, plan := range plans {
			c, err := p.OpenCursor()
			if err != nil {
				rt.Fatalf("open cursor: %v", err)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.Close()
				for _, w := range plan {
					dst := make([]byte, w.n)
					n, err := c.ReadAt(dst, int64(w.off))
					if err != nil && err != io.EOF {
						errs <- err.Error()
						return
					}
					end := min(w.off+w.n, size)
					if n != end-w.off || !bytes.Equal(dst[:n], data[w.off:end]) {
						errs <- "window content mismatch"
						return
					}
				}
			}()
		}
		wg.Wait()
		close(errs)
		for e := range errs {
			rt.Fatalf("reader failed: %s", e)
		}
		if got := src.BytesRead(); got > int64(size) {
			rt.Fatalf("source read %d bytes for a %d byte stream", got, size)
		}
	})
}

// Property: with a ceiling of K, reads fully inside [0, K) succeed, reads
// starting at or beyond K fail with a capacity error, and the buffer never
// holds more than K bytes.
func TestProperty_GrowthCeiling(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("buffer never exceeds max size and fails loudly past it", prop.ForAll(
		func(maxSize int, extra int, probe int) bool {
			data := testutil.Sequence(maxSize + extra)
			buf, err := NewBuffer(testutil.NewCountingReader(data),
				BufferConfig{InitialSize: 1, Increment: 7, MaxSize: int64(maxSize)})
			if err != nil {
				t.Logf("new buffer: %v", err)
				return false
			}
			defer buf.Dispose()

			pos := int64(maxSize + probe)
			if _, _, err := buf.ReadAt(make([]byte, 1), pos); !IsCapacityExceeded(err) {
				t.Logf("read at %d with max %d: %v", pos, maxSize, err)
				return false
			}
			if buf.Len() > int64(maxSize) {
				return false
			}

			prefix := make([]byte, maxSize)
			read := 0
			for read < maxSize {
				n, eod, err := buf.ReadAt(prefix[read:], int64(read))
				if err != nil || eod {
					t.Logf("prefix read at %d: eod=%v err=%v", read, eod, err)
					return false
				}
				read += n
			}
			return bytes.Equal(prefix, data[:maxSize]) && buf.Len() == int64(maxSize)
		},
		gen.IntRange(1, 512),
		gen.IntRange(1, 512),
		gen.IntRange(0, 64),
	))

	properties.TestingRun(t)
}

// Property: disposing any number of times never errors and releases every
// segment exactly once.
func TestProperty_IdempotentDisposal(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("dispose is idempotent", prop.ForAll(
		func(size int, disposals int) bool {
			segs := NewSegmentPool()
			src := testutil.NewCountingReader(testutil.Sequence(size))
			buf, err := NewBuffer(src, BufferConfig{InitialSize: 16, Increment: 600}, WithSegmentPool(segs))
			if err != nil {
				return false
			}
			if _, err := io.Copy(io.Discard, &bufferReader{buf: buf}); err != nil {
				return false
			}
			for range disposals {
				if err := buf.Dispose(); err != nil {
					return false
				}
			}
			stats := segs.Stats()
			return src.Closes() == 1 && stats.Gets == stats.Puts
		},
		gen.IntRange(0, 5000),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}

// bufferReader reads a Buffer sequentially.
type bufferReader struct {
	buf *Buffer
	pos int64
}

func (r *bufferReader) Read(p []byte) (int, error) {
	n, eod, err := r.buf.ReadAt(p, r.pos)
	r.pos += int64(n)
	if err != nil {
		return n, err
	}
	if eod {
		return n, io.EOF
	}
	return n, nil
}
