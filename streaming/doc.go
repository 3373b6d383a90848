/*
Package streaming makes single-pass byte sources repeatable for the
duration of one in-flight message.

# Overview

A pipeline stage that produces a stream (an HTTP body, a file, a socket)
hands it to a Manager. The Manager wraps it in a CursorProvider backed by a
growable in-memory Buffer and registers the provider with a Registry under
the message's root id. Any stage can then open its own Cursor and read the
same bytes from any position; bytes are pulled from the source lazily and
exactly once. When the root message completes, Registry.OnRootCompleted
disposes every provider registered for it, closing the sources and
returning buffer segments to the pool.

# Core types

  - Buffer: segments pulled from one source, grown on demand up to a
    configured ceiling. Reads of buffered regions share a read lock; growth
    takes the write lock through Guard.ReadOrGrow.
  - Cursor: an independent position over a provider. Implements io.Reader,
    io.ReaderAt, io.Seeker, io.WriterTo and io.Closer.
  - BufferedProvider / PassThroughProvider: the repeatable and the
    single-consumer providers.
  - Registry: root id to provider set; the single owner of providers.
  - SegmentPool: size-classed, process-wide segment recycling.

# Errors

Reads past the ceiling fail with a *CapacityError (ErrBufferCapacityExceeded),
source failures with a *SourceError (ErrSourceRead), and reads after disposal
with ErrDisposedBufferAccess. End of data is not an error: Cursor.Next
reports it as eod=true and the io adapters as io.EOF.

# Usage

	registry := streaming.NewRegistry(streaming.WithRegistryLogger(logger))
	defer registry.Close()

	mgr, err := streaming.NewManager(registry, streaming.WithLogger(logger))
	p, err := mgr.Manage(ctx, req.Body, rootID)
	c, err := p.OpenCursor()
	defer c.Close()
	data, err := io.ReadAll(c)

	registry.OnRootCompleted(rootID)
*/
package streaming
