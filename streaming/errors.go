package streaming

import (
	"errors"
	"fmt"
)

var (
	// ErrBufferCapacityExceeded is returned when a read would need the buffer to
	// grow past its configured ceiling.
	ErrBufferCapacityExceeded = errors.New("streaming: buffer capacity exceeded")
	// ErrSourceRead wraps failures of the underlying single-pass source.
	ErrSourceRead = errors.New("streaming: source read failure")
	// ErrDisposedBufferAccess indicates a read reached a buffer or provider after
	// it was disposed. This is a lifetime bug in the caller.
	ErrDisposedBufferAccess = errors.New("streaming: access to disposed buffer")
	// ErrCursorClosed is returned by reads on a cursor after Close.
	ErrCursorClosed = errors.New("streaming: cursor closed")
	// ErrNotRepeatable is returned when a pass-through stream is asked for a
	// second cursor or a backwards seek.
	ErrNotRepeatable = errors.New("streaming: stream is not repeatable")
	// ErrRegistryClosed is returned when registering with a closed registry.
	ErrRegistryClosed = errors.New("streaming: registry closed")
	// ErrRootCompleted is returned when registering under a root that already
	// completed. Manager disposes the provider immediately.
	ErrRootCompleted = errors.New("streaming: root already completed")
	// ErrAlreadyRegistered is returned when a provider is registered under a
	// second root id.
	ErrAlreadyRegistered = errors.New("streaming: provider already registered")
	// ErrMissingRootID is returned when a stream is managed without a root
	// message id.
	ErrMissingRootID = errors.New("streaming: missing root id")
	// ErrInvalidConfig is returned for buffer configurations that cannot work.
	ErrInvalidConfig = errors.New("streaming: invalid config")
	// ErrInvalidSeek is returned for negative or unsupported seeks.
	ErrInvalidSeek = errors.New("streaming: invalid seek")
)

// CapacityError describes a read that crossed the in-memory ceiling.
type CapacityError struct {
	// Position is the offset the read started at.
	Position int64
	// Requested is the end offset the read asked for.
	Requested int64
	// MaxSize is the configured ceiling.
	MaxSize int64
	// Buffered is how many bytes were held when the read failed.
	Buffered int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("%s: read at %d (to %d) exceeds max in-memory size %d (buffered %d)",
		ErrBufferCapacityExceeded.Error(), e.Position, e.Requested, e.MaxSize, e.Buffered)
}

func (e *CapacityError) Is(target error) bool {
	return target == ErrBufferCapacityExceeded
}

// SourceError wraps an I/O failure of the origin stream.
type SourceError struct {
	// Offset is the buffered length when the source failed.
	Offset int64
	Cause  error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s at offset %d: %v", ErrSourceRead.Error(), e.Offset, e.Cause)
}

func (e *SourceError) Unwrap() []error {
	return []error{ErrSourceRead, e.Cause}
}

// IsCapacityExceeded reports whether err is (or wraps) a capacity failure.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrBufferCapacityExceeded)
}

// IsSourceFailure reports whether err is (or wraps) a source read failure.
func IsSourceFailure(err error) bool {
	return errors.Is(err, ErrSourceRead)
}
