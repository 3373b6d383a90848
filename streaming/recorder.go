package streaming

import "time"

// Recorder receives engine events for metrics. Implementations must be safe
// for concurrent use.
type Recorder interface {
	ProviderOpened(strategy Strategy)
	ProviderDisposed(strategy Strategy, leakedCursors int)
	CursorOpened()
	CursorClosed()
	BufferGrown(bytes int64, elapsed time.Duration)
	CapacityExceeded()
	SourceFailed()
	DisposedAccess()
	DisposalFailed()
}

// NopRecorder discards all events.
type NopRecorder struct{}

func (NopRecorder) ProviderOpened(Strategy) {}
func (NopRecorder) ProviderDisposed(Strategy, int) {}
func (NopRecorder) CursorOpened() {}
func (NopRecorder) CursorClosed() {}
func (NopRecorder) BufferGrown(int64, time.Duration) {}
func (NopRecorder) CapacityExceeded() {}
func (NopRecorder) SourceFailed() {}
func (NopRecorder) DisposedAccess() {}
func (NopRecorder) DisposalFailed() {}

var _ Recorder = NopRecorder{}
