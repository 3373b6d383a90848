package streaming

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// DefaultCompletedRetention is how many completed root ids a registry
// remembers to reject late registrations.
const DefaultCompletedRetention = 4096

// Registry tracks the cursor providers created on behalf of each in-flight
// root message and disposes them when the root completes. It is the single
// owner of every registered provider. Create one per runtime and Close it
// when the runtime stops.
type Registry struct {
	logger    *zap.Logger
	recorder  Recorder
	retention int

	mu     sync.Mutex
	roots  map[string]map[string]CursorProvider
	owners map[string]string
	closed bool

	// completed is a bounded FIFO of root ids that already completed.
	completed      map[string]struct{}
	completedOrder []string
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger.
func WithRegistryLogger(logger *zap.Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryRecorder sets the metrics recorder.
func WithRegistryRecorder(rec Recorder) RegistryOption {
	return func(r *Registry) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithCompletedRetention sets how many completed root ids are remembered.
// Zero disables the late-registration check, so a provider registered after
// its root completed is never disposed by the registry; only tests want that.
func WithCompletedRetention(n int) RegistryOption {
	return func(r *Registry) {
		if n >= 0 {
			r.retention = n
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:    zap.NewNop(),
		recorder:  NopRecorder{},
		retention: DefaultCompletedRetention,
		roots:     make(map[string]map[string]CursorProvider),
		owners:    make(map[string]string),
		completed: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "streaming_registry"))
	return r
}

// Register tracks p under rootID. Registering the same provider under the
// same root again is a no-op. The registry does not dispose p when it
// returns an error; the caller still owns it.
func (r *Registry) Register(p CursorProvider, rootID string) error {
	if p == nil {
		return fmt.Errorf("%w: nil provider", ErrInvalidConfig)
	}
	if rootID == "" {
		return ErrMissingRootID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRegistryClosed
	}
	if owner, ok := r.owners[p.ID()]; ok {
		if owner == rootID {
			return nil
		}
		return fmt.Errorf("%w: provider %s belongs to root %s", ErrAlreadyRegistered, p.ID(), owner)
	}
	if _, done := r.completed[rootID]; done {
		return fmt.Errorf("%w: %s", ErrRootCompleted, rootID)
	}

	set, ok := r.roots[rootID]
	if !ok {
		set = make(map[string]CursorProvider)
		r.roots[rootID] = set
	}
	set[p.ID()] = p
	r.owners[p.ID()] = rootID
	return nil
}

// OnRootCompleted disposes every provider registered under rootID and
// forgets the root. It is idempotent and never fails: a provider whose
// disposal errors or panics is logged and the rest are still disposed.
func (r *Registry) OnRootCompleted(rootID string) {
	r.mu.Lock()
	set := r.detachLocked(rootID)
	r.markCompletedLocked(rootID)
	r.mu.Unlock()

	if len(set) == 0 {
		return
	}
	r.logger.Debug("disposing root streams",
		zap.String("root_id", rootID),
		zap.Int("providers", len(set)))
	for _, p := range set {
		r.dispose(rootID, p)
	}
}

// Release disposes a single provider before its root completes.
func (r *Registry) Release(p CursorProvider) error {
	if p == nil {
		return nil
	}
	r.mu.Lock()
	if rootID, ok := r.owners[p.ID()]; ok {
		delete(r.owners, p.ID())
		if set := r.roots[rootID]; set != nil {
			delete(set, p.ID())
			if len(set) == 0 {
				delete(r.roots, rootID)
			}
		}
	}
	r.mu.Unlock()
	return p.Close()
}

// Providers returns the providers currently registered under rootID.
func (r *Registry) Providers(rootID string) []CursorProvider {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.roots[rootID]
	out := make([]CursorProvider, 0, len(set))
	for _, p := range set {
		out = append(out, p)
	}
	return out
}

// Close disposes every remaining root and rejects further registrations.
// It is idempotent.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	roots := r.roots
	r.roots = make(map[string]map[string]CursorProvider)
	clear(r.owners)
	r.mu.Unlock()

	for rootID, set := range roots {
		for _, p := range set {
			r.dispose(rootID, p)
		}
	}
	r.logger.Info("streaming registry closed", zap.Int("roots", len(roots)))
}

// RegistryStats is a point-in-time view of a registry.
type RegistryStats struct {
	Roots             int  `json:"roots"`
	Providers         int  `json:"providers"`
	OpenCursors       int  `json:"open_cursors"`
	CompletedRetained int  `json:"completed_retained"`
	Closed            bool `json:"closed"`
}

// Stats returns current counts.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := RegistryStats{
		Roots:             len(r.roots),
		Providers:         len(r.owners),
		CompletedRetained: len(r.completedOrder),
		Closed:            r.closed,
	}
	for _, set := range r.roots {
		for _, p := range set {
			s.OpenCursors += p.OpenCursors()
		}
	}
	return s
}

func (r *Registry) detachLocked(rootID string) map[string]CursorProvider {
	set := r.roots[rootID]
	delete(r.roots, rootID)
	for id := range set {
		delete(r.owners, id)
	}
	return set
}

func (r *Registry) markCompletedLocked(rootID string) {
	if r.retention == 0 || rootID == "" {
		return
	}
	if _, ok := r.completed[rootID]; ok {
		return
	}
	r.completed[rootID] = struct{}{}
	r.completedOrder = append(r.completedOrder, rootID)
	if len(r.completedOrder) > r.retention {
		oldest := r.completedOrder[0]
		r.completedOrder = r.completedOrder[1:]
		delete(r.completed, oldest)
	}
}

func (r *Registry) dispose(rootID string, p CursorProvider) {
	defer func() {
		if v := recover(); v != nil {
			r.recorder.DisposalFailed()
			r.logger.Error("panic while disposing cursor provider",
				zap.String("root_id", rootID),
				zap.String("provider_id", p.ID()),
				zap.Any("panic", v))
		}
	}()
	if err := p.Close(); err != nil {
		r.recorder.DisposalFailed()
		r.logger.Error("failed to dispose cursor provider",
			zap.String("root_id", rootID),
			zap.String("provider_id", p.ID()),
			zap.Error(err))
	}
}
