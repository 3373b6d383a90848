package streaming

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/internal/ctxkeys"
)

// Manager turns single-pass sources into registered cursor providers. It is
// the factory the pipeline runtime calls whenever a stage produces a stream.
type Manager struct {
	registry *Registry

	mu       sync.RWMutex
	cfg      BufferConfig
	strategy Strategy
	pool     *SegmentPool
	spill    SpillPolicy
	logger   *zap.Logger
	recorder Recorder
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithBufferConfig sets the default buffer configuration.
func WithBufferConfig(cfg BufferConfig) ManagerOption {
	return func(m *Manager) { m.cfg = cfg }
}

// WithDefaultStrategy sets the default strategy.
func WithDefaultStrategy(s Strategy) ManagerOption {
	return func(m *Manager) { m.strategy = s }
}

// WithPool sets the segment pool buffers draw from.
func WithPool(p *SegmentPool) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.pool = p
		}
	}
}

// WithManagerSpillPolicy sets the policy consulted at the ceiling.
func WithManagerSpillPolicy(p SpillPolicy) ManagerOption {
	return func(m *Manager) {
		if p != nil {
			m.spill = p
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithManagerRecorder sets the metrics recorder.
func WithManagerRecorder(r Recorder) ManagerOption {
	return func(m *Manager) {
		if r != nil {
			m.recorder = r
		}
	}
}

// NewManager creates a Manager that registers providers with registry.
func NewManager(registry *Registry, opts ...ManagerOption) (*Manager, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: nil registry", ErrInvalidConfig)
	}
	m := &Manager{
		registry: registry,
		cfg:      DefaultBufferConfig(),
		strategy: StrategyRepeatableInMemory,
		pool:     DefaultSegmentPool,
		spill:    FailPolicy{},
		logger:   zap.NewNop(),
		recorder: NopRecorder{},
	}
	for _, opt := range opts {
		opt(m)
	}

	cfg, err := m.cfg.Normalize()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	if m.strategy, err = ParseStrategy(string(m.strategy)); err != nil {
		return nil, err
	}
	m.logger = m.logger.With(zap.String("component", "streaming_manager"))
	return m, nil
}

type manageOptions struct {
	strategy Strategy
	cfg      BufferConfig
}

// ManageOption overrides Manager defaults for one stream.
type ManageOption func(*manageOptions)

// WithStrategy overrides the strategy.
func WithStrategy(s Strategy) ManageOption {
	return func(o *manageOptions) { o.strategy = s }
}

// WithConfig overrides the buffer configuration.
func WithConfig(cfg BufferConfig) ManageOption {
	return func(o *manageOptions) { o.cfg = cfg }
}

// Manage wraps src in a provider registered under rootID. A src that is
// already a cursor yields that cursor's provider: a managed stream is never
// buffered twice. The provider owns src from here on, including on error.
func (m *Manager) Manage(ctx context.Context, src io.Reader, rootID string, opts ...ManageOption) (CursorProvider, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: nil source", ErrInvalidConfig)
	}
	if c, ok := src.(*Cursor); ok {
		return m.adopt(c.Provider(), rootID), nil
	}
	if rootID == "" {
		closeQuietly(src)
		return nil, ErrMissingRootID
	}

	m.mu.RLock()
	o := manageOptions{strategy: m.strategy, cfg: m.cfg}
	m.mu.RUnlock()
	for _, opt := range opts {
		opt(&o)
	}
	strategy, err := ParseStrategy(string(o.strategy))
	if err != nil {
		closeQuietly(src)
		return nil, err
	}

	id := uuid.NewString()
	var (
		p   CursorProvider
		buf *Buffer
	)
	switch strategy {
	case StrategyNonRepeatable:
		p = newPassThroughProvider(id, rootID, src, m.logger, m.recorder)
	default:
		buf, err = NewBuffer(src, o.cfg,
			WithSegmentPool(m.pool),
			WithSpillPolicy(m.spill),
			WithRecorder(m.recorder),
			WithTraceParent(ctx),
		)
		if err != nil {
			closeQuietly(src)
			return nil, err
		}
		p = newBufferedProvider(id, rootID, buf, m.logger, m.recorder)
	}
	m.recorder.ProviderOpened(strategy)

	if buf != nil && buf.Config().EagerRead {
		if err := buf.prefill(); err != nil {
			_ = p.Close()
			return nil, err
		}
	}

	if err := m.registry.Register(p, rootID); err != nil {
		if cerr := p.Close(); cerr != nil {
			m.logger.Warn("failed to dispose unregistered provider", zap.Error(cerr))
		}
		return nil, err
	}

	m.logger.Debug("stream managed",
		zap.String("provider_id", id),
		zap.String("root_id", rootID),
		zap.String("strategy", string(strategy)))
	return p, nil
}

// ManageContext is Manage with the root id taken from ctx.
func (m *Manager) ManageContext(ctx context.Context, src io.Reader, opts ...ManageOption) (CursorProvider, error) {
	rootID, ok := ctxkeys.RootID(ctx)
	if !ok {
		if src != nil {
			closeQuietly(src)
		}
		return nil, ErrMissingRootID
	}
	return m.Manage(ctx, src, rootID, opts...)
}

// Release disposes p ahead of its root's completion.
func (m *Manager) Release(p CursorProvider) error {
	return m.registry.Release(p)
}

// Registry returns the registry providers are registered with.
func (m *Manager) Registry() *Registry { return m.registry }

// Reconfigure replaces the defaults used for streams managed from now on.
// Providers that already exist keep the configuration they were built with.
func (m *Manager) Reconfigure(cfg BufferConfig, strategy Strategy) error {
	cfg, err := cfg.Normalize()
	if err != nil {
		return err
	}
	if strategy, err = ParseStrategy(string(strategy)); err != nil {
		return err
	}

	m.mu.Lock()
	old := m.cfg
	m.cfg, m.strategy = cfg, strategy
	m.mu.Unlock()

	m.logger.Info("streaming defaults reconfigured",
		zap.Int64("initial_buffer_size", cfg.InitialSize),
		zap.Int64("buffer_size_increment", cfg.Increment),
		zap.Int64("max_in_memory_size", cfg.MaxSize),
		zap.Int64("previous_max_in_memory_size", old.MaxSize),
		zap.Bool("eager_read", cfg.EagerRead),
		zap.String("strategy", string(strategy)))
	return nil
}

// Config returns the normalized default buffer configuration.
func (m *Manager) Config() BufferConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Strategy returns the default strategy.
func (m *Manager) Strategy() Strategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

// Pool returns the segment pool in use.
func (m *Manager) Pool() *SegmentPool { return m.pool }

func (m *Manager) adopt(p CursorProvider, rootID string) CursorProvider {
	if rootID != "" && p.RootID() != rootID {
		m.logger.Debug("reusing stream managed under another root",
			zap.String("provider_id", p.ID()),
			zap.String("provider_root_id", p.RootID()),
			zap.String("root_id", rootID))
	}
	return p
}

// ProviderOf returns the provider behind v when v is already managed.
func ProviderOf(v any) (CursorProvider, bool) {
	switch s := v.(type) {
	case CursorProvider:
		return s, true
	case *Cursor:
		return s.Provider(), true
	default:
		return nil, false
	}
}

// IsManaged reports whether v is a provider or a cursor.
func IsManaged(v any) bool {
	_, ok := ProviderOf(v)
	return ok
}

func closeQuietly(src io.Reader) {
	if c, ok := src.(io.Closer); ok {
		_ = c.Close()
	}
}
