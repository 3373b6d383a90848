package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/flowstream/config"
)

// State is where a dispatched message is in its lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Status is the stored record for one dispatched message.
type Status struct {
	MessageID  string            `json:"message_id"`
	State      State             `json:"state"`
	Attributes map[string]string `json:"attributes,omitempty"`
	ErrorCode  string            `json:"error_code,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// Store persists message statuses.
type Store interface {
	Put(ctx context.Context, s Status) error
	Get(ctx context.Context, messageID string) (*Status, error)
	Ping(ctx context.Context) error
	Close() error
}

var (
	// ErrNotFound is returned for an unknown or expired message id.
	ErrNotFound = errors.New("cache: message status not found")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("cache: store is closed")
)

// IsNotFound reports whether err means the status does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================
// 🧠 MemoryStore
// =============================================================================

type memoryEntry struct {
	status    Status
	expiresAt time.Time
}

// MemoryStore keeps statuses in process. Expired entries are dropped lazily
// on Get and swept on every Put past the sweep interval.
type MemoryStore struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	ttl       time.Duration
	lastSweep time.Time
	closed    bool
	now       func() time.Time
}

// NewMemoryStore creates a store whose entries live for ttl. A zero ttl
// keeps entries until Close.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *MemoryStore) Put(_ context.Context, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}

	now := m.now()
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}
	e := memoryEntry{status: s}
	if m.ttl > 0 {
		e.expiresAt = now.Add(m.ttl)
		if now.Sub(m.lastSweep) >= m.ttl {
			m.sweepLocked(now)
		}
	}
	m.entries[s.MessageID] = e
	return nil
}

func (m *MemoryStore) Get(_ context.Context, messageID string) (*Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	e, ok := m.entries[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, messageID)
		return nil, ErrNotFound
	}
	s := e.status
	return &s, nil
}

func (m *MemoryStore) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.entries = nil
	return nil
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for id, e := range m.entries {
		if !e.expiresAt.IsZero() && !now.Before(e.expiresAt) {
			delete(m.entries, id)
		}
	}
	m.lastSweep = now
}

// Open builds the store selected by cfg.
func Open(cfg config.ResultsConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(cfg.TTL), nil
	case "redis":
		rc := DefaultRedisConfig()
		rc.Addr = cfg.Addr
		rc.Password = cfg.Password
		rc.DB = cfg.DB
		rc.TTL = cfg.TTL
		rc.TLS = cfg.TLS
		if cfg.PoolSize > 0 {
			rc.PoolSize = cfg.PoolSize
		}
		return NewRedisStore(rc, logger)
	case "sql":
		return openSQL(cfg, logger)
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.Backend)
	}
}
