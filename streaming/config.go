package streaming

import (
	"fmt"
	"strings"
)

// DataUnit scales configured buffer sizes.
type DataUnit string

const (
	UnitByte     DataUnit = "BYTE"
	UnitKilobyte DataUnit = "KB"
	UnitMegabyte DataUnit = "MB"
	UnitGigabyte DataUnit = "GB"
)

// ParseDataUnit parses a unit name case-insensitively. The empty string is
// treated as BYTE.
func ParseDataUnit(s string) (DataUnit, error) {
	switch u := DataUnit(strings.ToUpper(strings.TrimSpace(s))); u {
	case "", "B", UnitByte:
		return UnitByte, nil
	case UnitKilobyte, UnitMegabyte, UnitGigabyte:
		return u, nil
	default:
		return "", fmt.Errorf("%w: unknown data unit %q", ErrInvalidConfig, s)
	}
}

// Bytes converts n units to bytes.
func (u DataUnit) Bytes(n int64) int64 {
	switch u {
	case UnitKilobyte:
		return n << 10
	case UnitMegabyte:
		return n << 20
	case UnitGigabyte:
		return n << 30
	default:
		return n
	}
}

// Strategy selects how a stream is made available to pipeline stages.
type Strategy string

const (
	// StrategyRepeatableInMemory buffers the source so any number of cursors
	// can read it. This is the default.
	StrategyRepeatableInMemory Strategy = "repeatable-in-memory"
	// StrategyNonRepeatable hands the source to a single cursor without
	// buffering.
	StrategyNonRepeatable Strategy = "non-repeatable"
)

// ParseStrategy parses a strategy name. The empty string selects the default.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyRepeatableInMemory, nil
	case StrategyRepeatableInMemory, StrategyNonRepeatable:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown streaming strategy %q", ErrInvalidConfig, s)
	}
}

// Default buffer sizes, in bytes.
const (
	DefaultInitialBufferSize   = 8 << 10
	DefaultBufferSizeIncrement = 8 << 10
	DefaultMaxInMemorySize     = 1 << 20
)

// BufferConfig configures a growable buffer. Sizes are expressed in Unit.
type BufferConfig struct {
	// InitialSize is the capacity filled on first access.
	InitialSize int64 `yaml:"initial_buffer_size" json:"initial_buffer_size"`
	// Increment is the minimum capacity added per growth step.
	Increment int64 `yaml:"buffer_size_increment" json:"buffer_size_increment"`
	// MaxSize is the hard ceiling. Zero means unbounded.
	MaxSize int64 `yaml:"max_in_memory_size" json:"max_in_memory_size"`
	// Unit scales the three sizes above. Empty means BYTE.
	Unit DataUnit `yaml:"buffer_unit" json:"buffer_unit"`
	// EagerRead fills the initial capacity at creation and drains cheap
	// sources in one pass while growing.
	EagerRead bool `yaml:"eager_read" json:"eager_read"`
}

// DefaultBufferConfig returns the default configuration.
func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		InitialSize: DefaultInitialBufferSize,
		Increment:   DefaultBufferSizeIncrement,
		MaxSize:     DefaultMaxInMemorySize,
		Unit:        UnitByte,
	}
}

// Normalize validates the configuration and converts all sizes to bytes.
func (c BufferConfig) Normalize() (BufferConfig, error) {
	unit, err := ParseDataUnit(string(c.Unit))
	if err != nil {
		return BufferConfig{}, err
	}
	out := BufferConfig{
		InitialSize: unit.Bytes(c.InitialSize),
		Increment:   unit.Bytes(c.Increment),
		MaxSize:     unit.Bytes(c.MaxSize),
		Unit:        UnitByte,
		EagerRead:   c.EagerRead,
	}
	if err := out.validate(); err != nil {
		return BufferConfig{}, err
	}
	return out, nil
}

func (c BufferConfig) validate() error {
	switch {
	case c.InitialSize <= 0:
		return fmt.Errorf("%w: initial buffer size must be positive", ErrInvalidConfig)
	case c.Increment <= 0:
		return fmt.Errorf("%w: buffer size increment must be positive", ErrInvalidConfig)
	case c.MaxSize < 0:
		return fmt.Errorf("%w: max in-memory size must not be negative", ErrInvalidConfig)
	case c.MaxSize > 0 && c.MaxSize < c.InitialSize:
		return fmt.Errorf("%w: max in-memory size %d is below initial size %d",
			ErrInvalidConfig, c.MaxSize, c.InitialSize)
	}
	return nil
}

// Unbounded reports whether the configuration has no ceiling.
func (c BufferConfig) Unbounded() bool { return c.MaxSize == 0 }
