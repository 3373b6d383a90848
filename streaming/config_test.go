package streaming

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDataUnit(t *testing.T) {
	tests := []struct {
		in      string
		want    DataUnit
		wantErr bool
	}{
		{"", UnitByte, false},
		{"byte", UnitByte, false},
		{"b", UnitByte, false},
		{"kb", UnitKilobyte, false},
		{" MB ", UnitMegabyte, false},
		{"GB", UnitGigabyte, false},
		{"TB", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDataUnit(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDataUnit_Bytes(t *testing.T) {
	assert.EqualValues(t, 3, UnitByte.Bytes(3))
	assert.EqualValues(t, 3<<10, UnitKilobyte.Bytes(3))
	assert.EqualValues(t, 3<<20, UnitMegabyte.Bytes(3))
	assert.EqualValues(t, 3<<30, UnitGigabyte.Bytes(3))
}

func TestParseStrategy(t *testing.T) {
	s, err := ParseStrategy("")
	require.NoError(t, err)
	assert.Equal(t, StrategyRepeatableInMemory, s)

	s, err = ParseStrategy("NON-REPEATABLE")
	require.NoError(t, err)
	assert.Equal(t, StrategyNonRepeatable, s)

	_, err = ParseStrategy("file-store")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestBufferConfig_Normalize(t *testing.T) {
	cfg, err := BufferConfig{InitialSize: 8, Increment: 4, MaxSize: 1, Unit: UnitKilobyte, EagerRead: true}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, BufferConfig{
		InitialSize: 8 << 10,
		Increment:   4 << 10,
		MaxSize:     1 << 10,
		Unit:        UnitByte,
		EagerRead:   true,
	}, cfg)
	assert.False(t, cfg.Unbounded())
}

func TestBufferConfig_NormalizeRejects(t *testing.T) {
	tests := map[string]BufferConfig{
		"zero initial":      {InitialSize: 0, Increment: 1},
		"zero increment":    {InitialSize: 1, Increment: 0},
		"negative max":      {InitialSize: 1, Increment: 1, MaxSize: -1},
		"max below initial": {InitialSize: 10, Increment: 1, MaxSize: 5},
		"bad unit":          {InitialSize: 1, Increment: 1, Unit: "PB"},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := cfg.Normalize()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultBufferConfig(t *testing.T) {
	cfg, err := DefaultBufferConfig().Normalize()
	require.NoError(t, err)
	assert.EqualValues(t, DefaultInitialBufferSize, cfg.InitialSize)
	assert.EqualValues(t, DefaultBufferSizeIncrement, cfg.Increment)
	assert.EqualValues(t, DefaultMaxInMemorySize, cfg.MaxSize)
	assert.False(t, cfg.EagerRead)
}
