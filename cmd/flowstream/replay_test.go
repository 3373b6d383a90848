package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/flowstream/streaming"
	"github.com/BaSui01/flowstream/testutil"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestReplay_CursorsSeeIdenticalBytes(t *testing.T) {
	data := testutil.Payload(300_000, 42)
	path := writeTempFile(t, data)

	report, err := replay(testutil.TestContext(t), replayOptions{
		Path:    path,
		Cursors: 6,
		Chunk:   4096,
		Buffer:  streaming.BufferConfig{InitialSize: 8 << 10, Increment: 8 << 10},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	assert.True(t, report.OK())
	assert.True(t, report.Identical)
	assert.EqualValues(t, len(data), report.FileBytes)
	assert.EqualValues(t, len(data), report.SourceBytesRead, "the file is read exactly once")
	assert.EqualValues(t, 1, report.SourceCloses)
	require.Len(t, report.Cursors, 6)
	for _, c := range report.Cursors {
		assert.EqualValues(t, len(data), c.Bytes)
	}
}

func TestReplay_CeilingFails(t *testing.T) {
	path := writeTempFile(t, testutil.Payload(10_000, 1))

	report, err := replay(testutil.TestContext(t), replayOptions{
		Path:    path,
		Cursors: 2,
		Chunk:   512,
		Buffer:  streaming.BufferConfig{InitialSize: 1024, Increment: 1024, MaxSize: 2048},
	}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, streaming.ErrBufferCapacityExceeded)
	require.NotNil(t, report)
	assert.False(t, report.OK())
	assert.EqualValues(t, 1, report.SourceCloses, "the source is closed even on failure")
	assert.LessOrEqual(t, report.SourceBytesRead, int64(2049))
}

func TestReplay_Errors(t *testing.T) {
	_, err := replay(testutil.TestContext(t), replayOptions{Path: "x", Cursors: 0}, zaptest.NewLogger(t))
	assert.Error(t, err)

	_, err = replay(testutil.TestContext(t), replayOptions{Path: filepath.Join(t.TempDir(), "missing"), Cursors: 1}, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRunReplay(t *testing.T) {
	data := testutil.Payload(100_000, 9)
	path := writeTempFile(t, data)

	var out bytes.Buffer
	code := runReplay([]string{"--file", path, "--cursors", "3", "--chunk", "1000"}, &out)
	require.Equal(t, 0, code, out.String())

	var report ReplayReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	assert.True(t, report.Identical)
	assert.EqualValues(t, len(data), report.SourceBytesRead)
	assert.Positive(t, report.GrowthSpans, "buffer growth is traced")

	assert.Equal(t, 2, runReplay(nil, &out), "--file is required")
}
