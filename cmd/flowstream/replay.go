package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/flowstream/config"
	"github.com/BaSui01/flowstream/event"
	"github.com/BaSui01/flowstream/internal/telemetry"
	"github.com/BaSui01/flowstream/streaming"
)

// =============================================================================
// 🔁 replay
// =============================================================================

type replayOptions struct {
	Path    string
	Cursors int
	Chunk   int
	Buffer  streaming.BufferConfig
}

// CursorReport describes what one cursor read.
type CursorReport struct {
	Index  int    `json:"index"`
	Bytes  int64  `json:"bytes"`
	SHA256 string `json:"sha256"`
}

// ReplayReport is printed by the replay command.
type ReplayReport struct {
	File            string         `json:"file"`
	FileBytes       int64          `json:"file_bytes"`
	SourceBytesRead int64          `json:"source_bytes_read"`
	SourceCloses    int64          `json:"source_closes"`
	Identical       bool           `json:"identical"`
	GrowthSpans     int            `json:"growth_spans"`
	Buffered        int64          `json:"buffered"`
	DurationMS      int64          `json:"duration_ms"`
	Cursors         []CursorReport `json:"cursors"`
}

// OK reports whether every cursor saw the same bytes and the source was
// read exactly once and closed exactly once.
func (r *ReplayReport) OK() bool {
	return r.Identical && r.SourceBytesRead == r.FileBytes && r.SourceCloses == 1
}

func runReplay(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	path := fs.String("file", "", "File to replay")
	cursors := fs.Int("cursors", 4, "Number of concurrent cursors")
	chunk := fs.Int("chunk", 32<<10, "Bytes requested per cursor read")
	maxSize := fs.Int64("max", 0, "In-memory ceiling in bytes, 0 for unbounded")
	configPath := fs.String("config", "", "Path to config file")
	verbose := fs.Bool("v", false, "Debug logging")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" {
		fmt.Fprintln(os.Stderr, "replay: --file is required")
		return 2
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	logger, _ := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	buffer := cfg.Streaming.BufferConfig()
	buffer.MaxSize = *maxSize
	buffer.Unit = streaming.UnitByte
	if buffer.MaxSize > 0 && buffer.MaxSize < buffer.InitialSize {
		buffer.InitialSize = buffer.MaxSize
	}

	spans := tracetest.NewInMemoryExporter()
	otelProviders, err := telemetry.InitWithExporter(config.TelemetryConfig{
		ServiceName: "flowstream-replay",
		SampleRate:  1,
	}, spans, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracing: %v\n", err)
		return 1
	}
	defer func() { _ = otelProviders.Shutdown(context.Background()) }()

	report, err := replay(context.Background(), replayOptions{
		Path:    *path,
		Cursors: *cursors,
		Chunk:   *chunk,
		Buffer:  buffer,
	}, logger)
	if report != nil {
		report.GrowthSpans = countSpans(spans, "streaming.buffer.grow")
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(report)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay failed: %v\n", err)
		return 1
	}
	if !report.OK() {
		fmt.Fprintln(os.Stderr, "replay mismatch")
		return 1
	}
	return 0
}

// replay manages the file under one root, reads it fully through opts.Cursors
// concurrent cursors and completes the root.
func replay(ctx context.Context, opts replayOptions, logger *zap.Logger) (*ReplayReport, error) {
	if opts.Cursors < 1 {
		return nil, errors.New("at least one cursor is required")
	}
	if opts.Chunk < 1 {
		opts.Chunk = 32 << 10
	}

	f, err := os.Open(opts.Path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	src := &countingFile{f: f}

	registry := streaming.NewRegistry(streaming.WithRegistryLogger(logger))
	defer registry.Close()
	manager, err := streaming.NewManager(registry,
		streaming.WithBufferConfig(opts.Buffer),
		streaming.WithLogger(logger),
	)
	if err != nil {
		_ = src.Close()
		return nil, err
	}

	root := event.NewRoot(ctx)
	root.OnTerminated(func(event.Result) { registry.OnRootCompleted(root.ID()) })

	start := time.Now()
	provider, err := manager.Manage(ctx, src, root.ID(), streaming.WithStrategy(streaming.StrategyRepeatableInMemory))
	if err != nil {
		root.Fail(err)
		return nil, err
	}

	reports := make([]CursorReport, opts.Cursors)
	g, gctx := errgroup.WithContext(ctx)
	for i := range opts.Cursors {
		c, err := provider.OpenCursor()
		if err != nil {
			root.Fail(err)
			_ = g.Wait()
			return nil, err
		}
		g.Go(func() error {
			defer c.Close()
			h := sha256.New()
			var n int64
			for {
				if err := gctx.Err(); err != nil {
					return err
				}
				b, eod, err := c.Next(opts.Chunk)
				if err != nil {
					return fmt.Errorf("cursor %d: %w", i, err)
				}
				h.Write(b)
				n += int64(len(b))
				if eod {
					break
				}
			}
			reports[i] = CursorReport{Index: i, Bytes: n, SHA256: hex.EncodeToString(h.Sum(nil))}
			return nil
		})
	}

	readErr := g.Wait()
	var buffered int64
	if bp, ok := provider.(*streaming.BufferedProvider); ok {
		buffered = bp.Buffered()
	}
	if readErr != nil {
		root.Fail(readErr)
	} else {
		root.Success()
	}
	<-root.Done()

	report := &ReplayReport{
		File:            opts.Path,
		FileBytes:       info.Size(),
		SourceBytesRead: src.bytes.Load(),
		SourceCloses:    src.closes.Load(),
		Identical:       readErr == nil && identical(reports),
		Buffered:        buffered,
		DurationMS:      time.Since(start).Milliseconds(),
		Cursors:         reports,
	}

	logger.Debug("replay finished",
		zap.String("root_id", root.ID()),
		zap.Int64("file_bytes", report.FileBytes),
		zap.Int64("source_bytes_read", report.SourceBytesRead),
		zap.Bool("identical", report.Identical),
	)
	return report, readErr
}

func identical(reports []CursorReport) bool {
	for _, r := range reports[1:] {
		if r.Bytes != reports[0].Bytes || r.SHA256 != reports[0].SHA256 {
			return false
		}
	}
	return true
}

func countSpans(exp *tracetest.InMemoryExporter, name string) int {
	n := 0
	for _, s := range exp.GetSpans() {
		if s.Name == name {
			n++
		}
	}
	return n
}

// countingFile counts bytes pulled from the file and how often it is closed.
type countingFile struct {
	f      *os.File
	bytes  atomic.Int64
	closes atomic.Int64
}

func (c *countingFile) Read(p []byte) (int, error) {
	n, err := c.f.Read(p)
	c.bytes.Add(int64(n))
	return n, err
}

func (c *countingFile) Close() error {
	if c.closes.Add(1) > 1 {
		return nil
	}
	return c.f.Close()
}
