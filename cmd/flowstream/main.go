// =============================================================================
// flowstream entry point
// =============================================================================
// HTTP ingest service over the repeatable-streaming engine, plus tooling.
//
// Usage:
//
//	flowstream serve                       # start the service
//	flowstream serve --config config.yaml  # with a config file (hot reloaded)
//	flowstream replay --file big.bin       # replay a file through N cursors
//	flowstream migrate up                  # migrate the sql results schema
//	flowstream version                     # print version information
//	flowstream health                      # probe a running server
// =============================================================================

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/flowstream/api"
	"github.com/BaSui01/flowstream/api/handlers"
	"github.com/BaSui01/flowstream/config"
	"github.com/BaSui01/flowstream/internal/telemetry"
	"github.com/BaSui01/flowstream/internal/tlsutil"
)

// =============================================================================
// 📦 Build information (set with -ldflags)
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		runServe(os.Args[2:])
	case "replay":
		os.Exit(runReplay(os.Args[2:], os.Stdout))
	case "migrate":
		os.Exit(runMigrate(os.Args[2:], os.Stdout))
	case "version":
		printVersion()
	case "health":
		runHealthCheck(os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// =============================================================================
// 🖥️ serve
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	_ = fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, level := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	logger.Info("starting flowstream",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("strategy", cfg.Streaming.Strategy),
	)

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}

	srv := NewServer(cfg, *configPath, logger, level, otelProviders)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}
	srv.WaitForShutdown()

	logger.Info("flowstream stopped")
}

// =============================================================================
// 🏥 health
// =============================================================================

func runHealthCheck(args []string) {
	fs := flag.NewFlagSet("health", flag.ExitOnError)
	addr := fs.String("addr", "http://localhost:8080", "Server address")
	ready := fs.Bool("ready", false, "Probe readiness instead of liveness")
	_ = fs.Parse(args)

	path := api.PathHealth
	if *ready {
		path = api.PathReady
	}

	status, err := probe(tlsutil.SecureHTTPClient(5*time.Second), strings.TrimRight(*addr, "/")+path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(strings.ToUpper(status.Status))
}

func probe(client *http.Client, url string) (*handlers.HealthStatus, error) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var status handlers.HealthStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return &status, fmt.Errorf("status %d (%s)", resp.StatusCode, status.Status)
	}
	return &status, nil
}

// =============================================================================
// 📋 version and help
// =============================================================================

func printVersion() {
	fmt.Printf("flowstream %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`flowstream - repeatable streaming engine

Usage:
  flowstream <command> [options]

Commands:
  serve     Start the HTTP service
  replay    Read a file through several concurrent cursors
  migrate   Manage the sql results schema (up|down|down-all|version|status|info)
  version   Show version information
  health    Check server health
  help      Show this help message

Options for 'serve':
  --config <path>   Path to configuration file (YAML)

Options for 'replay':
  --file <path>     File to replay (required)
  --cursors <n>     Concurrent cursors (default 4)
  --max <bytes>     In-memory ceiling, 0 for unbounded (default 0)
  --config <path>   Take the remaining streaming options from a config file

Options for 'migrate':
  --config <path>   Path to configuration file (YAML)
  --driver <name>   sqlite, postgres or mysql (overrides results.driver)
  --dsn <dsn>       Connection string (overrides results.dsn)

Examples:
  flowstream serve --config /etc/flowstream/config.yaml
  flowstream replay --file payload.bin --cursors 8
  flowstream migrate --driver postgres --dsn postgres://localhost/flowstream up
  flowstream health --addr http://localhost:8080 --ready
  flowstream version`)
}

// =============================================================================
// 🔧 Logger
// =============================================================================

// initLogger builds the process logger. The returned level can be changed at
// runtime.
func initLogger(cfg config.LogConfig) (*zap.Logger, zap.AtomicLevel) {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	var encoderConfig zapcore.EncoderConfig
	encoding := "json"
	if cfg.Format == "console" {
		encoding = "console"
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stdout"}
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       encoding == "console",
		Encoding:          encoding,
		EncoderConfig:     encoderConfig,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.EnableStacktrace,
	}

	logger, err := zapConfig.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger, level
}

func parseLevel(s string) zapcore.Level {
	level, err := zapcore.ParseLevel(s)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
