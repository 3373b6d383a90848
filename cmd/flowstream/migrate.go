package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/flowstream/config"
	"github.com/BaSui01/flowstream/internal/migration"
)

// =============================================================================
// 🗃️ migrate
// =============================================================================

// runMigrate manages the schema of the sql results backend. The command
// (up, down, down-all, version, status, info) follows the flags and
// defaults to status.
func runMigrate(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	driver := fs.String("driver", "", "Override results.driver")
	dsn := fs.String("dsn", "", "Override results.dsn")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	command := "status"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
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
	results := cfg.Results
	if *driver != "" || *dsn != "" {
		results.Backend = "sql"
	}
	if *driver != "" {
		results.Driver = *driver
	}
	if *dsn != "" {
		results.DSN = *dsn
	}

	m, err := migration.NewMigratorFromConfig(results)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	defer func() { _ = m.Close() }()

	if err := migration.NewCLI(m, out).Run(context.Background(), command); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		return 1
	}
	return 0
}
