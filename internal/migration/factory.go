package migration

import (
	"fmt"

	"github.com/BaSui01/flowstream/config"
)

// NewMigratorFromConfig creates a migrator for the sql results backend.
func NewMigratorFromConfig(cfg config.ResultsConfig) (*DefaultMigrator, error) {
	if cfg.Backend != "sql" {
		return nil, fmt.Errorf("results backend %q has no schema to migrate", cfg.Backend)
	}
	dbType, err := ParseDatabaseType(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("invalid database type: %w", err)
	}
	return NewMigrator(&Config{
		DatabaseType: dbType,
		DatabaseURL:  cfg.DSN,
		TableName:    "schema_migrations",
	})
}
