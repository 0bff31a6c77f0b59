package migration

import (
	"fmt"

	"github.com/arbstr/arbstr/internal/config"
)

// NewMigratorFromConfig builds a Migrator from the database path in cfg.
func NewMigratorFromConfig(cfg *config.Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is required")
	}

	return NewMigrator(&Config{
		DatabaseURL: BuildDatabaseURL(cfg.Database.Path),
		TableName:   "schema_migrations",
	})
}
