// Package migration applies arbstr's schema migrations, trimmed from the
// teacher's tri-database migrator (internal/migration/migrator.go) down to
// the one database arbstr ever runs against: embedded SQLite.
package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Registers the "sqlite3" database/sql driver that golang-migrate's
	// sqlite3.WithInstance needs; GORM's own query path uses the
	// separate pure-Go glebarez/sqlite dialector instead (see
	// internal/store), so the two drivers never contend for the same
	// *sql.DB.
	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

const migrationsPath = "migrations/sqlite"

// MigrationStatus describes one migration's applied/pending state.
type MigrationStatus struct {
	Version   uint
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Dirty     bool
}

// MigrationInfo summarizes the current migration state.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config holds the configuration for the migrator.
type Config struct {
	// DatabaseURL is a sqlite3 golang-migrate DSN, e.g.
	// "sqlite3://./arbstr.db?_foreign_keys=on".
	DatabaseURL string

	// TableName is the name of the migrations bookkeeping table.
	TableName string

	LockTimeout time.Duration
}

// Migrator is the interface cmd/arbstr's serve path uses to apply
// migrations at startup; CLI wraps it for terminal output.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator implements Migrator using golang-migrate against the
// embedded sqlite migration files.
type DefaultMigrator struct {
	config   *Config
	migrate  *migrate.Migrate
	db       *sql.DB
	dbDriver database.Driver
}

// NewMigrator opens cfg.DatabaseURL and prepares the embedded sqlite
// source.
func NewMigrator(cfg *Config) (*DefaultMigrator, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL is required")
	}
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout == 0 {
		cfg.LockTimeout = 15 * time.Second
	}

	m := &DefaultMigrator{config: cfg}
	if err := m.init(); err != nil {
		return nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return m, nil
}

func (m *DefaultMigrator) init() error {
	var err error

	m.db, err = sql.Open("sqlite3", m.config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	if err := m.db.Ping(); err != nil {
		m.db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	m.dbDriver, err = sqlite3.WithInstance(m.db, &sqlite3.Config{MigrationsTable: m.config.TableName})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	sourceDriver, err := iofs.New(sqliteFS, migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m.migrate, err = migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", m.dbDriver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Up(ctx context.Context) error {
	if err := m.migrate.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Down(ctx context.Context) error {
	if err := m.migrate.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	if err := m.migrate.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down all failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	if err := m.migrate.Steps(n); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration steps failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	if err := m.migrate.Migrate(version); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration goto failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Force(ctx context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	return nil
}

func (m *DefaultMigrator) Version(ctx context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, nil
}

func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	var statuses []MigrationStatus
	for _, mig := range migrations {
		statuses = append(statuses, MigrationStatus{
			Version: mig.version,
			Name:    mig.name,
			Applied: mig.version <= currentVersion,
			Dirty:   dirty && mig.version == currentVersion,
		})
	}
	return statuses, nil
}

func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	currentVersion, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}

	migrations, err := getAvailableMigrations()
	if err != nil {
		return nil, err
	}

	applied := 0
	for _, mig := range migrations {
		if mig.version <= currentVersion {
			applied++
		}
	}

	return &MigrationInfo{
		CurrentVersion:    currentVersion,
		Dirty:             dirty,
		TotalMigrations:   len(migrations),
		AppliedMigrations: applied,
		PendingMigrations: len(migrations) - applied,
	}, nil
}

func (m *DefaultMigrator) Close() error {
	var errs []error
	if m.migrate != nil {
		sourceErr, dbErr := m.migrate.Close()
		if sourceErr != nil {
			errs = append(errs, sourceErr)
		}
		if dbErr != nil {
			errs = append(errs, dbErr)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("failed to close migrator: %v", errs)
	}
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

func getAvailableMigrations() ([]migrationFile, error) {
	var fsys fs.FS = sqliteFS

	entries, err := fs.ReadDir(fsys, migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	seen := make(map[uint]bool)
	var migrations []migrationFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 2 {
			continue
		}
		version, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			continue
		}
		if seen[uint(version)] {
			continue
		}
		seen[uint(version)] = true

		migrations = append(migrations, migrationFile{
			version: uint(version),
			name:    strings.TrimSuffix(parts[1], ".up.sql"),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

// BuildDatabaseURL turns a plain sqlite file path into the sqlite3
// golang-migrate DSN.
func BuildDatabaseURL(path string) string {
	return fmt.Sprintf("sqlite3://%s?_foreign_keys=on", path)
}
