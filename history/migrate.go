// migrate.go applies schema migrations with golang-migrate. Migrations live
// under history/migrations as paired up/down SQL files and are referenced by
// a "file://" source URL.
package history

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file" // File source driver
)

// migrateUp applies all pending up migrations. ErrNoChange is not an error.
//
// The migrator takes ownership of the connection and closes it; callers
// open a fresh connection for regular use afterwards.
func migrateUp(db *sql.DB, migrationsPath string) error {
	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return fmt.Errorf("history: failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			return nil
		}
		return fmt.Errorf("history: failed to apply migrations: %w", err)
	}
	return nil
}

// MigrateDown rolls back migrations by the given number of steps; -1 rolls
// back everything. Used by operational tooling, not the normal startup
// path.
func MigrateDown(dbPath, migrationsPath string, steps int) error {
	db, err := newSQLiteConnection(DefaultConnectionConfig(dbPath))
	if err != nil {
		return err
	}

	m, err := newMigrator(db, migrationsPath)
	if err != nil {
		return fmt.Errorf("history: failed to create migrator: %w", err)
	}
	defer m.Close()

	var migrateErr error
	if steps == -1 {
		migrateErr = m.Down()
	} else {
		migrateErr = m.Steps(-steps)
	}
	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		return fmt.Errorf("history: failed to roll back migrations: %w", migrateErr)
	}
	return nil
}

func newMigrator(db *sql.DB, migrationsPath string) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("database connection is required")
	}
	if migrationsPath == "" {
		return nil, errors.New("migrations path is required")
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{
		DatabaseName: "main",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	return migrate.NewWithDatabaseInstance(migrationsPath, "main", driver)
}
