package storage

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql migrations/mysql/*.sql
var migrationsFS embed.FS

// migrateUp applies pending migrations for d. The migrate instance is not
// closed: closing it would close db as well.
func migrateUp(db *sql.DB, d dialect) error {
	src, err := iofs.New(migrationsFS, "migrations/"+d.String())
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	var drv database.Driver
	switch d {
	case dialectPostgres:
		drv, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	case dialectMySQL:
		drv, err = migratemysql.WithInstance(db, &migratemysql.Config{})
	default:
		drv, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	}
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.String(), drv)
	if err != nil {
		return fmt.Errorf("migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}
