// Package migrations creates and upgrades the catalog database schema.
package migrations

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/mediabundler/mediabundler/internal/config"
	"github.com/mediabundler/mediabundler/internal/database"
	"github.com/mediabundler/mediabundler/internal/logging"
)

type Migrator struct {
	config  *config.Database
	log     *logging.Logger
	migrate bool
}

func New() *Migrator {
	return &Migrator{log: logging.NewNop()}
}

func (m *Migrator) WithConfig(cfg *config.Database) *Migrator {
	m.config = cfg
	return m
}

func (m *Migrator) WithLogger(log *logging.Logger) *Migrator {
	m.log = log
	return m
}

func (m *Migrator) WithMigrate(yes bool) *Migrator {
	m.migrate = yes
	return m
}

// Run opens the database and, if requested, applies all pending migrations.
func (m *Migrator) Run(ctx context.Context) (*database.Database, error) {
	db := (&database.Database{}).WithConfig(m.config).WithLogger(m.log)
	if err := db.InitDB(ctx); err != nil {
		return nil, err
	}

	if !m.migrate {
		return db, nil
	}

	if err := m.up(db); err != nil {
		db.CloseDB()
		return nil, err
	}

	return db, nil
}

func (m *Migrator) up(db *database.Database) error {
	dialect, err := db.Dialect()
	if err != nil {
		return err
	}
	kind, err := kindOf(dialect)
	if err != nil {
		return err
	}

	src, err := iofs.New(initialSchemaFS(kind), ".")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	var drv migratedb.Driver
	switch kind {
	case sqlite:
		drv, err = migratesqlite.WithInstance(db.DB(), &migratesqlite.Config{})
	case postgres:
		drv, err = pgx.WithInstance(db.DB(), &pgx.Config{})
	case mysql:
		drv, err = migratemysql.WithInstance(db.DB(), &migratemysql.Config{})
	}
	if err != nil {
		return fmt.Errorf("failed to prepare %s migrations: %w", dialect, err)
	}

	// Closing the migrate instance would close the shared *sql.DB.
	mg, err := migrate.NewWithInstance("iofs", src, dialect, drv)
	if err != nil {
		return err
	}

	if err := mg.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			m.log.Debugf("database schema is up to date")
			return nil
		}
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, _, _ := mg.Version()
	m.log.Infof("database schema migrated to version %d", version)
	return nil
}
