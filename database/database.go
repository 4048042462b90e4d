package database

import (
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/alanbriolat/video-fetcher/internal/stats"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

type Database struct {
	db  *sqlx.DB
	log *zap.SugaredLogger
}

// NewDatabase opens the database and brings its schema up to date.
func NewDatabase(path string) (*Database, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	d := &Database{db: db, log: zap.S().Named("database")}
	if err := d.Migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate %v: %w", path, err)
	}
	return d, nil
}

func (d *Database) Migrate() error {
	d.log.Debug("running database migrations")
	fs, err := iofs.New(embedMigrations, "migrations")
	if err != nil {
		return err
	}
	driver, err := sqlite3.WithInstance(d.db.DB, &sqlite3.Config{})
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", fs, "sqlite3", driver)
	if err != nil {
		return err
	}
	err = m.Up()
	switch err {
	case nil:
		d.log.Info("database migration complete")
	case migrate.ErrNoChange:
		d.log.Debug("no database migration required")
	default:
		return err
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

type Counter struct {
	Name  string `db:"name"`
	Value int64  `db:"value"`
}

func (d *Database) LoadCounters() (stats.Counters, error) {
	var rows []Counter
	if err := d.db.Select(&rows, `SELECT name, value FROM counter ORDER BY name`); err != nil {
		return nil, err
	}
	counters := make(stats.Counters, len(rows))
	for _, row := range rows {
		counters[row.Name] = row.Value
	}
	return counters, nil
}

// SaveCounters upserts every counter in a single transaction.
func (d *Database) SaveCounters(counters stats.Counters) error {
	tx, err := d.db.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for name, value := range counters {
		if _, err := tx.NamedExec(
			`INSERT INTO counter (name, value) VALUES (:name, :value) ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
			Counter{Name: name, Value: value},
		); err != nil {
			return fmt.Errorf("failed to save counter %v: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}
