package database

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"bitespeed/internal/config"
	bserr "bitespeed/pkg/errors"
)

// sqliteParams serialise writers at BEGIN so concurrent reconciliations
// queue on the database lock instead of reading stale clusters.
const sqliteParams = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"

// DB wraps the sql.DB connection
type DB struct {
	Conn    *sql.DB
	dialect dialect
}

// Open connects to the configured database and runs migrations
func Open(ctx context.Context, cfg config.DatabaseConfig, logger logrus.FieldLogger) (*DB, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = config.InferDriver(cfg.URL)
	}

	var (
		conn *sql.DB
		d    dialect
		err  error
	)
	switch driver {
	case config.DriverSQLite:
		d = sqliteDialect
		conn, err = sql.Open("sqlite3", sqliteDSN(cfg.URL))
	case config.DriverPostgres:
		d = postgresDialect
		conn, err = sql.Open("postgres", cfg.URL)
	default:
		return nil, bserr.New(bserr.CodeStoreDriverUnsupported, "unsupported database driver",
			bserr.Field("driver", driver))
	}
	if err != nil {
		return nil, bserr.Wrap(err, bserr.CodeStoreDatabaseFailure, "failed to open database")
	}

	if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, classify(err, "failed to ping database")
	}

	db := &DB{Conn: conn, dialect: d}

	if err := db.Migrate(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logger.WithField("driver", d.name).Info("database initialized successfully")
	return db, nil
}

// Driver names the backend in use.
func (db *DB) Driver() string {
	return db.dialect.name
}

// Migrate creates the contacts table and its indexes if missing
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Conn.ExecContext(ctx, db.dialect.schema); err != nil {
		return bserr.Wrapf(err, bserr.CodeStoreMigrateFailure, "failed to execute %s schema", db.dialect.name)
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	if err := db.Conn.PingContext(ctx); err != nil {
		return classify(err, "ping database")
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.Conn.Close()
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path + "&" + sqliteParams
	}
	return path + "?" + sqliteParams
}
