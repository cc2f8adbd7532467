// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package db

import (
	"embed"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	migrate "github.com/rubenv/sql-migrate"
	_ "modernc.org/sqlite"

	"github.com/danielhkuo/choosing-sucks/cliparse"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Open connects to the configured database and verifies the connection.
func Open(dbType, url string) (*sqlx.DB, error) {
	driver, err := driverName(dbType)
	if err != nil {
		return nil, err
	}

	conn, err := sqlx.Open(driver, url)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}

	if dbType == cliparse.DatabaseSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY on
		// concurrent transactions and keeps :memory: databases alive.
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "enable foreign keys")
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return conn, nil
}

// CreateSchema applies all pending migrations. Safe to call multiple times.
func CreateSchema(conn *sqlx.DB, dbType string) (int, error) {
	dialect := "postgres"
	if dbType == cliparse.DatabaseSQLite {
		dialect = "sqlite3"
	}

	source := &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationsFS,
		Root:       "migrations",
	}

	n, err := migrate.Exec(conn.DB, dialect, source, migrate.Up)
	if err != nil {
		return 0, errors.Wrap(err, "failed to create schema")
	}
	return n, nil
}

// IsUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY constraint
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code.Name() == "unique_violation"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

func driverName(dbType string) (string, error) {
	switch dbType {
	case cliparse.DatabasePostgres:
		return "postgres", nil
	case cliparse.DatabaseSQLite:
		return "sqlite", nil
	}
	return "", errors.Errorf("unsupported database type %q", dbType)
}
