package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"reconcileflow/pkg/errors"
	"reconcileflow/pkg/logger"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const migrationsDir = "migrations"

// goose keeps its dialect, base FS and logger in package globals
var gooseMu sync.Mutex

// gooseLogger routes goose output through the application logger
type gooseLogger struct {
	log logger.Logger
}

func (g gooseLogger) Printf(format string, v ...interface{}) {
	g.log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (g gooseLogger) Fatalf(format string, v ...interface{}) {
	g.log.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// migrate applies every pending schema migration
func migrate(ctx context.Context, db *sql.DB, log logger.Logger) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(embedMigrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{log: log})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "set migration dialect", err)
	}
	if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
		return errors.StorageError(errors.CodeStorageFailure, "apply migrations", err)
	}

	version, err := goose.GetDBVersionContext(ctx, db)
	if err == nil {
		log.WithField("schema_version", version).Debug("Database schema is up to date")
	}
	return nil
}
