// migrate-to-postgres copies the session audit trail from SQLite to PostgreSQL.
//
// Usage:
//
//	go run ./cmd/migrate-to-postgres \
//	    -sqlite data/sessions.db \
//	    -pg-host localhost \
//	    -pg-port 5432 \
//	    -pg-user logsocket \
//	    -pg-password logsocket \
//	    -pg-database logsocket
package main

import (
	"flag"
	"os"

	"github.com/lawnchairsociety/logsocket/internal/database"
	"github.com/lawnchairsociety/logsocket/internal/logger"
)

func main() {
	sqlitePath := flag.String("sqlite", "data/sessions.db", "Path to SQLite database")
	pgHost := flag.String("pg-host", "localhost", "PostgreSQL host")
	pgPort := flag.Int("pg-port", 5432, "PostgreSQL port")
	pgUser := flag.String("pg-user", "logsocket", "PostgreSQL user")
	pgPassword := flag.String("pg-password", "", "PostgreSQL password")
	pgDatabase := flag.String("pg-database", "logsocket", "PostgreSQL database name")
	pgSSLMode := flag.String("pg-sslmode", "disable", "PostgreSQL SSL mode")
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	flag.Parse()

	logger.Initialize(logger.DefaultConfig())

	if _, err := os.Stat(*sqlitePath); err != nil {
		logger.Error("SQLite database not found", "path", *sqlitePath, "error", err)
		os.Exit(1)
	}

	logger.Info("Opening SQLite database", "path", *sqlitePath)
	src, err := database.OpenSQLite(*sqlitePath)
	if err != nil {
		logger.Error("Failed to open SQLite database", "error", err)
		os.Exit(1)
	}
	defer src.Close()

	pg := database.DefaultPostgresConfig()
	pg.Host = *pgHost
	pg.Port = *pgPort
	pg.User = *pgUser
	pg.Password = *pgPassword
	pg.Database = *pgDatabase
	pg.SSLMode = *pgSSLMode

	// Opening runs the schema migrations, so the target is ready even in dry-run mode.
	logger.Info("Opening PostgreSQL database", "host", pg.Host, "port", pg.Port, "database", pg.Database)
	dst, err := database.OpenPostgres(pg)
	if err != nil {
		logger.Error("Failed to open PostgreSQL database", "error", err)
		os.Exit(1)
	}
	defer dst.Close()

	if *dryRun {
		logger.Info("DRY RUN MODE - No changes will be made")
	}

	copied, skipped, err := database.CopySessions(src, dst, *dryRun)
	if err != nil {
		logger.Error("Migration failed", "copied", copied, "error", err)
		src.Close()
		dst.Close()
		os.Exit(1)
	}

	logger.Always("Migration complete", "copied", copied, "skipped", skipped, "dry_run", *dryRun)
}
