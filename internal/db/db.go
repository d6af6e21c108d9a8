package db

import (
	"database/sql"
	"fmt"

	"github.com/goyais/streamgate/internal/config"
)

// Open returns a *sql.DB based on the configured job store driver.
func Open(cfg *config.Config) (*sql.DB, error) {
	switch cfg.JobStore {
	case "sqlite":
		return openSQLite(cfg.DBPath)
	case "postgres":
		return openPostgres(cfg.DBUrl)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", cfg.JobStore)
	}
}
