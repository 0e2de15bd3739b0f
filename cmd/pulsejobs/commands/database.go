package commands

import (
	"database/sql"

	"github.com/teranos/pulsejobs/am"
	"github.com/teranos/pulsejobs/db"
	"github.com/teranos/pulsejobs/errors"
	"github.com/teranos/pulsejobs/logger"
)

// openDatabase opens and migrates the configured database.
// If dbPath is non-empty it overrides the config.
func openDatabase(cfg *am.Config, dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		dbPath = cfg.Database.Path
	}

	database, err := db.OpenWithMigrations(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}
	return database, nil
}
