// Package storage opens the plugtrack SQLite database. Individual
// stores own their schemas; this package only provides the connection.
package storage

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// DBFile is the database file name inside the state directory.
const DBFile = "plugtrack.db"

// Open opens or creates the SQLite database under dir, creating the
// directory if needed.
func Open(dir string, logger *slog.Logger) (*sql.DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	dbPath := filepath.Join(dir, DBFile)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL and a busy timeout keep concurrent coordinator writes from
	// tripping over each other.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	if logger != nil {
		logger.Debug("database opened", "path", dbPath)
	}
	return db, nil
}
