package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const defaultDBName = "state.db"

type Config struct {
	// Dir is the directory holding the state database, normally the
	// secrets project directory next to the OAuth token files.
	Dir string
}

func dbPath(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, defaultDBName)
}

// EnsureStateDir creates the state directory if missing. Token files live
// here too, so keep it private to the user.
func EnsureStateDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// Open opens the SQLite state database with foreign keys on.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureStateDir(cfg.Dir); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=foreign_keys(1)", dbPath(cfg.Dir))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the state directory.
func Path(dir string) string {
	return dbPath(dir)
}
