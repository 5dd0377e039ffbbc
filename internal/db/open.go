package db

import (
	"database/sql"
	"path/filepath"

	"github.com/adamavenir/frayline/internal/core"
	_ "modernc.org/sqlite"
)

// OpenDatabase opens the SQLite database for a project and ensures the
// schema exists.
func OpenDatabase(project core.Project) (*sql.DB, error) {
	core.EnsureGitignore(filepath.Dir(project.DBPath))

	conn, err := sql.Open("sqlite", project.DBPath)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA journal_mode = WAL"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := InitSchema(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return conn, nil
}
