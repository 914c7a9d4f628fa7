package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite

	"github.com/vincentbai/browsetrace-session/internal/models"
)

// Index is the SQLite catalog of recordings known to this machine.
type Index struct {
	db *sql.DB
}

// Entry is one catalog row.
type Entry struct {
	ID         string
	Name       string
	Path       string
	StartedAt  int64
	DurationMs int64
	EventCount int
	Browser    string
	Platform   string
}

// OpenIndex opens (or creates) the catalog database.
func OpenIndex(databasePath string) (*Index, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open index database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Index{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS recordings(
	  id          TEXT PRIMARY KEY,
	  name        TEXT NOT NULL,
	  path        TEXT NOT NULL,
	  started_at  INTEGER NOT NULL,
	  duration_ms INTEGER NOT NULL,
	  event_count INTEGER NOT NULL,
	  browser     TEXT NOT NULL,
	  platform    TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_recordings_started ON recordings(started_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to create index tables: %w", err)
	}
	return nil
}

func (i *Index) Close() error {
	return i.db.Close()
}

// Add catalogs a persisted recording.
func (i *Index) Add(rec *models.Recording, path string) error {
	name := rec.Metadata.Name
	if name == "" {
		name = path
	}
	_, err := i.db.Exec(
		`INSERT INTO recordings(id, name, path, started_at, duration_ms, event_count, browser, platform) VALUES(?,?,?,?,?,?,?,?)`,
		uuid.NewString(), name, path, rec.StartTime, rec.Metadata.Duration, len(rec.Events), rec.Metadata.Browser, rec.Metadata.Platform,
	)
	if err != nil {
		return fmt.Errorf("failed to catalog recording: %w", err)
	}
	return nil
}

// List returns catalog entries, newest first.
func (i *Index) List() ([]Entry, error) {
	rows, err := i.db.Query(`SELECT id, name, path, started_at, duration_ms, event_count, browser, platform FROM recordings ORDER BY started_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list recordings: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.Name, &e.Path, &e.StartedAt, &e.DurationMs, &e.EventCount, &e.Browser, &e.Platform); err != nil {
			return nil, fmt.Errorf("failed to scan recording row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
