package profile

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS profiles (
	position        INTEGER NOT NULL,
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	content         TEXT NOT NULL,
	origin_kind     TEXT NOT NULL,
	origin_url      TEXT NOT NULL DEFAULT '',
	created_at      INTEGER NOT NULL,
	last_updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS profile_state (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLiteStorage keeps the State in a SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// OpenSQLiteStorage opens (or creates) the database at path and applies the schema.
// Use ":memory:" for an in-memory database.
func OpenSQLiteStorage(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single connection: ":memory:" databases are per connection, and it avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, err
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply profile schema: %w", err)
	}
	return &SQLiteStorage{db: db}, nil
}

// Load returns the stored state, or nil when no profile has been saved.
func (s *SQLiteStorage) Load() (*State, error) {
	rows, err := s.db.Query(`SELECT id, name, content, origin_kind, origin_url, created_at, last_updated_at
		FROM profiles ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var state State
	for rows.Next() {
		var (
			p                  Profile
			kind               string
			created, updatedAt int64
		)
		if err := rows.Scan(&p.ID, &p.Name, &p.Content, &kind, &p.Origin.URL, &created, &updatedAt); err != nil {
			return nil, err
		}
		p.Origin.Kind = OriginKind(kind)
		p.CreatedAt = time.UnixMilli(created).UTC()
		p.LastUpdatedAt = time.UnixMilli(updatedAt).UTC()
		state.Profiles = append(state.Profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(state.Profiles) == 0 {
		return nil, nil
	}

	err = s.db.QueryRow(`SELECT value FROM profile_state WHERE key = 'current'`).Scan(&state.CurrentID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return &state, nil
}

// Save replaces the stored state in one transaction.
func (s *SQLiteStorage) Save(state *State) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM profiles`); err != nil {
		return err
	}
	for i, p := range state.Profiles {
		_, err := tx.Exec(`INSERT INTO profiles
			(position, id, name, content, origin_kind, origin_url, created_at, last_updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			i, p.ID, p.Name, p.Content, string(p.Origin.Kind), p.Origin.URL,
			p.CreatedAt.UnixMilli(), p.LastUpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("save profile %s: %w", p.ID, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO profile_state (key, value) VALUES ('current', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, state.CurrentID); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
