// Package store persists the content hashes of accepted methods so that
// later runs can skip verifying unchanged code.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Verdicts is a SQLite table of accepted method hashes. It satisfies
// driver.Store.
type Verdicts struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

// Open opens (creating if needed) the verdict database at path.
func Open(path string) (*Verdicts, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Concurrent CLI runs may share one file.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS verdicts (
		hash     BLOB PRIMARY KEY,
		passes   INTEGER NOT NULL,
		recorded INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}

	return &Verdicts{db: db, path: path}, nil
}

// Path returns the database file.
func (v *Verdicts) Path() string {
	return v.path
}

// Close closes the database connection.
func (v *Verdicts) Close() error {
	if v.db != nil {
		return v.db.Close()
	}
	return nil
}

// Lookup reports whether a method with the given hash was accepted before,
// and after how many passes.
func (v *Verdicts) Lookup(key [32]byte) (int, bool, error) {
	var passes int
	err := v.db.QueryRow("SELECT passes FROM verdicts WHERE hash = ?", key[:]).Scan(&passes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("querying verdict: %w", err)
	}
	return passes, true, nil
}

// Record stores an accepted method hash.
func (v *Verdicts) Record(key [32]byte, passes int) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, err := v.db.Exec(
		"INSERT OR REPLACE INTO verdicts (hash, passes, recorded) VALUES (?, ?, ?)",
		key[:], passes, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("saving verdict: %w", err)
	}
	return nil
}

// Count returns the number of recorded verdicts.
func (v *Verdicts) Count() (int, error) {
	var n int
	if err := v.db.QueryRow("SELECT COUNT(*) FROM verdicts").Scan(&n); err != nil {
		return 0, fmt.Errorf("counting verdicts: %w", err)
	}
	return n, nil
}

// Clear forgets every verdict.
func (v *Verdicts) Clear() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, err := v.db.Exec("DELETE FROM verdicts"); err != nil {
		return fmt.Errorf("clearing verdicts: %w", err)
	}
	return nil
}
