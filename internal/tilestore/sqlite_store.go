// Package tilestore provides persistent storage for rendered tiles using
// SQLite, so a restarted server keeps its warm tiles. It sits below the
// in-memory tile cache: the service checks memory first, then this store,
// then renders.
package tilestore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists rendered tiles in a single SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open creates or opens a tile store at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tiles (
		dataset TEXT NOT NULL,
		tile_key TEXT NOT NULL,
		data BLOB NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (dataset, tile_key)
	);

	CREATE INDEX IF NOT EXISTS idx_tiles_created ON tiles(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get retrieves a tile. The second return value is false on a miss.
func (s *Store) Get(dataset, tileKey string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRow(
		`SELECT data FROM tiles WHERE dataset = ? AND tile_key = ?`,
		dataset, tileKey,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read tile: %w", err)
	}
	return data, true, nil
}

// Put stores a tile, replacing any previous bytes for the same key.
func (s *Store) Put(dataset, tileKey string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO tiles (dataset, tile_key, data, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (dataset, tile_key) DO UPDATE SET data = excluded.data, created_at = excluded.created_at
	`, dataset, tileKey, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to store tile: %w", err)
	}
	return nil
}

// Purge deletes tiles older than the retention window. Returns the number
// of tiles removed.
func (s *Store) Purge(olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan).Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM tiles WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge tiles: %w", err)
	}
	return res.RowsAffected()
}

// Len returns the number of stored tiles.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tiles`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tiles: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
