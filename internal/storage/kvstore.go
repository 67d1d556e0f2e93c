package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Load returns the blob stored under namespace, or nil if there is none.
func (s *SQLiteStore) Load(namespace string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow("SELECT value FROM kv WHERE namespace = ?", namespace).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load namespace %q: %w", namespace, err)
	}
	return value, nil
}

// Save replaces the blob stored under namespace.
func (s *SQLiteStore) Save(namespace string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO kv (namespace, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(namespace) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, namespace, data, time.Now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return fmt.Errorf("failed to save namespace %q: %w", namespace, err)
	}
	return nil
}
