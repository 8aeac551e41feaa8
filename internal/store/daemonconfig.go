package store

import (
	"database/sql"
	"fmt"
)

// GetDaemonConfig returns the stored value for key, or "" when unset.
func (s *Store) GetDaemonConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM daemon_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get daemon config %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) SetDaemonConfig(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO daemon_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("set daemon config %s: %w", key, err)
	}
	return nil
}
