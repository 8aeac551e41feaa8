package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session states. New sessions start as StateNew and move to StateAutoNamed
// once a generated display name replaces the raw id. Finalized and archived
// are terminal, read-mostly states.
const (
	StateNew       = "new"
	StateAutoNamed = "auto_named"
	StateFinalized = "finalized"
	StateArchived  = "archived"
)

type Session struct {
	ID             string
	DisplayName    string
	State          string
	MessageCount   int
	FileCount      int
	CreatedAt      time.Time
	LastActivityAt time.Time
}

func (s *Store) CreateSession(id string) (*Session, error) {
	now := time.Now().UTC()
	ts := now.Format(timeFmt)
	_, err := s.db.Exec(
		`INSERT INTO sessions (id, display_name, state, created_at, last_activity_at) VALUES (?, ?, ?, ?, ?)`,
		id, id, StateNew, ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{
		ID:             id,
		DisplayName:    id,
		State:          StateNew,
		CreatedAt:      now,
		LastActivityAt: now,
	}, nil
}

// GetSession returns nil without error when the session does not exist.
func (s *Store) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(
		`SELECT id, display_name, state, message_count, file_count, created_at, last_activity_at
		 FROM sessions WHERE id = ?`, id,
	)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return sess, nil
}

func (s *Store) ListSessions() ([]*Session, error) {
	rows, err := s.db.Query(
		`SELECT id, display_name, state, message_count, file_count, created_at, last_activity_at
		 FROM sessions ORDER BY last_activity_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func (s *Store) UpdateSessionName(id, displayName, state string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET display_name = ?, state = ? WHERE id = ?`,
		displayName, state, id,
	)
	if err != nil {
		return fmt.Errorf("update session name: %w", err)
	}
	return nil
}

func (s *Store) UpdateSessionState(id, state string) error {
	_, err := s.db.Exec(`UPDATE sessions SET state = ? WHERE id = ?`, state, id)
	if err != nil {
		return fmt.Errorf("update session state: %w", err)
	}
	return nil
}

func (s *Store) SetMessageCount(id string, n int) error {
	_, err := s.db.Exec(`UPDATE sessions SET message_count = ? WHERE id = ?`, n, id)
	if err != nil {
		return fmt.Errorf("set message count: %w", err)
	}
	return nil
}

func (s *Store) SetFileCount(id string, n int) error {
	_, err := s.db.Exec(`UPDATE sessions SET file_count = ? WHERE id = ?`, n, id)
	if err != nil {
		return fmt.Errorf("set file count: %w", err)
	}
	return nil
}

func (s *Store) TouchSession(id string) error {
	_, err := s.db.Exec(
		`UPDATE sessions SET last_activity_at = ? WHERE id = ?`,
		time.Now().UTC().Format(timeFmt), id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*Session, error) {
	var sess Session
	var created, activity string
	if err := row.Scan(&sess.ID, &sess.DisplayName, &sess.State, &sess.MessageCount,
		&sess.FileCount, &created, &activity); err != nil {
		return nil, err
	}
	sess.CreatedAt = parseTime(created)
	sess.LastActivityAt = parseTime(activity)
	return &sess, nil
}
