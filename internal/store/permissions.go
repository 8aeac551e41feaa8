package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type PermissionRule struct {
	Tool      string
	Verdict   string // "allow" or "deny"
	UpdatedAt time.Time
}

// PutPermissionRule upserts the persistent verdict for a tool. The write is
// atomic per key; the rules table is the only permission state shared across
// restarts.
func (s *Store) PutPermissionRule(tool, verdict string) error {
	_, err := s.db.Exec(
		`INSERT INTO permission_rules (tool, verdict, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(tool) DO UPDATE SET verdict = excluded.verdict, updated_at = excluded.updated_at`,
		tool, verdict, time.Now().UTC().Format(timeFmt),
	)
	if err != nil {
		return fmt.Errorf("put permission rule: %w", err)
	}
	return nil
}

// GetPermissionRule returns nil without error when no rule exists.
func (s *Store) GetPermissionRule(tool string) (*PermissionRule, error) {
	row := s.db.QueryRow(
		`SELECT tool, verdict, updated_at FROM permission_rules WHERE tool = ?`, tool,
	)
	var r PermissionRule
	var updated string
	err := row.Scan(&r.Tool, &r.Verdict, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get permission rule: %w", err)
	}
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

func (s *Store) ListPermissionRules() ([]*PermissionRule, error) {
	rows, err := s.db.Query(`SELECT tool, verdict, updated_at FROM permission_rules ORDER BY tool`)
	if err != nil {
		return nil, fmt.Errorf("list permission rules: %w", err)
	}
	defer rows.Close()

	var result []*PermissionRule
	for rows.Next() {
		var r PermissionRule
		var updated string
		if err := rows.Scan(&r.Tool, &r.Verdict, &updated); err != nil {
			return nil, fmt.Errorf("scan permission rule: %w", err)
		}
		r.UpdatedAt = parseTime(updated)
		result = append(result, &r)
	}
	return result, rows.Err()
}

func (s *Store) DeletePermissionRule(tool string) error {
	_, err := s.db.Exec(`DELETE FROM permission_rules WHERE tool = ?`, tool)
	if err != nil {
		return fmt.Errorf("delete permission rule: %w", err)
	}
	return nil
}
