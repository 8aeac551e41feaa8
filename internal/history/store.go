package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Turn is one role-tagged message in a conversation.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Store reads and writes per-session conversation logs. One markdown file
// per session id, append-only; the file is the authoritative history.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Dir returns the history directory path.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(sessionID string) (string, error) {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") || sessionID == "." || sessionID == ".." {
		return "", fmt.Errorf("invalid session id %q", sessionID)
	}
	return filepath.Join(s.dir, sessionID+".md"), nil
}

// Append durably writes one turn and returns the updated turn count.
func (s *Store) Append(sessionID string, turn Turn) (int, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return 0, fmt.Errorf("create history dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return 0, fmt.Errorf("open history %s: %w", sessionID, err)
	}
	if _, err := f.WriteString(serializeTurn(turn)); err != nil {
		f.Close()
		return 0, fmt.Errorf("append history %s: %w", sessionID, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, fmt.Errorf("sync history %s: %w", sessionID, err)
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close history %s: %w", sessionID, err)
	}

	return s.Count(sessionID)
}

// Load reconstructs the full ordered history for a session. A missing file
// is an empty history, not an error. Lines that superficially resemble
// markers but fail the compound rule are kept as content; garbage before the
// first marker is skipped with a warning.
func (s *Store) Load(sessionID string) ([]Turn, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history %s: %w", sessionID, err)
	}
	return parseLog(sessionID, string(data)), nil
}

func parseLog(sessionID, text string) []Turn {
	lines := strings.Split(text, "\n")

	var turns []Turn
	var cur *Turn
	var buf []string
	preamble := 0

	// flush finishes the turn under construction. The serializer writes a
	// blank line after content; mid-file that is one trailing newline by the
	// time the next marker splits it, at EOF it is two.
	flush := func(atEOF bool) {
		if cur == nil {
			return
		}
		content := strings.Join(buf, "\n")
		if atEOF {
			content = strings.TrimSuffix(content, "\n\n")
		} else {
			content = strings.TrimSuffix(content, "\n")
		}
		cur.Content = content
		turns = append(turns, *cur)
		cur = nil
		buf = nil
	}

	for i := 0; i < len(lines); i++ {
		role, ts, ok := parseMarker(lines[i])
		if ok {
			flush(false)
			cur = &Turn{Role: role, Timestamp: ts}
			buf = nil
			// Skip the single blank separator the serializer emits.
			if i+1 < len(lines) && lines[i+1] == "" {
				i++
			}
			continue
		}
		if cur != nil {
			buf = append(buf, lines[i])
		} else if lines[i] != "" {
			preamble++
		}
	}
	flush(true)

	if preamble > 0 {
		logger.Warn("history: skipped preamble lines before first marker",
			"session", sessionID, "lines", preamble)
	}
	return turns
}

// Count returns the number of persisted turns without materializing content.
func (s *Store) Count(sessionID string) (int, error) {
	path, err := s.path(sessionID)
	if err != nil {
		return 0, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read history %s: %w", sessionID, err)
	}
	n := 0
	for _, line := range strings.Split(string(data), "\n") {
		if _, _, ok := parseMarker(line); ok {
			n++
		}
	}
	return n, nil
}

// List returns the session ids that have a history record on disk.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read history dir: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".md"))
	}
	return ids, nil
}

// Delete removes a session's history record.
func (s *Store) Delete(sessionID string) error {
	path, err := s.path(sessionID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete history %s: %w", sessionID, err)
	}
	return nil
}
