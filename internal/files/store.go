package files

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Store manages per-session upload directories: files/<session-id>/<name>.
type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func validName(kind, name string) error {
	if name == "" || strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return fmt.Errorf("invalid %s %q", kind, name)
	}
	return nil
}

func (s *Store) sessionDir(sessionID string) (string, error) {
	if err := validName("session id", sessionID); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, sessionID), nil
}

// Save writes one uploaded file, replacing any existing file of the same
// name, and returns the updated file count for the session.
func (s *Store) Save(sessionID, name string, r io.Reader) (int, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return 0, err
	}
	if err := validName("file name", name); err != nil {
		return 0, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("create files dir: %w", err)
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create file %s: %w", name, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return 0, fmt.Errorf("write file %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return 0, fmt.Errorf("close file %s: %w", name, err)
	}

	return s.Count(sessionID)
}

// Open returns a reader over one stored file. Callers close it.
func (s *Store) Open(sessionID, name string) (io.ReadCloser, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	if err := validName("file name", name); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", name, err)
	}
	return f, nil
}

// List returns the file names stored for a session, sorted. A session
// with no upload directory has no files.
func (s *Store) List(sessionID string) ([]string, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read files dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) Count(sessionID string) (int, error) {
	names, err := s.List(sessionID)
	if err != nil {
		return 0, err
	}
	return len(names), nil
}

// Remove deletes one stored file and returns the updated count.
func (s *Store) Remove(sessionID, name string) (int, error) {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return 0, err
	}
	if err := validName("file name", name); err != nil {
		return 0, err
	}
	if err := os.Remove(filepath.Join(dir, name)); err != nil && !os.IsNotExist(err) {
		return 0, fmt.Errorf("remove file %s: %w", name, err)
	}
	return s.Count(sessionID)
}

// RemoveAll deletes a session's upload directory.
func (s *Store) RemoveAll(sessionID string) error {
	dir, err := s.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove files dir %s: %w", sessionID, err)
	}
	return nil
}
