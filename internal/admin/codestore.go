package admin

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// DefaultCode is written when no code file exists yet.
const DefaultCode = "1234567890"

// CodeStore persists the admin code.
type CodeStore interface {
	Load() (string, error)
	Save(code string) error
}

// FileCodeStore keeps the code in a single-value file.
type FileCodeStore struct {
	path        string
	defaultCode string
}

// NewFileCodeStore creates a store at path. An empty defaultCode means
// DefaultCode.
func NewFileCodeStore(path, defaultCode string) *FileCodeStore {
	if defaultCode == "" {
		defaultCode = DefaultCode
	}
	return &FileCodeStore{path: path, defaultCode: defaultCode}
}

// Path returns the file location.
func (f *FileCodeStore) Path() string {
	return f.path
}

// Load reads the code, creating the file with the default code when it
// does not exist.
func (f *FileCodeStore) Load() (string, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := f.Save(f.defaultCode); err != nil {
			return "", err
		}
		return f.defaultCode, nil
	}
	if err != nil {
		return "", fmt.Errorf("read admin code: %w", err)
	}
	code := strings.TrimSpace(string(data))
	if code == "" {
		return "", fmt.Errorf("admin code file %s is empty", f.path)
	}
	return code, nil
}

// Save replaces the code atomically: the new value is written and synced
// to a temp file in the same directory, then renamed over the old file.
func (f *FileCodeStore) Save(code string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create code dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".admin_code-*")
	if err != nil {
		return fmt.Errorf("create temp code file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(code + "\n"); err != nil {
		tmp.Close()
		return fmt.Errorf("write code: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync code: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close code file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod code file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("replace code file: %w", err)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		d.Close()
	}
	return nil
}

var _ CodeStore = (*FileCodeStore)(nil)
