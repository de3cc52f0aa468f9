package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// pendingDir holds uncommitted writes. No key can resolve into it.
const pendingDir = ".pending"

// LocalStorage implements Storage on the local filesystem
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a new local filesystem storage
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &LocalStorage{
		basePath: basePath,
	}, nil
}

// BasePath returns the directory the store is rooted at
func (s *LocalStorage) BasePath() string {
	return s.basePath
}

// getPath returns the full filesystem path for a key.
// Keys that would resolve outside the base directory are rejected.
func (s *LocalStorage) getPath(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if key == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	if first, _, _ := strings.Cut(filepath.ToSlash(clean), "/"); first == pendingDir {
		return "", fmt.Errorf("invalid storage key: %q", key)
	}
	return filepath.Join(s.basePath, clean), nil
}

// Put stores data at the specified key
func (s *LocalStorage) Put(key string, data []byte) error {
	w, err := s.Create(key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Abort()
		return fmt.Errorf("failed to write key %s: %w", key, err)
	}
	return w.Commit()
}

// Create opens a temp file in the pending directory. Commit renames it into place.
func (s *LocalStorage) Create(key string) (Writer, error) {
	filePath, err := s.getPath(key)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for key %s: %w", key, err)
	}

	pending := filepath.Join(s.basePath, pendingDir)
	if err := os.MkdirAll(pending, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pending directory: %w", err)
	}

	f, err := os.CreateTemp(pending, "write-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for key %s: %w", key, err)
	}

	return &localWriter{file: f, key: key, dest: filePath}, nil
}

type localWriter struct {
	file *os.File
	key  string
	dest string
	done bool
}

func (w *localWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *localWriter) Commit() error {
	if w.done {
		return fmt.Errorf("writer for key %s already closed", w.key)
	}
	w.done = true

	if err := w.file.Sync(); err != nil {
		w.discard()
		return fmt.Errorf("failed to sync temp file for key %s: %w", w.key, err)
	}
	if err := w.file.Close(); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("failed to close temp file for key %s: %w", w.key, err)
	}
	if err := os.Rename(w.file.Name(), w.dest); err != nil {
		_ = os.Remove(w.file.Name())
		return fmt.Errorf("failed to rename temp file for key %s: %w", w.key, err)
	}
	return nil
}

func (w *localWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	w.discard()
	return nil
}

func (w *localWriter) discard() {
	_ = w.file.Close()
	_ = os.Remove(w.file.Name())
}

// Get retrieves data at the specified key
func (s *LocalStorage) Get(key string) ([]byte, error) {
	filePath, err := s.getPath(key)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read file for key %s: %w", key, err)
	}

	return data, nil
}

// Open returns a reader for streaming large objects
func (s *LocalStorage) Open(key string) (io.ReadCloser, error) {
	filePath, err := s.getPath(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file for key %s: %w", key, err)
	}

	return file, nil
}

// DeletePrefix removes a key directory and everything below it
func (s *LocalStorage) DeletePrefix(prefix string) error {
	dirPath, err := s.getPath(prefix)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dirPath); err != nil {
		return fmt.Errorf("failed to delete prefix %s: %w", prefix, err)
	}
	return nil
}

// List returns all keys with the given prefix. Pending writes are skipped.
func (s *LocalStorage) List(prefix string) ([]string, error) {
	var keys []string

	err := filepath.WalkDir(s.basePath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrPermission) {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			if path == filepath.Join(s.basePath, pendingDir) {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(s.basePath, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path: %w", err)
		}

		key := filepath.ToSlash(relPath)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(keys)
	return keys, nil
}

// String returns a debug string representation
func (s *LocalStorage) String() string {
	return fmt.Sprintf("LocalStorage{basePath: %s}", s.basePath)
}
