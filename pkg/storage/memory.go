package storage

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStorage is an in-memory storage implementation for tests and ephemeral servers
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStorage creates a new in-memory storage
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		data: make(map[string][]byte),
	}
}

// Get retrieves data by key
func (s *MemoryStorage) Get(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.data[key]
	if !exists {
		return nil, nil
	}

	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// Put stores data at the specified key
func (s *MemoryStorage) Put(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	s.data[key] = stored
	return nil
}

// Create buffers writes until Commit
func (s *MemoryStorage) Create(key string) (Writer, error) {
	if key == "" {
		return nil, fmt.Errorf("invalid storage key: %q", key)
	}
	return &memoryWriter{store: s, key: key}, nil
}

type memoryWriter struct {
	store *MemoryStorage
	key   string
	buf   bytes.Buffer
	done  bool
}

func (w *memoryWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, fmt.Errorf("writer for key %s already closed", w.key)
	}
	return w.buf.Write(p)
}

func (w *memoryWriter) Commit() error {
	if w.done {
		return fmt.Errorf("writer for key %s already closed", w.key)
	}
	w.done = true

	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.data[w.key] = append([]byte{}, w.buf.Bytes()...)
	return nil
}

func (w *memoryWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}

// Open returns a reader over a snapshot of the value
func (s *MemoryStorage) Open(key string) (io.ReadCloser, error) {
	data, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// DeletePrefix removes every key equal to prefix or below prefix/
func (s *MemoryStorage) DeletePrefix(prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := strings.TrimSuffix(prefix, "/") + "/"
	for key := range s.data {
		if key == prefix || strings.HasPrefix(key, dir) {
			delete(s.data, key)
		}
	}
	return nil
}

// List returns all keys with the given prefix
func (s *MemoryStorage) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var keys []string
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Size returns the number of items in storage
func (s *MemoryStorage) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// String returns a debug string representation
func (s *MemoryStorage) String() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fmt.Sprintf("MemoryStorage{items: %d}", len(s.data))
}
