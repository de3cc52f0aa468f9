// Package storage provides the object store behind committed and staged files
package storage

import (
	"errors"
	"io"
)

// ErrNotFound is returned by Open when a key does not exist
var ErrNotFound = errors.New("storage key not found")

// Storage is an interface for object storage operations.
// Keys are slash separated paths relative to the store root.
type Storage interface {
	// Get retrieves data by key.
	// Returns nil if key does not exist.
	Get(key string) ([]byte, error)

	// Put stores data at the specified key, replacing any previous value atomically
	Put(key string, data []byte) error

	// Create opens a writer for key. Nothing is visible under key until
	// Commit succeeds; Abort discards everything written.
	Create(key string) (Writer, error)

	// Open streams the value at key. Returns ErrNotFound if key does not exist.
	Open(key string) (io.ReadCloser, error)

	// DeletePrefix removes every key under prefix
	DeletePrefix(prefix string) error

	// List returns all keys with the given prefix in lexical order
	List(prefix string) ([]string, error)
}

// Writer is a pending object created by Storage.Create
type Writer interface {
	io.Writer

	// Commit publishes the written bytes under the writer's key
	Commit() error

	// Abort discards the pending object. It is safe to call after Commit.
	Abort() error
}

// Key joins path segments into a storage key
func Key(parts ...string) string {
	key := ""
	for _, p := range parts {
		if p == "" {
			continue
		}
		if key != "" {
			key += "/"
		}
		key += p
	}
	return key
}
