package client

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

// ErrNoSavedRoot is returned when no root was saved yet
var ErrNoSavedRoot = errors.New("no saved root; upload first")

// RootFile is the durable client-side copy of the last confirmed root.
// It is the only root a fetch is ever verified against.
type RootFile struct {
	Path string
}

// Load reads the saved root
func (r RootFile) Load() (merkle.Hash, error) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return merkle.Hash{}, fmt.Errorf("%w: %s", ErrNoSavedRoot, r.Path)
		}
		return merkle.Hash{}, fmt.Errorf("failed to read root file: %w", err)
	}

	root, err := merkle.ParseHash(strings.TrimSpace(string(data)))
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("invalid root file %s: %w", r.Path, err)
	}
	return root, nil
}

// Save replaces the saved root atomically
func (r RootFile) Save(root merkle.Hash) error {
	return writeFileAtomic(r.Path, []byte(root.String()+"\n"), 0644)
}
