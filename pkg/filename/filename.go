// Package filename validates and orders the names of committed files.
// Client and server share it so both sides reproduce the same leaf order.
package filename

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// MaxLength is the longest accepted name, in bytes
const MaxLength = 255

const (
	// Manifest is the control object holding the ordered committed names
	Manifest = "manifest.json"

	// Root is the control object holding the committed root as hex
	Root = "root.hex"
)

// ErrInvalidName is wrapped by every validation failure
var ErrInvalidName = errors.New("invalid file name")

var reserved = map[string]bool{
	Manifest: true,
	Root:     true,
}

// IsReserved reports whether name collides with persisted control state
func IsReserved(name string) bool {
	return reserved[strings.ToLower(name)]
}

// Validate rejects names that are empty, too long, reserved, contain path
// separators or traversal, or contain control characters.
func Validate(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	}
	if len(name) > MaxLength {
		return fmt.Errorf("%w: name exceeds %d bytes", ErrInvalidName, MaxLength)
	}
	if name == "." || name == ".." {
		return fmt.Errorf("%w: %q is a path traversal", ErrInvalidName, name)
	}
	if IsReserved(name) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidName, name)
	}

	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
		case r < 0x20 || r == 0x7f:
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidName, name)
		}
	}

	return nil
}

// Sort orders names byte-wise lexicographically, in place
func Sort(names []string) {
	sort.Strings(names)
}
