package merkle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/GMKrieger/client-server-merkle/pkg/filename"
)

// Tree is an immutable binary hash tree stored as a flat list of levels.
// levels[0] holds the leaves and the last level holds only the root.
// Changing the underlying set means building a new Tree.
type Tree struct {
	hasher Hasher
	levels [][]Hash
}

// NewTree builds a tree over pre-computed leaf hashes in the given order.
//
// Adjacent entries of each level are combined pairwise. When a level has an
// odd length its last entry is combined with itself.
func NewTree(h Hasher, leaves []Hash) (*Tree, error) {
	if len(leaves) == 0 {
		return nil, ErrEmptyLeaves
	}
	if h == nil {
		h = SHA256
	}

	level := make([]Hash, len(leaves))
	copy(level, leaves)
	levels := [][]Hash{level}

	for len(level) > 1 {
		next := make([]Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, Combine(h, left, right))
		}
		levels = append(levels, next)
		level = next
	}

	return &Tree{hasher: h, levels: levels}, nil
}

// FromData hashes each blob and builds a tree over the results
func FromData(h Hasher, data [][]byte) (*Tree, error) {
	if h == nil {
		h = SHA256
	}
	leaves := make([]Hash, len(data))
	for i, d := range data {
		leaves[i] = h.Sum(d)
	}
	return NewTree(h, leaves)
}

// FromDirectory builds a tree over the regular files of dir, ordered by name.
// When include is non-nil only names it accepts are used. The ordered names
// are returned alongside the tree.
func FromDirectory(h Hasher, dir string, include func(name string) bool) (*Tree, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if include != nil && !include(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, nil, ErrEmptyLeaves
	}
	filename.Sort(names)

	data := make([][]byte, len(names))
	for i, name := range names {
		data[i], err = os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
	}

	tree, err := FromData(h, data)
	if err != nil {
		return nil, nil, err
	}
	return tree, names, nil
}

// Hasher returns the digest primitive the tree was built with
func (t *Tree) Hasher() Hasher {
	return t.hasher
}

// Root returns the single hash at the top of the tree
func (t *Tree) Root() Hash {
	return t.levels[len(t.levels)-1][0]
}

// RootHex returns the root as a hex string
func (t *Tree) RootHex() string {
	return t.Root().String()
}

// LeafCount returns the number of leaves
func (t *Tree) LeafCount() int {
	return len(t.levels[0])
}

// Height returns the number of levels, including the leaf and root levels
func (t *Tree) Height() int {
	return len(t.levels)
}

// LeafHash returns the leaf at index
func (t *Tree) LeafHash(index int) (Hash, error) {
	if index < 0 || index >= t.LeafCount() {
		return Hash{}, &IndexOutOfBoundsError{Index: index, LeafCount: t.LeafCount()}
	}
	return t.levels[0][index], nil
}

// Leaves returns a copy of the leaf level
func (t *Tree) Leaves() []Hash {
	leaves := make([]Hash, len(t.levels[0]))
	copy(leaves, t.levels[0])
	return leaves
}

// FindLeafIndex returns the index of the first leaf equal to hash.
// Identical contents share a leaf hash, so duplicates resolve to the first one.
func (t *Tree) FindLeafIndex(hash Hash) (int, error) {
	for i, leaf := range t.levels[0] {
		if leaf == hash {
			return i, nil
		}
	}
	return 0, ErrLeafNotFound
}

// String returns a short human readable summary
func (t *Tree) String() string {
	var b strings.Builder
	b.WriteString("MerkleTree {\n")
	fmt.Fprintf(&b, "  leaves: %d\n", t.LeafCount())
	fmt.Fprintf(&b, "  height: %d\n", t.Height())
	fmt.Fprintf(&b, "  hash: %s\n", t.hasher.Name())
	fmt.Fprintf(&b, "  root: %s\n", t.RootHex())
	b.WriteString("}")
	return b.String()
}

type treeJSON struct {
	HashAlgorithm string   `json:"hash_algorithm"`
	Levels        [][]Hash `json:"levels"`
}

// MarshalJSON encodes every level of the tree together with its algorithm
func (t *Tree) MarshalJSON() ([]byte, error) {
	return json.Marshal(treeJSON{HashAlgorithm: t.hasher.Name(), Levels: t.levels})
}

// UnmarshalJSON rebuilds the tree from the encoded leaves and rejects the
// input unless every encoded level matches the rebuilt one.
func (t *Tree) UnmarshalJSON(data []byte) error {
	var raw treeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.Levels) == 0 {
		return ErrEmptyLeaves
	}

	h, err := HasherByName(raw.HashAlgorithm)
	if err != nil {
		return err
	}
	rebuilt, err := NewTree(h, raw.Levels[0])
	if err != nil {
		return err
	}

	if len(raw.Levels) != len(rebuilt.levels) {
		return fmt.Errorf("%w: encoded tree has %d levels, expected %d", ErrVerificationFailed, len(raw.Levels), len(rebuilt.levels))
	}
	for i, level := range rebuilt.levels {
		if len(raw.Levels[i]) != len(level) {
			return fmt.Errorf("%w: level %d has %d nodes, expected %d", ErrVerificationFailed, i, len(raw.Levels[i]), len(level))
		}
		for j := range level {
			if raw.Levels[i][j] != level[j] {
				return fmt.Errorf("%w: level %d node %d differs", ErrVerificationFailed, i, j)
			}
		}
	}

	*t = *rebuilt
	return nil
}
