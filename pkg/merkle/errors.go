package merkle

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyLeaves is returned when a tree is built from zero leaves
	ErrEmptyLeaves = errors.New("cannot build merkle tree from empty leaves")

	// ErrIndexOutOfBounds matches any *IndexOutOfBoundsError
	ErrIndexOutOfBounds = errors.New("leaf index out of bounds")

	// ErrLeafNotFound is returned when a leaf hash is not part of the tree
	ErrLeafNotFound = errors.New("leaf hash not found in tree")

	// ErrVerificationFailed is returned when a recomputed root does not match
	ErrVerificationFailed = errors.New("proof verification failed")
)

// IndexOutOfBoundsError carries the offending index and the actual leaf count
type IndexOutOfBoundsError struct {
	Index     int
	LeafCount int
}

func (e *IndexOutOfBoundsError) Error() string {
	return fmt.Sprintf("index %d out of bounds (tree has %d leaves)", e.Index, e.LeafCount)
}

// Is lets errors.Is(err, ErrIndexOutOfBounds) match
func (e *IndexOutOfBoundsError) Is(target error) bool {
	return target == ErrIndexOutOfBounds
}
