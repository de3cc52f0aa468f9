package merkle

import (
	"fmt"
)

// ProofNode is one step of an inclusion proof: the sibling hash at a level and
// whether that sibling sits to the left of the running value.
type ProofNode struct {
	Hash   Hash `json:"hash"`
	IsLeft bool `json:"is_left"`
}

// GenerateProof returns the sibling path for the leaf at index, ordered from
// the leaf level up to the level just below the root. The proof length is
// always Height()-1.
func (t *Tree) GenerateProof(index int) ([]ProofNode, error) {
	if index < 0 || index >= t.LeafCount() {
		return nil, &IndexOutOfBoundsError{Index: index, LeafCount: t.LeafCount()}
	}

	proof := make([]ProofNode, 0, len(t.levels)-1)

	for _, level := range t.levels[:len(t.levels)-1] {
		isRight := index%2 == 1
		sibling := index + 1
		if isRight {
			sibling = index - 1
		}

		// Past the end means the builder duplicated this node
		siblingHash := level[index]
		if sibling < len(level) {
			siblingHash = level[sibling]
		}

		proof = append(proof, ProofNode{Hash: siblingHash, IsLeft: isRight})
		index /= 2
	}

	return proof, nil
}

// GenerateProofByHash returns the proof for the first leaf equal to leaf
func (t *Tree) GenerateProofByHash(leaf Hash) ([]ProofNode, error) {
	index, err := t.FindLeafIndex(leaf)
	if err != nil {
		return nil, err
	}
	return t.GenerateProof(index)
}

// Verify checks a proof against this tree's own root
func (t *Tree) Verify(leaf Hash, proof []ProofNode) bool {
	return VerifyProof(t.hasher, leaf, proof, t.Root())
}

// ComputeRoot folds a proof over a leaf hash and returns the resulting root
func ComputeRoot(h Hasher, leaf Hash, proof []ProofNode) Hash {
	if h == nil {
		h = SHA256
	}
	current := leaf
	for _, node := range proof {
		if node.IsLeft {
			current = Combine(h, node.Hash, current)
		} else {
			current = Combine(h, current, node.Hash)
		}
	}
	return current
}

// VerifyProof reports whether proof recomputes expectedRoot from leaf.
// It needs no tree instance, only the root a verifier already trusts.
func VerifyProof(h Hasher, leaf Hash, proof []ProofNode, expectedRoot Hash) bool {
	return ComputeRoot(h, leaf, proof).Equal(expectedRoot)
}

// CompareRoots returns ErrVerificationFailed when the two roots differ
func CompareRoots(expected, actual Hash) error {
	if !expected.Equal(actual) {
		return fmt.Errorf("%w: expected root %s, got %s", ErrVerificationFailed, expected, actual)
	}
	return nil
}
