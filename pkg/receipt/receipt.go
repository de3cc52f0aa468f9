// Package receipt encodes and signs commit receipts: a COSE_Sign1 envelope over
// a CBOR description of one committed file set.
package receipt

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/GMKrieger/client-server-merkle/pkg/cose"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

// ContentType is the protected content type of a signed receipt payload
const ContentType = "application/merkle-commit+cbor"

// ErrRootMismatch is returned when a receipt commits to a different root
var ErrRootMismatch = errors.New("receipt root does not match")

// CommitReceipt is the signed statement a server issues for a commit
type CommitReceipt struct {
	Origin         string `cbor:"1,keyasint,omitempty"`
	CommitID       string `cbor:"2,keyasint"`
	Root           []byte `cbor:"3,keyasint"`
	FilesCount     int    `cbor:"4,keyasint"`
	HashAlgorithm  string `cbor:"5,keyasint"`
	ManifestDigest []byte `cbor:"6,keyasint"`
	CommittedAt    int64  `cbor:"7,keyasint"`
}

// manifestItem is the CBOR shape each manifest entry is digested as
type manifestItem struct {
	_    struct{} `cbor:",toarray"`
	Name string
	Leaf []byte
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
}

// New builds a receipt for a committed tree and its ordered manifest
func New(origin, commitID string, tree *merkle.Tree, names []string, committedAt time.Time) (*CommitReceipt, error) {
	digest, err := ManifestDigest(tree.Hasher(), names, tree.Leaves())
	if err != nil {
		return nil, err
	}

	root := tree.Root()
	return &CommitReceipt{
		Origin:         origin,
		CommitID:       commitID,
		Root:           root.Bytes(),
		FilesCount:     tree.LeafCount(),
		HashAlgorithm:  tree.Hasher().Name(),
		ManifestDigest: digest.Bytes(),
		CommittedAt:    committedAt.Unix(),
	}, nil
}

// ManifestDigest digests the deterministic CBOR encoding of (name, leaf) pairs in manifest order
func ManifestDigest(h merkle.Hasher, names []string, leaves []merkle.Hash) (merkle.Hash, error) {
	if len(names) != len(leaves) {
		return merkle.Hash{}, fmt.Errorf("manifest has %d names and %d leaves", len(names), len(leaves))
	}

	items := make([]manifestItem, len(names))
	for i := range names {
		items[i] = manifestItem{Name: names[i], Leaf: leaves[i].Bytes()}
	}

	encoded, err := encMode.Marshal(items)
	if err != nil {
		return merkle.Hash{}, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return h.Sum(encoded), nil
}

// RootHash returns the committed root
func (r *CommitReceipt) RootHash() (merkle.Hash, error) {
	var h merkle.Hash
	if len(r.Root) != merkle.HashSize {
		return h, fmt.Errorf("invalid receipt root length: %d", len(r.Root))
	}
	copy(h[:], r.Root)
	return h, nil
}

// Time returns the commit time
func (r *CommitReceipt) Time() time.Time {
	return time.Unix(r.CommittedAt, 0).UTC()
}

// CheckRoot returns ErrRootMismatch unless the receipt commits to root
func (r *CommitReceipt) CheckRoot(root merkle.Hash) error {
	got, err := r.RootHash()
	if err != nil {
		return err
	}
	if !got.Equal(root) {
		return fmt.Errorf("%w: receipt %s, expected %s", ErrRootMismatch, got, root)
	}
	return nil
}

// Encode returns the deterministic CBOR encoding of the receipt
func Encode(r *CommitReceipt) ([]byte, error) {
	encoded, err := encMode.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode receipt: %w", err)
	}
	return encoded, nil
}

// Decode parses a CBOR encoded receipt payload
func Decode(data []byte) (*CommitReceipt, error) {
	var r CommitReceipt
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode receipt: %w", err)
	}
	return &r, nil
}

// Sign encodes the receipt and wraps it in a COSE_Sign1 envelope
func Sign(signer *cose.Signer, r *CommitReceipt) ([]byte, error) {
	payload, err := Encode(r)
	if err != nil {
		return nil, err
	}
	return signer.Sign1(payload, ContentType)
}

// Verify checks the envelope signature and returns the decoded receipt
func Verify(signed []byte, publicKey *ecdsa.PublicKey) (*CommitReceipt, error) {
	payload, err := cose.Verify1(signed, publicKey)
	if err != nil {
		return nil, err
	}
	return Decode(payload)
}
