package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/GMKrieger/client-server-merkle/pkg/database"
	"github.com/GMKrieger/client-server-merkle/pkg/filename"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
	"github.com/GMKrieger/client-server-merkle/pkg/receipt"
	"github.com/GMKrieger/client-server-merkle/pkg/storage"
)

// CommitResult is returned to the uploader after a successful commit
type CommitResult struct {
	Root          merkle.Hash `json:"root"`
	FilesCount    int         `json:"files_count"`
	HashAlgorithm string      `json:"hash_algorithm"`
	CommitID      string      `json:"commit_id"`
	Receipt       []byte      `json:"receipt,omitempty"`
}

// Commit replaces the committed set with the files staged in u.
//
// Names are sorted byte-wise and that order assigns leaf indices. The new
// tree is built and persisted before it becomes visible; any failure up to
// that point discards the upload and leaves the previous commit serving.
func (s *FileService) Commit(ctx context.Context, u *Upload) (*CommitResult, error) {
	if u.svc != s {
		return nil, fmt.Errorf("upload belongs to a different service")
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	staged, total, err := u.close()
	if err != nil {
		return nil, err
	}

	commit, err := s.buildCommit(ctx, u, staged, total)
	if err != nil {
		_ = u.discard()
		s.logger.Warn("commit_err", "upload", u.id, "err", err)
		return nil, err
	}

	s.mu.Lock()
	previous := s.current
	s.current = commit
	s.mu.Unlock()

	if err := s.writeControlObjects(commit); err != nil {
		s.logger.Warn("control_objects_err", "commit_id", commit.ID, "err", err)
	}

	if previous != nil {
		if err := s.store.DeletePrefix(previous.BlobPrefix); err != nil {
			s.logger.Warn("cleanup_err", "commit_id", previous.ID, "err", err)
		}
	}

	s.logger.Info("commit",
		"commit_id", commit.ID,
		"files", len(commit.Manifest),
		"bytes", total,
		"root", commit.Tree.RootHex(),
		"hash", s.hasher.Name(),
		"signed", commit.Receipt != nil,
	)

	return &CommitResult{
		Root:          commit.Tree.Root(),
		FilesCount:    len(commit.Manifest),
		HashAlgorithm: s.hasher.Name(),
		CommitID:      commit.ID,
		Receipt:       commit.Receipt,
	}, nil
}

// hashBlob streams a stored blob through the service hasher
func (s *FileService) hashBlob(key string) (merkle.Hash, int64, error) {
	r, err := s.store.Open(key)
	if err != nil {
		return merkle.Hash{}, 0, err
	}
	defer r.Close()

	return merkle.SumReader(s.hasher, r)
}

// buildCommit hashes the staged files in manifest order, signs and persists the result
func (s *FileService) buildCommit(ctx context.Context, u *Upload, staged map[string]int64, total int64) (*Commit, error) {
	if len(staged) == 0 {
		return nil, ErrEmptyUpload
	}

	names := make([]string, 0, len(staged))
	for name := range staged {
		names = append(names, name)
	}
	filename.Sort(names)

	leaves := make([]merkle.Hash, len(names))
	sizes := make([]int64, len(names))
	for i, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		leaf, size, err := s.hashBlob(storage.Key(u.prefix, name))
		if errors.Is(err, storage.ErrNotFound) || (err == nil && size != staged[name]) {
			return nil, fmt.Errorf("staged %s is missing or truncated", name)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read staged %s: %w", name, err)
		}

		leaves[i] = leaf
		sizes[i] = size
	}

	tree, err := merkle.NewTree(s.hasher, leaves)
	if err != nil {
		return nil, fmt.Errorf("failed to build tree: %w", err)
	}

	committedAt := s.now().UTC()

	var signed []byte
	if s.signer != nil {
		r, err := receipt.New(s.origin, u.id, tree, names, committedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to create receipt: %w", err)
		}
		signed, err = receipt.Sign(s.signer, r)
		if err != nil {
			return nil, fmt.Errorf("failed to sign receipt: %w", err)
		}
	}

	commit := newCommit(u.id, u.prefix, names, sizes, tree, committedAt, signed)

	entries := make([]database.ManifestEntry, len(names))
	for i, name := range names {
		entries[i] = database.ManifestEntry{
			LeafIndex: i,
			FileName:  name,
			LeafHash:  leaves[i].String(),
			Size:      sizes[i],
		}
	}

	record := database.CommitRecord{
		CommitID:      commit.ID,
		RootHash:      tree.RootHex(),
		FilesCount:    len(names),
		HashAlgorithm: s.hasher.Name(),
		BlobPrefix:    commit.BlobPrefix,
		TotalSize:     total,
		Receipt:       signed,
		CommittedAt:   committedAt,
	}

	if err := database.ReplaceCommit(s.db, record, entries); err != nil {
		return nil, fmt.Errorf("failed to persist commit: %w", err)
	}

	return commit, nil
}

// writeControlObjects mirrors the manifest and root next to the blobs
func (s *FileService) writeControlObjects(c *Commit) error {
	manifest, err := json.MarshalIndent(manifestView(c, s.hasher), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := s.store.Put(filename.Manifest, manifest); err != nil {
		return err
	}
	return s.store.Put(filename.Root, []byte(c.Tree.RootHex()+"\n"))
}

// strayPrefixes lists upload directories not owned by keep
func (s *FileService) strayPrefixes(keep string) ([]string, error) {
	keys, err := s.store.List(blobsPrefix + "/")
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, key := range keys {
		upload, _, _ := strings.Cut(strings.TrimPrefix(key, blobsPrefix+"/"), "/")
		prefix := storage.Key(blobsPrefix, upload)
		if prefix != keep {
			seen[prefix] = true
		}
	}

	prefixes := make([]string, 0, len(seen))
	for prefix := range seen {
		prefixes = append(prefixes, prefix)
	}
	sort.Strings(prefixes)
	return prefixes, nil
}
