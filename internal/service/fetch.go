package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GMKrieger/client-server-merkle/pkg/database"
	"github.com/GMKrieger/client-server-merkle/pkg/filename"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
	"github.com/GMKrieger/client-server-merkle/pkg/storage"
)

// FetchResult carries a committed file with everything needed to verify it
type FetchResult struct {
	FileName      string             `json:"file_name"`
	FileBytes     []byte             `json:"file_bytes"`
	Proof         []merkle.ProofNode `json:"proof"`
	Root          merkle.Hash        `json:"root"`
	LeafIndex     int                `json:"leaf_index"`
	HashAlgorithm string             `json:"hash_algorithm"`
}

// ManifestFile is one manifest row
type ManifestFile struct {
	Name     string      `json:"name"`
	LeafHash merkle.Hash `json:"leaf_hash"`
	Size     int64       `json:"size"`
}

// ManifestView describes the current commit in leaf order
type ManifestView struct {
	CommitID      string         `json:"commit_id"`
	Root          merkle.Hash    `json:"root"`
	HashAlgorithm string         `json:"hash_algorithm"`
	CommittedAt   time.Time      `json:"committed_at"`
	FilesCount    int            `json:"files_count"`
	Files         []ManifestFile `json:"files"`
}

func manifestView(c *Commit, h merkle.Hasher) *ManifestView {
	leaves := c.Tree.Leaves()
	files := make([]ManifestFile, len(c.Manifest))
	for i, name := range c.Manifest {
		files[i] = ManifestFile{Name: name, LeafHash: leaves[i], Size: c.Sizes[i]}
	}
	return &ManifestView{
		CommitID:      c.ID,
		Root:          c.Tree.Root(),
		HashAlgorithm: h.Name(),
		CommittedAt:   c.CommittedAt,
		FilesCount:    len(files),
		Files:         files,
	}
}

// Fetch returns the committed bytes of name with an inclusion proof.
// The read lock is held until the proof is built so a concurrent commit
// cannot pair old bytes with a new root.
func (s *FileService) Fetch(ctx context.Context, name string) (*FetchResult, error) {
	if err := filename.Validate(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c := s.current
	if c == nil {
		return nil, ErrNoCommit
	}

	index, ok := c.index[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := s.store.Get(c.blobKey(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	if data == nil {
		return nil, fmt.Errorf("%w: %s is missing", ErrCorruptStore, name)
	}

	leaf, err := c.Tree.LeafHash(index)
	if err != nil {
		return nil, err
	}
	if !s.hasher.Sum(data).Equal(leaf) {
		s.logger.Error("fetch_corrupt", "file", name, "commit_id", c.ID)
		return nil, fmt.Errorf("%w: %s", ErrCorruptStore, name)
	}

	proof, err := c.Tree.GenerateProof(index)
	if err != nil {
		return nil, fmt.Errorf("failed to generate proof: %w", err)
	}

	s.logger.Debug("fetch", "file", name, "leaf_index", index, "bytes", len(data))

	return &FetchResult{
		FileName:      name,
		FileBytes:     data,
		Proof:         proof,
		Root:          c.Tree.Root(),
		LeafIndex:     index,
		HashAlgorithm: s.hasher.Name(),
	}, nil
}

// Root returns the root of the current commit
func (s *FileService) Root() (merkle.Hash, error) {
	c := s.snapshot()
	if c == nil {
		return merkle.Hash{}, ErrNoCommit
	}
	return c.Tree.Root(), nil
}

// Manifest describes the current commit
func (s *FileService) Manifest() (*ManifestView, error) {
	c := s.snapshot()
	if c == nil {
		return nil, ErrNoCommit
	}
	return manifestView(c, s.hasher), nil
}

// Receipt returns the signed receipt of the current commit
func (s *FileService) Receipt() ([]byte, error) {
	c := s.snapshot()
	if c == nil {
		return nil, ErrNoCommit
	}
	if c.Receipt == nil {
		return nil, ErrNoReceipt
	}
	return c.Receipt, nil
}

// Load restores the current commit from the database and re-hashes every
// stored blob against it. Leftover staging directories are removed.
func (s *FileService) Load(ctx context.Context) error {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	record, err := database.GetCurrentCommit(s.db)
	if err != nil {
		return err
	}

	keep := ""
	if record != nil {
		commit, err := s.restore(ctx, record)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.current = commit
		s.mu.Unlock()

		keep = commit.BlobPrefix
		if err := s.writeControlObjects(commit); err != nil {
			s.logger.Warn("control_objects_err", "commit_id", commit.ID, "err", err)
		}

		s.logger.Info("commit_loaded",
			"commit_id", commit.ID,
			"files", len(commit.Manifest),
			"root", commit.Tree.RootHex(),
		)
	}

	strays, err := s.strayPrefixes(keep)
	if err != nil {
		return fmt.Errorf("failed to list staged uploads: %w", err)
	}
	for _, prefix := range strays {
		if err := s.store.DeletePrefix(prefix); err != nil {
			s.logger.Warn("cleanup_err", "prefix", prefix, "err", err)
			continue
		}
		s.logger.Info("stray_upload_removed", "prefix", prefix)
	}

	return nil
}

func (s *FileService) restore(ctx context.Context, record *database.CommitRecord) (*Commit, error) {
	if record.HashAlgorithm != s.hasher.Name() {
		return nil, fmt.Errorf("stored commit uses %s but %s is configured", record.HashAlgorithm, s.hasher.Name())
	}

	entries, err := database.GetManifestEntries(s.db, record.CommitID)
	if err != nil {
		return nil, err
	}
	if len(entries) != record.FilesCount {
		return nil, fmt.Errorf("%w: manifest has %d entries, expected %d", ErrCorruptStore, len(entries), record.FilesCount)
	}

	names := make([]string, len(entries))
	sizes := make([]int64, len(entries))
	leaves := make([]merkle.Hash, len(entries))

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.LeafIndex != i {
			return nil, fmt.Errorf("%w: leaf index gap at %d", ErrCorruptStore, i)
		}

		expected, err := merkle.ParseHash(entry.LeafHash)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrCorruptStore, entry.FileName, err)
		}

		leaf, size, err := s.hashBlob(storage.Key(record.BlobPrefix, entry.FileName))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s is missing", ErrCorruptStore, entry.FileName)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.FileName, err)
		}
		if size != entry.Size || !leaf.Equal(expected) {
			return nil, fmt.Errorf("%w: %s", ErrCorruptStore, entry.FileName)
		}

		names[i] = entry.FileName
		sizes[i] = entry.Size
		leaves[i] = expected
	}

	tree, err := merkle.NewTree(s.hasher, leaves)
	if err != nil {
		return nil, err
	}
	if tree.RootHex() != record.RootHash {
		return nil, fmt.Errorf("%w: root %s, recorded %s", ErrCorruptStore, tree.RootHex(), record.RootHash)
	}

	return newCommit(record.CommitID, record.BlobPrefix, names, sizes, tree, record.CommittedAt, record.Receipt), nil
}
