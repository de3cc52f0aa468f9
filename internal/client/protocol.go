package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GMKrieger/client-server-merkle/pkg/filename"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

var (
	// ErrRootMismatch is returned when the server's root differs from the local one
	ErrRootMismatch = errors.New("server root does not match local root")

	// ErrProofInvalid is returned when a fetched file does not fold to the saved root
	ErrProofInvalid = errors.New("proof does not verify against saved root")

	// ErrAlgorithmMismatch is returned when the server hashes with a different primitive
	ErrAlgorithmMismatch = errors.New("server uses a different hash algorithm")

	// ErrNoFiles is returned when an upload directory has no regular files
	ErrNoFiles = errors.New("no files found in directory")
)

// UploadOptions controls UploadDirectory
type UploadOptions struct {
	RootFile RootFile

	// ReceiptPath saves the server's signed receipt when set
	ReceiptPath string

	// DeleteAfterUpload removes local originals once the roots match
	DeleteAfterUpload bool
}

// UploadResult describes a confirmed upload
type UploadResult struct {
	Root     merkle.Hash
	Files    []string
	CommitID string
	Receipt  []byte
	Deleted  []string
}

// UploadDirectory sends every regular file of dir and confirms the server
// committed exactly the tree built locally. Only after that confirmation is
// the root saved and, if asked, are local originals removed.
func (c *Client) UploadDirectory(ctx context.Context, dir string, opts UploadOptions) (*UploadResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if err := filename.Validate(entry.Name()); err != nil {
			return nil, err
		}
		names = append(names, entry.Name())
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoFiles, dir)
	}
	filename.Sort(names)

	leaves := make([]merkle.Hash, len(names))
	files := make([]UploadFile, len(names))
	for i, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		leaves[i] = c.hasher.Sum(data)
		files[i] = UploadFile{Name: name, Path: path}
	}

	tree, err := merkle.NewTree(c.hasher, leaves)
	if err != nil {
		return nil, err
	}
	local := tree.Root()

	resp, err := c.Upload(ctx, files)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}

	if resp.HashAlgorithm != c.hasher.Name() {
		return nil, fmt.Errorf("%w: local %s, server %s", ErrAlgorithmMismatch, c.hasher.Name(), resp.HashAlgorithm)
	}
	if resp.FilesCount != len(names) || !resp.Root.Equal(local) {
		return nil, fmt.Errorf("%w: local %s (%d files), server %s (%d files)",
			ErrRootMismatch, local, len(names), resp.Root, resp.FilesCount)
	}

	if err := opts.RootFile.Save(local); err != nil {
		return nil, fmt.Errorf("failed to save root: %w", err)
	}

	result := &UploadResult{
		Root:     local,
		Files:    names,
		CommitID: resp.CommitID,
		Receipt:  resp.Receipt,
	}

	if opts.ReceiptPath != "" && resp.Receipt != nil {
		if err := writeFileAtomic(opts.ReceiptPath, resp.Receipt, 0644); err != nil {
			return result, fmt.Errorf("failed to save receipt: %w", err)
		}
	}

	if opts.DeleteAfterUpload {
		var errs []error
		for _, f := range files {
			if err := os.Remove(f.Path); err != nil {
				errs = append(errs, err)
				continue
			}
			result.Deleted = append(result.Deleted, f.Name)
		}
		if err := errors.Join(errs...); err != nil {
			return result, fmt.Errorf("failed to delete local files: %w", err)
		}
	}

	return result, nil
}

// FetchOptions controls FetchVerified
type FetchOptions struct {
	RootFile RootFile

	// Output defaults to name in the working directory
	Output string
}

// FetchResult describes a verified download
type FetchResult struct {
	Name      string
	Output    string
	Size      int
	LeafIndex int
	Root      merkle.Hash
}

// FetchVerified downloads name and writes it to disk only if its proof folds
// to the saved root. The root the server reports is never trusted.
func (c *Client) FetchVerified(ctx context.Context, name string, opts FetchOptions) (*FetchResult, error) {
	root, err := opts.RootFile.Load()
	if err != nil {
		return nil, err
	}
	if err := filename.Validate(name); err != nil {
		return nil, err
	}

	resp, err := c.Fetch(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	if resp.HashAlgorithm != c.hasher.Name() {
		return nil, fmt.Errorf("%w: local %s, server %s", ErrAlgorithmMismatch, c.hasher.Name(), resp.HashAlgorithm)
	}
	if resp.FileName != name {
		return nil, fmt.Errorf("%w: server answered for %q", ErrProofInvalid, resp.FileName)
	}

	leaf := c.hasher.Sum(resp.FileBytes)
	if !merkle.VerifyProof(c.hasher, leaf, resp.Proof, root) {
		return nil, fmt.Errorf("%w: saved %s, server claims %s", ErrProofInvalid, root, resp.Root)
	}

	output := opts.Output
	if output == "" {
		output = name
	}
	if err := writeFileAtomic(output, resp.FileBytes, 0644); err != nil {
		return nil, err
	}

	return &FetchResult{
		Name:      name,
		Output:    output,
		Size:      len(resp.FileBytes),
		LeafIndex: resp.LeafIndex,
		Root:      root,
	}, nil
}
