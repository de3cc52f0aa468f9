package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GMKrieger/client-server-merkle/internal/client"
	"github.com/GMKrieger/client-server-merkle/internal/config"
	"github.com/GMKrieger/client-server-merkle/pkg/filename"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

// NewRootHashCommand creates the root command, comparing the server root with the saved one
func NewRootHashCommand() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "root",
		Short: "Show the server root and the saved root",
		Long: `Show the server's current root and the locally saved root.

Exits with an error when both exist and differ.

Example:
  merkle root --server http://localhost:3000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRootHash(cmd, flags)
		},
	}

	flags.register(cmd)

	return cmd
}

func runRootHash(cmd *cobra.Command, flags *clientFlags) error {
	cfg, c, err := flags.resolve()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	remote, remoteErr := c.Root(cmd.Context())
	switch {
	case remoteErr == nil:
		fmt.Fprintf(out, "Server: %s\n", remote)
	case errors.Is(remoteErr, client.ErrNoRoot):
		fmt.Fprintf(out, "Server: (no commit)\n")
	default:
		return remoteErr
	}

	saved, savedErr := client.RootFile{Path: cfg.Client.RootFile}.Load()
	switch {
	case savedErr == nil:
		fmt.Fprintf(out, "Saved:  %s\n", saved)
	case errors.Is(savedErr, client.ErrNoSavedRoot):
		fmt.Fprintf(out, "Saved:  (none)\n")
	default:
		return savedErr
	}

	if remoteErr == nil && savedErr == nil {
		if err := merkle.CompareRoots(saved, remote); err != nil {
			return err
		}
		fmt.Fprintln(out, "✓ Roots match")
	}

	return nil
}

type hashOptions struct {
	dir           string
	hashAlgorithm string
}

// NewHashCommand creates the hash command
func NewHashCommand() *cobra.Command {
	opts := &hashOptions{}

	cmd := &cobra.Command{
		Use:   "hash [dir]",
		Short: "Compute the Merkle root of a local directory",
		Long: `Compute the Merkle root of a directory's regular files without
contacting a server. Files are ordered by name exactly as an upload would. The result is only
printed; a root is saved only by a confirmed upload.

Example:
  merkle hash ./files
  merkle hash ./files --hash blake3`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.dir = args[0]
			}
			return runHash(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", ".", "directory to hash")
	cmd.Flags().StringVar(&opts.hashAlgorithm, "hash", "", "hash algorithm (overrides config)")

	return cmd
}

func runHash(cmd *cobra.Command, opts *hashOptions) error {
	algorithm := opts.hashAlgorithm
	if algorithm == "" {
		cfg, err := config.LoadClientConfig(cfgFile)
		if err != nil {
			return err
		}
		algorithm = cfg.Merkle.HashAlgorithm
	}

	hasher, err := merkle.HasherByName(algorithm)
	if err != nil {
		return err
	}

	var invalid error
	tree, names, err := merkle.FromDirectory(hasher, opts.dir, func(name string) bool {
		if err := filename.Validate(name); err != nil && invalid == nil {
			invalid = err
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("failed to hash %s: %w", opts.dir, err)
	}
	// upload rejects the same names
	if invalid != nil {
		return invalid
	}

	out := cmd.OutOrStdout()
	if verbose {
		for i, name := range names {
			leaf, _ := tree.LeafHash(i)
			fmt.Fprintf(out, "%6d  %s  %s\n", i, leaf, name)
		}
		fmt.Fprintln(out, tree)
	}
	fmt.Fprintln(out, tree.RootHex())

	return nil
}
