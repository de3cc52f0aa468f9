package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GMKrieger/client-server-merkle/internal/client"
)

type fetchOptions struct {
	clientFlags
	name   string
	output string
}

// NewFetchCommand creates the fetch command
func NewFetchCommand() *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:     "fetch [name]",
		Aliases: []string{"request"},
		Short:   "Fetch a file and verify it against the saved root",
		Long: `Fetch one committed file with its inclusion proof.

The proof is folded from the hash of the received bytes and compared to
the locally saved root. The root reported by the server is never used.
Nothing is written unless the proof verifies.

Example:
  merkle fetch b.txt
  merkle fetch --name b.txt --out ./downloads/b.txt`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.name = args[0]
			}
			return runFetch(cmd, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.name, "name", "", "file name to fetch")
	cmd.Flags().StringVarP(&opts.output, "out", "o", "", "output path (default is the file name)")

	return cmd
}

func runFetch(cmd *cobra.Command, opts *fetchOptions) error {
	if opts.name == "" {
		return fmt.Errorf("file name is required")
	}

	cfg, c, err := opts.resolve()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	logf(out, "Fetching %s from %s...\n", opts.name, cfg.Client.ServerURL)

	result, err := c.FetchVerified(cmd.Context(), opts.name, client.FetchOptions{
		RootFile: client.RootFile{Path: cfg.Client.RootFile},
		Output:   opts.output,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Verified %s (%d bytes, leaf %d)\n", result.Name, result.Size, result.LeafIndex)
	fmt.Fprintf(out, "  Root:  %s\n", result.Root)
	fmt.Fprintf(out, "  Saved: %s\n", result.Output)

	return nil
}
