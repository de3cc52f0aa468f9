package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GMKrieger/client-server-merkle/internal/client"
)

type uploadOptions struct {
	clientFlags
	dir     string
	receipt string
	delete  bool
}

// NewUploadCommand creates the upload command
func NewUploadCommand() *cobra.Command {
	opts := &uploadOptions{}

	cmd := &cobra.Command{
		Use:   "upload [dir]",
		Short: "Upload a directory and save its Merkle root",
		Long: `Upload every regular file of a directory as one commit.

The Merkle root is computed locally before sending. The root is saved
only when the server reports exactly the same root, and local files are
deleted only after that confirmation.

Example:
  merkle upload ./files
  merkle upload --dir ./files --delete --receipt commit.cose`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.dir = args[0]
			}
			return runUpload(cmd, opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&opts.dir, "dir", "./client_files", "directory to upload")
	cmd.Flags().StringVar(&opts.receipt, "receipt", "", "save the signed commit receipt to this path")
	cmd.Flags().BoolVar(&opts.delete, "delete", false, "delete local files after the root is confirmed")

	return cmd
}

func runUpload(cmd *cobra.Command, opts *uploadOptions) error {
	cfg, c, err := opts.resolve()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	logf(out, "Uploading %s to %s (%s)...\n", opts.dir, cfg.Client.ServerURL, c.Hasher().Name())

	result, err := c.UploadDirectory(cmd.Context(), opts.dir, client.UploadOptions{
		RootFile:          client.RootFile{Path: cfg.Client.RootFile},
		ReceiptPath:       opts.receipt,
		DeleteAfterUpload: opts.delete || cfg.Client.DeleteAfterUpload,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "✓ Uploaded %d files\n", len(result.Files))
	fmt.Fprintf(out, "  Root:   %s\n", result.Root)
	fmt.Fprintf(out, "  Saved:  %s\n", cfg.Client.RootFile)
	if result.CommitID != "" {
		fmt.Fprintf(out, "  Commit: %s\n", result.CommitID)
	}
	if opts.receipt != "" && result.Receipt != nil {
		fmt.Fprintf(out, "  Receipt: %s\n", opts.receipt)
	}
	if len(result.Deleted) > 0 {
		fmt.Fprintf(out, "  Deleted %d local files\n", len(result.Deleted))
	}
	if verbose {
		for _, name := range result.Files {
			fmt.Fprintf(out, "    %s\n", name)
		}
	}

	return nil
}
