package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GMKrieger/client-server-merkle/internal/logging"
	"github.com/GMKrieger/client-server-merkle/internal/server"
)

type serveOptions struct {
	host       string
	port       int
	storageDir string
}

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the file store HTTP server",
		Long: `Start the file store HTTP server.

The server accepts a directory upload as one commit and serves each
committed file with its inclusion proof:
  - POST /upload - Replace the committed file set
  - GET /file/{name} - Retrieve a file and its proof
  - GET /root - Current Merkle root
  - GET /manifest - Committed names and leaf hashes
  - GET /receipt - Signed commit receipt

Example:
  merkle serve --config merkle.yaml
  merkle serve --host 0.0.0.0 --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "host to bind to (overrides config)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "port to listen on (overrides config)")
	cmd.Flags().StringVar(&opts.storageDir, "storage-dir", "", "storage directory (overrides config)")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg, err := loadServerConfig()
	if err != nil {
		return err
	}

	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
	if opts.storageDir != "" {
		cfg.Storage.Path = opts.storageDir
	}
	if verbose {
		cfg.Log.Level = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer srv.Close()

	return srv.Start(ctx)
}
