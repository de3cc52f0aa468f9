package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/GMKrieger/client-server-merkle/internal/config"
	"github.com/GMKrieger/client-server-merkle/pkg/cose"
	"github.com/GMKrieger/client-server-merkle/pkg/database"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
	"github.com/GMKrieger/client-server-merkle/pkg/storage"
)

type initOptions struct {
	dir           string
	origin        string
	dbPath        string
	storagePath   string
	hashAlgorithm string
	port          int
	noKeys        bool
	force         bool
}

// NewInitCommand creates the init command
func NewInitCommand() *cobra.Command {
	opts := &initOptions{}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new file store server",
		Long: `Initialize a new file store server.

This command creates:
  - An ES256 key pair for signing commit receipts
  - An SQLite database for commit metadata
  - A storage directory for committed files
  - A configuration file (merkle.yaml)

Example:
  merkle init --origin https://files.example.com`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.dir, "dir", ".", "directory to initialize the server in")
	cmd.Flags().StringVar(&opts.origin, "origin", "http://localhost:3000", "origin recorded in signed receipts")
	cmd.Flags().StringVar(&opts.dbPath, "db", "merkle.db", "path to SQLite database file")
	cmd.Flags().StringVar(&opts.storagePath, "storage", "./server_storage", "path to storage directory")
	cmd.Flags().StringVar(&opts.hashAlgorithm, "hash", "sha256", "hash algorithm (sha256 or blake3)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 3000, "port to listen on")
	cmd.Flags().BoolVar(&opts.noKeys, "no-keys", false, "do not generate a receipt signing key")
	cmd.Flags().BoolVar(&opts.force, "force", false, "overwrite existing files")

	return cmd
}

func runInit(cmd *cobra.Command, opts *initOptions) error {
	if _, err := merkle.HasherByName(opts.hashAlgorithm); err != nil {
		return err
	}

	if err := os.MkdirAll(opts.dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	configPath := filepath.Join(opts.dir, config.DefaultFiles[0])
	if _, err := os.Stat(configPath); err == nil && !opts.force {
		return fmt.Errorf("server already initialized (use --force to overwrite)")
	}

	out := cmd.OutOrStdout()

	cfg := config.DefaultConfig()
	cfg.Origin = opts.origin
	cfg.Database.Path = opts.dbPath
	cfg.Storage.Path = opts.storagePath
	cfg.Server.Port = opts.port
	cfg.Merkle.HashAlgorithm = opts.hashAlgorithm
	cfg.Client.ServerURL = fmt.Sprintf("http://localhost:%d", opts.port)

	if !opts.noKeys {
		logf(out, "Generating ES256 key pair...\n")
		keyPair, err := cose.GenerateES256KeyPair()
		if err != nil {
			return fmt.Errorf("failed to generate key pair: %w", err)
		}

		cfg.Keys.Private = "receipt-key.pem"
		cfg.Keys.Public = "receipt-key.pub.pem"
		err = cose.SaveKeyPair(keyPair,
			filepath.Join(opts.dir, cfg.Keys.Private),
			filepath.Join(opts.dir, cfg.Keys.Public))
		if err != nil {
			return err
		}
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logf(out, "Initializing database...\n")
	db, err := database.OpenDatabase(database.DatabaseOptions{
		Path:      filepath.Join(opts.dir, opts.dbPath),
		EnableWAL: cfg.Database.EnableWAL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	database.CloseDatabase(db)

	logf(out, "Initializing storage...\n")
	if _, err := storage.NewLocalStorage(filepath.Join(opts.dir, opts.storagePath)); err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return err
	}

	fmt.Fprintln(out, "✓ File store initialized")
	fmt.Fprintf(out, "\nConfiguration:\n")
	fmt.Fprintf(out, "  Origin:   %s\n", cfg.Origin)
	fmt.Fprintf(out, "  Database: %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "  Storage:  %s\n", cfg.Storage.Path)
	fmt.Fprintf(out, "  Hash:     %s\n", cfg.Merkle.HashAlgorithm)
	if cfg.Keys.Private != "" {
		fmt.Fprintf(out, "  Keys:     %s, %s\n", cfg.Keys.Private, cfg.Keys.Public)
	}
	fmt.Fprintf(out, "  Config:   %s\n", configPath)
	fmt.Fprintf(out, "\nTo start the server, run:\n")
	fmt.Fprintf(out, "  cd %s && merkle serve\n", opts.dir)

	return nil
}
