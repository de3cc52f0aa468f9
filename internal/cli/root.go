package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/GMKrieger/client-server-merkle/internal/client"
	"github.com/GMKrieger/client-server-merkle/internal/config"
	"github.com/GMKrieger/client-server-merkle/pkg/merkle"
)

// Global flags
var (
	cfgFile string
	verbose bool
)

// NewRootCommand creates the root cobra command
func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "merkle",
		Short: "Verifiable file store",
		Long: `Merkle verifiable file store.

Upload a directory of files to a server, keep only the Merkle root locally,
and later fetch any single file together with an inclusion proof that is
checked against that saved root:
  - Initializing and running a server
  - Uploading a directory and saving its root
  - Fetching files with verified proofs
  - Verifying signed commit receipts`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./merkle.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(NewInitCommand())
	rootCmd.AddCommand(NewServeCommand())
	rootCmd.AddCommand(NewUploadCommand())
	rootCmd.AddCommand(NewFetchCommand())
	rootCmd.AddCommand(NewRootHashCommand())
	rootCmd.AddCommand(NewHashCommand())
	rootCmd.AddCommand(NewReceiptCommand())

	return rootCmd
}

// initConfig picks up a config file from the working directory when --config is not given
func initConfig() {
	if cfgFile == "" {
		cfgFile = config.FindConfigFile()
	}
}

// loadServerConfig loads the full configuration. Without a file the defaults
// plus environment overrides are used.
func loadServerConfig() (*config.Config, error) {
	if cfgFile != "" {
		return config.LoadConfig(cfgFile)
	}

	cfg := config.DefaultConfig()
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type clientFlags struct {
	server   string
	rootFile string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "server URL (overrides config)")
	cmd.Flags().StringVar(&f.rootFile, "root-file", "", "saved root file (overrides config)")
}

// resolve loads the client settings and builds a client from them
func (f *clientFlags) resolve() (*config.Config, *client.Client, error) {
	cfg, err := config.LoadClientConfig(cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if f.server != "" {
		cfg.Client.ServerURL = f.server
	}
	if f.rootFile != "" {
		cfg.Client.RootFile = f.rootFile
	}

	hasher, err := merkle.HasherByName(cfg.Merkle.HashAlgorithm)
	if err != nil {
		return nil, nil, err
	}

	c, err := client.New(client.Options{
		ServerURL: cfg.Client.ServerURL,
		Timeout:   cfg.Client.Timeout,
		Hasher:    hasher,
	})
	if err != nil {
		return nil, nil, err
	}
	return cfg, c, nil
}

func logf(w io.Writer, format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(w, format, args...)
	}
}
