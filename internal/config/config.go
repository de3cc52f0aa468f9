package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFiles are searched in the working directory when no --config is given
var DefaultFiles = []string{"merkle.yaml", "merkle.yml"}

// Environment overrides applied on top of the file
const (
	EnvStorageDir = "MERKLE_STORAGE_DIR"
	EnvPort       = "MERKLE_PORT"
)

// Config represents the file store configuration
type Config struct {
	// Origin identifies this server in signed receipts
	Origin string `yaml:"origin"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Storage configuration
	Storage StorageConfig `yaml:"storage"`

	// Receipt signing keys
	Keys KeysConfig `yaml:"keys"`

	// HTTP server configuration
	Server ServerConfig `yaml:"server"`

	// Tree configuration
	Merkle MerkleConfig `yaml:"merkle"`

	// Upload ceilings
	Limits LimitsConfig `yaml:"limits"`

	// Client defaults
	Client ClientConfig `yaml:"client"`

	// Logging
	Log LogConfig `yaml:"log"`
}

// DatabaseConfig represents database configuration
type DatabaseConfig struct {
	Path      string `yaml:"path"`
	EnableWAL bool   `yaml:"enable_wal"`
}

// StorageConfig represents storage configuration
type StorageConfig struct {
	Type string `yaml:"type"` // "local" or "memory"
	Path string `yaml:"path"` // For local storage
}

// KeysConfig represents receipt key configuration.
// Receipts are disabled when Private is empty.
type KeysConfig struct {
	Private string `yaml:"private"` // Path to private key (PEM)
	Public  string `yaml:"public"`  // Path to public key (PEM)
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host string     `yaml:"host"`
	Port int        `yaml:"port"`
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled        bool     `yaml:"enabled"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// MerkleConfig selects the digest primitive
type MerkleConfig struct {
	HashAlgorithm string `yaml:"hash_algorithm"` // "sha256" or "blake3"
}

// LimitsConfig bounds a single upload
type LimitsConfig struct {
	MaxFileSize  int64 `yaml:"max_file_size"`
	MaxTotalSize int64 `yaml:"max_total_size"`
	MaxFiles     int   `yaml:"max_files"`
}

// ClientConfig holds defaults for the upload and fetch commands
type ClientConfig struct {
	ServerURL         string        `yaml:"server_url"`
	RootFile          string        `yaml:"root_file"`
	Timeout           time.Duration `yaml:"timeout"`
	DeleteAfterUpload bool          `yaml:"delete_after_upload"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// LoadConfig loads configuration from a YAML file.
// Values missing from the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// LoadClientConfig loads path, or the first default file present, or the
// defaults when there is none. Only client settings are validated.
func LoadClientConfig(path string) (*Config, error) {
	if path == "" {
		path = FindConfigFile()
	}

	config := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.validateClient(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// FindConfigFile returns the first default config file in the working directory, or ""
func FindConfigFile() string {
	for _, name := range DefaultFiles {
		if info, err := os.Stat(name); err == nil && !info.IsDir() {
			return name
		}
	}
	return ""
}

// ApplyEnv overrides storage path and port from the environment
func (c *Config) ApplyEnv() error {
	if dir := os.Getenv(EnvStorageDir); dir != "" {
		c.Storage.Path = dir
	}
	if port := os.Getenv(EnvPort); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.Server.Port = p
	}
	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	switch c.Storage.Type {
	case "local":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path is required for local storage")
		}
	case "memory":
	case "":
		return fmt.Errorf("storage type is required")
	default:
		return fmt.Errorf("unsupported storage type: %s", c.Storage.Type)
	}

	if c.Keys.Private != "" && c.Keys.Public == "" {
		return fmt.Errorf("public key path is required when a private key is configured")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Merkle.HashAlgorithm {
	case "", "sha256", "blake3":
	default:
		return fmt.Errorf("unsupported hash algorithm: %s", c.Merkle.HashAlgorithm)
	}

	if c.Limits.MaxFileSize <= 0 {
		return fmt.Errorf("max file size must be positive")
	}
	if c.Limits.MaxTotalSize < c.Limits.MaxFileSize {
		return fmt.Errorf("max total size must be at least max file size")
	}
	if c.Limits.MaxFiles <= 0 {
		return fmt.Errorf("max files must be positive")
	}

	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}

	return c.validateClient()
}

func (c *Config) validateClient() error {
	if c.Client.ServerURL == "" {
		return fmt.Errorf("client server URL is required")
	}
	if c.Client.RootFile == "" {
		return fmt.Errorf("client root file is required")
	}
	if c.Client.Timeout < 0 {
		return fmt.Errorf("client timeout must not be negative")
	}
	return nil
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Origin: "http://localhost:3000",
		Database: DatabaseConfig{
			Path:      "merkle.db",
			EnableWAL: true,
		},
		Storage: StorageConfig{
			Type: "local",
			Path: "./server_storage",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
			CORS: CORSConfig{
				Enabled:        true,
				AllowedOrigins: []string{"*"},
			},
		},
		Merkle: MerkleConfig{
			HashAlgorithm: "sha256",
		},
		Limits: LimitsConfig{
			MaxFileSize:  100 << 20,
			MaxTotalSize: 1 << 30,
			MaxFiles:     10000,
		},
		Client: ClientConfig{
			ServerURL: "http://localhost:3000",
			RootFile:  "./merkle_root.hex",
			Timeout:   60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SaveConfig saves configuration to a YAML file
func SaveConfig(config *Config, path string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
