package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GMKrieger/client-server-merkle/internal/config"
)

// TestDefaultConfig tests default configuration
func TestDefaultConfig(t *testing.T) {
	t.Run("default config is valid", func(t *testing.T) {
		cfg := config.DefaultConfig()

		if err := cfg.Validate(); err != nil {
			t.Errorf("default config should be valid: %v", err)
		}
	})

	t.Run("client defaults match the server defaults", func(t *testing.T) {
		cfg := config.DefaultConfig()

		if cfg.Client.ServerURL != "http://localhost:3000" {
			t.Errorf("unexpected server URL: %s", cfg.Client.ServerURL)
		}
		if cfg.Server.Port != 3000 {
			t.Errorf("unexpected port: %d", cfg.Server.Port)
		}
		if cfg.Client.RootFile != "./merkle_root.hex" {
			t.Errorf("unexpected root file: %s", cfg.Client.RootFile)
		}
		if cfg.Merkle.HashAlgorithm != "sha256" {
			t.Errorf("unexpected hash algorithm: %s", cfg.Merkle.HashAlgorithm)
		}
	})
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	cases := map[string]func(*config.Config){
		"empty database path":       func(c *config.Config) { c.Database.Path = "" },
		"empty storage type":        func(c *config.Config) { c.Storage.Type = "" },
		"unknown storage type":      func(c *config.Config) { c.Storage.Type = "s3" },
		"local storage without path": func(c *config.Config) { c.Storage.Path = "" },
		"port zero":                 func(c *config.Config) { c.Server.Port = 0 },
		"port too large":            func(c *config.Config) { c.Server.Port = 99999 },
		"unknown hash algorithm":    func(c *config.Config) { c.Merkle.HashAlgorithm = "md5" },
		"zero max file size":        func(c *config.Config) { c.Limits.MaxFileSize = 0 },
		"total below file size":     func(c *config.Config) { c.Limits.MaxTotalSize = c.Limits.MaxFileSize - 1 },
		"zero max files":            func(c *config.Config) { c.Limits.MaxFiles = 0 },
		"private key without public": func(c *config.Config) {
			c.Keys.Private = "key.pem"
			c.Keys.Public = ""
		},
		"unknown log format":  func(c *config.Config) { c.Log.Format = "xml" },
		"empty client server": func(c *config.Config) { c.Client.ServerURL = "" },
		"empty root file":     func(c *config.Config) { c.Client.RootFile = "" },
	}

	for name, mutate := range cases {
		t.Run("rejects "+name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Errorf("should reject %s", name)
			}
		})
	}

	t.Run("accepts memory storage without path", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Storage.Type = "memory"
		cfg.Storage.Path = ""

		if err := cfg.Validate(); err != nil {
			t.Errorf("memory storage config should be valid: %v", err)
		}
	})

	t.Run("accepts blake3", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Merkle.HashAlgorithm = "blake3"

		if err := cfg.Validate(); err != nil {
			t.Errorf("blake3 should be valid: %v", err)
		}
	})
}

// TestConfigSaveLoad tests saving and loading configuration
func TestConfigSaveLoad(t *testing.T) {
	t.Run("can save and load config", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "merkle.yaml")

		original := config.DefaultConfig()
		original.Origin = "https://files.example.com"
		original.Client.Timeout = 5 * time.Second
		original.Limits.MaxFiles = 3

		if err := config.SaveConfig(original, configPath); err != nil {
			t.Fatalf("failed to save config: %v", err)
		}

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if loaded.Origin != original.Origin {
			t.Errorf("origin mismatch: expected %s, got %s", original.Origin, loaded.Origin)
		}
		if loaded.Client.Timeout != 5*time.Second {
			t.Errorf("timeout mismatch: got %v", loaded.Client.Timeout)
		}
		if loaded.Limits.MaxFiles != 3 {
			t.Errorf("max files mismatch: got %d", loaded.Limits.MaxFiles)
		}
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "merkle.yaml")
		_ = os.WriteFile(configPath, []byte("server:\n  port: 4000\n"), 0644)

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if loaded.Server.Port != 4000 {
			t.Errorf("expected port 4000, got %d", loaded.Server.Port)
		}
		if loaded.Storage.Type != "local" || loaded.Limits.MaxFiles != 10000 {
			t.Error("unset values should keep their defaults")
		}
	})

	t.Run("environment overrides file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "merkle.yaml")
		_ = config.SaveConfig(config.DefaultConfig(), configPath)

		t.Setenv(config.EnvStorageDir, "/srv/files")
		t.Setenv(config.EnvPort, "9090")

		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}
		if loaded.Storage.Path != "/srv/files" {
			t.Errorf("expected storage override, got %s", loaded.Storage.Path)
		}
		if loaded.Server.Port != 9090 {
			t.Errorf("expected port override, got %d", loaded.Server.Port)
		}
	})

	t.Run("rejects invalid port override", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "merkle.yaml")
		_ = config.SaveConfig(config.DefaultConfig(), configPath)
		t.Setenv(config.EnvPort, "not-a-port")

		if _, err := config.LoadConfig(configPath); err == nil {
			t.Error("should reject non-numeric port")
		}
	})

	t.Run("returns error for non-existent file", func(t *testing.T) {
		if _, err := config.LoadConfig("/nonexistent/config.yaml"); err == nil {
			t.Error("should return error for non-existent file")
		}
	})

	t.Run("returns error for invalid YAML", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bad.yaml")
		_ = os.WriteFile(configPath, []byte("invalid: yaml: content: [[["), 0644)

		if _, err := config.LoadConfig(configPath); err == nil {
			t.Error("should return error for invalid YAML")
		}
	})
}

// TestLoadClientConfig tests client config resolution
func TestLoadClientConfig(t *testing.T) {
	t.Run("falls back to defaults without a file", func(t *testing.T) {
		t.Chdir(t.TempDir())

		cfg, err := config.LoadClientConfig("")
		if err != nil {
			t.Fatalf("failed to load client config: %v", err)
		}
		if cfg.Client.ServerURL != "http://localhost:3000" {
			t.Errorf("unexpected server URL: %s", cfg.Client.ServerURL)
		}
	})

	t.Run("finds default file in working directory", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		_ = os.WriteFile(filepath.Join(dir, "merkle.yml"), []byte("client:\n  server_url: http://files:8000\n"), 0644)

		if found := config.FindConfigFile(); found != "merkle.yml" {
			t.Errorf("expected merkle.yml, got %q", found)
		}

		cfg, err := config.LoadClientConfig("")
		if err != nil {
			t.Fatalf("failed to load client config: %v", err)
		}
		if cfg.Client.ServerURL != "http://files:8000" {
			t.Errorf("unexpected server URL: %s", cfg.Client.ServerURL)
		}
	})
}
