package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// DefaultListenAddr is where the daemon HTTP API binds when unconfigured.
const DefaultListenAddr = "127.0.0.1:8787"

// Config represents the global ~/.smartpro/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Platform PlatformConfig `toml:"platform"`
	Storage  StorageConfig  `toml:"storage"`
	Daemon   DaemonConfig   `toml:"daemon"`
}

// PlatformConfig points at the hosted SmartPRO backend.
type PlatformConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
	// Optional stored credentials. When present the daemon signs in on
	// start; otherwise it waits for a login through the local API.
	Email    string `toml:"email"`
	Password string `toml:"password"`
}

// StorageConfig holds the object-storage endpoint for message attachments.
type StorageConfig struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// DaemonConfig controls the local API surface.
type DaemonConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// Load reads config from the given path, then applies SMARTPRO_* environment
// overrides. A .env file next to the config is honored if present.
// Returns an error if the config file is missing.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&c.Platform.BaseURL, "SMARTPRO_PLATFORM_URL")
	set(&c.Platform.APIKey, "SMARTPRO_PLATFORM_KEY")
	set(&c.Platform.Email, "SMARTPRO_EMAIL")
	set(&c.Platform.Password, "SMARTPRO_PASSWORD")
	set(&c.Storage.Endpoint, "SMARTPRO_STORAGE_ENDPOINT")
	set(&c.Storage.AccessKey, "SMARTPRO_STORAGE_ACCESS_KEY")
	set(&c.Storage.SecretKey, "SMARTPRO_STORAGE_SECRET_KEY")
	set(&c.Storage.Bucket, "SMARTPRO_STORAGE_BUCKET")
	set(&c.Daemon.ListenAddr, "SMARTPRO_LISTEN_ADDR")
}

func (c *Config) applyDefaults() {
	if c.Daemon.ListenAddr == "" {
		c.Daemon.ListenAddr = DefaultListenAddr
	}
}
