package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	cfg := &Config{
		DefaultProfile: "work",
		Platform:       PlatformConfig{BaseURL: "https://api.example.test"},
	}
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultProfile != "work" {
		t.Errorf("DefaultProfile = %q, want %q", loaded.DefaultProfile, "work")
	}
	if loaded.Platform.BaseURL != "https://api.example.test" {
		t.Errorf("Platform.BaseURL = %q", loaded.Platform.BaseURL)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing", "config.toml"))
	if err == nil {
		t.Error("Load() expected error for missing file")
	}
}

func TestEnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{Platform: PlatformConfig{BaseURL: "https://file.example"}}); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SMARTPRO_PLATFORM_URL", "https://env.example")
	t.Setenv("SMARTPRO_LISTEN_ADDR", "127.0.0.1:9999")

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Platform.BaseURL != "https://env.example" {
		t.Errorf("BaseURL = %q, want env override", loaded.Platform.BaseURL)
	}
	if loaded.Daemon.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("ListenAddr = %q, want env override", loaded.Daemon.ListenAddr)
	}
}

func TestListenAddrDefault(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	if err := Save(path, &Config{}); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Daemon.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", loaded.Daemon.ListenAddr, DefaultListenAddr)
	}
}

func TestSavePermissions(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")

	if err := Save(path, &Config{DefaultProfile: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	perm := info.Mode().Perm()
	if perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
