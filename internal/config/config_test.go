package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chattyd.toml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
listen_addr = ":8080"

[auth]
secret = "test-secret"

[mongo]
database = "chatty_test"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.Mongo.Database != "chatty_test" {
		t.Errorf("Mongo.Database = %q, want chatty_test", cfg.Mongo.Database)
	}
	// Untouched keys keep their defaults.
	if cfg.Mongo.URL != "mongodb://localhost:27017" {
		t.Errorf("Mongo.URL = %q, want default", cfg.Mongo.URL)
	}
	if cfg.TokenTTL().Hours() != 24*7 {
		t.Errorf("TokenTTL = %v, want 168h", cfg.TokenTTL())
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("CHATTY_SECRET", "")
	path := writeConfig(t, `listen_addr = ":8080"`)

	if _, err := Load(path); err == nil {
		t.Error("Load() should fail without an auth secret")
	}
}

func TestSecretFromEnvironment(t *testing.T) {
	t.Setenv("CHATTY_SECRET", "env-secret")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.Secret != "env-secret" {
		t.Errorf("Secret = %q, want env-secret", cfg.Auth.Secret)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("CHATTY_SECRET", "env-secret")
	path := writeConfig(t, `
[auth]
secret = "file-secret"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Auth.Secret != "env-secret" {
		t.Errorf("Secret = %q, want the environment override", cfg.Auth.Secret)
	}
}
