// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, and duration parsing

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret-key-for-jwt-signing"

session:
  fetch_limit: 100
  dedupe_ttl: "5m"
  dedupe_size: 512

websocket:
  ping_interval: "30s"
  write_timeout: "10s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}

	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}

	if cfg.Auth.JWTSecret != "test-secret-key-for-jwt-signing" {
		t.Errorf("Auth.JWTSecret = %q, want the configured secret", cfg.Auth.JWTSecret)
	}

	// Session config with duration parsing
	if cfg.Session.FetchLimit != 100 {
		t.Errorf("Session.FetchLimit = %d, want 100", cfg.Session.FetchLimit)
	}
	if cfg.Session.DedupeTTL != 5*time.Minute {
		t.Errorf("Session.DedupeTTL = %v, want %v", cfg.Session.DedupeTTL, 5*time.Minute)
	}
	if cfg.Session.DedupeSize != 512 {
		t.Errorf("Session.DedupeSize = %d, want 512", cfg.Session.DedupeSize)
	}

	// Websocket keepalive durations
	if cfg.Websocket.PingInterval != 30*time.Second {
		t.Errorf("Websocket.PingInterval = %v, want %v", cfg.Websocket.PingInterval, 30*time.Second)
	}
	if cfg.Websocket.WriteTimeout != 10*time.Second {
		t.Errorf("Websocket.WriteTimeout = %v, want %v", cfg.Websocket.WriteTimeout, 10*time.Second)
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want %q", cfg.Logging.Format, "json")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MESSAGING_SECRET", "secret-from-env")
	t.Setenv("TEST_MESSAGING_DB", "/tmp/from-env.db")

	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "${TEST_MESSAGING_DB}"

auth:
  jwt_secret: "${TEST_MESSAGING_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.JWTSecret != "secret-from-env" {
		t.Errorf("Auth.JWTSecret = %q, want %q", cfg.Auth.JWTSecret, "secret-from-env")
	}
	if cfg.Database.Path != "/tmp/from-env.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/from-env.db")
	}
}

func TestLoad_UnsetEnvVarExpandsEmpty(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "${DEFINITELY_NOT_SET_MESSAGING_VAR}"
`)

	// Empty secret fails validation
	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail when the secret expands to empty")
	}
	if !strings.Contains(err.Error(), "jwt_secret") {
		t.Errorf("error %q should mention jwt_secret", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Error("Load() should fail for a missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "server: [not: valid: yaml")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() should fail for invalid YAML")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
server:
  http_addr: "0.0.0.0:8080"

database:
  path: "./test.db"

auth:
  jwt_secret: "test-secret"

session:
  dedupe_ttl: "five minutes"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() should fail for an unparseable duration")
	}
	if !strings.Contains(err.Error(), "dedupe_ttl") {
		t.Errorf("error %q should mention dedupe_ttl", err)
	}
}

func TestValidate_RequiredFields(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{
			name:    "missing http addr",
			cfg:     Config{Database: DatabaseConfig{Path: "./db"}, Auth: AuthConfig{JWTSecret: "s"}},
			wantErr: "http_addr",
		},
		{
			name:    "missing database path",
			cfg:     Config{Server: ServerConfig{HTTPAddr: ":8080"}, Auth: AuthConfig{JWTSecret: "s"}},
			wantErr: "database.path",
		},
		{
			name:    "missing jwt secret",
			cfg:     Config{Server: ServerConfig{HTTPAddr: ":8080"}, Database: DatabaseConfig{Path: "./db"}},
			wantErr: "jwt_secret",
		},
		{
			name: "negative fetch limit",
			cfg: Config{
				Server:   ServerConfig{HTTPAddr: ":8080"},
				Database: DatabaseConfig{Path: "./db"},
				Auth:     AuthConfig{JWTSecret: "s"},
				Session:  SessionConfig{FetchLimit: -1},
			},
			wantErr: "fetch_limit",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should have returned an error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
