package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/medtwin-core/internal/auth"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeTestConfig writes a minimal valid configuration using a database
// inside a temporary directory.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := fmt.Sprintf(`
fleet:
  id: test-fleet
  timezone: UTC
database:
  path: %q
  wal_mode: true
  busy_timeout: 5
store:
  driver: sqlite
mqtt:
  broker:
    host: "127.0.0.1"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "127.0.0.1"
  port: 8080
notifications:
  transport: mqtt
  fallback_operator_id: "157933243"
security:
  jwt:
    secret: %q
    access_token_ttl: 15
`, filepath.Join(dir, "medtwin.db"), testSecret)

	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

// execute runs the root command with args and returns its output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetArgs(args)
	cmd.SetErr(&out)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

// ===== Config path =====

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(configEnvVar, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// ===== Commands =====

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, version) {
		t.Errorf("version output = %q, want it to contain %q", out, version)
	}
}

func TestCheckCommand(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "check", "--config", path)
	if err != nil {
		t.Fatalf("check error = %v", err)
	}
	if !strings.Contains(out, "test-fleet") || !strings.Contains(out, "sqlite") {
		t.Errorf("check output = %q", out)
	}
}

func TestCheckCommand_EnvPath(t *testing.T) {
	t.Setenv(configEnvVar, writeTestConfig(t))

	if _, err := execute(t, "check"); err != nil {
		t.Fatalf("check error = %v", err)
	}
}

func TestCheckCommand_InvalidConfig(t *testing.T) {
	if _, err := execute(t, "check", "--config", "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("check should fail with invalid config path")
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	if _, err := execute(t, "serve", "--config", "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("serve should fail with invalid config path")
	}
}

func TestTokenCommand(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "token", "--config", path, "--user", "alice", "--operator", "157933243")
	if err != nil {
		t.Fatalf("token error = %v", err)
	}
	claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
	if err != nil {
		t.Fatalf("ParseToken() error = %v", err)
	}
	p := claims.Principal()
	if p.UserID != "alice" || p.Operator() != "157933243" {
		t.Errorf("principal = %+v", p)
	}
	if ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time); ttl != 15*time.Minute {
		t.Errorf("token ttl = %v, want 15m from config", ttl)
	}

	if _, err := execute(t, "token", "--config", path); err == nil {
		t.Error("token without --user error = nil, want error")
	}
}

func TestMigrateCommands(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("fresh status = %q, want pending migrations", out)
	}

	if _, err := execute(t, "migrate", "up", "--config", path); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	out, err = execute(t, "migrate", "status", "--config", path)
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out, "pending") || !strings.Contains(out, "applied") {
		t.Errorf("status after up = %q, want only applied", out)
	}

	if _, err := execute(t, "migrate", "down", "--config", path); err != nil {
		t.Fatalf("migrate down error = %v", err)
	}
	out, _ = execute(t, "migrate", "status", "--config", path)
	if !strings.Contains(out, "pending") {
		t.Errorf("status after down = %q, want a pending migration", out)
	}
}
