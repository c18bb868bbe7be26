package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "test-secret-key-at-least-32-characters-long"

// writeTestConfig writes a config using the simulated radio and no external
// services.
func writeTestConfig(t *testing.T, extra string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test-config.yaml")

	configContent := `
bridge:
  id: test-bridge

bluetooth:
  backend: simulated
  scan_timeout: 1

cache:
  backend: sqlite

database:
  path: "` + filepath.Join(tmpDir, "test.db") + `"
  wal_mode: true
  busy_timeout: 5

mqtt:
  enabled: false

influxdb:
  enabled: false

logging:
  level: error
  format: text
  output: stdout

api:
  host: "127.0.0.1"
  port: 18765

security:
  jwt:
    secret: "` + testSecret + `"
` + extra
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, "/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingSecret verifies validation errors stop startup.
func TestRun_MissingSecret(t *testing.T) {
	configPath := writeTestConfig(t, "")
	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	stripped := strings.ReplaceAll(string(data), testSecret, "")
	if err := os.WriteFile(configPath, []byte(stripped), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	err = run(context.Background(), configPath)
	if err == nil || !strings.Contains(err.Error(), "security.jwt.secret") {
		t.Fatalf("run() error = %v, want secret validation error", err)
	}
}

// TestRun_StartupAndShutdown runs the full stack on the simulated radio.
func TestRun_StartupAndShutdown(t *testing.T) {
	configPath := writeTestConfig(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	if err := run(ctx, configPath); err != nil {
		t.Fatalf("run() error = %v", err)
	}
}

// TestGetConfigPath_Default verifies default config path.
func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv(configEnvVar, "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

// TestGetConfigPath_EnvOverride verifies environment variable override.
func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv(configEnvVar, expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "webble "+version) {
		t.Errorf("version output = %q", out)
	}
}

func TestDevicesCmd_ListAndForget(t *testing.T) {
	configPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", configPath, "devices", "list")
	if err != nil {
		t.Fatalf("devices list error = %v", err)
	}
	if !strings.Contains(out, "no persisted devices") {
		t.Errorf("devices list output = %q", out)
	}

	out, err = execute(t, "--config", configPath, "devices", "list", "--json")
	if err != nil {
		t.Fatalf("devices list --json error = %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("devices list --json output = %q, want []", out)
	}

	if _, err := execute(t, "--config", configPath, "devices", "forget"); err == nil {
		t.Error("devices forget without an id succeeded")
	}
}

func TestMigrateCmd(t *testing.T) {
	configPath := writeTestConfig(t, "")

	out, err := execute(t, "--config", configPath, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("fresh database status = %q, want a pending migration", out)
	}

	if _, err := execute(t, "--config", configPath, "migrate", "up"); err != nil {
		t.Fatalf("migrate up error = %v", err)
	}
	out, err = execute(t, "--config", configPath, "migrate", "status")
	if err != nil {
		t.Fatalf("migrate status error = %v", err)
	}
	if strings.Contains(out, "pending") || !strings.Contains(out, "applied") {
		t.Errorf("migrated status = %q", out)
	}
}
