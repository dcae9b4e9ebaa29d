// ABOUTME: Tests for configuration loading, env expansion, and validation.
// ABOUTME: Writes temporary YAML files and loads them through the real path.

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
	path := filepath.Join(t.TempDir(), "hub.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
cache:
  driver: "memory"
  context_ttl: "30m"
agents:
  scan_interval: "15s"
  heartbeat_timeout: "45s"
logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.HTTPAddr != ":8765" {
		t.Errorf("http_addr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Cache.ContextTTL != 30*time.Minute {
		t.Errorf("context_ttl = %v", cfg.Cache.ContextTTL)
	}
	if cfg.Agents.ScanInterval != 15*time.Second {
		t.Errorf("scan_interval = %v", cfg.Agents.ScanInterval)
	}
	if cfg.Agents.HeartbeatTimeout != 45*time.Second {
		t.Errorf("heartbeat_timeout = %v", cfg.Agents.HeartbeatTimeout)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("logging level = %q", cfg.Logging.Level)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_HUB_SECRET", "s3cret")

	path := writeConfig(t, `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
auth:
  jwt_secret: "${TEST_HUB_SECRET}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("jwt_secret = %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing http_addr",
			yaml:    "database:\n  path: \"/tmp/hub.db\"\n",
			wantErr: "http_addr",
		},
		{
			name:    "missing database path",
			yaml:    "server:\n  http_addr: \":8765\"\n",
			wantErr: "database.path",
		},
		{
			name: "bad cache driver",
			yaml: `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
cache:
  driver: "memcached"
`,
			wantErr: "cache.driver",
		},
		{
			name: "redis without url",
			yaml: `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
cache:
  driver: "redis"
`,
			wantErr: "redis_url",
		},
		{
			name: "timeout shorter than scan",
			yaml: `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
agents:
  scan_interval: "60s"
  heartbeat_timeout: "30s"
`,
			wantErr: "heartbeat_timeout",
		},
		{
			name: "timeout cannot absorb a missed beat",
			yaml: `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
agents:
  scan_interval: "30s"
  heartbeat_timeout: "45s"
`,
			wantErr: "heartbeat_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
server:
  http_addr: ":8765"
database:
  path: "/tmp/hub.db"
agents:
  scan_interval: "soon"
`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected duration parse error")
	}
}
