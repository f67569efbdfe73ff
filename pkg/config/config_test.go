package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/craftywatch/hibernate/internal/models"
)

func writeConfig(t *testing.T, body string) string {
	dir := t.TempDir()
	path := filepath.Join(dir, "watcher.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

const minimalYAML = `
controller:
  base_url: https://crafty.example.com

servers:
  s1:
    crafty_server_id: abc-123
    listen_port: 25565
`

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("CRAFTY_API_TOKEN", "secret-token")
	path := writeConfig(t, minimalYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.PollInterval != defaultPollInterval {
		t.Errorf("PollInterval = %v, want default %v", cfg.PollInterval, defaultPollInterval)
	}
	if cfg.HealthPort != defaultHealthPort {
		t.Errorf("HealthPort = %d, want %d", cfg.HealthPort, defaultHealthPort)
	}

	s1, ok := cfg.Servers["s1"]
	if !ok {
		t.Fatal("expected server s1")
	}
	if s1.Kind != models.KindJava {
		t.Errorf("Kind = %q, want java", s1.Kind)
	}
	if s1.BindAddr != defaultBindAddress {
		t.Errorf("BindAddr = %q, want %q", s1.BindAddr, defaultBindAddress)
	}
	if s1.IdleTimeout != defaultIdleTimeout {
		t.Errorf("IdleTimeout = %v, want %v", s1.IdleTimeout, defaultIdleTimeout)
	}
	if s1.MaxPlayers != defaultMaxPlayers {
		t.Errorf("MaxPlayers = %d, want %d", s1.MaxPlayers, defaultMaxPlayers)
	}
	if s1.WakeOnPing != models.WakeOnPingRepeated {
		t.Errorf("WakeOnPing = %q, want repeated", s1.WakeOnPing)
	}
}

func TestLoadMissingTokenFails(t *testing.T) {
	os.Unsetenv("CRAFTY_API_TOKEN")
	path := writeConfig(t, minimalYAML)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error when CRAFTY_API_TOKEN is unset")
	}
}

func TestLoadMissingBaseURLFails(t *testing.T) {
	t.Setenv("CRAFTY_API_TOKEN", "secret-token")
	path := writeConfig(t, `
servers:
  s1:
    crafty_server_id: abc-123
    listen_port: 25565
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error when controller.base_url is missing")
	}
}

func TestLoadInvalidKindFails(t *testing.T) {
	t.Setenv("CRAFTY_API_TOKEN", "secret-token")
	path := writeConfig(t, `
controller:
  base_url: https://crafty.example.com

servers:
  s1:
    crafty_server_id: abc-123
    listen_port: 25565
    kind: telnet
`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for an unrecognized server kind")
	}
}

func TestLoadOverridesAndBedrock(t *testing.T) {
	t.Setenv("CRAFTY_API_TOKEN", "secret-token")
	path := writeConfig(t, `
controller:
  base_url: https://crafty.example.com
  poll_interval_seconds: 5

servers:
  s2:
    crafty_server_id: def-456
    kind: bedrock
    listen_port: 19132
    idle_timeout_minutes: 1
    flap_threshold: 5
    bedrock:
      wake_on_ping: always
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %v, want 5s", cfg.PollInterval)
	}
	s2 := cfg.Servers["s2"]
	if s2.Kind != models.KindBedrock {
		t.Errorf("Kind = %q, want bedrock", s2.Kind)
	}
	if s2.IdleTimeout != time.Minute {
		t.Errorf("IdleTimeout = %v, want 1m", s2.IdleTimeout)
	}
	if s2.FlapThreshold != 5 {
		t.Errorf("FlapThreshold = %d, want 5", s2.FlapThreshold)
	}
	if s2.WakeOnPing != models.WakeOnPingAlways {
		t.Errorf("WakeOnPing = %q, want always", s2.WakeOnPing)
	}
}
