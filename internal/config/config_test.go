package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadParsesSections(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9090"
redis:
  addr: localhost:6379
  ttl: 30s
engine:
  gracePeriod: 1500ms
  allowRevision: true
  fuzzyText: true
  fuzzyDistance: 2
reconnect:
  maxAttempts: 4
  initialBackoff: 250ms
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != "9090" || cfg.Redis.Addr != "localhost:6379" {
		t.Fatalf("unexpected server/redis section %+v %+v", cfg.Server, cfg.Redis)
	}
	if !cfg.Engine.AllowRevision || cfg.Engine.FuzzyDistance != 2 {
		t.Fatalf("unexpected engine section %+v", cfg.Engine)
	}
	if got := TTLDuration(cfg.Engine.GracePeriod, time.Second); got != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s grace, got %s", got)
	}
	if cfg.Reconnect.MaxAttempts != 4 || cfg.Log.Format != "json" {
		t.Fatalf("unexpected reconnect/log section %+v %+v", cfg.Reconnect, cfg.Log)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"duration":  "engine:\n  gracePeriod: soon\n",
		"log level": "log:\n  level: loud\n",
		"distance":  "engine:\n  fuzzyDistance: 9\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			if err == nil || !strings.Contains(err.Error(), "invalid config") {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := TTLDuration(cfg.Definitions.TTL, 10*time.Minute); got != 10*time.Minute {
		t.Fatalf("expected fallback ttl, got %s", got)
	}
}

func TestTTLDurationFallback(t *testing.T) {
	if got := TTLDuration("", time.Minute); got != time.Minute {
		t.Fatalf("empty should fall back, got %s", got)
	}
	if got := TTLDuration("bogus", time.Minute); got != time.Minute {
		t.Fatalf("invalid should fall back, got %s", got)
	}
	if got := TTLDuration("5s", time.Minute); got != 5*time.Second {
		t.Fatalf("expected 5s, got %s", got)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}
