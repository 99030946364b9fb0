package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const secret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lotteryd.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
data_dir: /tmp/lottery
auth:
  secret: `+secret+`
keeper:
  enabled: true
  interval: 30s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7080" {
		t.Fatalf("unexpected listen address %q", cfg.ListenAddress)
	}
	if cfg.ArchivePath != "/tmp/lottery/events.sqlite" {
		t.Fatalf("unexpected archive path %q", cfg.ArchivePath)
	}
	if cfg.Keeper.Interval.Duration != 30*time.Second || !cfg.Keeper.Enabled {
		t.Fatalf("keeper not parsed: %+v", cfg.Keeper)
	}
	if cfg.Oracle.Mode != OracleModeLocal {
		t.Fatalf("unexpected oracle mode %q", cfg.Oracle.Mode)
	}
	if cfg.Oracle.FallbackAfter.Duration != 10*time.Minute {
		t.Fatalf("unexpected fallback %v", cfg.Oracle.FallbackAfter.Duration)
	}
	if cfg.Auth.OperatorScope != "lottery:operator" {
		t.Fatalf("unexpected scope %q", cfg.Auth.OperatorScope)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing secret": `listen: ":1"`,
		"short secret":   "auth:\n  secret: short\n",
		"nats without url": `
auth:
  secret: ` + secret + `
oracle:
  mode: nats
`,
		"unknown mode": `
auth:
  secret: ` + secret + `
oracle:
  mode: carrier-pigeon
`,
		"bad duration": `
auth:
  secret: ` + secret + `
keeper:
  interval: soon
`,
		"unknown field": `
auth:
  secret: ` + secret + `
colour: blue
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	cfg := Config{ListenAddress: ":1"}
	env := map[string]string{
		"LOTTERYD_JWT_SECRET": secret,
		"LOTTERYD_LISTEN":     "127.0.0.1:9000",
		"LOTTERYD_LOG_FILE":   "/var/log/lotteryd.log",
	}
	applyEnv(&cfg, func(key string) string { return env[key] })
	if cfg.Auth.Secret != secret || cfg.ListenAddress != "127.0.0.1:9000" || cfg.Logging.File != "/var/log/lotteryd.log" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil || !strings.Contains(err.Error(), "open config") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestShippedConfigLoads(t *testing.T) {
	cfg, err := Load("../config.yaml")
	if err != nil {
		t.Fatalf("load shipped config: %v", err)
	}
	if cfg.Oracle.Mode != OracleModeLocal {
		t.Fatalf("unexpected oracle mode %q", cfg.Oracle.Mode)
	}
	if cfg.Oracle.FallbackAfter.Duration != 10*time.Minute {
		t.Fatalf("unexpected fallback wait %s", cfg.Oracle.FallbackAfter.Duration)
	}
}
