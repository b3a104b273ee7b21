package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Engine.LockTimeout != 30*time.Second {
		t.Errorf("unexpected lock timeout %v", cfg.Engine.LockTimeout)
	}
	if !cfg.Policy.Enabled {
		t.Error("policy should be enabled by default")
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
telemetry:
  logging:
    level: debug
store:
  path: /tmp/model.db
policy:
  paths: [/etc/mgmt/policies]
  watch: true
  data:
    protected: ["/server=main"]
descriptions: [/etc/mgmt/descriptions]
engine:
  lock_timeout: 5s
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected debug level, got %s", cfg.Telemetry.Logging.Level)
	}
	if cfg.Telemetry.ServiceName != "mgmtcore" {
		t.Errorf("unset fields should keep defaults, got service name %q", cfg.Telemetry.ServiceName)
	}
	if cfg.Store.Path != "/tmp/model.db" || cfg.Store.MaxOpenConns != 1 {
		t.Errorf("unexpected store config %+v", cfg.Store)
	}
	if !cfg.Policy.Watch || len(cfg.Policy.Paths) != 1 {
		t.Errorf("unexpected policy config %+v", cfg.Policy)
	}
	if _, ok := cfg.Policy.Data["protected"]; !ok {
		t.Error("policy data not decoded")
	}
	if cfg.Engine.LockTimeout != 5*time.Second {
		t.Errorf("expected 5s lock timeout, got %v", cfg.Engine.LockTimeout)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"syntax":       "store: [",
		"log level":    "telemetry:\n  logging:\n    level: loud\n",
		"max parallel": "engine:\n  max_parallel: 0\n",
		"empty source": "descriptions: [\"\"]\n",
		"negative":     "store:\n  max_open_conns: -1\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(content)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mgmt.yaml")

	cfg := Default()
	cfg.Store.Path = "state.db"
	cfg.Descriptions = []string{"descriptions"}
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Store.Path != "state.db" || len(loaded.Descriptions) != 1 {
		t.Errorf("unexpected config %+v", loaded)
	}
	if loaded.Engine.LockTimeout != cfg.Engine.LockTimeout {
		t.Errorf("lock timeout changed: %v", loaded.Engine.LockTimeout)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
