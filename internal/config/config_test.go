package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/qnetctl/qnetctl/internal/testutil/testlog"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "qnetctl.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileWithDefaults(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[controller]
host = "192.168.1.10"
username = "integration"
password = "secret"

[[filters]]
name = "name_replace"
args = ["Ldg", "Landing"]

[synonyms]
lamp = ["light", "fixture"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Controller.Port != 23 {
		t.Fatalf("port %d", cfg.Controller.Port)
	}
	if cfg.Controller.KeepaliveSeconds != 60 {
		t.Fatalf("keepalive %d", cfg.Controller.KeepaliveSeconds)
	}
	if cfg.Database.URL != "http://192.168.1.10/DbXmlInfo.xml" {
		t.Fatalf("db url %q", cfg.Database.URL)
	}
	if len(cfg.Filters) != 1 || cfg.Filters[0].Name != "name_replace" {
		t.Fatalf("filters %v", cfg.Filters)
	}
	if got := cfg.Synonyms["lamp"]; len(got) != 2 || got[0] != "light" {
		t.Fatalf("synonyms %v", cfg.Synonyms)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[controller]
host = "192.168.1.10"
username = "integration"
`)
	t.Setenv("QNETCTL_HOST", "10.0.0.5")
	t.Setenv("QNETCTL_PORT", "2023")
	t.Setenv("QNETCTL_DB_CACHE_ONLY", "true")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Controller.Host != "10.0.0.5" {
		t.Fatalf("host %q", cfg.Controller.Host)
	}
	if cfg.Controller.Port != 2023 {
		t.Fatalf("port %d", cfg.Controller.Port)
	}
	if !cfg.Database.CacheOnly {
		t.Fatalf("cache_only not applied")
	}
	if cfg.Database.URL != "http://10.0.0.5/DbXmlInfo.xml" {
		t.Fatalf("db url %q", cfg.Database.URL)
	}
}

func TestValidateRejectsMissingHost(t *testing.T) {
	testlog.Start(t)
	t.Setenv("QNETCTL_HOST", "")
	if _, err := Load(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("err=%v", err)
	}
}

func TestClientConfigConversion(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
[controller]
host = "192.168.1.10"
username = "integration"
password = "secret"
keepalive_seconds = 30
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cc := cfg.ClientConfig()
	if cc.Host != "192.168.1.10" || cc.Port != 23 {
		t.Fatalf("client config %+v", cc)
	}
	if cc.KeepaliveInterval.Seconds() != 30 {
		t.Fatalf("keepalive %s", cc.KeepaliveInterval)
	}
}
