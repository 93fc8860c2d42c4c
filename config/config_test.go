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
	filename := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(filename, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return filename
}

func TestLoadDefaults(t *testing.T) {
	config, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 8080 || config.Provider != ProviderSQLite || config.SettleDelay != 5*time.Second {
		t.Fatalf("Defaults are %+v", config)
	}
	if !config.AssumeOnline {
		t.Fatal("Session not assumed online by default")
	}
}

func TestLoadFile(t *testing.T) {
	filename := writeConfig(t, `
origin: https://blog.example
version: 3
settleDelay: 250ms
manifest:
  - /
  - /offline
routes:
  catalog: /api/posts
`)

	config, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.Origin != "https://blog.example" || config.Version != 3 {
		t.Fatalf("Config is %+v", config)
	}
	if config.SettleDelay != 250*time.Millisecond {
		t.Fatalf("Settle delay is %s", config.SettleDelay)
	}
	if len(config.Manifest) != 2 || config.Manifest[1] != "/offline" {
		t.Fatalf("Manifest is %v", config.Manifest)
	}
	if config.Routes.Catalog != "/api/posts" {
		t.Fatalf("Routes are %+v", config.Routes)
	}
	// untouched values keep their defaults
	if config.Port != 8080 {
		t.Fatalf("Port is %d", config.Port)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	filename := writeConfig(t, "origin: https://blog.example\nport: 9000\n")
	t.Setenv("SW_CACHE_PORT", "9100")
	t.Setenv("SW_CACHE_MANIFEST", "/,/about")
	t.Setenv("SW_CACHE_ROUTE_LOGIN", "/signin")

	config, err := Load(filename)
	if err != nil {
		t.Fatal(err)
	}
	if config.Port != 9100 {
		t.Fatalf("Port is %d", config.Port)
	}
	if config.Origin != "https://blog.example" {
		t.Fatalf("Origin is %s", config.Origin)
	}
	if len(config.Manifest) != 2 || config.Manifest[1] != "/about" {
		t.Fatalf("Manifest is %v", config.Manifest)
	}
	if config.Routes.Login != "/signin" {
		t.Fatalf("Login route is %s", config.Routes.Login)
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("SW_CACHE_PORT", "not-an-int")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("Missing file accepted")
	}
}

func TestValidate(t *testing.T) {
	config := Defaults()
	if err := config.Validate(); err == nil || !strings.Contains(err.Error(), "origin is required") {
		t.Fatalf("Error is %v", err)
	}

	config.Origin = "https://blog.example/sub"
	if err := config.Validate(); err == nil {
		t.Fatal("Origin with path accepted")
	}

	config.Origin = "https://blog.example"
	config.Provider = "floppy"
	if err := config.Validate(); err == nil || !strings.Contains(err.Error(), "floppy") {
		t.Fatalf("Error is %v", err)
	}

	config.Provider = ProviderRedis
	if err := config.Validate(); err != nil {
		t.Fatal(err)
	}
}
