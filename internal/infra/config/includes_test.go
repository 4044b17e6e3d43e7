package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func chmod(path string, mode os.FileMode) error { return os.Chmod(path, mode) }

func TestIncludesSingleFile(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "adapters.yaml", `
adapters:
  - name: "replicate"
    type: "replicate"
    api_key: "r8-from-include"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "adapters.yaml"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Adapters) != 1 || cfg.Adapters[0].APIKey != "r8-from-include" {
		t.Errorf("adapter not loaded from include: %+v", cfg.Adapters)
	}
}

func TestIncludesGlobAccumulatesAdapters(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "adapters.d")
	if err := os.Mkdir(subdir, 0755); err != nil {
		t.Fatal(err)
	}
	writeConfigFile(t, subdir, "a.yaml", `
adapters:
  - name: "pollinations"
    type: "pollinations"
`)
	writeConfigFile(t, subdir, "b.yaml", `
adapters:
  - name: "replicate"
    type: "replicate"
`)
	path := writeConfigFile(t, dir, "config.yaml", `
includes:
  - "adapters.d/*.yaml"
adapters:
  - name: "local"
    type: "openai"
    base_url: "http://localhost:8000/v1"
  - name: "replicate"
    type: "replicate"
    api_key: "r8-main"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	var names []string
	for _, a := range cfg.Adapters {
		names = append(names, a.Name)
	}
	if got := strings.Join(names, ","); got != "pollinations,replicate,local" {
		t.Errorf("adapters = %s, want pollinations,replicate,local", got)
	}
	if cfg.Adapters[1].APIKey != "r8-main" {
		t.Errorf("main file should override included replicate, got %+v", cfg.Adapters[1])
	}
}

func TestIncludesReadOnlyAdapters(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "nested.yaml", `
adapters:
  - name: "nested"
    type: "openai"
`)
	writeConfigFile(t, dir, "extra.yaml", `
includes: ["nested.yaml"]
server:
  addr: ":1111"
logger:
  level: "debug"
adapters:
  - name: "extra"
    type: "pollinations"
`)
	path := writeConfigFile(t, dir, "config.yaml", `includes: ["extra.yaml"]`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Adapters) != 1 || cfg.Adapters[0].Name != "extra" {
		t.Errorf("adapters = %+v, want only extra", cfg.Adapters)
	}
	if cfg.Server.Addr != ":8080" || cfg.Logger.Level != "info" {
		t.Errorf("included scalars leaked: addr=%q level=%q", cfg.Server.Addr, cfg.Logger.Level)
	}
}

func TestIncludesPathTraversal(t *testing.T) {
	for _, pattern := range []string{"../outside.yaml", "/etc/modelrelay.yaml"} {
		dir := t.TempDir()
		path := writeConfigFile(t, dir, "config.yaml", "includes: [\""+pattern+"\"]")

		_, err := Load(path)
		if err == nil || !strings.Contains(err.Error(), "escapes") {
			t.Errorf("%s: expected traversal error, got %v", pattern, err)
		}
	}
}

func TestIncludesMissingLiteral(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `includes: ["nope.yaml"]`)
	if _, err := Load(path); err == nil {
		t.Error("expected error for missing include")
	}
}

func TestIncludesGlobNoMatch(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "config.yaml", `includes: ["extra/*.yaml"]`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Adapters) != 2 {
		t.Errorf("expected default adapters, got %d", len(cfg.Adapters))
	}
}
