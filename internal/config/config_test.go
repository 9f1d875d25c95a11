package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.LockTimeout() != defaultLockTimeout || c.RetryDelay() != defaultRetryDelay {
		t.Fatalf("unexpected store defaults: %s / %s", c.LockTimeout(), c.RetryDelay())
	}
	if c.ServerAddr() != defaultServerAddr {
		t.Fatalf("expected default addr, got %q", c.ServerAddr())
	}
	if c.CataloguePath() != "" {
		t.Fatalf("expected built-in catalogue, got %q", c.CataloguePath())
	}
}

func TestInitDirWritesParsableConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	for _, sub := range []string{"logs", "tasks", "config.yaml"} {
		if _, err := os.Stat(filepath.Join(projectDir, Dir, sub)); err != nil {
			t.Fatalf("expected %s: %v", sub, err)
		}
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load after init: %v", err)
	}
	if c.LockTimeout() != 10*time.Second {
		t.Fatalf("expected 10s lock timeout, got %s", c.LockTimeout())
	}
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir should be idempotent: %v", err)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	dir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
store:
  lock_timeout: 2s
  retry_delay: 5ms
tools:
  catalogue: tools/catalogue.yaml
server:
  addr: 0.0.0.0:9000
`)
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.LockTimeout() != 2*time.Second || c.RetryDelay() != 5*time.Millisecond {
		t.Fatalf("unexpected durations: %s / %s", c.LockTimeout(), c.RetryDelay())
	}
	want := filepath.Join(c.ProjectDir, "tools", "catalogue.yaml")
	if c.CataloguePath() != want {
		t.Fatalf("catalogue path = %q, want %q", c.CataloguePath(), want)
	}
	if c.ServerAddr() != "0.0.0.0:9000" {
		t.Fatalf("unexpected addr %q", c.ServerAddr())
	}
}

func TestLoadRejectsInvalidDurations(t *testing.T) {
	cases := map[string]string{
		"unparsable": "store:\n  lock_timeout: soon\n",
		"negative":   "store:\n  lock_timeout: -1s\n",
		"slow retry": "store:\n  lock_timeout: 1s\n  retry_delay: 2s\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			projectDir := t.TempDir()
			dir := filepath.Join(projectDir, Dir)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(projectDir); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	c.Project.Tools.Catalogue = filepath.Join(c.ProjectDir, "custom.yaml")
	c.Project.Store.LockTimeout = "3s"
	if err := c.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, err := os.ReadFile(c.ProjectConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "catalogue: custom.yaml") {
		t.Fatalf("expected relative catalogue path in %s", raw)
	}
	again, err := Load(projectDir)
	if err != nil {
		t.Fatal(err)
	}
	if again.LockTimeout() != 3*time.Second || again.CataloguePath() != c.CataloguePath() {
		t.Fatalf("round trip mismatch: %s %q", again.LockTimeout(), again.CataloguePath())
	}
}
