package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != "dummy" {
		t.Errorf("provider = %q, want dummy", cfg.LLM.Provider)
	}
	if cfg.AskTimeout() != 5*time.Minute {
		t.Errorf("ask timeout = %v, want 5m", cfg.AskTimeout())
	}
}

func TestLoadParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "perch.yaml")
	content := `
dir: ` + dir + `
llm:
  provider: anthropic
  api_key: sk-test
  model: claude-sonnet-4-20250514
permission:
  ask_timeout: 90s
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("provider = %q", cfg.LLM.Provider)
	}
	if cfg.AskTimeout() != 90*time.Second {
		t.Errorf("ask timeout = %v, want 90s", cfg.AskTimeout())
	}
	if cfg.DBPath() != filepath.Join(dir, "perch.db") {
		t.Errorf("db path = %q", cfg.DBPath())
	}
}

func TestValidateRejectsMissingAPIKey(t *testing.T) {
	cfg := Default()
	cfg.Dir = t.TempDir()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.APIKey = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing api key")
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	cfg := Default()
	cfg.Dir = t.TempDir()
	cfg.LLM.Provider = "grok"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("PERCH_API_KEY", "sk-env")
	dir := t.TempDir()
	t.Setenv("PERCH_DIR", dir)

	cfg, err := Load(filepath.Join(dir, "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("api key = %q, want sk-env", cfg.LLM.APIKey)
	}
	if cfg.Dir != dir {
		t.Errorf("dir = %q, want %q", cfg.Dir, dir)
	}
}
