package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestLoadDefaults verifies loading with no files returns the defaults.
func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.MaxParallelism != 4 {
		t.Errorf("expected default parallelism 4, got %d", cfg.Engine.MaxParallelism)
	}
	if cfg.Engine.MaxTaskRetries != 3 {
		t.Errorf("expected default task retries 3, got %d", cfg.Engine.MaxTaskRetries)
	}
	if _, ok := cfg.Workflows["full_stack_feature"]; !ok {
		t.Error("expected built-in full_stack_feature workflow")
	}
	if _, ok := cfg.Gates["code_review"]; !ok {
		t.Error("expected built-in code_review gate")
	}
}

// TestLoadMissingFilesNotError verifies nonexistent paths are skipped.
func TestLoadMissingFilesNotError(t *testing.T) {
	if _, err := Load("/nonexistent/global.json", "/nonexistent/project.json"); err != nil {
		t.Fatalf("missing config files should not error: %v", err)
	}
}

// TestLoadMalformedJSON verifies parse errors surface.
func TestLoadMalformedJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte("{not json"), 0644)

	if _, err := Load(path, ""); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
}

// TestLoadPrecedence verifies project config overrides global overrides defaults.
func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	globalPath := filepath.Join(dir, "global.json")
	projectPath := filepath.Join(dir, "project.json")

	globalJSON := `{
		"engine": {"max_parallelism": 2},
		"capabilities": {"coder": {"provider": "codex", "system_prompt": "global coder"}}
	}`
	projectJSON := `{
		"capabilities": {"coder": {"provider": "claude", "system_prompt": "project coder"}},
		"workflows": {"hotfix": {"tasks": [{"id": "fix", "capability": "coder"}]}}
	}`
	os.WriteFile(globalPath, []byte(globalJSON), 0644)
	os.WriteFile(projectPath, []byte(projectJSON), 0644)

	cfg, err := Load(globalPath, projectPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Engine.MaxParallelism != 2 {
		t.Errorf("global engine override lost: %d", cfg.Engine.MaxParallelism)
	}
	if cfg.Engine.MaxTaskRetries != 3 {
		t.Errorf("unset engine field should keep default: %d", cfg.Engine.MaxTaskRetries)
	}
	if got := cfg.Capabilities["coder"].SystemPrompt; got != "project coder" {
		t.Errorf("project should win over global: %q", got)
	}
	if _, ok := cfg.Workflows["hotfix"]; !ok {
		t.Error("project workflow not merged")
	}
	if _, ok := cfg.Workflows["full_stack_feature"]; !ok {
		t.Error("defaults should survive merge")
	}
}

// TestSaveRoundTrip verifies Save writes loadable JSON and creates directories.
func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.json")

	cfg := DefaultConfig()
	cfg.Engine.MaxParallelism = 7
	if err := Save(cfg, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if loaded.Engine.MaxParallelism != 7 {
		t.Errorf("round trip lost engine setting: %d", loaded.Engine.MaxParallelism)
	}
}
