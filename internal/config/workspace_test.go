package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeWorkspace(t *testing.T, root, body string) {
	t.Helper()
	wsDir := filepath.Join(root, WorkspaceDirName)
	if err := os.MkdirAll(wsDir, 0755); err != nil {
		t.Fatalf("failed to create workspace dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(wsDir, WorkspaceConfigFile), []byte(body), 0644); err != nil {
		t.Fatalf("failed to write workspace config: %v", err)
	}
}

func TestDiscoverWorkspace_Found(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	result, err := DiscoverWorkspace(tmpDir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_WalkUp(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	nested := filepath.Join(tmpDir, "a", "b")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("failed to create nested dirs: %v", err)
	}

	result, err := DiscoverWorkspace(nested)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != tmpDir {
		t.Errorf("expected %q, got %q", tmpDir, result)
	}
}

func TestDiscoverWorkspace_NotFound(t *testing.T) {
	result, err := DiscoverWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestDiscoverWorkspace_MaxDepth(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "server:\n  name: test\n")

	parts := make([]string, MaxSearchDepth+2)
	parts[0] = tmpDir
	for i := 1; i <= MaxSearchDepth+1; i++ {
		parts[i] = "d"
	}
	deepPath := filepath.Join(parts...)
	if err := os.MkdirAll(deepPath, 0755); err != nil {
		t.Fatalf("failed to create deep path: %v", err)
	}

	result, err := DiscoverWorkspace(deepPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "" {
		t.Errorf("expected empty string (beyond max depth), got %q", result)
	}
}

func TestLoadWithWorkspace_DefaultsOnly(t *testing.T) {
	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{Disable: true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != "" {
		t.Errorf("expected empty workspace dir, got %q", wsDir)
	}
	if cfg.Server.Name != "browserpilot-mcp" {
		t.Errorf("expected default server name, got %q", cfg.Server.Name)
	}
}

func TestLoadWithWorkspace_ExplicitDirResolvesPaths(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, `
server:
  log_file: "data/server.log"
journal:
  schema_path: ""
recorder:
  trace_dir: "data/traces"
browser:
  max_sessions: 2
`)

	cfg, wsDir, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if wsDir != tmpDir {
		t.Errorf("expected workspace %q, got %q", tmpDir, wsDir)
	}
	if cfg.Server.LogFile != filepath.Join(tmpDir, "data", "server.log") {
		t.Errorf("log file not resolved against workspace: %q", cfg.Server.LogFile)
	}
	if cfg.Recorder.TraceDir != filepath.Join(tmpDir, "data", "traces") {
		t.Errorf("trace dir not resolved against workspace: %q", cfg.Recorder.TraceDir)
	}
	if cfg.Journal.SchemaPath != "" {
		t.Errorf("empty schema path should stay empty, got %q", cfg.Journal.SchemaPath)
	}
	if cfg.Browser.MaxSessions != 2 {
		t.Errorf("expected max sessions 2, got %d", cfg.Browser.MaxSessions)
	}
}

func TestLoadWithWorkspace_ExplicitConfigOverridesWorkspace(t *testing.T) {
	tmpDir := t.TempDir()
	writeWorkspace(t, tmpDir, "browser:\n  max_sessions: 2\n  viewport_width: 800\n")

	explicit := filepath.Join(tmpDir, "override.yaml")
	if err := os.WriteFile(explicit, []byte("browser:\n  max_sessions: 5\n"), 0644); err != nil {
		t.Fatalf("failed to write override: %v", err)
	}

	cfg, _, err := LoadWithWorkspace(explicit, WorkspaceOptions{ExplicitDir: tmpDir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Browser.MaxSessions != 5 {
		t.Errorf("expected explicit config to win, got %d", cfg.Browser.MaxSessions)
	}
	if cfg.Browser.ViewportWidth != 800 {
		t.Errorf("expected workspace value to survive, got %d", cfg.Browser.ViewportWidth)
	}
}

func TestLoadWithWorkspace_MissingExplicitConfig(t *testing.T) {
	_, _, err := LoadWithWorkspace(filepath.Join(t.TempDir(), "nope.yaml"), WorkspaceOptions{Disable: true})
	if err == nil {
		t.Error("expected error for missing explicit config")
	}
}

func TestInitWorkspace(t *testing.T) {
	root := t.TempDir()
	if err := InitWorkspace(root); err != nil {
		t.Fatalf("InitWorkspace failed: %v", err)
	}

	for _, p := range []string{
		filepath.Join(root, WorkspaceDirName, WorkspaceConfigFile),
		filepath.Join(root, WorkspaceDirName, ".gitignore"),
		filepath.Join(root, WorkspaceDirName, "rules"),
		filepath.Join(root, WorkspaceDirName, "data"),
	} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("expected %s to exist: %v", p, err)
		}
	}

	// The template is all comments, so it must load cleanly.
	if _, _, err := LoadWithWorkspace("", WorkspaceOptions{ExplicitDir: root}); err != nil {
		t.Errorf("template config should load: %v", err)
	}

	if err := InitWorkspace(root); err == nil {
		t.Error("expected error when workspace already exists")
	}
}
