package core

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitAndDiscoverProject(t *testing.T) {
	root := t.TempDir()
	project, err := InitProject(root, false)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(project.ConfigPath); err != nil {
		t.Fatalf("config should be written: %v", err)
	}
	if _, err := InitProject(root, false); err == nil {
		t.Fatal("second init without force should fail")
	}

	nested := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if _, err := DiscoverProject(nested); err == nil {
		t.Fatal("discover should fail before the database exists")
	}
	if err := os.WriteFile(project.DBPath, nil, 0o644); err != nil {
		t.Fatalf("touch db: %v", err)
	}
	found, err := DiscoverProject(nested)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if found.Root != project.Root || found.EventsPath != project.EventsPath {
		t.Fatalf("unexpected project %+v", found)
	}

	data, err := os.ReadFile(filepath.Join(root, projectDirName, ".gitignore"))
	if err != nil {
		t.Fatalf("read gitignore: %v", err)
	}
	if !strings.Contains(string(data), "*.log") {
		t.Fatalf("gitignore missing log entry: %q", data)
	}
}

func TestTemporaryIDUsesCorrelation(t *testing.T) {
	correlationID := NewCorrelationID()
	id := TemporaryID(correlationID)
	if id != "tmp-"+correlationID {
		t.Fatalf("unexpected temporary id %q", id)
	}
	if GetGUIDPrefix(id, 4) != correlationID[:4] {
		t.Fatalf("prefix should skip the temporary namespace")
	}
	if NewCorrelationID() == correlationID {
		t.Fatal("correlation ids should be unique")
	}
}
