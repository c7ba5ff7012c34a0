package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestManager_EphemeralMode(t *testing.T) {
	tempBase := t.TempDir()
	mgr := NewManager(tempBase)

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	wsPath := mgr.Path()
	if wsPath == "" {
		t.Fatal("Path() returned empty string")
	}

	if !strings.Contains(filepath.Base(wsPath), "blogpipe-") {
		t.Errorf("Expected timestamped directory, got: %s", wsPath)
	}

	if _, err := os.Stat(wsPath); os.IsNotExist(err) {
		t.Errorf("Workspace directory does not exist: %s", wsPath)
	}

	// Cleanup should remove the directory
	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}

	if _, err := os.Stat(wsPath); !os.IsNotExist(err) {
		t.Errorf("Workspace directory still exists after cleanup: %s", wsPath)
	}
}

func TestManager_PersistentMode(t *testing.T) {
	tempBase := t.TempDir()
	mgr := NewPersistentManager(tempBase, "checkout")

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}

	wsPath := mgr.Path()
	expectedPath := filepath.Join(tempBase, "checkout")
	if wsPath != expectedPath {
		t.Errorf("Expected path %s, got: %s", expectedPath, wsPath)
	}

	// Cleanup keeps the directory for the next run
	if err := mgr.Cleanup(); err != nil {
		t.Fatalf("Cleanup() failed: %v", err)
	}

	if _, err := os.Stat(wsPath); os.IsNotExist(err) {
		t.Errorf("Persistent workspace removed by cleanup: %s", wsPath)
	}
}

func TestManager_CreateSubdir(t *testing.T) {
	mgr := NewManager(t.TempDir())
	if _, err := mgr.CreateSubdir("out"); err == nil {
		t.Fatal("CreateSubdir before Create should fail")
	}

	if err := mgr.Create(); err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	defer func() { _ = mgr.Cleanup() }()

	sub, err := mgr.CreateSubdir("out")
	if err != nil {
		t.Fatalf("CreateSubdir() failed: %v", err)
	}
	if filepath.Dir(sub) != mgr.Path() {
		t.Errorf("subdir %s not under workspace %s", sub, mgr.Path())
	}
}
