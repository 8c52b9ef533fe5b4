package home

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNew(t *testing.T) {
	d := New("/tmp/gastrolog-test")
	if d.Root() != "/tmp/gastrolog-test" {
		t.Errorf("expected root /tmp/gastrolog-test, got %s", d.Root())
	}
}

func TestDefault(t *testing.T) {
	d, err := Default("ingestor")
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	if d.Root() == "" {
		t.Fatal("expected non-empty root")
	}
	// Should end with the process name.
	if filepath.Base(d.Root()) != "ingestor" {
		t.Errorf("expected root to end with 'ingestor', got %s", d.Root())
	}
}

func TestAuthStatePath(t *testing.T) {
	d := New("/data")
	if got := d.AuthStatePath(); got != "/data/auth_state.json" {
		t.Errorf("got %s", got)
	}
}

func TestHostGroupsPath(t *testing.T) {
	d := New("/data")
	if got := d.HostGroupsPath(); got != "/data/hostgroups.json" {
		t.Errorf("got %s", got)
	}
	d = New("/srv/ingestor")
	if got := d.HostGroupsPath(); got != "/srv/ingestor/hostgroups.json" {
		t.Errorf("got %s", got)
	}
}

func TestEnsureExists(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "gastrolog")
	d := New(root)
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists: %v", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.IsDir() {
		t.Error("expected directory")
	}

	// Calling again should be idempotent.
	if err := d.EnsureExists(); err != nil {
		t.Fatalf("EnsureExists (idempotent): %v", err)
	}
}
