package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestJanitor(t *testing.T) (*Janitor, *LocalBlobStore, *MetadataStore) {
	t.Helper()
	cfg := JanitorConfig{Schedule: "0 3 * * *", MaxAgeHours: 24}
	storageCfg := StorageConfig{
		Backend:       "local",
		RootDir:       t.TempDir(),
		ModelBucket:   "models",
		DatasetBucket: "datasets",
	}
	store, err := NewLocalBlobStore(storageCfg.RootDir)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}
	meta := newTestMetadataStore(t)
	janitor := NewJanitor(cfg, storageCfg, store, meta)
	janitor.tempRoot = t.TempDir()
	return janitor, store, meta
}

func backdate(t *testing.T, path string) {
	t.Helper()
	old := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("Failed to backdate %s: %v", path, err)
	}
}

func TestSweepRemovesStaleWorkspaces(t *testing.T) {
	janitor, _, _ := newTestJanitor(t)

	stale := filepath.Join(janitor.tempRoot, "evalmodel-run-stale")
	fresh := filepath.Join(janitor.tempRoot, "evalmodel-run-fresh")
	other := filepath.Join(janitor.tempRoot, "unrelated-dir")
	for _, dir := range []string{stale, fresh, other} {
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	backdate(t, stale)
	backdate(t, other)

	report, err := janitor.Sweep()
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if report.Workspaces != 1 {
		t.Errorf("Expected 1 removed workspace, got %d", report.Workspaces)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("Expected the stale workspace to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("Expected the fresh workspace to survive")
	}
	if _, err := os.Stat(other); err != nil {
		t.Error("Expected unrelated directories to survive")
	}
}

func TestSweepRemovesOrphanedBlobs(t *testing.T) {
	janitor, store, meta := newTestJanitor(t)

	meta.SaveModel(&ModelRecord{Name: "kept", Framework: "sklearn", ObjectKey: "kept.pkl"})
	store.Put("models", "kept.pkl", []byte("x"))
	store.Put("models", "orphan.pkl", []byte("x"))
	store.Put("models", "recent.pkl", []byte("x"))
	store.Put("datasets", "orphan.csv", []byte("x"))

	root := janitor.storageCfg.RootDir
	backdate(t, filepath.Join(root, "models", "kept.pkl"))
	backdate(t, filepath.Join(root, "models", "orphan.pkl"))
	backdate(t, filepath.Join(root, "datasets", "orphan.csv"))

	report, err := janitor.Sweep()
	if err != nil {
		t.Fatalf("Sweep returned error: %v", err)
	}
	if report.Blobs != 2 {
		t.Errorf("Expected 2 removed blobs, got %d", report.Blobs)
	}
	if _, err := store.Get("models", "kept.pkl"); err != nil {
		t.Error("Expected the referenced blob to survive")
	}
	if _, err := store.Get("models", "recent.pkl"); err != nil {
		t.Error("Expected the recent blob to survive")
	}
	if _, err := store.Get("models", "orphan.pkl"); err != ErrBlobNotFound {
		t.Error("Expected the old orphaned blob to be removed")
	}
	if _, err := store.Get("datasets", "orphan.csv"); err != ErrBlobNotFound {
		t.Error("Expected the old orphaned dataset blob to be removed")
	}
}

func TestJanitorStartValidatesSchedule(t *testing.T) {
	janitor, _, _ := newTestJanitor(t)
	janitor.cfg.Schedule = "not a schedule"
	if err := janitor.Start(); err == nil {
		t.Error("Expected error for invalid schedule, but got none")
	}

	janitor.cfg.Schedule = "0 3 * * *"
	if err := janitor.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}
	janitor.Stop()
}
