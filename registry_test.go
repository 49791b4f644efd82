package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestRegistry(t *testing.T) (*Registry, *MetadataStore, *LocalBlobStore) {
	t.Helper()
	cfg := StorageConfig{
		Backend:       "local",
		RootDir:       t.TempDir(),
		ModelBucket:   "models",
		DatasetBucket: "datasets",
		MaxUploadMB:   512,
	}
	store, err := NewLocalBlobStore(cfg.RootDir)
	if err != nil {
		t.Fatalf("Failed to create blob store: %v", err)
	}
	meta := newTestMetadataStore(t)
	return NewRegistry(store, meta, cfg), meta, store
}

func writeArtifact(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write artifact: %v", err)
	}
	return path
}

func TestUploadModelDetectsFramework(t *testing.T) {
	registry, _, store := newTestRegistry(t)
	path := writeArtifact(t, "credit.pkl", []byte("artifact bytes"))

	rec, err := registry.UploadModel(path, "", "", "", "")
	if err != nil {
		t.Fatalf("UploadModel returned error: %v", err)
	}

	if rec.Framework != "sklearn" {
		t.Errorf("Expected framework 'sklearn', got %q", rec.Framework)
	}
	if rec.Name != "credit" {
		t.Errorf("Expected name 'credit', got %q", rec.Name)
	}
	if !strings.HasSuffix(rec.ObjectKey, ".pkl") {
		t.Errorf("Expected object key to keep the .pkl extension, got %q", rec.ObjectKey)
	}
	if rec.SizeBytes != int64(len("artifact bytes")) {
		t.Errorf("Expected size %d, got %d", len("artifact bytes"), rec.SizeBytes)
	}

	stored, err := store.Get("models", rec.ObjectKey)
	if err != nil {
		t.Fatalf("Expected artifact in blob store, got error: %v", err)
	}
	if !bytes.Equal(stored, []byte("artifact bytes")) {
		t.Error("Stored artifact does not match the uploaded bytes")
	}
}

func TestUploadModelValidation(t *testing.T) {
	registry, _, _ := newTestRegistry(t)

	t.Run("unknown extension", func(t *testing.T) {
		path := writeArtifact(t, "model.xyz", []byte("x"))
		if _, err := registry.UploadModel(path, "", "", "", ""); err == nil {
			t.Error("Expected error for undetectable framework, but got none")
		}
	})

	t.Run("unknown framework", func(t *testing.T) {
		path := writeArtifact(t, "model.pkl", []byte("x"))
		if _, err := registry.UploadModel(path, "", "caffe", "", ""); err == nil {
			t.Error("Expected error for unknown framework, but got none")
		}
	})

	t.Run("unknown task type", func(t *testing.T) {
		path := writeArtifact(t, "model.pkl", []byte("x"))
		if _, err := registry.UploadModel(path, "", "", "ranking", ""); err == nil {
			t.Error("Expected error for unknown task type, but got none")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := registry.UploadModel("/no/such/file.pkl", "", "", "", ""); err == nil {
			t.Error("Expected error for missing file, but got none")
		}
	})
}

func TestUploadModelExplicitFields(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	path := writeArtifact(t, "net.bin.pt", []byte("weights"))

	rec, err := registry.UploadModel(path, "churn-net", "PyTorch", "Classification", "gender")
	if err != nil {
		t.Fatalf("UploadModel returned error: %v", err)
	}
	if rec.Name != "churn-net" {
		t.Errorf("Expected name 'churn-net', got %q", rec.Name)
	}
	if rec.Framework != "pytorch" {
		t.Errorf("Expected normalized framework 'pytorch', got %q", rec.Framework)
	}
	if rec.TaskType != "classification" {
		t.Errorf("Expected normalized task 'classification', got %q", rec.TaskType)
	}
	if rec.SensitiveAttr != "gender" {
		t.Errorf("Expected sensitive attribute 'gender', got %q", rec.SensitiveAttr)
	}
}

func TestUploadSizeCap(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	registry.cfg.MaxUploadMB = 1

	path := writeArtifact(t, "big.pkl", bytes.Repeat([]byte("x"), 1<<20+1))
	if _, err := registry.UploadModel(path, "", "", "", ""); err == nil {
		t.Error("Expected error for oversized artifact, but got none")
	}
}

func TestUploadDataset(t *testing.T) {
	registry, _, store := newTestRegistry(t)
	path := writeArtifact(t, "train.csv", []byte("f1,target\n1,2\n2,4\n3,6\n"))

	rec, err := registry.UploadDataset(path, "")
	if err != nil {
		t.Fatalf("UploadDataset returned error: %v", err)
	}
	if rec.Name != "train" {
		t.Errorf("Expected name 'train', got %q", rec.Name)
	}
	if rec.Rows != 3 || rec.Cols != 2 {
		t.Errorf("Expected 3 rows and 2 cols, got %d and %d", rec.Rows, rec.Cols)
	}
	if !strings.HasSuffix(rec.ObjectKey, ".csv") {
		t.Errorf("Expected object key to end in .csv, got %q", rec.ObjectKey)
	}
	if _, err := store.Get("datasets", rec.ObjectKey); err != nil {
		t.Errorf("Expected dataset in blob store, got error: %v", err)
	}
}

func TestUploadDatasetRejectsEmpty(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	path := writeArtifact(t, "empty.csv", []byte(""))
	if _, err := registry.UploadDataset(path, ""); err == nil {
		t.Error("Expected error for empty dataset, but got none")
	}
}

func TestResolveModel(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	path := writeArtifact(t, "credit.pkl", []byte("x"))
	rec, err := registry.UploadModel(path, "credit", "", "", "")
	if err != nil {
		t.Fatalf("UploadModel returned error: %v", err)
	}

	byID, err := registry.ResolveModel(rec.ID)
	if err != nil {
		t.Fatalf("ResolveModel by ID returned error: %v", err)
	}
	if byID.ID != rec.ID {
		t.Errorf("Expected ID %s, got %s", rec.ID, byID.ID)
	}

	byName, err := registry.ResolveModel("credit")
	if err != nil {
		t.Fatalf("ResolveModel by name returned error: %v", err)
	}
	if byName.ID != rec.ID {
		t.Errorf("Expected ID %s, got %s", rec.ID, byName.ID)
	}

	if _, err := registry.ResolveModel("ghost"); err == nil {
		t.Error("Expected error for unknown reference, but got none")
	}
}

func TestDeleteModelCascades(t *testing.T) {
	registry, meta, store := newTestRegistry(t)

	modelPath := writeArtifact(t, "credit.pkl", []byte("x"))
	model, err := registry.UploadModel(modelPath, "credit", "", "", "")
	if err != nil {
		t.Fatalf("UploadModel returned error: %v", err)
	}
	dsPath := writeArtifact(t, "train.csv", []byte("f1,target\n1,2\n"))
	ds, err := registry.UploadDataset(dsPath, "train")
	if err != nil {
		t.Fatalf("UploadDataset returned error: %v", err)
	}
	meta.SaveEvaluation(&EvaluationRecord{ModelID: model.ID, DatasetID: ds.ID, EvalScore: 50})

	if err := registry.DeleteModel("credit"); err != nil {
		t.Fatalf("DeleteModel returned error: %v", err)
	}

	if _, err := store.Get("models", model.ObjectKey); err != ErrBlobNotFound {
		t.Errorf("Expected artifact blob to be deleted, got %v", err)
	}
	if got, _ := meta.GetModel(model.ID); got != nil {
		t.Error("Expected model row to be deleted")
	}
	if got, _ := meta.GetEvaluation(model.ID, ds.ID); got != nil {
		t.Error("Expected the model's evaluations to be deleted")
	}
	if got, _ := meta.GetDataset(ds.ID); got == nil {
		t.Error("Expected dataset to survive model deletion")
	}
}

func TestFetchModel(t *testing.T) {
	registry, _, _ := newTestRegistry(t)
	path := writeArtifact(t, "credit.pkl", []byte("artifact bytes"))
	rec, err := registry.UploadModel(path, "", "", "", "")
	if err != nil {
		t.Fatalf("UploadModel returned error: %v", err)
	}

	dir := t.TempDir()
	fetched, err := registry.FetchModel(rec, dir)
	if err != nil {
		t.Fatalf("FetchModel returned error: %v", err)
	}
	if filepath.Ext(fetched) != ".pkl" {
		t.Errorf("Expected fetched file to keep the .pkl extension, got %q", fetched)
	}
	data, err := os.ReadFile(fetched)
	if err != nil {
		t.Fatalf("Failed to read fetched artifact: %v", err)
	}
	if !bytes.Equal(data, []byte("artifact bytes")) {
		t.Error("Fetched artifact does not match the uploaded bytes")
	}
}
