package main

import (
	"path/filepath"
	"testing"
)

func newTestMetadataStore(t *testing.T) *MetadataStore {
	t.Helper()
	store, err := NewMetadataStore(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("Failed to open metadata store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestModelCRUD(t *testing.T) {
	store := newTestMetadataStore(t)

	rec := &ModelRecord{
		Name:      "credit-model",
		Framework: "sklearn",
		TaskType:  "classification",
		ObjectKey: "abc.pkl",
		SizeBytes: 42,
	}
	if err := store.SaveModel(rec); err != nil {
		t.Fatalf("SaveModel returned error: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Expected SaveModel to assign an ID")
	}

	got, err := store.GetModel(rec.ID)
	if err != nil {
		t.Fatalf("GetModel returned error: %v", err)
	}
	if got == nil {
		t.Fatal("Expected model, got nil")
	}
	if got.Name != "credit-model" || got.Framework != "sklearn" || got.ObjectKey != "abc.pkl" {
		t.Errorf("Loaded model does not match saved one: %+v", got)
	}
	if got.IsEvaluated {
		t.Error("Expected new model to be unevaluated")
	}

	byName, err := store.GetModelByName("credit-model")
	if err != nil {
		t.Fatalf("GetModelByName returned error: %v", err)
	}
	if byName == nil || byName.ID != rec.ID {
		t.Errorf("Expected lookup by name to find %s, got %+v", rec.ID, byName)
	}

	missing, err := store.GetModel("no-such-id")
	if err != nil {
		t.Fatalf("GetModel returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unknown ID, got %+v", missing)
	}

	if err := store.MarkModelEvaluated(rec.ID); err != nil {
		t.Fatalf("MarkModelEvaluated returned error: %v", err)
	}
	got, _ = store.GetModel(rec.ID)
	if !got.IsEvaluated {
		t.Error("Expected model to be marked evaluated")
	}

	if err := store.DeleteModel(rec.ID); err != nil {
		t.Fatalf("DeleteModel returned error: %v", err)
	}
	got, _ = store.GetModel(rec.ID)
	if got != nil {
		t.Errorf("Expected nil after delete, got %+v", got)
	}
}

func TestDatasetCRUD(t *testing.T) {
	store := newTestMetadataStore(t)

	rec := &DatasetRecord{
		Name:      "loans",
		ObjectKey: "d1.csv",
		Rows:      100,
		Cols:      5,
		SizeBytes: 2048,
	}
	if err := store.SaveDataset(rec); err != nil {
		t.Fatalf("SaveDataset returned error: %v", err)
	}
	if rec.ID == "" {
		t.Fatal("Expected SaveDataset to assign an ID")
	}

	got, err := store.GetDataset(rec.ID)
	if err != nil {
		t.Fatalf("GetDataset returned error: %v", err)
	}
	if got == nil || got.Rows != 100 || got.Cols != 5 {
		t.Errorf("Loaded dataset does not match saved one: %+v", got)
	}

	byName, err := store.GetDatasetByName("loans")
	if err != nil {
		t.Fatalf("GetDatasetByName returned error: %v", err)
	}
	if byName == nil || byName.ID != rec.ID {
		t.Errorf("Expected lookup by name to find %s, got %+v", rec.ID, byName)
	}

	all, err := store.ListDatasets()
	if err != nil {
		t.Fatalf("ListDatasets returned error: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("Expected 1 dataset, got %d", len(all))
	}

	if err := store.DeleteDataset(rec.ID); err != nil {
		t.Fatalf("DeleteDataset returned error: %v", err)
	}
	got, _ = store.GetDataset(rec.ID)
	if got != nil {
		t.Errorf("Expected nil after delete, got %+v", got)
	}
}

func TestObjectKeySets(t *testing.T) {
	store := newTestMetadataStore(t)

	store.SaveModel(&ModelRecord{Name: "m1", Framework: "sklearn", ObjectKey: "k1.pkl"})
	store.SaveModel(&ModelRecord{Name: "m2", Framework: "pytorch", ObjectKey: "k2.pt"})
	store.SaveDataset(&DatasetRecord{Name: "d1", ObjectKey: "d1.csv"})

	modelKeys, err := store.ModelObjectKeys()
	if err != nil {
		t.Fatalf("ModelObjectKeys returned error: %v", err)
	}
	if len(modelKeys) != 2 || !modelKeys["k1.pkl"] || !modelKeys["k2.pt"] {
		t.Errorf("Expected model keys k1.pkl and k2.pt, got %v", modelKeys)
	}

	datasetKeys, err := store.DatasetObjectKeys()
	if err != nil {
		t.Fatalf("DatasetObjectKeys returned error: %v", err)
	}
	if len(datasetKeys) != 1 || !datasetKeys["d1.csv"] {
		t.Errorf("Expected dataset key d1.csv, got %v", datasetKeys)
	}
}

func TestSaveEvaluationUpdatesInPlace(t *testing.T) {
	store := newTestMetadataStore(t)

	first := &EvaluationRecord{
		ModelID:   "m1",
		DatasetID: "d1",
		TaskType:  "regression",
		Metrics:   `{"r2":0.9}`,
		EvalScore: 80,
	}
	if err := store.SaveEvaluation(first); err != nil {
		t.Fatalf("SaveEvaluation returned error: %v", err)
	}
	if first.ID == "" {
		t.Fatal("Expected SaveEvaluation to assign an ID")
	}

	second := &EvaluationRecord{
		ModelID:   "m1",
		DatasetID: "d1",
		TaskType:  "regression",
		Metrics:   `{"r2":0.95}`,
		EvalScore: 90,
	}
	if err := store.SaveEvaluation(second); err != nil {
		t.Fatalf("SaveEvaluation returned error: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("Expected re-evaluation to keep ID %s, got %s", first.ID, second.ID)
	}

	got, err := store.GetEvaluation("m1", "d1")
	if err != nil {
		t.Fatalf("GetEvaluation returned error: %v", err)
	}
	if got == nil {
		t.Fatal("Expected evaluation, got nil")
	}
	if got.EvalScore != 90 || got.Metrics != `{"r2":0.95}` {
		t.Errorf("Expected updated payload, got score %v metrics %s", got.EvalScore, got.Metrics)
	}

	other := &EvaluationRecord{ModelID: "m1", DatasetID: "d2", EvalScore: 50}
	if err := store.SaveEvaluation(other); err != nil {
		t.Fatalf("SaveEvaluation returned error: %v", err)
	}
	if other.ID == first.ID {
		t.Error("Expected a different dataset pair to get its own row")
	}

	missing, err := store.GetEvaluation("m9", "d9")
	if err != nil {
		t.Fatalf("GetEvaluation returned error: %v", err)
	}
	if missing != nil {
		t.Errorf("Expected nil for unevaluated pair, got %+v", missing)
	}
}

func TestDeleteEvaluationsCascade(t *testing.T) {
	store := newTestMetadataStore(t)

	store.SaveEvaluation(&EvaluationRecord{ModelID: "m1", DatasetID: "d1"})
	store.SaveEvaluation(&EvaluationRecord{ModelID: "m1", DatasetID: "d2"})
	store.SaveEvaluation(&EvaluationRecord{ModelID: "m2", DatasetID: "d1"})

	if err := store.DeleteEvaluationsByModel("m1"); err != nil {
		t.Fatalf("DeleteEvaluationsByModel returned error: %v", err)
	}
	if got, _ := store.GetEvaluation("m1", "d1"); got != nil {
		t.Error("Expected m1/d1 evaluation to be gone")
	}
	if got, _ := store.GetEvaluation("m2", "d1"); got == nil {
		t.Error("Expected m2/d1 evaluation to survive")
	}

	if err := store.DeleteEvaluationsByDataset("d1"); err != nil {
		t.Fatalf("DeleteEvaluationsByDataset returned error: %v", err)
	}
	if got, _ := store.GetEvaluation("m2", "d1"); got != nil {
		t.Error("Expected m2/d1 evaluation to be gone")
	}
}

func TestHistoryAndLeaderboard(t *testing.T) {
	store := newTestMetadataStore(t)

	m1 := &ModelRecord{Name: "alpha", Framework: "sklearn", ObjectKey: "a.pkl"}
	m2 := &ModelRecord{Name: "beta", Framework: "sklearn", ObjectKey: "b.pkl"}
	ds := &DatasetRecord{Name: "loans", ObjectKey: "d.csv"}
	store.SaveModel(m1)
	store.SaveModel(m2)
	store.SaveDataset(ds)

	store.SaveEvaluation(&EvaluationRecord{ModelID: m1.ID, DatasetID: ds.ID, TaskType: "classification", EvalScore: 72.5})
	store.SaveEvaluation(&EvaluationRecord{ModelID: m2.ID, DatasetID: ds.ID, TaskType: "classification", EvalScore: 91})

	history, err := store.History("", 0)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 history entries, got %d", len(history))
	}
	names := map[string]bool{}
	for _, entry := range history {
		names[entry.ModelName] = true
		if entry.DatasetName != "loans" {
			t.Errorf("Expected dataset name 'loans', got %q", entry.DatasetName)
		}
	}
	if !names["alpha"] || !names["beta"] {
		t.Errorf("Expected entries for alpha and beta, got %v", names)
	}

	filtered, err := store.History(m1.ID, 0)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(filtered) != 1 || filtered[0].ModelName != "alpha" {
		t.Errorf("Expected one entry for alpha, got %+v", filtered)
	}

	limited, err := store.History("", 1)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Expected limit to cap history at 1, got %d", len(limited))
	}

	board, err := store.Leaderboard(ds.ID)
	if err != nil {
		t.Fatalf("Leaderboard returned error: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("Expected 2 leaderboard entries, got %d", len(board))
	}
	if board[0].ModelName != "beta" || board[0].EvalScore != 91 {
		t.Errorf("Expected beta with score 91 first, got %s with %v", board[0].ModelName, board[0].EvalScore)
	}
	if board[1].ModelName != "alpha" {
		t.Errorf("Expected alpha second, got %s", board[1].ModelName)
	}
}
