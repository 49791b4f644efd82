package main

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	_ "github.com/mattn/go-sqlite3"
)

// ModelRecord is one registered model artifact
type ModelRecord struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Framework     string    `json:"framework"`
	TaskType      string    `json:"task_type"`
	ObjectKey     string    `json:"object_key"`
	SizeBytes     int64     `json:"size_bytes"`
	IsEvaluated   bool      `json:"is_evaluated"`
	SensitiveAttr string    `json:"sensitive_attr,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DatasetRecord is one registered dataset
type DatasetRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ObjectKey string    `json:"object_key"`
	Rows      int       `json:"rows"`
	Cols      int       `json:"cols"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// EvaluationRecord is one persisted evaluation. The analysis payloads
// are stored as JSON text; a model/dataset pair has at most one row.
type EvaluationRecord struct {
	ID            string    `json:"id"`
	ModelID       string    `json:"model_id"`
	DatasetID     string    `json:"dataset_id"`
	TaskType      string    `json:"task_type"`
	Metrics       string    `json:"metrics"`
	EvalScore     float64   `json:"eval_score"`
	Normalized    string    `json:"normalized"`
	Weights       string    `json:"weights"`
	Meta          string    `json:"meta"`
	Explanation   string    `json:"explanation"`
	Fairness      string    `json:"fairness"`
	SensitiveAttr string    `json:"sensitive_attr,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// HistoryEntry is one evaluation joined with model and dataset names
type HistoryEntry struct {
	EvaluationID string    `json:"evaluation_id"`
	ModelID      string    `json:"model_id"`
	ModelName    string    `json:"model_name"`
	DatasetID    string    `json:"dataset_id"`
	DatasetName  string    `json:"dataset_name"`
	TaskType     string    `json:"task_type"`
	EvalScore    float64   `json:"eval_score"`
	CreatedAt    time.Time `json:"created_at"`
}

// defaultHistoryLimit caps history queries that pass no explicit limit
const defaultHistoryLimit = 50

// MetadataStore persists models, datasets and evaluations in SQLite
type MetadataStore struct {
	db    *sql.DB
	mutex sync.Mutex
}

// NewMetadataStore opens the database, creating it and its schema if
// needed
func NewMetadataStore(path string) (*MetadataStore, error) {
	if path == "" {
		return nil, errors.New("database path not configured")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	store := &MetadataStore{db: db}
	if err := store.initializeSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "failed to initialize database schema")
	}
	return store, nil
}

// Close closes the underlying database
func (m *MetadataStore) Close() error {
	return m.db.Close()
}

// initializeSchema creates the tables and indexes
func (m *MetadataStore) initializeSchema() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS models (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			framework TEXT NOT NULL,
			task_type TEXT NOT NULL,
			object_key TEXT NOT NULL,
			size_bytes INTEGER NOT NULL,
			is_evaluated INTEGER DEFAULT 0,
			sensitive_attr TEXT DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = m.db.Exec(`
		CREATE TABLE IF NOT EXISTS datasets (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			object_key TEXT NOT NULL,
			rows INTEGER NOT NULL,
			cols INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	_, err = m.db.Exec(`
		CREATE TABLE IF NOT EXISTS evaluations (
			id TEXT PRIMARY KEY,
			model_id TEXT NOT NULL,
			dataset_id TEXT NOT NULL,
			task_type TEXT NOT NULL,
			metrics TEXT DEFAULT '',
			eval_score REAL DEFAULT 0,
			normalized TEXT DEFAULT '',
			weights TEXT DEFAULT '',
			meta TEXT DEFAULT '',
			explanation TEXT DEFAULT '',
			fairness TEXT DEFAULT '',
			sensitive_attr TEXT DEFAULT '',
			created_at INTEGER NOT NULL,
			UNIQUE(model_id, dataset_id)
		)
	`)
	if err != nil {
		return err
	}

	_, err = m.db.Exec(`CREATE INDEX IF NOT EXISTS idx_eval_model ON evaluations(model_id)`)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`CREATE INDEX IF NOT EXISTS idx_eval_dataset ON evaluations(dataset_id)`)
	if err != nil {
		return err
	}
	_, err = m.db.Exec(`CREATE INDEX IF NOT EXISTS idx_eval_created ON evaluations(created_at)`)
	return err
}

// SaveModel inserts a new model row, filling in the ID and timestamps
func (m *MetadataStore) SaveModel(rec *ModelRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	_, err := m.db.Exec(`
		INSERT INTO models (id, name, framework, task_type, object_key, size_bytes, is_evaluated, sensitive_attr, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, rec.Framework, rec.TaskType, rec.ObjectKey, rec.SizeBytes, boolToInt(rec.IsEvaluated), rec.SensitiveAttr, now, now)
	if err != nil {
		return errors.Wrap(err, "failed to save model")
	}
	rec.CreatedAt = time.Unix(now, 0)
	rec.UpdatedAt = time.Unix(now, 0)
	return nil
}

// GetModel looks a model up by ID
func (m *MetadataStore) GetModel(id string) (*ModelRecord, error) {
	return m.scanModel(`WHERE id = ?`, id)
}

// GetModelByName looks a model up by its registered name. With
// duplicate names the most recently registered one wins.
func (m *MetadataStore) GetModelByName(name string) (*ModelRecord, error) {
	return m.scanModel(`WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name)
}

func (m *MetadataStore) scanModel(clause string, args ...interface{}) (*ModelRecord, error) {
	row := m.db.QueryRow(`
		SELECT id, name, framework, task_type, object_key, size_bytes, is_evaluated, sensitive_attr, created_at, updated_at
		FROM models `+clause, args...)

	var rec ModelRecord
	var evaluated int
	var created, updated int64
	err := row.Scan(&rec.ID, &rec.Name, &rec.Framework, &rec.TaskType, &rec.ObjectKey, &rec.SizeBytes, &evaluated, &rec.SensitiveAttr, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load model")
	}
	rec.IsEvaluated = evaluated != 0
	rec.CreatedAt = time.Unix(created, 0)
	rec.UpdatedAt = time.Unix(updated, 0)
	return &rec, nil
}

// ListModels returns all models, newest first
func (m *MetadataStore) ListModels() ([]ModelRecord, error) {
	rows, err := m.db.Query(`
		SELECT id, name, framework, task_type, object_key, size_bytes, is_evaluated, sensitive_attr, created_at, updated_at
		FROM models ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list models")
	}
	defer rows.Close()

	var out []ModelRecord
	for rows.Next() {
		var rec ModelRecord
		var evaluated int
		var created, updated int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Framework, &rec.TaskType, &rec.ObjectKey, &rec.SizeBytes, &evaluated, &rec.SensitiveAttr, &created, &updated); err != nil {
			return nil, errors.Wrap(err, "failed to scan model row")
		}
		rec.IsEvaluated = evaluated != 0
		rec.CreatedAt = time.Unix(created, 0)
		rec.UpdatedAt = time.Unix(updated, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteModel removes a model row
func (m *MetadataStore) DeleteModel(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, err := m.db.Exec(`DELETE FROM models WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete model")
}

// MarkModelEvaluated flags a model as having at least one completed
// evaluation
func (m *MetadataStore) MarkModelEvaluated(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, err := m.db.Exec(`UPDATE models SET is_evaluated = 1, updated_at = ? WHERE id = ?`, time.Now().Unix(), id)
	return errors.Wrap(err, "failed to mark model evaluated")
}

// ModelObjectKeys returns the set of blob keys referenced by models
func (m *MetadataStore) ModelObjectKeys() (map[string]bool, error) {
	return m.objectKeys(`SELECT object_key FROM models`)
}

// SaveDataset inserts a new dataset row, filling in the ID and timestamp
func (m *MetadataStore) SaveDataset(rec *DatasetRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	_, err := m.db.Exec(`
		INSERT INTO datasets (id, name, object_key, rows, cols, size_bytes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Name, rec.ObjectKey, rec.Rows, rec.Cols, rec.SizeBytes, now)
	if err != nil {
		return errors.Wrap(err, "failed to save dataset")
	}
	rec.CreatedAt = time.Unix(now, 0)
	return nil
}

// GetDataset looks a dataset up by ID
func (m *MetadataStore) GetDataset(id string) (*DatasetRecord, error) {
	return m.scanDataset(`WHERE id = ?`, id)
}

// GetDatasetByName looks a dataset up by its registered name
func (m *MetadataStore) GetDatasetByName(name string) (*DatasetRecord, error) {
	return m.scanDataset(`WHERE name = ? ORDER BY created_at DESC LIMIT 1`, name)
}

func (m *MetadataStore) scanDataset(clause string, args ...interface{}) (*DatasetRecord, error) {
	row := m.db.QueryRow(`
		SELECT id, name, object_key, rows, cols, size_bytes, created_at
		FROM datasets `+clause, args...)

	var rec DatasetRecord
	var created int64
	err := row.Scan(&rec.ID, &rec.Name, &rec.ObjectKey, &rec.Rows, &rec.Cols, &rec.SizeBytes, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load dataset")
	}
	rec.CreatedAt = time.Unix(created, 0)
	return &rec, nil
}

// ListDatasets returns all datasets, newest first
func (m *MetadataStore) ListDatasets() ([]DatasetRecord, error) {
	rows, err := m.db.Query(`
		SELECT id, name, object_key, rows, cols, size_bytes, created_at
		FROM datasets ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list datasets")
	}
	defer rows.Close()

	var out []DatasetRecord
	for rows.Next() {
		var rec DatasetRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ObjectKey, &rec.Rows, &rec.Cols, &rec.SizeBytes, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan dataset row")
		}
		rec.CreatedAt = time.Unix(created, 0)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteDataset removes a dataset row
func (m *MetadataStore) DeleteDataset(id string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, err := m.db.Exec(`DELETE FROM datasets WHERE id = ?`, id)
	return errors.Wrap(err, "failed to delete dataset")
}

// DatasetObjectKeys returns the set of blob keys referenced by datasets
func (m *MetadataStore) DatasetObjectKeys() (map[string]bool, error) {
	return m.objectKeys(`SELECT object_key FROM datasets`)
}

func (m *MetadataStore) objectKeys(query string) (map[string]bool, error) {
	rows, err := m.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query object keys")
	}
	defer rows.Close()

	keys := make(map[string]bool)
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "failed to scan object key")
		}
		keys[key] = true
	}
	return keys, rows.Err()
}

// SaveEvaluation persists an evaluation, updating in place when the
// model/dataset pair was evaluated before. The existing row keeps its
// ID; its payload is replaced and its timestamp refreshed.
func (m *MetadataStore) SaveEvaluation(rec *EvaluationRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	now := time.Now().Unix()
	var existing string
	err := m.db.QueryRow(`SELECT id FROM evaluations WHERE model_id = ? AND dataset_id = ?`, rec.ModelID, rec.DatasetID).Scan(&existing)
	switch {
	case err == sql.ErrNoRows:
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		_, err = m.db.Exec(`
			INSERT INTO evaluations (id, model_id, dataset_id, task_type, metrics, eval_score, normalized, weights, meta, explanation, fairness, sensitive_attr, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, rec.ID, rec.ModelID, rec.DatasetID, rec.TaskType, rec.Metrics, rec.EvalScore, rec.Normalized, rec.Weights, rec.Meta, rec.Explanation, rec.Fairness, rec.SensitiveAttr, now)
	case err != nil:
		return errors.Wrap(err, "failed to look up evaluation")
	default:
		rec.ID = existing
		_, err = m.db.Exec(`
			UPDATE evaluations
			SET task_type = ?, metrics = ?, eval_score = ?, normalized = ?, weights = ?, meta = ?, explanation = ?, fairness = ?, sensitive_attr = ?, created_at = ?
			WHERE id = ?
		`, rec.TaskType, rec.Metrics, rec.EvalScore, rec.Normalized, rec.Weights, rec.Meta, rec.Explanation, rec.Fairness, rec.SensitiveAttr, now, existing)
	}
	if err != nil {
		return errors.Wrap(err, "failed to save evaluation")
	}
	rec.CreatedAt = time.Unix(now, 0)
	return nil
}

// GetEvaluation returns the evaluation for a model/dataset pair, or
// nil when the pair has not been evaluated
func (m *MetadataStore) GetEvaluation(modelID, datasetID string) (*EvaluationRecord, error) {
	row := m.db.QueryRow(`
		SELECT id, model_id, dataset_id, task_type, metrics, eval_score, normalized, weights, meta, explanation, fairness, sensitive_attr, created_at
		FROM evaluations WHERE model_id = ? AND dataset_id = ?
	`, modelID, datasetID)

	var rec EvaluationRecord
	var created int64
	err := row.Scan(&rec.ID, &rec.ModelID, &rec.DatasetID, &rec.TaskType, &rec.Metrics, &rec.EvalScore, &rec.Normalized, &rec.Weights, &rec.Meta, &rec.Explanation, &rec.Fairness, &rec.SensitiveAttr, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load evaluation")
	}
	rec.CreatedAt = time.Unix(created, 0)
	return &rec, nil
}

// DeleteEvaluationsByModel removes every evaluation of a model
func (m *MetadataStore) DeleteEvaluationsByModel(modelID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, err := m.db.Exec(`DELETE FROM evaluations WHERE model_id = ?`, modelID)
	return errors.Wrap(err, "failed to delete evaluations")
}

// DeleteEvaluationsByDataset removes every evaluation against a dataset
func (m *MetadataStore) DeleteEvaluationsByDataset(datasetID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, err := m.db.Exec(`DELETE FROM evaluations WHERE dataset_id = ?`, datasetID)
	return errors.Wrap(err, "failed to delete evaluations")
}

// History returns recent evaluations, newest first. A modelID filters
// to one model; a non-positive limit applies the default.
func (m *MetadataStore) History(modelID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	query := `
		SELECT e.id, e.model_id, mo.name, e.dataset_id, d.name, e.task_type, e.eval_score, e.created_at
		FROM evaluations e
		JOIN models mo ON mo.id = e.model_id
		JOIN datasets d ON d.id = e.dataset_id
	`
	args := []interface{}{}
	if modelID != "" {
		query += ` WHERE e.model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY e.created_at DESC, e.id LIMIT ?`
	args = append(args, limit)

	return m.scanHistory(query, args...)
}

// Leaderboard returns every evaluation against a dataset, best score
// first
func (m *MetadataStore) Leaderboard(datasetID string) ([]HistoryEntry, error) {
	return m.scanHistory(`
		SELECT e.id, e.model_id, mo.name, e.dataset_id, d.name, e.task_type, e.eval_score, e.created_at
		FROM evaluations e
		JOIN models mo ON mo.id = e.model_id
		JOIN datasets d ON d.id = e.dataset_id
		WHERE e.dataset_id = ?
		ORDER BY e.eval_score DESC, e.created_at
	`, datasetID)
}

func (m *MetadataStore) scanHistory(query string, args ...interface{}) ([]HistoryEntry, error) {
	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query evaluations")
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var entry HistoryEntry
		var created int64
		if err := rows.Scan(&entry.EvaluationID, &entry.ModelID, &entry.ModelName, &entry.DatasetID, &entry.DatasetName, &entry.TaskType, &entry.EvalScore, &created); err != nil {
			return nil, errors.Wrap(err, "failed to scan evaluation row")
		}
		entry.CreatedAt = time.Unix(created, 0)
		out = append(out, entry)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
