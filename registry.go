package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Registry stages model and dataset artifacts into blob storage and
// records their metadata
type Registry struct {
	store BlobStore
	meta  *MetadataStore
	cfg   StorageConfig
}

// NewRegistry wires the registry over a blob store and metadata store
func NewRegistry(store BlobStore, meta *MetadataStore, cfg StorageConfig) *Registry {
	return &Registry{store: store, meta: meta, cfg: cfg}
}

// checkUploadSize enforces the configured artifact size cap
func (r *Registry) checkUploadSize(path string, size int64) error {
	if size > r.cfg.MaxUploadBytes() {
		return errors.Errorf("%s is %d bytes, over the %d MB upload limit", filepath.Base(path), size, r.cfg.MaxUploadMB)
	}
	return nil
}

// UploadModel stores a model artifact under a fresh key and records it.
// An empty framework is detected from the artifact extension; an empty
// name falls back to the file name.
func (r *Registry) UploadModel(path, name, framework, taskType, sensitiveAttr string) (*ModelRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read model artifact")
	}
	if err := r.checkUploadSize(path, int64(len(data))); err != nil {
		return nil, err
	}

	if framework == "" {
		detected := evaluation.DetectFramework(path)
		if detected == "" {
			return nil, errors.Errorf("cannot detect framework from %q, pass one explicitly", filepath.Ext(path))
		}
		framework = string(detected)
	} else {
		parsed, ok := evaluation.ParseFramework(framework)
		if !ok {
			return nil, errors.Errorf("unknown framework %q", framework)
		}
		framework = string(parsed)
	}
	if taskType != "" {
		parsed, ok := evaluation.ParseTaskType(taskType)
		if !ok {
			return nil, errors.Errorf("unknown task type %q", taskType)
		}
		taskType = string(parsed)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	key := uuid.NewString() + filepath.Ext(path)
	if err := r.store.Put(r.cfg.ModelBucket, key, data); err != nil {
		return nil, errors.Wrap(err, "failed to store model artifact")
	}

	rec := &ModelRecord{
		Name:          name,
		Framework:     framework,
		TaskType:      taskType,
		ObjectKey:     key,
		SizeBytes:     int64(len(data)),
		SensitiveAttr: sensitiveAttr,
	}
	if err := r.meta.SaveModel(rec); err != nil {
		r.store.Delete(r.cfg.ModelBucket, key)
		return nil, err
	}

	log.Info().Str("model", rec.ID).Str("name", name).Str("framework", framework).Msg("registered model")
	return rec, nil
}

// UploadDataset stores a CSV dataset under a fresh key and records it
// with its parsed row and column counts
func (r *Registry) UploadDataset(path, name string) (*DatasetRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read dataset")
	}
	if err := r.checkUploadSize(path, int64(len(data))); err != nil {
		return nil, err
	}

	ds, err := evaluation.LoadCSV(path)
	if err != nil {
		return nil, err
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	key := uuid.NewString() + ".csv"
	if err := r.store.Put(r.cfg.DatasetBucket, key, data); err != nil {
		return nil, errors.Wrap(err, "failed to store dataset")
	}

	rec := &DatasetRecord{
		Name:      name,
		ObjectKey: key,
		Rows:      ds.NumRows(),
		Cols:      ds.NumCols(),
		SizeBytes: int64(len(data)),
	}
	if err := r.meta.SaveDataset(rec); err != nil {
		r.store.Delete(r.cfg.DatasetBucket, key)
		return nil, err
	}

	log.Info().Str("dataset", rec.ID).Str("name", name).Int("rows", rec.Rows).Int("cols", rec.Cols).Msg("registered dataset")
	return rec, nil
}

// ResolveModel finds a model by ID, then by name
func (r *Registry) ResolveModel(ref string) (*ModelRecord, error) {
	rec, err := r.meta.GetModel(ref)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = r.meta.GetModelByName(ref)
		if err != nil {
			return nil, err
		}
	}
	if rec == nil {
		return nil, errors.Errorf("model %q not found", ref)
	}
	return rec, nil
}

// ResolveDataset finds a dataset by ID, then by name
func (r *Registry) ResolveDataset(ref string) (*DatasetRecord, error) {
	rec, err := r.meta.GetDataset(ref)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec, err = r.meta.GetDatasetByName(ref)
		if err != nil {
			return nil, err
		}
	}
	if rec == nil {
		return nil, errors.Errorf("dataset %q not found", ref)
	}
	return rec, nil
}

// ListModels returns all registered models
func (r *Registry) ListModels() ([]ModelRecord, error) {
	return r.meta.ListModels()
}

// ListDatasets returns all registered datasets
func (r *Registry) ListDatasets() ([]DatasetRecord, error) {
	return r.meta.ListDatasets()
}

// DeleteModel removes a model's blob, its evaluations and its row
func (r *Registry) DeleteModel(ref string) error {
	rec, err := r.ResolveModel(ref)
	if err != nil {
		return err
	}
	if err := r.store.Delete(r.cfg.ModelBucket, rec.ObjectKey); err != nil && err != ErrBlobNotFound {
		return errors.Wrap(err, "failed to delete model artifact")
	}
	if err := r.meta.DeleteEvaluationsByModel(rec.ID); err != nil {
		return err
	}
	if err := r.meta.DeleteModel(rec.ID); err != nil {
		return err
	}
	log.Info().Str("model", rec.ID).Str("name", rec.Name).Msg("deleted model")
	return nil
}

// DeleteDataset removes a dataset's blob, its evaluations and its row
func (r *Registry) DeleteDataset(ref string) error {
	rec, err := r.ResolveDataset(ref)
	if err != nil {
		return err
	}
	if err := r.store.Delete(r.cfg.DatasetBucket, rec.ObjectKey); err != nil && err != ErrBlobNotFound {
		return errors.Wrap(err, "failed to delete dataset")
	}
	if err := r.meta.DeleteEvaluationsByDataset(rec.ID); err != nil {
		return err
	}
	if err := r.meta.DeleteDataset(rec.ID); err != nil {
		return err
	}
	log.Info().Str("dataset", rec.ID).Str("name", rec.Name).Msg("deleted dataset")
	return nil
}

// FetchModel downloads a model artifact into dir and returns its path.
// The file keeps the object key's extension so the loader can detect
// the framework.
func (r *Registry) FetchModel(rec *ModelRecord, dir string) (string, error) {
	data, err := r.store.Get(r.cfg.ModelBucket, rec.ObjectKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch model artifact")
	}
	path := filepath.Join(dir, rec.ObjectKey)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrap(err, "failed to write model artifact")
	}
	return path, nil
}

// FetchDataset downloads a dataset into dir and returns its path
func (r *Registry) FetchDataset(rec *DatasetRecord, dir string) (string, error) {
	data, err := r.store.Get(r.cfg.DatasetBucket, rec.ObjectKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch dataset")
	}
	path := filepath.Join(dir, rec.ObjectKey)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrap(err, "failed to write dataset")
	}
	return path, nil
}
