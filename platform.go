package main

import (
	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
)

// App wires the platform subsystems together
type App struct {
	cfg      PlatformConfig
	store    BlobStore
	meta     *MetadataStore
	registry *Registry
	runner   *EvaluationRunner
	engine   *evaluation.Engine
	janitor  *Janitor
}

// NewApp builds every subsystem from the configuration
func NewApp(cfg PlatformConfig) (*App, error) {
	store, err := NewBlobStore(cfg.Storage)
	if err != nil {
		return nil, err
	}
	meta, err := NewMetadataStore(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	engine := evaluation.NewEngine(cfg.Evaluation.EngineConfig())
	registry := NewRegistry(store, meta, cfg.Storage)
	runner := NewEvaluationRunner(registry, meta, engine, cfg.Evaluation)
	janitor := NewJanitor(cfg.Janitor, cfg.Storage, store, meta)

	return &App{
		cfg:      cfg,
		store:    store,
		meta:     meta,
		registry: registry,
		runner:   runner,
		engine:   engine,
		janitor:  janitor,
	}, nil
}

// Close releases the app's resources
func (a *App) Close() error {
	return a.meta.Close()
}
