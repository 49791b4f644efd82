package main

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MOHAMEDNAZEER07/Evalmodel/evaluation"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "evalmodel.yaml"

var validate = validator.New()

// PlatformConfig is the full platform configuration, loaded from
// evalmodel.yaml with EVALMODEL_* environment overrides on top.
type PlatformConfig struct {
	Storage    StorageConfig    `yaml:"storage"`
	Database   DatabaseConfig   `yaml:"database"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Janitor    JanitorConfig    `yaml:"janitor"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig selects and parameterizes the artifact blob store
type StorageConfig struct {
	Backend        string `yaml:"backend" validate:"oneof=local http"`
	RootDir        string `yaml:"root_dir"`
	ModelBucket    string `yaml:"model_bucket" validate:"required"`
	DatasetBucket  string `yaml:"dataset_bucket" validate:"required"`
	BaseURL        string `yaml:"base_url" validate:"required_if=Backend http,omitempty,url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds" validate:"gt=0"`
	MaxUploadMB    int    `yaml:"max_upload_mb" validate:"gt=0"`
}

// Timeout is the HTTP backend request timeout
func (c StorageConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MaxUploadBytes is the artifact size cap enforced at upload
func (c StorageConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// DatabaseConfig locates the metadata database
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// EvaluationConfig tunes the evaluation pipeline
type EvaluationConfig struct {
	MaxExplainSamples   int      `yaml:"max_explain_samples" validate:"gt=0"`
	BackgroundFraction  float64  `yaml:"background_fraction" validate:"gt=0,lt=1"`
	SensitiveCandidates []string `yaml:"sensitive_candidates"`
	Seed                int64    `yaml:"seed"`
}

// EngineConfig maps the platform settings onto the pipeline config
func (c EvaluationConfig) EngineConfig() evaluation.Config {
	return evaluation.Config{
		MaxExplainSamples:  c.MaxExplainSamples,
		BackgroundFraction: c.BackgroundFraction,
		Seed:               c.Seed,
	}
}

// JanitorConfig schedules the artifact sweeper
type JanitorConfig struct {
	Schedule    string `yaml:"schedule" validate:"required"`
	MaxAgeHours int    `yaml:"max_age_hours" validate:"gt=0"`
}

// MaxAge is how old an unreferenced artifact must be before the
// janitor removes it
func (c JanitorConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present. Storage and the database live
// under ~/.config/evalmodel.
func DefaultConfig() PlatformConfig {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
	}
	baseDir := filepath.Join(homeDir, ".config", "evalmodel")

	return PlatformConfig{
		Storage: StorageConfig{
			Backend:        "local",
			RootDir:        filepath.Join(baseDir, "storage"),
			ModelBucket:    "models",
			DatasetBucket:  "datasets",
			TimeoutSeconds: 30,
			MaxUploadMB:    512,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(baseDir, "evalmodel.db"),
		},
		Evaluation: EvaluationConfig{
			MaxExplainSamples:   100,
			BackgroundFraction:  0.8,
			SensitiveCandidates: []string{"gender", "sex", "race", "ethnicity", "age_group", "region"},
			Seed:                1,
		},
		Janitor: JanitorConfig{
			Schedule:    "0 3 * * *",
			MaxAgeHours: 24,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadPlatformConfig loads a .env file if one is present, reads the
// YAML config file, applies environment overrides and validates the
// result. An empty path falls back to EVALMODEL_CONFIG and then to
// evalmodel.yaml in the working directory; a missing file is fine.
func LoadPlatformConfig(path string) (PlatformConfig, error) {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("loaded environment variables from .env")
	}

	cfg := DefaultConfig()

	if path == "" {
		path = os.Getenv("EVALMODEL_CONFIG")
	}
	if path == "" {
		path = defaultConfigFile
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "failed to parse %s", path)
		}
		log.Info().Str("file", path).Msg("loaded configuration")
	} else if !os.IsNotExist(err) {
		return cfg, errors.Wrapf(err, "failed to read %s", path)
	}

	// Env vars override YAML values
	envOverride(&cfg.Storage.Backend, "EVALMODEL_STORAGE_BACKEND")
	envOverride(&cfg.Storage.RootDir, "EVALMODEL_STORAGE_ROOT")
	envOverride(&cfg.Storage.ModelBucket, "EVALMODEL_MODEL_BUCKET")
	envOverride(&cfg.Storage.DatasetBucket, "EVALMODEL_DATASET_BUCKET")
	envOverride(&cfg.Storage.BaseURL, "EVALMODEL_STORAGE_URL")
	envOverride(&cfg.Storage.APIKey, "EVALMODEL_STORAGE_API_KEY")
	envOverrideInt(&cfg.Storage.TimeoutSeconds, "EVALMODEL_STORAGE_TIMEOUT")
	envOverrideInt(&cfg.Storage.MaxUploadMB, "EVALMODEL_MAX_UPLOAD_MB")
	envOverride(&cfg.Database.Path, "EVALMODEL_DB_PATH")
	envOverrideInt(&cfg.Evaluation.MaxExplainSamples, "EVALMODEL_MAX_EXPLAIN_SAMPLES")
	envOverrideFloat(&cfg.Evaluation.BackgroundFraction, "EVALMODEL_BACKGROUND_FRACTION")
	envOverride(&cfg.Janitor.Schedule, "EVALMODEL_JANITOR_SCHEDULE")
	envOverrideInt(&cfg.Janitor.MaxAgeHours, "EVALMODEL_JANITOR_MAX_AGE_HOURS")
	envOverride(&cfg.Logging.Level, "EVALMODEL_LOG_LEVEL")

	if names := os.Getenv("EVALMODEL_SENSITIVE_COLUMNS"); names != "" {
		cfg.Evaluation.SensitiveCandidates = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.Evaluation.SensitiveCandidates = append(cfg.Evaluation.SensitiveCandidates, name)
			}
		}
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Warn().Str("var", envKey).Str("value", val).Msg("ignoring non-integer override")
			return
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Warn().Str("var", envKey).Str("value", val).Msg("ignoring non-numeric override")
			return
		}
		*field = parsed
	}
}

// configureLogging sets the global level and switches to the console
// writer for CLI use
func configureLogging(level string) {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
