// Package config loads the YAML run configuration for a fine-tuning job.
//
// The file is read once by Load, which fills every default in a single
// step and returns a Config value. Callers receive copies, so nothing
// downstream can change the settings a run started with.
package config

import (
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvTrackingURI is consulted when mlflow.tracking_uri is not set.
const EnvTrackingURI = "MLFLOW_TRACKING_URI"

// Defaults used when a key is missing from the file.
const (
	DefaultSeed           int64   = 42
	DefaultValRatio       float64 = 0.2
	DefaultEpochs                 = 1
	DefaultBatchSize              = 8
	DefaultLearningRate   float64 = 5e-5
	DefaultOutputPath             = "./outputs"
	DefaultLoggingSteps           = 50
	DefaultPretrainedName         = "distilbert-base-uncased"
	DefaultMaxLength              = 128
	DefaultONNXFile               = "onnx/model.onnx"
	DefaultDropoutRate    float64 = 0.1
	DefaultExperimentName         = "default-experiment"
	DefaultPrometheusJob          = "finetune"
)

// Config is the resolved run configuration.
type Config struct {
	Seed       int64
	Data       DataConfig
	Training   TrainingConfig
	Model      ModelConfig
	MLflow     MLflowConfig
	Prometheus PrometheusConfig
}

// DataConfig locates the dataset and controls the train/validation split.
type DataConfig struct {
	// DatasetPath is a directory holding train.csv (and optionally val.csv)
	// or a single .csv file. Empty when the file did not name one.
	DatasetPath string
	ValRatio    float64
	// Format is informational, only "csv" (or empty) is accepted.
	Format string
	// CachePath, when set, stores encoded examples between runs.
	CachePath string
}

type TrainingConfig struct {
	Device       string
	Epochs       int
	BatchSize    int
	LearningRate float64
	OutputPath   string
	LoggingSteps int
	Resume       bool
	ProgressBar  bool
}

type ModelConfig struct {
	PretrainedName string
	MaxLength      int
	ONNXFile       string
	CacheDir       string
	DropoutRate    float64
}

type MLflowConfig struct {
	TrackingURI    string
	ExperimentName string
	RunName        string
}

type PrometheusConfig struct {
	PushgatewayURL string
	Job            string
}

// ConfigurationError reports a missing or invalid setting.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Key, e.Reason)
}

// fileConfig mirrors the YAML document. Pointers mark keys where an
// explicit zero differs from a missing key.
type fileConfig struct {
	Seed *int64 `yaml:"seed"`
	Data struct {
		DatasetPath string   `yaml:"dataset_path"`
		ValRatio    *float64 `yaml:"val_ratio"`
		Format      string   `yaml:"format"`
		CachePath   string   `yaml:"cache_path"`
	} `yaml:"data"`
	Training struct {
		DatasetPath  string   `yaml:"dataset_path"`
		Device       string   `yaml:"device"`
		Epochs       *int     `yaml:"epochs"`
		BatchSize    *int     `yaml:"batch_size"`
		LearningRate *float64 `yaml:"learning_rate"`
		OutputPath   string   `yaml:"output_path"`
		LoggingSteps *int     `yaml:"logging_steps"`
		Resume       bool     `yaml:"resume"`
		ProgressBar  bool     `yaml:"progress_bar"`
	} `yaml:"training"`
	Model struct {
		PretrainedName string   `yaml:"pretrained_name"`
		MaxLength      *int     `yaml:"max_length"`
		ONNXFile       string   `yaml:"onnx_file"`
		CacheDir       string   `yaml:"cache_dir"`
		DropoutRate    *float64 `yaml:"dropout_rate"`
	} `yaml:"model"`
	MLflow struct {
		TrackingURI    string `yaml:"tracking_uri"`
		ExperimentName string `yaml:"experiment_name"`
		RunName        string `yaml:"run_name"`
	} `yaml:"mlflow"`
	Prometheus struct {
		PushgatewayURL string `yaml:"pushgateway_url"`
		Job            string `yaml:"job"`
	} `yaml:"prometheus"`
}

// Load reads the YAML file at path. ${VAR} references are expanded from the
// environment before decoding.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "config file not found: %s", path)
		}
		return Config{}, errors.Wrapf(err, "failed to read config file %s", path)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a resolved Config.
func Parse(data []byte) (Config, error) {
	expanded := os.ExpandEnv(string(data))

	var fc fileConfig
	if err := yaml.Unmarshal([]byte(expanded), &fc); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse config")
	}

	cfg := applyDefaults(&fc)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(fc *fileConfig) Config {
	cfg := Config{
		Seed: DefaultSeed,
		Data: DataConfig{
			DatasetPath: fc.Data.DatasetPath,
			ValRatio:    DefaultValRatio,
			Format:      fc.Data.Format,
			CachePath:   fc.Data.CachePath,
		},
		Training: TrainingConfig{
			Device:       fc.Training.Device,
			Epochs:       DefaultEpochs,
			BatchSize:    DefaultBatchSize,
			LearningRate: DefaultLearningRate,
			OutputPath:   fc.Training.OutputPath,
			LoggingSteps: DefaultLoggingSteps,
			Resume:       fc.Training.Resume,
			ProgressBar:  fc.Training.ProgressBar,
		},
		Model: ModelConfig{
			PretrainedName: fc.Model.PretrainedName,
			MaxLength:      DefaultMaxLength,
			ONNXFile:       fc.Model.ONNXFile,
			CacheDir:       fc.Model.CacheDir,
			DropoutRate:    DefaultDropoutRate,
		},
		MLflow: MLflowConfig{
			TrackingURI:    fc.MLflow.TrackingURI,
			ExperimentName: fc.MLflow.ExperimentName,
			RunName:        fc.MLflow.RunName,
		},
		Prometheus: PrometheusConfig{
			PushgatewayURL: fc.Prometheus.PushgatewayURL,
			Job:            fc.Prometheus.Job,
		},
	}

	if fc.Seed != nil {
		cfg.Seed = *fc.Seed
	}
	if fc.Data.ValRatio != nil {
		cfg.Data.ValRatio = *fc.Data.ValRatio
	}
	if fc.Model.DropoutRate != nil {
		cfg.Model.DropoutRate = *fc.Model.DropoutRate
	}
	if fc.Training.Epochs != nil {
		cfg.Training.Epochs = *fc.Training.Epochs
	}
	if fc.Training.BatchSize != nil {
		cfg.Training.BatchSize = *fc.Training.BatchSize
	}
	if fc.Training.LearningRate != nil {
		cfg.Training.LearningRate = *fc.Training.LearningRate
	}
	if fc.Training.LoggingSteps != nil {
		cfg.Training.LoggingSteps = *fc.Training.LoggingSteps
	}
	if fc.Model.MaxLength != nil {
		cfg.Model.MaxLength = *fc.Model.MaxLength
	}
	if cfg.Data.DatasetPath == "" {
		cfg.Data.DatasetPath = fc.Training.DatasetPath
	}
	if cfg.Training.OutputPath == "" {
		cfg.Training.OutputPath = DefaultOutputPath
	}
	if cfg.Model.PretrainedName == "" {
		cfg.Model.PretrainedName = DefaultPretrainedName
	}
	if cfg.Model.ONNXFile == "" {
		cfg.Model.ONNXFile = DefaultONNXFile
	}
	if cfg.MLflow.TrackingURI == "" {
		cfg.MLflow.TrackingURI = os.Getenv(EnvTrackingURI)
	}
	if cfg.MLflow.ExperimentName == "" {
		cfg.MLflow.ExperimentName = DefaultExperimentName
	}
	if cfg.Prometheus.Job == "" {
		cfg.Prometheus.Job = DefaultPrometheusJob
	}
	return cfg
}

func (c Config) validate() error {
	switch {
	case !(c.Data.ValRatio >= 0 && c.Data.ValRatio <= 1):
		return &ConfigurationError{Key: "data.val_ratio", Reason: fmt.Sprintf("must be within [0, 1], got %g", c.Data.ValRatio)}
	case c.Data.Format != "" && c.Data.Format != "csv":
		return &ConfigurationError{Key: "data.format", Reason: fmt.Sprintf("unsupported format %q, only \"csv\" is supported", c.Data.Format)}
	case c.Training.Epochs <= 0:
		return &ConfigurationError{Key: "training.epochs", Reason: "must be positive"}
	case c.Training.BatchSize <= 0:
		return &ConfigurationError{Key: "training.batch_size", Reason: "must be positive"}
	case !(c.Training.LearningRate > 0) || math.IsInf(c.Training.LearningRate, 1):
		return &ConfigurationError{Key: "training.learning_rate", Reason: "must be positive"}
	case c.Training.LoggingSteps < 0:
		return &ConfigurationError{Key: "training.logging_steps", Reason: "must not be negative, 0 disables per-step logging"}
	case c.Model.MaxLength < 2:
		return &ConfigurationError{Key: "model.max_length", Reason: "must leave room for the [CLS] and [SEP] tokens"}
	case !(c.Model.DropoutRate >= 0 && c.Model.DropoutRate < 1):
		return &ConfigurationError{Key: "model.dropout_rate", Reason: fmt.Sprintf("must be within [0, 1), got %g", c.Model.DropoutRate)}
	}
	return nil
}

// Params returns the hyperparameters reported to the tracking sink.
func (c Config) Params() map[string]string {
	device := c.Training.Device
	if device == "" {
		device = "auto"
	}
	return map[string]string{
		"epochs":          strconv.Itoa(c.Training.Epochs),
		"batch_size":      strconv.Itoa(c.Training.BatchSize),
		"learning_rate":   strconv.FormatFloat(c.Training.LearningRate, 'g', -1, 64),
		"max_length":      strconv.Itoa(c.Model.MaxLength),
		"device":          device,
		"seed":            strconv.FormatInt(c.Seed, 10),
		"val_ratio":       strconv.FormatFloat(c.Data.ValRatio, 'g', -1, 64),
		"pretrained_name": c.Model.PretrainedName,
	}
}
