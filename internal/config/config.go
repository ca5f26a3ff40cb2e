// Package config loads the workflow configuration from defaults, an optional YAML file
// and MNISTFLOW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the environment variables overriding the configuration,
// e.g. MNISTFLOW_STORAGE_BUCKET.
const EnvPrefix = "MNISTFLOW"

// Storage backends.
const (
	BackendLocal  = "local"
	BackendGCS    = "gcs"
	BackendS3     = "s3"
	BackendMemory = "memory"
)

// Run history backends.
const (
	HistoryNone   = "none"
	HistoryMemory = "memory"
	HistoryRedis  = "redis"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete workflow configuration.
type Config struct {
	Workflow   WorkflowConfig  `mapstructure:"workflow"`
	Storage    StorageConfig   `mapstructure:"storage"`
	ScratchDir string          `mapstructure:"scratch_dir"`
	Artifacts  ArtifactsConfig `mapstructure:"artifacts"`
	Dataset    DatasetConfig   `mapstructure:"dataset"`
	Split      SplitConfig     `mapstructure:"split"`
	Train      TrainConfig     `mapstructure:"train"`
	Evaluate   EvaluateConfig  `mapstructure:"evaluate"`
	Retry      RetryConfig     `mapstructure:"retry"`
	History    HistoryConfig   `mapstructure:"history"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Tracing    TracingConfig   `mapstructure:"tracing"`
	Log        LogConfig       `mapstructure:"log"`
}

type WorkflowConfig struct {
	ID    string `mapstructure:"id"`
	RunID string `mapstructure:"run_id"`
}

type StorageConfig struct {
	Backend      string      `mapstructure:"backend"`
	Project      string      `mapstructure:"project"`
	Bucket       string      `mapstructure:"bucket"`
	EnsureBucket bool        `mapstructure:"ensure_bucket"`
	Local        LocalConfig `mapstructure:"local"`
	GCS          GCSConfig   `mapstructure:"gcs"`
	S3           S3Config    `mapstructure:"s3"`
}

type LocalConfig struct {
	Root string `mapstructure:"root"`
}

type GCSConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	CredentialsFile string `mapstructure:"credentials_file"`
	Anonymous       bool   `mapstructure:"anonymous"`
}

type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	UsePathStyle    bool   `mapstructure:"use_path_style"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// ArtifactsConfig holds the object keys of every artifact exchanged between the stages.
type ArtifactsConfig struct {
	X      string `mapstructure:"x"`
	Y      string `mapstructure:"y"`
	XTrain string `mapstructure:"x_train"`
	YTrain string `mapstructure:"y_train"`
	XTest  string `mapstructure:"x_test"`
	YTest  string `mapstructure:"y_test"`
	Model  string `mapstructure:"model"`
}

type DatasetConfig struct {
	// Source is an optional optdigits file; the bundled reference digits are used when empty.
	Source string `mapstructure:"source"`
}

type SplitConfig struct {
	TestSize float64 `mapstructure:"test_size"`
	Seed     int64   `mapstructure:"seed"`
}

type TrainConfig struct {
	C         float64 `mapstructure:"c"`
	MaxIter   int     `mapstructure:"max_iter"`
	Tolerance float64 `mapstructure:"tolerance"`
}

type EvaluateConfig struct {
	Preview int    `mapstructure:"preview"`
	Plot    string `mapstructure:"plot"`
}

type RetryConfig struct {
	MaxAttempts uint          `mapstructure:"max_attempts"`
	Wait        time.Duration `mapstructure:"wait"`
}

type HistoryConfig struct {
	Backend string      `mapstructure:"backend"`
	Redis   RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

type TracingConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Insecure bool   `mapstructure:"insecure"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SetDefaults registers the default values on v.
// The bucket, project and artifact names are the ones the workflow was first deployed with.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("workflow.id", "mnist_workflow")
	v.SetDefault("workflow.run_id", "")

	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.project", "airflow-playground-00")
	v.SetDefault("storage.bucket", "airflow-ml-datasets-00")
	v.SetDefault("storage.ensure_bucket", true)
	v.SetDefault("storage.local.root", ".mnistflow/store")
	v.SetDefault("storage.gcs.endpoint", "")
	v.SetDefault("storage.gcs.credentials_file", "")
	v.SetDefault("storage.gcs.anonymous", false)
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.endpoint", "")
	v.SetDefault("storage.s3.use_path_style", false)
	v.SetDefault("storage.s3.access_key_id", "")
	v.SetDefault("storage.s3.secret_access_key", "")

	v.SetDefault("scratch_dir", "")

	v.SetDefault("artifacts.x", "X_data.csv")
	v.SetDefault("artifacts.y", "y_data.csv")
	v.SetDefault("artifacts.x_train", "Xtrain_data.csv")
	v.SetDefault("artifacts.y_train", "ytrain_data.csv")
	v.SetDefault("artifacts.x_test", "Xtest_data.csv")
	v.SetDefault("artifacts.y_test", "ytest_data.csv")
	v.SetDefault("artifacts.model", "model")

	v.SetDefault("dataset.source", "")

	v.SetDefault("split.test_size", 0.25)
	v.SetDefault("split.seed", 0)

	v.SetDefault("train.c", 50.0)
	v.SetDefault("train.max_iter", 10000)
	v.SetDefault("train.tolerance", 1e-4)

	v.SetDefault("evaluate.preview", 9)
	v.SetDefault("evaluate.plot", "")

	v.SetDefault("retry.max_attempts", 0)
	v.SetDefault("retry.wait", "5s")

	v.SetDefault("history.backend", HistoryMemory)
	v.SetDefault("history.redis.addr", "localhost:6379")
	v.SetDefault("history.redis.password", "")
	v.SetDefault("history.redis.db", 0)
	v.SetDefault("history.redis.ttl", "168h")

	v.SetDefault("metrics.textfile", "")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment overrides registered.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads the optional configuration file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration made of the defaults only.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := Load(v, "")
	if err != nil {
		panic(err)
	}

	return cfg
}

// Validate checks the values the stages rely on.
func (c *Config) Validate() error {
	var errs []error
	switch c.Storage.Backend {
	case BackendLocal, BackendGCS, BackendS3, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("storage.backend: unknown backend %q", c.Storage.Backend))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Storage.Backend == BackendGCS && c.Storage.Project == "" {
		errs = append(errs, errors.New("storage.project is required for the gcs backend"))
	}
	if c.Storage.Backend == BackendLocal && c.Storage.Local.Root == "" {
		errs = append(errs, errors.New("storage.local.root is required for the local backend"))
	}

	keys := map[string]string{
		"artifacts.x": c.Artifacts.X, "artifacts.y": c.Artifacts.Y,
		"artifacts.x_train": c.Artifacts.XTrain, "artifacts.y_train": c.Artifacts.YTrain,
		"artifacts.x_test": c.Artifacts.XTest, "artifacts.y_test": c.Artifacts.YTest,
		"artifacts.model": c.Artifacts.Model,
	}
	seen := make(map[string]string, len(keys))
	for name, key := range keys {
		if key == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))

			continue
		}
		if other, dup := seen[key]; dup {
			errs = append(errs, fmt.Errorf("%s and %s share the key %q", other, name, key))
		}
		seen[key] = name
	}

	if c.Split.TestSize <= 0 || c.Split.TestSize >= 1 {
		errs = append(errs, fmt.Errorf("split.test_size must be in (0, 1), got %v", c.Split.TestSize))
	}
	if c.Train.C <= 0 {
		errs = append(errs, fmt.Errorf("train.c must be positive, got %v", c.Train.C))
	}
	if c.Train.MaxIter <= 0 {
		errs = append(errs, fmt.Errorf("train.max_iter must be positive, got %d", c.Train.MaxIter))
	}
	if c.Train.Tolerance <= 0 {
		errs = append(errs, fmt.Errorf("train.tolerance must be positive, got %v", c.Train.Tolerance))
	}
	if c.Evaluate.Preview < 0 {
		errs = append(errs, fmt.Errorf("evaluate.preview must not be negative, got %d", c.Evaluate.Preview))
	}
	switch c.History.Backend {
	case HistoryNone, HistoryMemory, HistoryRedis:
	default:
		errs = append(errs, fmt.Errorf("history.backend: unknown backend %q", c.History.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	return nil
}
