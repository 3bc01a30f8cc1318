package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Registry RegistryConfig
	CrossRef CrossRefConfig
	XDD      XDDConfig
	S3       S3Config
	Ollama   OllamaConfig
	Storage  StorageConfig
	Classify ClassifyConfig
	Project  ProjectConfig
	Log      LogConfig
}

type RegistryConfig struct {
	BaseURL string
	Timeout string
	Token   string
}

type CrossRefConfig struct {
	BaseURL   string
	Mailto    string
	UserAgent string
	RateLimit float64
}

type XDDConfig struct {
	BaseURL string
}

type S3Config struct {
	Bucket        string
	Region        string
	Endpoint      string
	DOIKey        string
	MetadataKey   string
	EmbeddingKey  string
	LabelKey      string
	AnnotationKey string
	PredictionKey string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type StorageConfig struct {
	DataDir string
}

type ClassifyConfig struct {
	Threshold       float64
	TestFraction    float64
	Seed            int
	NegativePattern string
}

type ProjectConfig struct {
	Name string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Registry: RegistryConfig{
			BaseURL: "http://localhost:8000/v0.1",
			Timeout: "10s",
		},
		CrossRef: CrossRefConfig{
			BaseURL:   "https://api.crossref.org",
			UserAgent: "pubcurate/1.0",
			RateLimit: 10,
		},
		XDD: XDDConfig{
			BaseURL: "https://xdd.wisc.edu/api",
		},
		S3: S3Config{
			Region:        "us-east-2",
			DOIKey:        "dois.parquet",
			MetadataKey:   "metadata.parquet",
			EmbeddingKey:  "embeddings.parquet",
			LabelKey:      "labels.parquet",
			AnnotationKey: "annotations.parquet",
			PredictionKey: "predictions.parquet",
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Classify: ClassifyConfig{
			Threshold:       0.5,
			TestFraction:    0.2,
			Seed:            42,
			NegativePattern: `(?i)\bnot\b`,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML config file, a .env file in the
// working directory, and environment variables, in increasing precedence.
//
// The config file lives at $XDG_CONFIG_HOME/pubcurate/config.yaml.
// Environment variables (PUBCURATE_*) override file values.
func Load() (Config, error) {
	// A missing .env is the common case.
	_ = godotenv.Load()
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// API_HOME is the host:port form used by older deployments.
	if os.Getenv("PUBCURATE_REGISTRY_BASE_URL") == "" {
		if home := os.Getenv("API_HOME"); home != "" {
			cfg.Registry.BaseURL = "http://" + home + "/v0.1"
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if _, err := time.ParseDuration(c.Registry.Timeout); err != nil {
		return fmt.Errorf("invalid registry.timeout %q: %w", c.Registry.Timeout, err)
	}
	if c.Classify.Threshold < 0 || c.Classify.Threshold > 1 {
		return fmt.Errorf("classify.threshold must be within [0, 1], got %v", c.Classify.Threshold)
	}
	if c.Classify.TestFraction <= 0 || c.Classify.TestFraction >= 1 {
		return fmt.Errorf("classify.test_fraction must be within (0, 1), got %v", c.Classify.TestFraction)
	}
	return nil
}

// RegistryTimeout returns the per-request timeout for registry calls.
func (c Config) RegistryTimeout() time.Duration {
	d, err := time.ParseDuration(c.Registry.Timeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// RequireBucket reports a helpful error when no S3 bucket is configured.
func (c Config) RequireBucket() error {
	if c.S3.Bucket == "" {
		return fmt.Errorf("missing required config: S3 bucket. " +
			"Set it with `pubcurate config set s3.bucket <name>` or PUBCURATE_S3_BUCKET")
	}
	return nil
}
