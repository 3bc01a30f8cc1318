package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "registry.base_url", typ: kString, env: "PUBCURATE_REGISTRY_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Registry.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.BaseURL },
	},
	{
		key: "registry.timeout", typ: kString, env: "PUBCURATE_REGISTRY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Registry.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.Timeout },
	},
	{
		key: "registry.token", typ: kString, env: "PUBCURATE_REGISTRY_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Registry.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Registry.Token },
	},
	{
		key: "crossref.base_url", typ: kString, env: "PUBCURATE_CROSSREF_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.CrossRef.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.CrossRef.BaseURL },
	},
	{
		key: "crossref.mailto", typ: kString, env: "PUBCURATE_CROSSREF_MAILTO",
		apply:   func(cfg *Config, v any) { cfg.CrossRef.Mailto = v.(string) },
		extract: func(cfg Config) any { return cfg.CrossRef.Mailto },
	},
	{
		key: "crossref.user_agent", typ: kString, env: "PUBCURATE_CROSSREF_USER_AGENT",
		apply:   func(cfg *Config, v any) { cfg.CrossRef.UserAgent = v.(string) },
		extract: func(cfg Config) any { return cfg.CrossRef.UserAgent },
	},
	{
		key: "crossref.rate_limit", typ: kFloat, env: "PUBCURATE_CROSSREF_RATE_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.CrossRef.RateLimit = v.(float64) },
		extract: func(cfg Config) any { return cfg.CrossRef.RateLimit },
	},
	{
		key: "xdd.base_url", typ: kString, env: "PUBCURATE_XDD_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.XDD.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.XDD.BaseURL },
	},
	{
		key: "s3.bucket", typ: kString, env: "PUBCURATE_S3_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.S3.Bucket = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Bucket },
	},
	{
		key: "s3.region", typ: kString, env: "PUBCURATE_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.S3.Region = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Region },
	},
	{
		key: "s3.endpoint", typ: kString, env: "PUBCURATE_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.S3.Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.Endpoint },
	},
	{
		key: "s3.doi_key", typ: kString, env: "PUBCURATE_S3_DOI_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.DOIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.DOIKey },
	},
	{
		key: "s3.metadata_key", typ: kString, env: "PUBCURATE_S3_METADATA_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.MetadataKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.MetadataKey },
	},
	{
		key: "s3.embedding_key", typ: kString, env: "PUBCURATE_S3_EMBEDDING_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.EmbeddingKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.EmbeddingKey },
	},
	{
		key: "s3.label_key", typ: kString, env: "PUBCURATE_S3_LABEL_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.LabelKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.LabelKey },
	},
	{
		key: "s3.annotation_key", typ: kString, env: "PUBCURATE_S3_ANNOTATION_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.AnnotationKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.AnnotationKey },
	},
	{
		key: "s3.prediction_key", typ: kString, env: "PUBCURATE_S3_PREDICTION_KEY",
		apply:   func(cfg *Config, v any) { cfg.S3.PredictionKey = v.(string) },
		extract: func(cfg Config) any { return cfg.S3.PredictionKey },
	},
	{
		key: "ollama.base_url", typ: kString, env: "PUBCURATE_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "PUBCURATE_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PUBCURATE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "classify.threshold", typ: kFloat, env: "PUBCURATE_CLASSIFY_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Classify.Threshold = v.(float64) },
		extract: func(cfg Config) any { return cfg.Classify.Threshold },
	},
	{
		key: "classify.test_fraction", typ: kFloat, env: "PUBCURATE_CLASSIFY_TEST_FRACTION",
		apply:   func(cfg *Config, v any) { cfg.Classify.TestFraction = v.(float64) },
		extract: func(cfg Config) any { return cfg.Classify.TestFraction },
	},
	{
		key: "classify.seed", typ: kInt, env: "PUBCURATE_CLASSIFY_SEED",
		apply:   func(cfg *Config, v any) { cfg.Classify.Seed = v.(int) },
		extract: func(cfg Config) any { return cfg.Classify.Seed },
	},
	{
		key: "classify.negative_pattern", typ: kString, env: "PUBCURATE_CLASSIFY_NEGATIVE_PATTERN",
		apply:   func(cfg *Config, v any) { cfg.Classify.NegativePattern = v.(string) },
		extract: func(cfg Config) any { return cfg.Classify.NegativePattern },
	},
	{
		key: "project.name", typ: kString, env: "PUBCURATE_PROJECT",
		apply:   func(cfg *Config, v any) { cfg.Project.Name = v.(string) },
		extract: func(cfg Config) any { return cfg.Project.Name },
	},
	{
		key: "log.level", typ: kString, env: "PUBCURATE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
