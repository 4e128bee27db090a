package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/unalkalkan/bookcast/internal/validation"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// EnvPrefix prefixes every environment override, e.g. BC_SERVER_PORT.
const EnvPrefix = "BC_"

// Load reads the YAML file at configPath on top of GetDefault, applies BC_
// environment overrides and validates the result. An empty path loads the
// defaults plus environment only.
func Load(configPath string) (*types.Config, error) {
	cfg := GetDefault()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks struct tags first, then the cross-field rules tags cannot
// express. Zero pipeline and cache values are replaced by their defaults.
func Validate(cfg *types.Config) error {
	if err := validation.New().Validate(cfg); err != nil {
		return err
	}

	switch cfg.Storage.Adapter {
	case "local":
		if cfg.Storage.Local.BasePath == "" {
			return fmt.Errorf("local storage base_path is required")
		}
		if !filepath.IsAbs(cfg.Storage.Local.BasePath) {
			return fmt.Errorf("local storage base_path must be absolute: %s", cfg.Storage.Local.BasePath)
		}
	case "s3":
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("s3 bucket is required")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("s3 region is required")
		}
	default:
		return fmt.Errorf("invalid storage adapter: %s (must be 'local' or 's3')", cfg.Storage.Adapter)
	}

	seen := make(map[string]bool)
	for _, p := range cfg.Providers.TTS {
		if seen[p.Name] {
			return fmt.Errorf("duplicate tts provider name: %s", p.Name)
		}
		seen[p.Name] = true
	}

	if cfg.Chapters.StrongFontSizeRatio > 0 && cfg.Chapters.FontSizeRatio > cfg.Chapters.StrongFontSizeRatio {
		return fmt.Errorf("chapters.font_size_ratio (%.2f) must not exceed strong_font_size_ratio (%.2f)",
			cfg.Chapters.FontSizeRatio, cfg.Chapters.StrongFontSizeRatio)
	}

	if cfg.Pipeline.WorkerPoolSize <= 0 {
		cfg.Pipeline.WorkerPoolSize = 2
	}
	if cfg.Pipeline.ChunkConcurrency <= 0 {
		cfg.Pipeline.ChunkConcurrency = 4
	}
	if cfg.Pipeline.MaxRetries < 0 {
		cfg.Pipeline.MaxRetries = 3
	}
	if cfg.Pipeline.ProgressTickMs <= 0 {
		cfg.Pipeline.ProgressTickMs = 500
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = 100
	}

	return nil
}

// envVar binds one BC_ variable to a config field.
type envVar struct {
	name string
	set  func(string) error
}

func str(dst *string) func(string) error {
	return func(v string) error { *dst = v; return nil }
}

func integer(dst *int) func(string) error {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func integer64(dst *int64) func(string) error {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func float(dst *float64) func(string) error {
	return func(v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst = f
		return nil
	}
}

func boolean(dst *bool) func(string) error {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func applyEnvOverrides(cfg *types.Config) error {
	vars := []envVar{
		{"SERVER_HOST", str(&cfg.Server.Host)},
		{"SERVER_PORT", integer(&cfg.Server.Port)},
		{"SERVER_MAX_UPLOAD_MB", integer(&cfg.Server.MaxUploadMB)},
		{"LOG_LEVEL", str(&cfg.Log.Level)},
		{"LOG_FORMAT", str(&cfg.Log.Format)},
		{"LOG_ENVIRONMENT", str(&cfg.Log.Environment)},
		{"STORAGE_ADAPTER", str(&cfg.Storage.Adapter)},
		{"STORAGE_LOCAL_BASE_PATH", str(&cfg.Storage.Local.BasePath)},
		{"STORAGE_S3_BUCKET", str(&cfg.Storage.S3.Bucket)},
		{"STORAGE_S3_REGION", str(&cfg.Storage.S3.Region)},
		{"STORAGE_S3_ENDPOINT", str(&cfg.Storage.S3.Endpoint)},
		{"STORAGE_S3_ACCESS_KEY_ID", str(&cfg.Storage.S3.AccessKeyID)},
		{"STORAGE_S3_SECRET_ACCESS_KEY", str(&cfg.Storage.S3.SecretAccessKey)},
		{"PIPELINE_WORKER_POOL_SIZE", integer(&cfg.Pipeline.WorkerPoolSize)},
		{"PIPELINE_CHUNK_CONCURRENCY", integer(&cfg.Pipeline.ChunkConcurrency)},
		{"PIPELINE_MAX_RETRIES", integer(&cfg.Pipeline.MaxRetries)},
		{"CACHE_ENABLED", boolean(&cfg.Cache.Enabled)},
		{"CACHE_PATH", str(&cfg.Cache.Path)},
		{"CACHE_MAX_BYTES", integer64(&cfg.Cache.MaxBytes)},
		{"HISTORY_PATH", str(&cfg.History.Path)},
		{"RATELIMIT_UPLOAD_RPS", float(&cfg.RateLimit.UploadRPS)},
	}

	for i := range cfg.Providers.TTS {
		p := &cfg.Providers.TTS[i]
		prefix := "TTS_" + envName(p.Name) + "_"
		vars = append(vars,
			envVar{prefix + "API_KEY", str(&p.APIKey)},
			envVar{prefix + "ENDPOINT", str(&p.Endpoint)},
			envVar{prefix + "ENABLED", boolean(&p.Enabled)},
		)
	}

	for _, v := range vars {
		val, ok := os.LookupEnv(EnvPrefix + v.name)
		if !ok || val == "" {
			continue
		}
		if err := v.set(val); err != nil {
			return fmt.Errorf("%s%s=%q: %w", EnvPrefix, v.name, val, err)
		}
	}
	return nil
}

// envName upper-cases a provider name and replaces characters that are not
// valid in environment variable names.
func envName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, name)
}

// GetDefault returns a configuration that runs locally with the stub provider.
func GetDefault() *types.Config {
	return &types.Config{
		Server: types.ServerConfig{
			Host:           "0.0.0.0",
			Port:           8080,
			ReadTimeout:    15,
			WriteTimeout:   60,
			MaxUploadMB:    100,
			AllowedOrigins: []string{"*"},
		},
		Log: types.LogConfig{
			Level:       "info",
			Environment: "development",
		},
		Storage: types.StorageConfig{
			Adapter: "local",
			Local: types.LocalStorageOpts{
				BasePath: "/var/lib/bookcast/storage",
			},
		},
		Providers: types.ProvidersConfig{
			TTS: []types.TTSProviderConfig{
				{Name: "stub", Type: "stub", Enabled: true},
			},
		},
		Pipeline: types.PipelineConfig{
			WorkerPoolSize:   2,
			ChunkConcurrency: 4,
			MaxRetries:       3,
			RetryBackoffMs:   1000,
			ProgressTickMs:   500,
			TempDir:          "/tmp/bookcast",
		},
		Cache: types.CacheConfig{
			Enabled:  true,
			Path:     "/var/lib/bookcast/cache-index",
			MaxBytes: 2 << 30,
			TTLHours: 24 * 30,
		},
		History: types.HistoryConfig{
			Path: "/var/lib/bookcast/history.db",
		},
		Chapters: types.ChaptersConfig{
			MinConfidence:       0.5,
			MinChapterChars:     200,
			HeadingMaxChars:     120,
			FontSizeRatio:       1.25,
			StrongFontSizeRatio: 1.5,
		},
		RateLimit: types.RateLimitConfig{
			UploadRPS:   1,
			UploadBurst: 5,
		},
	}
}
