package types

// Config represents the overall application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	Storage   StorageConfig   `yaml:"storage" json:"storage"`
	Providers ProvidersConfig `yaml:"providers" json:"providers"`
	Pipeline  PipelineConfig  `yaml:"pipeline" json:"pipeline"`
	Cache     CacheConfig     `yaml:"cache" json:"cache"`
	History   HistoryConfig   `yaml:"history" json:"history"`
	Chapters  ChaptersConfig  `yaml:"chapters" json:"chapters"`
	RateLimit RateLimitConfig `yaml:"ratelimit" json:"ratelimit"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host           string   `yaml:"host" json:"host"`
	Port           int      `yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	ReadTimeout    int      `yaml:"read_timeout" json:"read_timeout"`   // seconds
	WriteTimeout   int      `yaml:"write_timeout" json:"write_timeout"` // seconds
	MaxUploadMB    int      `yaml:"max_upload_mb" json:"max_upload_mb"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level       string `yaml:"level" json:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format      string `yaml:"format" json:"format" validate:"omitempty,oneof=json pretty"`
	Environment string `yaml:"environment" json:"environment"`
}

// StorageConfig defines storage adapter settings
type StorageConfig struct {
	Adapter string            `yaml:"adapter" json:"adapter"` // "local" or "s3"
	Local   LocalStorageOpts  `yaml:"local" json:"local"`
	S3      S3StorageOpts     `yaml:"s3" json:"s3"`
	Options map[string]string `yaml:"options" json:"options"` // Additional adapter-specific options
}

// LocalStorageOpts configures the local filesystem adapter
type LocalStorageOpts struct {
	BasePath string `yaml:"base_path" json:"base_path"`
}

// S3StorageOpts configures the S3-compatible adapter
type S3StorageOpts struct {
	Endpoint        string `yaml:"endpoint" json:"endpoint"`
	Region          string `yaml:"region" json:"region"`
	Bucket          string `yaml:"bucket" json:"bucket"`
	AccessKeyID     string `yaml:"access_key_id" json:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key" json:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl" json:"use_ssl"`
}

// ProvidersConfig holds all provider configurations
type ProvidersConfig struct {
	TTS []TTSProviderConfig `yaml:"tts" json:"tts"`
}

// TTSProviderConfig configures a TTS provider
type TTSProviderConfig struct {
	Name          string            `yaml:"name" json:"name" validate:"required"`
	Type          string            `yaml:"type" json:"type" validate:"omitempty,oneof=google elevenlabs openai stub"`
	Enabled       bool              `yaml:"enabled" json:"enabled"`
	Endpoint      string            `yaml:"endpoint" json:"endpoint"`
	APIKey        string            `yaml:"api_key" json:"api_key"`
	Model         string            `yaml:"model" json:"model"`
	DefaultVoice  string            `yaml:"default_voice" json:"default_voice"`
	MaxChunkChars int               `yaml:"max_chunk_chars" json:"max_chunk_chars"`
	Concurrency   int               `yaml:"concurrency" json:"concurrency"`
	RateLimitQPS  float64           `yaml:"rate_limit_qps" json:"rate_limit_qps"`
	Timeout       int               `yaml:"timeout" json:"timeout"` // seconds
	Options       map[string]string `yaml:"options" json:"options"`
}

// PipelineConfig holds conversion pipeline settings
type PipelineConfig struct {
	WorkerPoolSize   int    `yaml:"worker_pool_size" json:"worker_pool_size"`
	ChunkConcurrency int    `yaml:"chunk_concurrency" json:"chunk_concurrency"`
	MaxRetries       int    `yaml:"max_retries" json:"max_retries"`
	RetryBackoffMs   int    `yaml:"retry_backoff_ms" json:"retry_backoff_ms"`
	ProgressTickMs   int    `yaml:"progress_tick_ms" json:"progress_tick_ms"`
	TempDir          string `yaml:"temp_dir" json:"temp_dir"`
}

// CacheConfig configures the content-hash audio cache
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Path     string `yaml:"path" json:"path"` // badger index directory
	MaxBytes int64  `yaml:"max_bytes" json:"max_bytes"`
	TTLHours int    `yaml:"ttl_hours" json:"ttl_hours"`
}

// HistoryConfig configures the conversion history database
type HistoryConfig struct {
	Path string `yaml:"path" json:"path"` // sqlite file, ":memory:" allowed
}

// ChaptersConfig tunes the chapter detector
type ChaptersConfig struct {
	MinConfidence       float64 `yaml:"min_confidence" json:"min_confidence" validate:"gte=0,lte=1"`
	MinChapterChars     int     `yaml:"min_chapter_chars" json:"min_chapter_chars" validate:"gte=0"`
	HeadingMaxChars     int     `yaml:"heading_max_chars" json:"heading_max_chars" validate:"gte=0"`
	FontSizeRatio       float64 `yaml:"font_size_ratio" json:"font_size_ratio" validate:"gte=0"`
	StrongFontSizeRatio float64 `yaml:"strong_font_size_ratio" json:"strong_font_size_ratio" validate:"gte=0"`
}

// RateLimitConfig limits inbound uploads per client
type RateLimitConfig struct {
	UploadRPS   float64 `yaml:"upload_rps" json:"upload_rps"`
	UploadBurst int     `yaml:"upload_burst" json:"upload_burst"`
}
