package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/unalkalkan/bookcast/pkg/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	configPath := writeConfig(t, `
server:
  host: "localhost"
  port: 9090
log:
  level: debug
  format: json
storage:
  adapter: "local"
  local:
    base_path: "/tmp/test"
providers:
  tts:
    - name: google
      type: google
      enabled: true
      api_key: "k"
      max_chunk_chars: 4000
pipeline:
  worker_pool_size: 3
chapters:
  min_confidence: 0.6
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Server.Host)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("Expected log format json, got %q", cfg.Log.Format)
	}
	if len(cfg.Providers.TTS) != 1 || cfg.Providers.TTS[0].MaxChunkChars != 4000 {
		t.Errorf("Expected one google provider with max 4000, got %+v", cfg.Providers.TTS)
	}
	if cfg.Pipeline.WorkerPoolSize != 3 {
		t.Errorf("Expected worker pool 3, got %d", cfg.Pipeline.WorkerPoolSize)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Pipeline.ChunkConcurrency != 4 {
		t.Errorf("Expected default chunk concurrency 4, got %d", cfg.Pipeline.ChunkConcurrency)
	}
	if cfg.Chapters.MinConfidence != 0.6 || cfg.Chapters.MinChapterChars != 200 {
		t.Errorf("Unexpected chapters config %+v", cfg.Chapters)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Expected default port, got %d", cfg.Server.Port)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "config", "bookcast.example.yaml"))
	if err != nil {
		t.Fatalf("example config does not load: %v", err)
	}
	if len(cfg.Providers.TTS) != 4 {
		t.Errorf("Expected 4 providers, got %d", len(cfg.Providers.TTS))
	}
	if cfg.Providers.TTS[0].Options["latency_ms"] != "50" {
		t.Errorf("Expected stub latency option, got %v", cfg.Providers.TTS[0].Options)
	}
	if cfg.Cache.TTLHours != 720 {
		t.Errorf("Expected ttl_hours 720, got %d", cfg.Cache.TTLHours)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*types.Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			modify:  func(c *types.Config) {},
			wantErr: false,
		},
		{
			name:    "invalid port",
			modify:  func(c *types.Config) { c.Server.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid storage adapter",
			modify:  func(c *types.Config) { c.Storage.Adapter = "invalid" },
			wantErr: true,
		},
		{
			name:    "missing local base path",
			modify:  func(c *types.Config) { c.Storage.Local.BasePath = "" },
			wantErr: true,
		},
		{
			name:    "relative local base path",
			modify:  func(c *types.Config) { c.Storage.Local.BasePath = "data" },
			wantErr: true,
		},
		{
			name: "missing s3 bucket",
			modify: func(c *types.Config) {
				c.Storage.Adapter = "s3"
				c.Storage.S3.Region = "us-east-1"
			},
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *types.Config) { c.Log.Level = "trace" },
			wantErr: true,
		},
		{
			name: "unknown provider type",
			modify: func(c *types.Config) {
				c.Providers.TTS = append(c.Providers.TTS, types.TTSProviderConfig{Name: "x", Type: "polly"})
			},
			wantErr: true,
		},
		{
			name: "duplicate provider name",
			modify: func(c *types.Config) {
				c.Providers.TTS = append(c.Providers.TTS, types.TTSProviderConfig{Name: "stub", Type: "stub"})
			},
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			modify:  func(c *types.Config) { c.Chapters.MinConfidence = 1.5 },
			wantErr: true,
		},
		{
			name:    "font ratios inverted",
			modify:  func(c *types.Config) { c.Chapters.FontSizeRatio = 2 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefault()
			tt.modify(cfg)
			err := Validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_FillsPipelineDefaults(t *testing.T) {
	cfg := GetDefault()
	cfg.Pipeline = types.PipelineConfig{MaxRetries: -1}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if cfg.Pipeline.WorkerPoolSize != 2 || cfg.Pipeline.ChunkConcurrency != 4 ||
		cfg.Pipeline.MaxRetries != 3 || cfg.Pipeline.ProgressTickMs != 500 {
		t.Errorf("defaults not applied: %+v", cfg.Pipeline)
	}
}

func TestEnvOverrides(t *testing.T) {
	configPath := writeConfig(t, `
storage:
  adapter: "local"
  local:
    base_path: "/tmp/test"
providers:
  tts:
    - name: eleven-labs
      type: elevenlabs
`)

	t.Setenv("BC_SERVER_PORT", "9999")
	t.Setenv("BC_STORAGE_LOCAL_BASE_PATH", "/tmp/override")
	t.Setenv("BC_CACHE_ENABLED", "false")
	t.Setenv("BC_TTS_ELEVEN_LABS_API_KEY", "secret")
	t.Setenv("BC_TTS_ELEVEN_LABS_ENABLED", "true")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected port 9999 from env override, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Local.BasePath != "/tmp/override" {
		t.Errorf("Expected base_path '/tmp/override' from env override, got '%s'", cfg.Storage.Local.BasePath)
	}
	if cfg.Cache.Enabled {
		t.Error("Expected cache disabled from env override")
	}
	if cfg.Providers.TTS[0].APIKey != "secret" || !cfg.Providers.TTS[0].Enabled {
		t.Errorf("provider override not applied: %+v", cfg.Providers.TTS[0])
	}
}

func TestEnvOverrides_BadValue(t *testing.T) {
	t.Setenv("BC_SERVER_PORT", "eighty")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric port override")
	}
}

func TestGetDefault(t *testing.T) {
	cfg := GetDefault()
	if cfg == nil {
		t.Fatal("GetDefault() returned nil")
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("default config does not validate: %v", err)
	}
}
