package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 20, cfg.NewsAPI.MaxSourcesPerRequest)
	assert.Equal(t, 30*time.Minute, cfg.Ingest.LeaseDuration)
	assert.Equal(t, "memory", cfg.Ingest.Queue)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
ingest:
  workers: 8
  block_threshold: 2
  block_duration: 3h
newsapi:
  max_sources_per_request: 10
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Ingest.Workers)
	assert.Equal(t, 2, cfg.Ingest.BlockThreshold)
	assert.Equal(t, 3*time.Hour, cfg.Ingest.BlockDuration)
	assert.Equal(t, 10, cfg.NewsAPI.MaxSourcesPerRequest)
	assert.Equal(t, 5, cfg.NewsAPI.MaxPagesPerBatch)
	assert.Contains(t, cfg.Ingest.IgnoredFailurePatterns, "robots")
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"postgres without url", func(c *Config) { c.Database.Driver = "postgres" }},
		{"overlap too large", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }},
		{"zero batching limit", func(c *Config) { c.NewsAPI.MaxPagesPerBatch = 0 }},
		{"kafka without brokers", func(c *Config) { c.Ingest.Queue = "kafka"; c.Kafka.Brokers = nil }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			require.NoError(t, cfg.Validate())
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func validConfig() *Config {
	return &Config{
		Database:  DatabaseConfig{Driver: "sqlite"},
		Embedding: EmbeddingConfig{Dimensions: 1024},
		Chunking:  ChunkingConfig{Size: 1000, Overlap: 100},
		NewsAPI:   NewsAPIConfig{PageSize: 100, MaxSourcesPerRequest: 20, MaxPagesPerBatch: 5, MaxRequestsPerIngestion: 100},
		Ingest:    IngestConfig{Queue: "memory", BlockThreshold: 3},
		Kafka:     KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t"},
	}
}
