package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Qdrant    QdrantConfig    `mapstructure:"qdrant"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Chunking  ChunkingConfig  `mapstructure:"chunking"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	RSS       RSSConfig       `mapstructure:"rss"`
	NewsAPI   NewsAPIConfig   `mapstructure:"newsapi"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
}

type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	ServiceName string `mapstructure:"service_name"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	URL             string        `mapstructure:"url"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return c.URL
	}
	return c.Path + "?_busy_timeout=5000"
}

type QdrantConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type EmbeddingConfig struct {
	Provider   string        `mapstructure:"provider"`
	Model      string        `mapstructure:"model"`
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Dimensions int           `mapstructure:"dimensions"`
	BatchSize  int           `mapstructure:"batch_size"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type ChunkingConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	RobotsTTL time.Duration `mapstructure:"robots_ttl"`
}

type IngestConfig struct {
	Workers                int           `mapstructure:"workers"`
	Queue                  string        `mapstructure:"queue"`
	LeaseDuration          time.Duration `mapstructure:"lease_duration"`
	RunTimeout             time.Duration `mapstructure:"run_timeout"`
	BlockThreshold         int           `mapstructure:"block_threshold"`
	BlockDuration          time.Duration `mapstructure:"block_duration"`
	ScheduleInterval       time.Duration `mapstructure:"schedule_interval"`
	IgnoredFailurePatterns []string      `mapstructure:"ignored_failure_patterns"`
}

type RSSConfig struct {
	MaxItems  int           `mapstructure:"max_items"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type NewsAPIConfig struct {
	BaseURL                 string        `mapstructure:"base_url"`
	APIKey                  string        `mapstructure:"api_key"`
	PageSize                int           `mapstructure:"page_size"`
	MaxSourcesPerRequest    int           `mapstructure:"max_sources_per_request"`
	MaxPagesPerBatch        int           `mapstructure:"max_pages_per_batch"`
	MaxRequestsPerIngestion int           `mapstructure:"max_requests_per_ingestion"`
	RequestDelay            time.Duration `mapstructure:"request_delay"`
	Timeout                 time.Duration `mapstructure:"timeout"`
}

type ExtractorConfig struct {
	UserAgent    string        `mapstructure:"user_agent"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MinTextChars int           `mapstructure:"min_text_chars"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

// Load reads configuration from file, .env and environment variables.
// Parameters:
//   - configPath: explicit config file path, or "" to search ./configs and .
// Returns:
//   - *Config: merged configuration with defaults applied.
//   - error: non-nil if the file exists but cannot be read or decoded.
func Load(configPath string) (*Config, error) {
	// Load .env file if exists
	_ = godotenv.Load()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Bind environment variables explicitly for sensitive data
	v.BindEnv("database.url", "DATABASE_URL")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("embedding.api_key", "JINA_API_KEY")
	v.BindEnv("newsapi.api_key", "NEWSAPI_KEY")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.environment", "APP_ENV")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.service_name", "factcorpus")
	v.SetDefault("log.environment", "local")
	v.SetDefault("log.file", "/var/log/factcorpus/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/factcorpus.db")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "article_chunks")

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.bucket", "factcorpus-articles")
	v.SetDefault("storage.prefix", "articles")

	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.base_url", "https://api.jina.ai/v1")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.batch_size", 32)
	v.SetDefault("embedding.timeout", 60*time.Second)

	v.SetDefault("chunking.size", 1200)
	v.SetDefault("chunking.overlap", 150)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "ingestion-tasks")
	v.SetDefault("kafka.group_id", "ingestion-workers")

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.robots_ttl", 24*time.Hour)

	v.SetDefault("ingest.workers", 4)
	v.SetDefault("ingest.queue", "memory")
	v.SetDefault("ingest.lease_duration", 30*time.Minute)
	v.SetDefault("ingest.run_timeout", 2*time.Hour)
	v.SetDefault("ingest.block_threshold", 3)
	v.SetDefault("ingest.block_duration", 6*time.Hour)
	v.SetDefault("ingest.schedule_interval", 0)
	v.SetDefault("ingest.ignored_failure_patterns", []string{
		"robots",
		"blocked",
		"embedding API error: status 4",
		"chunking failed",
	})

	v.SetDefault("rss.max_items", 100)
	v.SetDefault("rss.timeout", 20*time.Second)
	v.SetDefault("rss.user_agent", "factcorpus-bot/1.0")

	v.SetDefault("newsapi.base_url", "https://newsapi.org/v2")
	v.SetDefault("newsapi.page_size", 100)
	v.SetDefault("newsapi.max_sources_per_request", 20)
	v.SetDefault("newsapi.max_pages_per_batch", 5)
	v.SetDefault("newsapi.max_requests_per_ingestion", 100)
	v.SetDefault("newsapi.request_delay", 500*time.Millisecond)
	v.SetDefault("newsapi.timeout", 30*time.Second)

	v.SetDefault("extractor.user_agent", "factcorpus-bot/1.0")
	v.SetDefault("extractor.timeout", 20*time.Second)
	v.SetDefault("extractor.min_text_chars", 300)
	v.SetDefault("extractor.max_body_bytes", 5<<20)
}
