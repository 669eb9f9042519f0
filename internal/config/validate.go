package config

import "fmt"

// Validate checks the fields that have no usable zero value.
// Returns an error describing the first validation failure, or nil if valid.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database: unknown driver %q", c.Database.Driver)
	}
	if c.Database.Driver == "postgres" && c.Database.URL == "" {
		return fmt.Errorf("database: url is required for postgres (set DATABASE_URL)")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding: dimensions must be positive")
	}
	if c.Chunking.Size <= 0 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking: overlap must be in [0, size)")
	}
	if err := c.NewsAPI.Validate(); err != nil {
		return err
	}
	switch c.Ingest.Queue {
	case "memory", "kafka":
	default:
		return fmt.Errorf("ingest: unknown queue %q", c.Ingest.Queue)
	}
	if c.Ingest.Queue == "kafka" && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka: brokers and topic are required when ingest.queue is kafka")
	}
	if c.Ingest.BlockThreshold <= 0 {
		return fmt.Errorf("ingest: block_threshold must be positive")
	}
	return nil
}

// Validate checks the batching limits of the news API fetcher.
func (c *NewsAPIConfig) Validate() error {
	if c.MaxSourcesPerRequest <= 0 || c.MaxPagesPerBatch <= 0 || c.MaxRequestsPerIngestion <= 0 {
		return fmt.Errorf("newsapi: batching limits must be positive")
	}
	if c.PageSize <= 0 {
		return fmt.Errorf("newsapi: page_size must be positive")
	}
	return nil
}
