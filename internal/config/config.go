// Package config defines all configuration structures for the MedRecord-Ingest
// pipeline.  No I/O or parsing logic lives here, only plain data types and
// validation.
package config

import (
	"fmt"
	"time"
)

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // "debug" | "release" | "test"
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxUploadBytes  int64         `mapstructure:"max_upload_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminHeader     string        `mapstructure:"admin_header"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"db_name"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationPath   string        `mapstructure:"migration_path"`
}

// RedisConfig holds Redis connection parameters for the in-session creation
// cache and content-hash idempotency lookups.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	SessionTTL   time.Duration `mapstructure:"session_ttl"`
}

// KafkaConfig holds ingest event stream parameters.
type KafkaConfig struct {
	Brokers         []string      `mapstructure:"brokers"`
	Topic           string        `mapstructure:"topic"`
	GroupID         string        `mapstructure:"group_id"`
	ProducerRetries int           `mapstructure:"producer_retries"`
	BatchTimeout    time.Duration `mapstructure:"batch_timeout"`
	Enabled         bool          `mapstructure:"enabled"`
}

// MilvusConfig holds semantic-index vector-store parameters.
type MilvusConfig struct {
	Addr          string `mapstructure:"addr"`
	DBName        string `mapstructure:"db_name"`
	Collection    string `mapstructure:"collection"`
	EmbeddingDim  int    `mapstructure:"embedding_dim"`
	IndexType     string `mapstructure:"index_type"`
	ChunkSize     int    `mapstructure:"chunk_size"`
	ChunkOverlap  int    `mapstructure:"chunk_overlap"`
	InsertTimeout time.Duration `mapstructure:"insert_timeout"`
}

// MinIOConfig holds the durable blob store parameters.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ExtractionConfig holds the external text-extraction service parameters.
type ExtractionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// MatchingConfig holds the patient-matcher weights and decision thresholds.
// Weights must sum to 1.0 and no single signal may dominate.
type MatchingConfig struct {
	LevenshteinWeight   float64 `mapstructure:"levenshtein_weight"`
	TokenSortWeight     float64 `mapstructure:"token_sort_weight"`
	TokenSetWeight      float64 `mapstructure:"token_set_weight"`
	RecordNumberBonus   float64 `mapstructure:"record_number_bonus"`
	AutoAssignThreshold float64 `mapstructure:"auto_assign_threshold"`
	ReviewThreshold     float64 `mapstructure:"review_threshold"`
	TieBandWidth        float64 `mapstructure:"tie_band_width"`
	MaxCandidates       int     `mapstructure:"max_candidates"`
}

// PipelineConfig holds batch-orchestration execution parameters.
type PipelineConfig struct {
	// ProcessConcurrency bounds concurrent content processing per session,
	// independent of session size, to bound load on external services.
	ProcessConcurrency int `mapstructure:"process_concurrency"`
	// ParseConcurrency bounds the cheap CPU-only parse/match fan-out.
	ParseConcurrency int           `mapstructure:"parse_concurrency"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff"`
	FileTimeout      time.Duration `mapstructure:"file_timeout"`
}

// LogConfig holds structured-logging parameters.
type LogConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

// Config is the root configuration structure for the pipeline.  Every
// infrastructure component and application service reads its settings from
// the relevant sub-struct.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Milvus     MilvusConfig     `mapstructure:"milvus"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Matching   MatchingConfig   `mapstructure:"matching"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Log        LogConfig        `mapstructure:"log"`
}

// Validate performs semantic validation of the fully-populated Config.
// It returns the first error encountered; callers should treat any error as
// fatal and refuse to start the application.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d is out of range [1, 65535]", c.Server.Port)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("config: server.mode %q is invalid; expected debug|release|test", c.Server.Mode)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("config: database.host must not be empty")
	}
	if c.Database.MaxConns < 1 {
		return fmt.Errorf("config: database.max_conns must be at least 1")
	}

	m := c.Matching
	sum := m.LevenshteinWeight + m.TokenSortWeight + m.TokenSetWeight
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("config: matching signal weights must sum to 1.0, got %.3f", sum)
	}
	for name, w := range map[string]float64{
		"levenshtein_weight": m.LevenshteinWeight,
		"token_sort_weight":  m.TokenSortWeight,
		"token_set_weight":   m.TokenSetWeight,
	} {
		if w < 0 || w > 0.4 {
			return fmt.Errorf("config: matching.%s %.2f is out of range [0, 0.4]; no single signal may dominate", name, w)
		}
	}
	if !(m.ReviewThreshold > 0 && m.ReviewThreshold < m.AutoAssignThreshold && m.AutoAssignThreshold <= 1.0) {
		return fmt.Errorf("config: matching thresholds must satisfy 0 < review (%.2f) < auto_assign (%.2f) <= 1.0",
			m.ReviewThreshold, m.AutoAssignThreshold)
	}

	if c.Pipeline.ProcessConcurrency < 1 {
		return fmt.Errorf("config: pipeline.process_concurrency must be at least 1")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("config: pipeline.max_retries must not be negative")
	}
	if c.Pipeline.FileTimeout <= 0 {
		return fmt.Errorf("config: pipeline.file_timeout must be positive")
	}

	if c.Milvus.EmbeddingDim < 1 {
		return fmt.Errorf("config: milvus.embedding_dim must be at least 1")
	}
	if c.Milvus.ChunkSize < 1 {
		return fmt.Errorf("config: milvus.chunk_size must be at least 1")
	}
	if c.Milvus.ChunkOverlap >= c.Milvus.ChunkSize {
		return fmt.Errorf("config: milvus.chunk_overlap must be smaller than chunk_size")
	}

	if c.MinIO.Bucket == "" {
		return fmt.Errorf("config: minio.bucket must not be empty")
	}
	return nil
}
