// Package config provides configuration loading, defaults, and validation for
// the MedRecord-Ingest pipeline.
package config

import "time"

const (
	DefaultServerPort     = 8080
	DefaultServerMode     = "release"
	DefaultMaxUploadBytes = 32 << 20
	DefaultAdminHeader    = "X-Admin-Role"

	DefaultDBHost     = "localhost"
	DefaultDBPort     = 5432
	DefaultDBName     = "medingest"
	DefaultDBUser     = "medingest"
	DefaultDBSSLMode  = "disable"
	DefaultDBMaxConns = 25

	DefaultRedisAddr      = "localhost:6379"
	DefaultRedisKeyPrefix = "medingest"
	DefaultRedisTTL       = 24 * time.Hour

	DefaultKafkaBroker  = "localhost:9092"
	DefaultKafkaTopic   = "medingest.files"
	DefaultKafkaGroupID = "medingest-worker"

	DefaultMilvusAddr         = "localhost:19530"
	DefaultMilvusCollection   = "medical_documents"
	DefaultMilvusEmbeddingDim = 768
	DefaultMilvusIndexType    = "HNSW"
	DefaultChunkSize          = 1000
	DefaultChunkOverlap       = 100

	DefaultMinIOEndpoint = "localhost:9000"
	DefaultMinIOBucket   = "medrecords"

	DefaultExtractionURL = "http://localhost:8090"

	// Matcher defaults.  Weights blend three independent similarity signals
	// and must sum to 1.0; thresholds follow the institutional policy of
	// auto-assigning only near-certain matches.
	DefaultLevenshteinWeight   = 0.35
	DefaultTokenSortWeight     = 0.35
	DefaultTokenSetWeight      = 0.30
	DefaultRecordNumberBonus   = 0.10
	DefaultAutoAssignThreshold = 0.95
	DefaultReviewThreshold     = 0.60
	DefaultTieBandWidth        = 0.02
	DefaultMaxCandidates       = 5

	// Content processing is external-service bound, so its concurrency is a
	// small constant independent of session size.  Parsing and matching are
	// CPU-only and may fan out wider.
	DefaultProcessConcurrency = 5
	DefaultParseConcurrency   = 16
	DefaultMaxRetries         = 3
	DefaultRetryBackoff       = 500 * time.Millisecond
	DefaultFileTimeout        = 2 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// ApplyDefaults fills every zero-value field in cfg with the pipeline default.
// Fields already set by the caller are left unchanged so explicit
// configuration always wins.  It must run after unmarshalling and before
// Validate so optional-but-defaulted fields are never seen as missing.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = DefaultServerMode
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 60 * time.Second
	}
	if cfg.Server.MaxUploadBytes == 0 {
		cfg.Server.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.AdminHeader == "" {
		cfg.Server.AdminHeader = DefaultAdminHeader
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = DefaultDBHost
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = DefaultDBPort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = DefaultDBUser
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = DefaultDBName
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = DefaultDBSSLMode
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = DefaultDBMaxConns
	}
	if cfg.Database.MinConns == 0 {
		cfg.Database.MinConns = 2
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = time.Hour
	}
	if cfg.Database.MigrationPath == "" {
		cfg.Database.MigrationPath = "migrations"
	}

	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 10
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = 5 * time.Second
	}
	if cfg.Redis.ReadTimeout == 0 {
		cfg.Redis.ReadTimeout = 3 * time.Second
	}
	if cfg.Redis.WriteTimeout == 0 {
		cfg.Redis.WriteTimeout = 3 * time.Second
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.Redis.SessionTTL == 0 {
		cfg.Redis.SessionTTL = DefaultRedisTTL
	}

	if len(cfg.Kafka.Brokers) == 0 {
		cfg.Kafka.Brokers = []string{DefaultKafkaBroker}
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = DefaultKafkaTopic
	}
	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = DefaultKafkaGroupID
	}
	if cfg.Kafka.ProducerRetries == 0 {
		cfg.Kafka.ProducerRetries = 3
	}
	if cfg.Kafka.BatchTimeout == 0 {
		cfg.Kafka.BatchTimeout = 100 * time.Millisecond
	}

	if cfg.Milvus.Addr == "" {
		cfg.Milvus.Addr = DefaultMilvusAddr
	}
	if cfg.Milvus.Collection == "" {
		cfg.Milvus.Collection = DefaultMilvusCollection
	}
	if cfg.Milvus.EmbeddingDim == 0 {
		cfg.Milvus.EmbeddingDim = DefaultMilvusEmbeddingDim
	}
	if cfg.Milvus.IndexType == "" {
		cfg.Milvus.IndexType = DefaultMilvusIndexType
	}
	if cfg.Milvus.ChunkSize == 0 {
		cfg.Milvus.ChunkSize = DefaultChunkSize
	}
	if cfg.Milvus.ChunkOverlap == 0 {
		cfg.Milvus.ChunkOverlap = DefaultChunkOverlap
	}
	if cfg.Milvus.InsertTimeout == 0 {
		cfg.Milvus.InsertTimeout = 30 * time.Second
	}

	if cfg.MinIO.Endpoint == "" {
		cfg.MinIO.Endpoint = DefaultMinIOEndpoint
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = DefaultMinIOBucket
	}

	if cfg.Extraction.BaseURL == "" {
		cfg.Extraction.BaseURL = DefaultExtractionURL
	}
	if cfg.Extraction.Timeout == 0 {
		cfg.Extraction.Timeout = 90 * time.Second
	}

	if cfg.Matching.LevenshteinWeight == 0 && cfg.Matching.TokenSortWeight == 0 && cfg.Matching.TokenSetWeight == 0 {
		cfg.Matching.LevenshteinWeight = DefaultLevenshteinWeight
		cfg.Matching.TokenSortWeight = DefaultTokenSortWeight
		cfg.Matching.TokenSetWeight = DefaultTokenSetWeight
	}
	if cfg.Matching.RecordNumberBonus == 0 {
		cfg.Matching.RecordNumberBonus = DefaultRecordNumberBonus
	}
	if cfg.Matching.AutoAssignThreshold == 0 {
		cfg.Matching.AutoAssignThreshold = DefaultAutoAssignThreshold
	}
	if cfg.Matching.ReviewThreshold == 0 {
		cfg.Matching.ReviewThreshold = DefaultReviewThreshold
	}
	if cfg.Matching.TieBandWidth == 0 {
		cfg.Matching.TieBandWidth = DefaultTieBandWidth
	}
	if cfg.Matching.MaxCandidates == 0 {
		cfg.Matching.MaxCandidates = DefaultMaxCandidates
	}

	if cfg.Pipeline.ProcessConcurrency == 0 {
		cfg.Pipeline.ProcessConcurrency = DefaultProcessConcurrency
	}
	if cfg.Pipeline.ParseConcurrency == 0 {
		cfg.Pipeline.ParseConcurrency = DefaultParseConcurrency
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = DefaultMaxRetries
	}
	if cfg.Pipeline.RetryBackoff == 0 {
		cfg.Pipeline.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Pipeline.FileTimeout == 0 {
		cfg.Pipeline.FileTimeout = DefaultFileTimeout
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}
