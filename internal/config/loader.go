package config

import (
	"fmt"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// knownKeys lists every leaf configuration key.  Viper only consults
// environment variables for keys it already knows about, so each key is
// registered with a zero default; ApplyDefaults remains the single source of
// real default values.
var knownKeys = []string{
	"server.port", "server.mode", "server.read_timeout", "server.write_timeout",
	"server.max_upload_bytes", "server.shutdown_timeout", "server.admin_header",
	"database.host", "database.port", "database.user", "database.password",
	"database.db_name", "database.ssl_mode", "database.max_conns",
	"database.min_conns", "database.conn_max_lifetime", "database.migration_path",
	"redis.addr", "redis.password", "redis.db", "redis.pool_size",
	"redis.dial_timeout", "redis.read_timeout", "redis.write_timeout",
	"redis.key_prefix", "redis.session_ttl",
	"kafka.brokers", "kafka.topic", "kafka.group_id", "kafka.producer_retries",
	"kafka.batch_timeout", "kafka.enabled",
	"milvus.addr", "milvus.db_name", "milvus.collection", "milvus.embedding_dim",
	"milvus.index_type", "milvus.chunk_size", "milvus.chunk_overlap", "milvus.insert_timeout",
	"minio.endpoint", "minio.access_key", "minio.secret_key", "minio.bucket", "minio.use_ssl",
	"extraction.base_url", "extraction.api_key", "extraction.timeout",
	"matching.levenshtein_weight", "matching.token_sort_weight", "matching.token_set_weight",
	"matching.record_number_bonus", "matching.auto_assign_threshold",
	"matching.review_threshold", "matching.tie_band_width", "matching.max_candidates",
	"pipeline.process_concurrency", "pipeline.parse_concurrency", "pipeline.max_retries",
	"pipeline.retry_backoff", "pipeline.file_timeout",
	"log.level", "log.format", "log.output_paths",
}

// envPrefix is the environment variable prefix used by all pipeline settings.
const envPrefix = "MEDINGEST"

// newViper builds a pre-configured Viper instance: YAML file type, MEDINGEST_
// env prefix, automatic env binding, and a key replacer that maps "." to "_"
// so nested keys like "database.host" resolve to "MEDINGEST_DATABASE_HOST".
func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range knownKeys {
		v.SetDefault(key, nil)
	}
	return v
}

// Load reads the YAML file at configPath, merges MEDINGEST_* environment
// variable overrides, applies defaults for unset fields, and validates the
// result.
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file %q: %w", configPath, err)
	}
	return unmarshalAndFinalize(v)
}

// LoadFromEnv builds a Config entirely from MEDINGEST_* environment variables
// with no config file required, the preferred strategy for containerised
// deployments.
func LoadFromEnv() (*Config, error) {
	return unmarshalAndFinalize(newViper())
}

func unmarshalAndFinalize(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	// Environment values arrive as strings; decode weakly so numeric and
	// boolean settings unmarshal the same way from file and env.
	weak := func(dc *mapstructure.DecoderConfig) { dc.WeaklyTypedInput = true }
	if err := v.Unmarshal(cfg, weak); err != nil {
		return nil, fmt.Errorf("config: failed to unmarshal configuration: %w", err)
	}

	ApplyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

// Watch monitors configPath for changes and invokes onChange with the newly
// parsed Config whenever the file is modified on disk.  Intended for
// hot-reloading non-critical settings such as log level and matcher
// thresholds; callers apply only the safe subset at runtime.  A changed file
// that fails to parse or validate does not trigger onChange.
func Watch(configPath string, onChange func(*Config)) {
	v := newViper()
	v.SetConfigFile(configPath)
	_ = v.ReadInConfig()

	v.WatchConfig()
	v.OnConfigChange(func(_ fsnotify.Event) {
		cfg, err := unmarshalAndFinalize(v)
		if err != nil {
			return
		}
		onChange(cfg)
	})
}

// MustLoad is a convenience wrapper around Load that panics on any error.
// Intended for use in main() where a config-load failure is always fatal.
func MustLoad(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("config: MustLoad failed: %v", err))
	}
	return cfg
}
