// Package config loads and validates service configuration from YAML or TOML
// files with environment-variable overrides. It provides typed structs for
// every subsystem (Server, Postgres, Kafka, Redis, Indexer, Search, CDC, etc.).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config is the top-level service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" toml:"server"`
	Postgres PostgresConfig `yaml:"postgres" toml:"postgres"`
	Kafka    KafkaConfig    `yaml:"kafka" toml:"kafka"`
	Redis    RedisConfig    `yaml:"redis" toml:"redis"`
	Indexer  IndexerConfig  `yaml:"indexer" toml:"indexer"`
	Search   SearchConfig   `yaml:"search" toml:"search"`
	CDC      CDCConfig      `yaml:"cdc" toml:"cdc"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics" toml:"metrics"`
}

// Duration is a time.Duration that decodes from strings such as "30s" in
// both YAML and TOML files.
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("parsing duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port" toml:"port"`
	ReadTimeout     Duration `yaml:"readTimeout" toml:"readTimeout"`
	WriteTimeout    Duration `yaml:"writeTimeout" toml:"writeTimeout"`
	ShutdownTimeout Duration `yaml:"shutdownTimeout" toml:"shutdownTimeout"`
	// RequestTimeout bounds each API request; zero disables the limit.
	RequestTimeout Duration `yaml:"requestTimeout" toml:"requestTimeout"`
	// RateLimitPerMinute is the per-client request budget for the search
	// API. Zero disables rate limiting.
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute" toml:"rateLimitPerMinute"`
	RateLimitBurst     int      `yaml:"rateLimitBurst" toml:"rateLimitBurst"`
	CORSOrigins        []string `yaml:"corsOrigins" toml:"corsOrigins"`
}

// PostgresConfig holds connection parameters for the record table. When
// ConnString is set it takes precedence over the discrete fields.
type PostgresConfig struct {
	Enabled         bool     `yaml:"enabled" toml:"enabled"`
	ConnString      string   `yaml:"connString" toml:"connString"`
	Host            string   `yaml:"host" toml:"host"`
	Port            int      `yaml:"port" toml:"port"`
	Database        string   `yaml:"database" toml:"database"`
	User            string   `yaml:"user" toml:"user"`
	Password        string   `yaml:"password" toml:"password"`
	SSLMode         string   `yaml:"sslMode" toml:"sslMode"`
	Table           string   `yaml:"table" toml:"table"`
	MaxOpenConns    int      `yaml:"maxOpenConns" toml:"maxOpenConns"`
	MaxIdleConns    int      `yaml:"maxIdleConns" toml:"maxIdleConns"`
	ConnMaxLifetime Duration `yaml:"connMaxLifetime" toml:"connMaxLifetime"`
	MaxRetries      int      `yaml:"maxRetries" toml:"maxRetries"`
	// FollowerReadStaleness enables AS OF SYSTEM TIME reads for candidate
	// lookups when positive.
	FollowerReadStaleness Duration `yaml:"followerReadStaleness" toml:"followerReadStaleness"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	if p.ConnString != "" {
		return p.ConnString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings for the changefeed sink.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled" toml:"enabled"`
	Brokers       []string    `yaml:"brokers" toml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup" toml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics" toml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Changefeed string `yaml:"changefeed" toml:"changefeed"`
	DeadLetter string `yaml:"deadLetter" toml:"deadLetter"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Addr     string   `yaml:"addr" toml:"addr"`
	Password string   `yaml:"password" toml:"password"`
	DB       int      `yaml:"db" toml:"db"`
	PoolSize int      `yaml:"poolSize" toml:"poolSize"`
	CacheTTL Duration `yaml:"cacheTTL" toml:"cacheTTL"`
}

// IndexerConfig controls tokenization and change-event handling.
type IndexerConfig struct {
	NgramSize       int  `yaml:"ngramSize" toml:"ngramSize"`
	FoldPunctuation bool `yaml:"foldPunctuation" toml:"foldPunctuation"`
	EnforceOrdering bool `yaml:"enforceOrdering" toml:"enforceOrdering"`
	HydrateOnStart  bool `yaml:"hydrateOnStart" toml:"hydrateOnStart"`
}

// SearchConfig controls query limits and candidate retrieval.
type SearchConfig struct {
	MaxResults      int      `yaml:"maxResults" toml:"maxResults"`
	DefaultLimit    int      `yaml:"defaultLimit" toml:"defaultLimit"`
	Timeout         Duration `yaml:"timeout" toml:"timeout"`
	CandidateSource string   `yaml:"candidateSource" toml:"candidateSource"`
	LocalCacheSize  int      `yaml:"localCacheSize" toml:"localCacheSize"`
}

// CDCConfig names the changefeed columns carrying the record id and text.
type CDCConfig struct {
	IDColumn   string `yaml:"idColumn" toml:"idColumn"`
	TextColumn string `yaml:"textColumn" toml:"textColumn"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
	Port    int  `yaml:"port" toml:"port"`
}

// Load reads a YAML or TOML config file (if provided), picked by extension,
// and applies environment-variable overrides. Missing values keep their
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".toml":
			if err := toml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		case ".yaml", ".yml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		default:
			return nil, fmt.Errorf("config file %s must be .toml, .yaml, or .yml", path)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Indexer.NgramSize < 1 {
		return fmt.Errorf("indexer.ngramSize must be >= 1, got %d", c.Indexer.NgramSize)
	}
	if c.Search.DefaultLimit < 1 || c.Search.MaxResults < 1 {
		return fmt.Errorf("search limits must be positive (defaultLimit=%d, maxResults=%d)",
			c.Search.DefaultLimit, c.Search.MaxResults)
	}
	switch c.Search.CandidateSource {
	case BackendMemory:
	case BackendPostgres:
		if !c.Postgres.Enabled {
			return fmt.Errorf("search.candidateSource %q requires postgres.enabled", c.Search.CandidateSource)
		}
	default:
		return fmt.Errorf("unknown search.candidateSource %q", c.Search.CandidateSource)
	}
	if c.CDC.IDColumn == "" || c.CDC.TextColumn == "" {
		return fmt.Errorf("cdc.idColumn and cdc.textColumn are required")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topics.Changefeed == "") {
		return fmt.Errorf("kafka.enabled requires brokers and topics.changefeed")
	}
	return nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            18080,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
			RequestTimeout:  Duration(10 * time.Second),
			RateLimitBurst:  20,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            26257,
			Database:        "defaultdb",
			User:            "root",
			SSLMode:         "disable",
			Table:           "teams",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(5 * time.Minute),
			MaxRetries:      4,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "trigram-search",
			Topics: KafkaTopics{
				Changefeed: "teams",
				DeadLetter: "teams.rejected",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: Duration(60 * time.Second),
		},
		Indexer: IndexerConfig{
			NgramSize:      3,
			HydrateOnStart: true,
		},
		Search: SearchConfig{
			MaxResults:      100,
			DefaultLimit:    5,
			Timeout:         Duration(5 * time.Second),
			CandidateSource: BackendMemory,
			LocalCacheSize:  1024,
		},
		CDC: CDCConfig{
			IDColumn:   "id",
			TextColumn: "name",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads TG_* environment variables, plus the legacy names
// DB_CONN_STR, MAX_RETRIES, AOST_SECONDS and FLASK_PORT, and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLASK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DB_CONN_STR"); v != "" {
		cfg.Postgres.ConnString = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("TG_POSTGRES_CONN_STRING"); v != "" {
		cfg.Postgres.ConnString = v
		cfg.Postgres.Enabled = true
	}
	if v := os.Getenv("TG_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TG_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TG_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TG_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TG_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TG_POSTGRES_TABLE"); v != "" {
		cfg.Postgres.Table = v
	}
	if v := os.Getenv("MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.MaxRetries = n
		}
	}
	if v := os.Getenv("AOST_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.FollowerReadStaleness = Duration(time.Duration(secs) * time.Second)
		}
	}
	if v := os.Getenv("TG_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("TG_KAFKA_TOPIC"); v != "" {
		cfg.Kafka.Topics.Changefeed = v
	}
	if v := os.Getenv("TG_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("TG_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TG_SEARCH_CANDIDATE_SOURCE"); v != "" {
		cfg.Search.CandidateSource = v
	}
	if v := os.Getenv("TG_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TG_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
