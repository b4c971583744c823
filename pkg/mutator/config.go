package mutator

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the root configuration of a mutator client.
type Config struct {
	// Cache configures the query cache and its optional persistence.
	Cache CacheConfig `yaml:"cache" json:"cache"`

	// Provider selects the data provider mutations are sent to.
	Provider ProviderConfig `yaml:"provider" json:"provider"`

	// Database contains configuration for the MySQL database used by the
	// "mysql" and "writebehind" providers.
	Database DatabaseConfig `yaml:"database" json:"database"`

	// WriteBack configures the queue and drainer of the "writebehind" provider.
	WriteBack WriteBackConfig `yaml:"writeback" json:"writeback"`

	// Mutation contains engine defaults.
	Mutation MutationConfig `yaml:"mutation" json:"mutation"`

	// Resources contains resource-specific overrides. A resource that is not
	// listed maps to the table of the same name and uses the default mode.
	Resources map[string]ResourceConfig `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// CacheConfig configures the query cache.
type CacheConfig struct {
	// Capacity is the maximum number of cached queries.
	Capacity int `yaml:"capacity" json:"capacity"`

	// StaleTime is how long a cached query is served without refetching.
	StaleTime time.Duration `yaml:"stale_time" json:"stale_time"`

	// Persistence mirrors cached queries into a KV store.
	Persistence PersistenceConfig `yaml:"persistence" json:"persistence"`
}

// PersistenceConfig selects the KV store that mirrors cached queries.
type PersistenceConfig struct {
	// Type is one of "none", "memory", "redis" or "dynamodb".
	Type string `yaml:"type" json:"type"`

	// Prefix namespaces the stored keys.
	Prefix string `yaml:"prefix,omitempty" json:"prefix,omitempty"`

	// TTL is the expiry of stored entries.
	TTL time.Duration `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// FlushInterval is the longest a change waits in the write buffer.
	FlushInterval time.Duration `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`

	// BatchSize is the number of buffered changes that triggers a flush.
	BatchSize int `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`

	// DialTimeout is the timeout for establishing connections.
	DialTimeout time.Duration `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`

	// ReadTimeout is the timeout for read operations.
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// WriteTimeout is the timeout for write operations.
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`

	// Redis is used by the "redis" type, and by the Redis write-back queue.
	Redis RedisConfig `yaml:"redis,omitempty" json:"redis,omitempty"`

	// DynamoDB is used by the "dynamodb" type.
	DynamoDB DynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	// Endpoints is a list of Redis endpoints. Only the first one is used.
	Endpoints []string `yaml:"endpoints" json:"endpoints"`

	// Password is the authentication password for Redis.
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// DB is the Redis database number (0-15).
	DB int `yaml:"db,omitempty" json:"db,omitempty"`

	// PoolSize is the connection pool size.
	PoolSize int `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`

	// MinIdleConns is the minimum number of idle connections in the pool.
	MinIdleConns int `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// DynamoDBConfig contains DynamoDB settings.
type DynamoDBConfig struct {
	Region    string `yaml:"region" json:"region"`
	TableName string `yaml:"table_name" json:"table_name"`

	// Endpoint overrides the AWS endpoint, e.g. for LocalStack.
	Endpoint string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`

	// AccessKeyID and SecretAccessKey are optional; the default AWS
	// credential chain is used otherwise.
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// ProviderConfig selects the data provider.
type ProviderConfig struct {
	// Type is "memory", "mysql", or "writebehind" (MySQL reads, queued writes).
	Type string `yaml:"type" json:"type"`
}

// DatabaseConfig contains configuration for the MySQL database.
type DatabaseConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Database string `yaml:"database" json:"database"`
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// MaxOpenConns is the maximum number of open connections to the database.
	MaxOpenConns int `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`

	// ConnMaxLifetime is the maximum amount of time a connection may be reused.
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`

	// ConnMaxIdleTime is the maximum amount of time a connection may be idle.
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`

	// ConnectionTimeout is the timeout for establishing database connections.
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// WriteBackConfig configures write-behind processing.
type WriteBackConfig struct {
	// QueueType specifies the queue implementation: "memory", "redis" or "kafka".
	QueueType string `yaml:"queue_type" json:"queue_type"`

	// QueueBufferSize bounds the in-memory queue.
	QueueBufferSize int `yaml:"queue_buffer_size" json:"queue_buffer_size"`

	// RedisPrefix namespaces the Redis queue list.
	RedisPrefix string `yaml:"redis_prefix,omitempty" json:"redis_prefix,omitempty"`

	// BatchSize is how many operations the drainer dequeues at once.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// DrainRate is the maximum number of database writes per second.
	DrainRate int `yaml:"drain_rate" json:"drain_rate"`

	// MaxRetries is the maximum number of retries of a failed write.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// RetryBackoffBase is the base duration for exponential backoff retries.
	RetryBackoffBase time.Duration `yaml:"retry_backoff_base" json:"retry_backoff_base"`

	// RetryBackoffMax is the maximum duration for exponential backoff retries.
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max" json:"retry_backoff_max"`

	// PollInterval is how long the drainer sleeps on an empty queue.
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`

	// Kafka is used when QueueType is "kafka".
	Kafka KafkaConfig `yaml:"kafka" json:"kafka"`
}

// KafkaConfig contains configuration for the Kafka queue.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Topic        string        `yaml:"topic" json:"topic"`
	GroupID      string        `yaml:"group_id" json:"group_id"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks"` // 0, 1, or -1 (all)
	MinBytes     int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait      time.Duration `yaml:"max_wait" json:"max_wait"`
}

// MutationConfig contains engine defaults.
type MutationConfig struct {
	// DefaultMode is "pessimistic", "optimistic" or "undoable".
	DefaultMode string `yaml:"default_mode" json:"default_mode"`

	// UndoableFreshness is how long undoable writes suppress refetches.
	UndoableFreshness time.Duration `yaml:"undoable_freshness" json:"undoable_freshness"`

	// UndoWindow is how long an undoable mutation waits before it is
	// confirmed automatically.
	UndoWindow time.Duration `yaml:"undo_window" json:"undo_window"`

	// ConfirmRate limits automatic confirmations per second.
	ConfirmRate float64 `yaml:"confirm_rate" json:"confirm_rate"`
}

// ResourceConfig contains resource-specific overrides.
type ResourceConfig struct {
	// Table is the backing table. Defaults to the resource name.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// Mode overrides Mutation.DefaultMode for the resource.
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`
}

// DefaultConfig returns a configuration that runs entirely in memory.
func DefaultConfig() *Config {
	return &Config{
		Cache: CacheConfig{
			Capacity: 10000,
			Persistence: PersistenceConfig{
				Type:          "none",
				Prefix:        "qc",
				TTL:           time.Hour,
				FlushInterval: 100 * time.Millisecond,
				BatchSize:     100,
				DialTimeout:   5 * time.Second,
				ReadTimeout:   3 * time.Second,
				WriteTimeout:  3 * time.Second,
				Redis: RedisConfig{
					Endpoints:    []string{"localhost:6379"},
					PoolSize:     10,
					MinIdleConns: 5,
				},
			},
		},
		Provider: ProviderConfig{Type: "memory"},
		Database: DatabaseConfig{
			Host:              "localhost",
			Port:              3306,
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		WriteBack: WriteBackConfig{
			QueueType:        "memory",
			QueueBufferSize:  10000,
			RedisPrefix:      "wbq",
			BatchSize:        1, // one at a time for precise rate limiting
			DrainRate:        50,
			MaxRetries:       3,
			RetryBackoffBase: time.Second,
			RetryBackoffMax:  30 * time.Second,
			PollInterval:     100 * time.Millisecond,
			Kafka: KafkaConfig{
				Brokers:      []string{"localhost:9092"},
				Topic:        "mutator-writeback",
				GroupID:      "mutator-writeback",
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
				ReadTimeout:  time.Second,
				RequiredAcks: -1,
				MinBytes:     1,
				MaxBytes:     10 * 1024 * 1024,
				MaxWait:      100 * time.Millisecond,
			},
		},
		Mutation: MutationConfig{
			DefaultMode:       "pessimistic",
			UndoableFreshness: 5 * time.Second,
			UndoWindow:        5 * time.Second,
			ConfirmRate:       50,
		},
		Resources: make(map[string]ResourceConfig),
	}
}

// LoadConfig reads a YAML file over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return cfg, nil
}
