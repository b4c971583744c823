package registry

import (
	"time"
)

// InternalConfig represents the internal configuration structure.
// It mirrors the public mutator.Config so that this package does not import it.
type InternalConfig struct {
	Cache     InternalCacheConfig               `yaml:"cache" json:"cache"`
	Provider  InternalProviderConfig            `yaml:"provider" json:"provider"`
	Database  InternalDatabaseConfig            `yaml:"database" json:"database"`
	WriteBack InternalWriteBackConfig           `yaml:"writeback" json:"writeback"`
	Mutation  InternalMutationConfig            `yaml:"mutation" json:"mutation"`
	Resources map[string]InternalResourceConfig `yaml:"resources,omitempty" json:"resources,omitempty"`
}

// InternalCacheConfig configures the query cache.
type InternalCacheConfig struct {
	Capacity    int                       `yaml:"capacity" json:"capacity"`
	StaleTime   time.Duration             `yaml:"stale_time" json:"stale_time"`
	Persistence InternalPersistenceConfig `yaml:"persistence" json:"persistence"`
}

// InternalPersistenceConfig selects the KV store mirroring cache entries.
// Type is one of "none", "memory", "redis" or "dynamodb".
type InternalPersistenceConfig struct {
	Type          string                 `yaml:"type" json:"type"`
	Prefix        string                 `yaml:"prefix,omitempty" json:"prefix,omitempty"`
	TTL           time.Duration          `yaml:"ttl,omitempty" json:"ttl,omitempty"`
	FlushInterval time.Duration          `yaml:"flush_interval,omitempty" json:"flush_interval,omitempty"`
	BatchSize     int                    `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	DialTimeout   time.Duration          `yaml:"dial_timeout,omitempty" json:"dial_timeout,omitempty"`
	ReadTimeout   time.Duration          `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`
	WriteTimeout  time.Duration          `yaml:"write_timeout,omitempty" json:"write_timeout,omitempty"`
	Redis         InternalRedisConfig    `yaml:"redis,omitempty" json:"redis,omitempty"`
	DynamoDB      InternalDynamoDBConfig `yaml:"dynamodb,omitempty" json:"dynamodb,omitempty"`
}

// InternalRedisConfig contains Redis-specific configuration.
type InternalRedisConfig struct {
	Endpoints    []string `yaml:"endpoints" json:"endpoints"`
	Password     string   `yaml:"password,omitempty" json:"password,omitempty"`
	DB           int      `yaml:"db,omitempty" json:"db,omitempty"`
	PoolSize     int      `yaml:"pool_size,omitempty" json:"pool_size,omitempty"`
	MinIdleConns int      `yaml:"min_idle_conns,omitempty" json:"min_idle_conns,omitempty"`
}

// InternalDynamoDBConfig contains DynamoDB-specific configuration.
type InternalDynamoDBConfig struct {
	Region          string `yaml:"region" json:"region"`
	TableName       string `yaml:"table_name" json:"table_name"`
	Endpoint        string `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" json:"secret_access_key,omitempty"`
}

// InternalProviderConfig selects the remote executor: "memory", "mysql" or
// "writebehind" (MySQL reads, queued writes).
type InternalProviderConfig struct {
	Type string `yaml:"type" json:"type"`
}

// InternalDatabaseConfig contains configuration for the MySQL database.
type InternalDatabaseConfig struct {
	Host              string        `yaml:"host" json:"host"`
	Port              int           `yaml:"port" json:"port"`
	Database          string        `yaml:"database" json:"database"`
	Username          string        `yaml:"username" json:"username"`
	Password          string        `yaml:"password,omitempty" json:"password,omitempty"`
	MaxOpenConns      int           `yaml:"max_open_conns,omitempty" json:"max_open_conns,omitempty"`
	MaxIdleConns      int           `yaml:"max_idle_conns,omitempty" json:"max_idle_conns,omitempty"`
	ConnMaxLifetime   time.Duration `yaml:"conn_max_lifetime,omitempty" json:"conn_max_lifetime,omitempty"`
	ConnMaxIdleTime   time.Duration `yaml:"conn_max_idle_time,omitempty" json:"conn_max_idle_time,omitempty"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout,omitempty" json:"connection_timeout,omitempty"`
}

// InternalWriteBackConfig configures the write-behind queue and its drainer.
type InternalWriteBackConfig struct {
	QueueType        string              `yaml:"queue_type" json:"queue_type"`
	QueueBufferSize  int                 `yaml:"queue_buffer_size" json:"queue_buffer_size"`
	RedisPrefix      string              `yaml:"redis_prefix,omitempty" json:"redis_prefix,omitempty"`
	BatchSize        int                 `yaml:"batch_size" json:"batch_size"`
	DrainRate        int                 `yaml:"drain_rate" json:"drain_rate"` // DB writes per second
	MaxRetries       int                 `yaml:"max_retries" json:"max_retries"`
	RetryBackoffBase time.Duration       `yaml:"retry_backoff_base" json:"retry_backoff_base"`
	RetryBackoffMax  time.Duration       `yaml:"retry_backoff_max" json:"retry_backoff_max"`
	PollInterval     time.Duration       `yaml:"poll_interval" json:"poll_interval"`
	Kafka            InternalKafkaConfig `yaml:"kafka" json:"kafka"`
}

// InternalKafkaConfig contains Kafka-specific configuration.
type InternalKafkaConfig struct {
	Brokers      []string      `yaml:"brokers" json:"brokers"`
	Topic        string        `yaml:"topic" json:"topic"`
	GroupID      string        `yaml:"group_id" json:"group_id"`
	BatchSize    int           `yaml:"batch_size" json:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout" json:"batch_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	RequiredAcks int           `yaml:"required_acks" json:"required_acks"`
	MinBytes     int           `yaml:"min_bytes" json:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes" json:"max_bytes"`
	MaxWait      time.Duration `yaml:"max_wait" json:"max_wait"`
}

// InternalMutationConfig holds engine defaults.
type InternalMutationConfig struct {
	DefaultMode       string        `yaml:"default_mode" json:"default_mode"`
	UndoableFreshness time.Duration `yaml:"undoable_freshness" json:"undoable_freshness"`
	UndoWindow        time.Duration `yaml:"undo_window" json:"undo_window"`
	ConfirmRate       float64       `yaml:"confirm_rate" json:"confirm_rate"` // confirms per second
}

// InternalResourceConfig contains per-resource overrides.
type InternalResourceConfig struct {
	// Table is the backing table; defaults to the resource name.
	Table string `yaml:"table,omitempty" json:"table,omitempty"`

	// Mode is the default mutation mode of the resource's hooks.
	Mode string `yaml:"mode,omitempty" json:"mode,omitempty"`
}
