package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// ConfigValidator is the Strategy interface for validating the persistence
// section of the configuration. Each KV store backend registers its own.
type ConfigValidator interface {
	// Validate validates the backend-specific part of config.
	Validate(config *InternalConfig) error

	// Type returns the persistence type this validator handles (e.g., "redis").
	Type() string
}

var (
	validatorRegistry      = make(map[string]ConfigValidator)
	validatorRegistryMutex sync.RWMutex
)

// RegisterValidator registers a config validator. It is called from the
// init function of each backend and panics on a nil validator or duplicate type.
func RegisterValidator(validator ConfigValidator) {
	if validator == nil {
		panic("validator cannot be nil")
	}
	if validator.Type() == "" {
		panic("validator type cannot be empty")
	}

	validatorRegistryMutex.Lock()
	defer validatorRegistryMutex.Unlock()

	if _, exists := validatorRegistry[validator.Type()]; exists {
		panic(fmt.Sprintf("validator for type %q is already registered", validator.Type()))
	}
	validatorRegistry[validator.Type()] = validator
}

// GetValidator retrieves a validator by type.
func GetValidator(validatorType string) (ConfigValidator, bool) {
	validatorRegistryMutex.RLock()
	defer validatorRegistryMutex.RUnlock()

	validator, exists := validatorRegistry[validatorType]
	return validator, exists
}

// ConfigManager handles loading and managing configuration from various sources.
type ConfigManager struct {
	config *InternalConfig
}

// NewConfigManager creates a new configuration manager with default configuration.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{
		config: DefaultInternalConfig(),
	}
}

// DefaultInternalConfig returns a configuration that runs entirely in memory.
func DefaultInternalConfig() *InternalConfig {
	return &InternalConfig{
		Cache: InternalCacheConfig{
			Capacity:  10000,
			StaleTime: 0,
			Persistence: InternalPersistenceConfig{
				Type:          "none",
				Prefix:        "qc",
				TTL:           time.Hour,
				FlushInterval: 100 * time.Millisecond,
				BatchSize:     100,
				DialTimeout:   5 * time.Second,
				ReadTimeout:   3 * time.Second,
				WriteTimeout:  3 * time.Second,
				Redis: InternalRedisConfig{
					Endpoints:    []string{"localhost:6379"},
					PoolSize:     10,
					MinIdleConns: 5,
				},
			},
		},
		Provider: InternalProviderConfig{
			Type: "memory",
		},
		Database: InternalDatabaseConfig{
			Host:              "localhost",
			Port:              3306,
			MaxOpenConns:      25,
			MaxIdleConns:      5,
			ConnMaxLifetime:   5 * time.Minute,
			ConnMaxIdleTime:   10 * time.Minute,
			ConnectionTimeout: 10 * time.Second,
		},
		WriteBack: InternalWriteBackConfig{
			QueueType:        "memory",
			QueueBufferSize:  10000,
			RedisPrefix:      "wbq",
			BatchSize:        1,
			DrainRate:        50,
			MaxRetries:       3,
			RetryBackoffBase: time.Second,
			RetryBackoffMax:  30 * time.Second,
			PollInterval:     100 * time.Millisecond,
			Kafka: InternalKafkaConfig{
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
		Mutation: InternalMutationConfig{
			DefaultMode:       string(core.ModePessimistic),
			UndoableFreshness: 5 * time.Second,
			UndoWindow:        5 * time.Second,
			ConfirmRate:       50,
		},
		Resources: make(map[string]InternalResourceConfig),
	}
}

// LoadFromFile loads configuration from a YAML or JSON file, chosen by extension.
func (cm *ConfigManager) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".yaml", ".yml":
		return cm.LoadFromYAML(data)
	case ".json":
		return cm.LoadFromJSON(data)
	default:
		return fmt.Errorf("unsupported config file format: %s (supported: .yaml, .yml, .json)", ext)
	}
}

// LoadFromYAML loads configuration from YAML data over the defaults.
func (cm *ConfigManager) LoadFromYAML(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromJSON loads configuration from JSON data over the defaults.
func (cm *ConfigManager) LoadFromJSON(data []byte) error {
	config := DefaultInternalConfig()
	if len(data) > 0 {
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	}
	return cm.apply(config)
}

// LoadFromEnv overlays MUTATOR_<SECTION>_<KEY> environment variables on the
// current configuration. Examples:
//   - MUTATOR_PROVIDER_TYPE=mysql
//   - MUTATOR_CACHE_PERSISTENCE_TYPE=redis
//   - MUTATOR_CACHE_REDIS_ENDPOINTS=localhost:6379,localhost:6380
//   - MUTATOR_DATABASE_PORT=3306
//   - MUTATOR_MUTATION_DEFAULT_MODE=undoable
func (cm *ConfigManager) LoadFromEnv() error {
	config := *cm.config
	env := envReader{}

	env.intVar("MUTATOR_CACHE_CAPACITY", &config.Cache.Capacity)
	env.durationVar("MUTATOR_CACHE_STALE_TIME", &config.Cache.StaleTime)
	env.stringVar("MUTATOR_CACHE_PERSISTENCE_TYPE", &config.Cache.Persistence.Type)
	env.stringVar("MUTATOR_CACHE_PERSISTENCE_PREFIX", &config.Cache.Persistence.Prefix)
	env.durationVar("MUTATOR_CACHE_PERSISTENCE_TTL", &config.Cache.Persistence.TTL)
	env.listVar("MUTATOR_CACHE_REDIS_ENDPOINTS", &config.Cache.Persistence.Redis.Endpoints)
	env.stringVar("MUTATOR_CACHE_REDIS_PASSWORD", &config.Cache.Persistence.Redis.Password)
	env.intVar("MUTATOR_CACHE_REDIS_DB", &config.Cache.Persistence.Redis.DB)
	env.intVar("MUTATOR_CACHE_REDIS_POOL_SIZE", &config.Cache.Persistence.Redis.PoolSize)
	env.stringVar("MUTATOR_CACHE_DYNAMODB_REGION", &config.Cache.Persistence.DynamoDB.Region)
	env.stringVar("MUTATOR_CACHE_DYNAMODB_TABLE_NAME", &config.Cache.Persistence.DynamoDB.TableName)
	env.stringVar("MUTATOR_CACHE_DYNAMODB_ENDPOINT", &config.Cache.Persistence.DynamoDB.Endpoint)

	env.stringVar("MUTATOR_PROVIDER_TYPE", &config.Provider.Type)

	env.stringVar("MUTATOR_DATABASE_HOST", &config.Database.Host)
	env.intVar("MUTATOR_DATABASE_PORT", &config.Database.Port)
	env.stringVar("MUTATOR_DATABASE_DATABASE", &config.Database.Database)
	env.stringVar("MUTATOR_DATABASE_USERNAME", &config.Database.Username)
	env.stringVar("MUTATOR_DATABASE_PASSWORD", &config.Database.Password)
	env.intVar("MUTATOR_DATABASE_MAX_OPEN_CONNS", &config.Database.MaxOpenConns)
	env.intVar("MUTATOR_DATABASE_MAX_IDLE_CONNS", &config.Database.MaxIdleConns)

	env.stringVar("MUTATOR_WRITEBACK_QUEUE_TYPE", &config.WriteBack.QueueType)
	env.intVar("MUTATOR_WRITEBACK_BATCH_SIZE", &config.WriteBack.BatchSize)
	env.intVar("MUTATOR_WRITEBACK_DRAIN_RATE", &config.WriteBack.DrainRate)
	env.intVar("MUTATOR_WRITEBACK_MAX_RETRIES", &config.WriteBack.MaxRetries)
	env.listVar("MUTATOR_WRITEBACK_KAFKA_BROKERS", &config.WriteBack.Kafka.Brokers)
	env.stringVar("MUTATOR_WRITEBACK_KAFKA_TOPIC", &config.WriteBack.Kafka.Topic)

	env.stringVar("MUTATOR_MUTATION_DEFAULT_MODE", &config.Mutation.DefaultMode)
	env.durationVar("MUTATOR_MUTATION_UNDOABLE_FRESHNESS", &config.Mutation.UndoableFreshness)
	env.durationVar("MUTATOR_MUTATION_UNDO_WINDOW", &config.Mutation.UndoWindow)
	env.floatVar("MUTATOR_MUTATION_CONFIRM_RATE", &config.Mutation.ConfirmRate)

	if err := env.err(); err != nil {
		return err
	}
	return cm.apply(&config)
}

// GetConfig returns the current internal configuration.
func (cm *ConfigManager) GetConfig() *InternalConfig {
	return cm.config
}

// GetResourceConfig returns the overrides of resource with defaults filled in.
func (cm *ConfigManager) GetResourceConfig(resource string) InternalResourceConfig {
	rc := cm.config.Resources[resource]
	if rc.Table == "" {
		rc.Table = resource
	}
	if rc.Mode == "" {
		rc.Mode = cm.config.Mutation.DefaultMode
	}
	return rc
}

func (cm *ConfigManager) apply(config *InternalConfig) error {
	if err := validateConfig(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Resources == nil {
		config.Resources = make(map[string]InternalResourceConfig)
	}
	cm.config = config
	return nil
}

// validateConfig validates config. The persistence section is delegated to
// the validator registered for its type.
func validateConfig(config *InternalConfig) error {
	if config.Cache.Capacity <= 0 {
		return fmt.Errorf("cache.capacity must be greater than 0")
	}
	if config.Cache.StaleTime < 0 {
		return fmt.Errorf("cache.stale_time must be non-negative")
	}

	switch persistence := config.Cache.Persistence.Type; persistence {
	case "", "none":
	default:
		validator, exists := GetValidator(persistence)
		if !exists {
			return fmt.Errorf("unsupported cache persistence type: %s", persistence)
		}
		if err := validator.Validate(config); err != nil {
			return fmt.Errorf("cache persistence validation failed: %w", err)
		}
	}

	switch config.Provider.Type {
	case "memory":
	case "mysql":
		if err := validateDatabase(config.Database); err != nil {
			return err
		}
	case "writebehind":
		if err := validateDatabase(config.Database); err != nil {
			return err
		}
		if err := validateWriteBack(config.WriteBack); err != nil {
			return err
		}
	default:
		return fmt.Errorf("provider.type must be 'memory', 'mysql' or 'writebehind'")
	}

	if _, err := core.ParseMode(config.Mutation.DefaultMode); err != nil {
		return fmt.Errorf("mutation.default_mode: %w", err)
	}
	if config.Mutation.UndoableFreshness < 0 {
		return fmt.Errorf("mutation.undoable_freshness must be non-negative")
	}
	if config.Mutation.UndoWindow < 0 {
		return fmt.Errorf("mutation.undo_window must be non-negative")
	}
	if config.Mutation.ConfirmRate < 0 {
		return fmt.Errorf("mutation.confirm_rate must be non-negative")
	}

	for name, rc := range config.Resources {
		if rc.Mode == "" {
			continue
		}
		if _, err := core.ParseMode(rc.Mode); err != nil {
			return fmt.Errorf("resources.%s.mode: %w", name, err)
		}
	}
	return nil
}

func validateDatabase(db InternalDatabaseConfig) error {
	if db.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if db.Port <= 0 || db.Port > 65535 {
		return fmt.Errorf("database.port must be between 1 and 65535")
	}
	if db.Database == "" {
		return fmt.Errorf("database.database is required")
	}
	if db.Username == "" {
		return fmt.Errorf("database.username is required")
	}
	if db.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be greater than 0")
	}
	return nil
}

func validateWriteBack(wb InternalWriteBackConfig) error {
	if wb.BatchSize <= 0 {
		return fmt.Errorf("writeback.batch_size must be greater than 0")
	}
	if wb.DrainRate <= 0 {
		return fmt.Errorf("writeback.drain_rate must be greater than 0")
	}
	if wb.MaxRetries < 0 {
		return fmt.Errorf("writeback.max_retries must be non-negative")
	}

	switch wb.QueueType {
	case "memory", "redis":
	case "kafka":
		if len(wb.Kafka.Brokers) == 0 {
			return fmt.Errorf("writeback.kafka.brokers is required when queue_type is 'kafka'")
		}
		if wb.Kafka.Topic == "" {
			return fmt.Errorf("writeback.kafka.topic is required when queue_type is 'kafka'")
		}
	default:
		return fmt.Errorf("writeback.queue_type must be 'memory', 'redis', or 'kafka'")
	}
	return nil
}

// envReader collects the first malformed variable while overlaying values.
type envReader struct {
	firstErr error
}

func (e *envReader) fail(name string, err error) {
	if e.firstErr == nil {
		e.firstErr = fmt.Errorf("invalid %s: %w", name, err)
	}
}

func (e *envReader) err() error {
	return e.firstErr
}

func (e *envReader) stringVar(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func (e *envReader) listVar(name string, dst *[]string) {
	if val := os.Getenv(name); val != "" {
		parts := strings.Split(val, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		*dst = parts
	}
}

func (e *envReader) intVar(name string, dst *int) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = n
}

func (e *envReader) floatVar(name string, dst *float64) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = f
}

func (e *envReader) durationVar(name string, dst *time.Duration) {
	val := os.Getenv(name)
	if val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		e.fail(name, err)
		return
	}
	*dst = d
}
