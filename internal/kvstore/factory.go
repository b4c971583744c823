package kvstore

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/registry"
)

// KVStoreFactory is the Strategy interface for creating KV store implementations.
// Each backend registers one from its init function.
type KVStoreFactory interface {
	// Create creates a new KV store instance based on the provided configuration.
	Create(config KVStoreConfig) (core.KVStore, error)

	// Type returns the type identifier for this factory (e.g., "redis", "dynamodb").
	Type() string

	// Validate validates the configuration specific to this KV store type.
	Validate(config KVStoreConfig) error
}

// KVStoreConfig represents the configuration needed to create a KV store.
type KVStoreConfig struct {
	Type         string
	Endpoints    []string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// DynamoDB-specific fields
	Region          string
	TableName       string
	Endpoint        string // optional, for LocalStack
	AccessKeyID     string // optional, IAM role otherwise
	SecretAccessKey string

	Logger *slog.Logger
}

func (c KVStoreConfig) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

var (
	factoryRegistry = make(map[string]KVStoreFactory)
	registryMutex   sync.RWMutex
)

// RegisterFactory registers a KV store factory. It panics on a nil factory or
// a duplicate type.
func RegisterFactory(factory KVStoreFactory) {
	if factory == nil {
		panic("factory cannot be nil")
	}
	if factory.Type() == "" {
		panic("factory type cannot be empty")
	}

	registryMutex.Lock()
	defer registryMutex.Unlock()

	if _, exists := factoryRegistry[factory.Type()]; exists {
		panic(fmt.Sprintf("factory for type %q is already registered", factory.Type()))
	}
	factoryRegistry[factory.Type()] = factory
}

// Create creates a KV store instance using the factory registered for config.Type.
func Create(config KVStoreConfig) (core.KVStore, error) {
	if config.Type == "" {
		return nil, fmt.Errorf("kvstore type is required")
	}

	registryMutex.RLock()
	factory, exists := factoryRegistry[config.Type]
	registryMutex.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unsupported KV store type: %s", config.Type)
	}
	if err := factory.Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration for %s: %w", config.Type, err)
	}
	return factory.Create(config)
}

// GetRegisteredTypes returns the registered KV store types, sorted.
func GetRegisteredTypes() []string {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]string, 0, len(factoryRegistry))
	for t := range factoryRegistry {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsTypeRegistered checks if a KV store type is registered.
func IsTypeRegistered(storeType string) bool {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	_, exists := factoryRegistry[storeType]
	return exists
}

// ConfigFromPersistence converts the cache persistence section into a
// KVStoreConfig for Create.
func ConfigFromPersistence(p registry.InternalPersistenceConfig, logger *slog.Logger) KVStoreConfig {
	return KVStoreConfig{
		Type:            p.Type,
		Endpoints:       p.Redis.Endpoints,
		Password:        p.Redis.Password,
		DB:              p.Redis.DB,
		PoolSize:        p.Redis.PoolSize,
		MinIdleConns:    p.Redis.MinIdleConns,
		DialTimeout:     p.DialTimeout,
		ReadTimeout:     p.ReadTimeout,
		WriteTimeout:    p.WriteTimeout,
		Region:          p.DynamoDB.Region,
		TableName:       p.DynamoDB.TableName,
		Endpoint:        p.DynamoDB.Endpoint,
		AccessKeyID:     p.DynamoDB.AccessKeyID,
		SecretAccessKey: p.DynamoDB.SecretAccessKey,
		Logger:          logger,
	}
}
