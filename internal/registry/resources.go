package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// SchemaLoader discovers the schema of a table.
type SchemaLoader func(ctx context.Context, table string) (*core.Schema, error)

// ResourceMetadata contains what is known about one resource.
type ResourceMetadata struct {
	// Name is the resource name used in query keys.
	Name string

	// Schema is the schema of the backing table, once loaded.
	Schema *core.Schema

	// Config contains the resource configuration with defaults applied.
	Config InternalResourceConfig

	// RegisteredAt is when the resource was first seen.
	RegisteredAt time.Time
}

// ResourceRegistry maps resources to their tables and caches table schemas.
// It is safe for concurrent use.
type ResourceRegistry struct {
	mu        sync.RWMutex
	resources map[string]*ResourceMetadata
	configMgr *ConfigManager
	now       func() time.Time
}

// NewResourceRegistry creates a new resource registry. A nil configMgr uses
// the default configuration.
func NewResourceRegistry(configMgr *ConfigManager) *ResourceRegistry {
	if configMgr == nil {
		configMgr = NewConfigManager()
	}
	return &ResourceRegistry{
		resources: make(map[string]*ResourceMetadata),
		configMgr: configMgr,
		now:       time.Now,
	}
}

// Register records resource with an already known schema. Registering again
// replaces the schema and keeps the registration time.
func (rr *ResourceRegistry) Register(resource string, schema *core.Schema) error {
	if resource == "" {
		return fmt.Errorf("resource name cannot be empty")
	}
	if schema == nil {
		return fmt.Errorf("schema cannot be nil")
	}

	config := rr.configMgr.GetResourceConfig(resource)
	if schema.TableName != config.Table {
		return fmt.Errorf("schema table name %q does not match table %q of resource %q", schema.TableName, config.Table, resource)
	}

	rr.mu.Lock()
	defer rr.mu.Unlock()

	metadata := &ResourceMetadata{
		Name:         resource,
		Schema:       schema,
		Config:       config,
		RegisteredAt: rr.now(),
	}
	if existing, ok := rr.resources[resource]; ok {
		metadata.RegisteredAt = existing.RegisteredAt
	}
	rr.resources[resource] = metadata
	return nil
}

// Schema returns the schema of resource, loading and caching it on first use.
func (rr *ResourceRegistry) Schema(ctx context.Context, resource string, load SchemaLoader) (*core.Schema, error) {
	rr.mu.RLock()
	metadata, ok := rr.resources[resource]
	rr.mu.RUnlock()
	if ok && metadata.Schema != nil {
		return metadata.Schema, nil
	}

	if load == nil {
		return nil, fmt.Errorf("resource %q is not registered", resource)
	}
	schema, err := load(ctx, rr.Table(resource))
	if err != nil {
		return nil, fmt.Errorf("failed to load schema of resource %q: %w", resource, err)
	}
	if err := rr.Register(resource, schema); err != nil {
		return nil, err
	}
	return schema, nil
}

// Table returns the table backing resource.
func (rr *ResourceRegistry) Table(resource string) string {
	return rr.configMgr.GetResourceConfig(resource).Table
}

// Mode returns the default mutation mode configured for resource.
func (rr *ResourceRegistry) Mode(resource string) core.MutationMode {
	mode, err := core.ParseMode(rr.configMgr.GetResourceConfig(resource).Mode)
	if err != nil {
		return core.ModeUnset
	}
	return mode
}

// GetMetadata returns a copy of the metadata of resource.
func (rr *ResourceRegistry) GetMetadata(resource string) (*ResourceMetadata, error) {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	metadata, ok := rr.resources[resource]
	if !ok {
		return nil, fmt.Errorf("resource %q is not registered", resource)
	}
	cp := *metadata
	return &cp, nil
}

// Forget drops the cached schema of resource so that the next use reloads it.
func (rr *ResourceRegistry) Forget(resource string) {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	delete(rr.resources, resource)
}

// List returns the registered resource names, sorted.
func (rr *ResourceRegistry) List() []string {
	rr.mu.RLock()
	defer rr.mu.RUnlock()

	names := make([]string, 0, len(rr.resources))
	for name := range rr.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered resources.
func (rr *ResourceRegistry) Count() int {
	rr.mu.RLock()
	defer rr.mu.RUnlock()
	return len(rr.resources)
}
