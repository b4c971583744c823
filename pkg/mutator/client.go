// Package mutator is the public entry point: a client that owns a query
// cache, a data provider and an undo queue, and hands out the standard
// mutations (create, update, updateMany, delete, deleteMany) bound to them.
//
// Typical usage:
//
//	client, _ := mutator.NewClient(mutator.DefaultConfig())
//	client.Start(ctx)
//	defer client.Close()
//
//	call := client.Update("posts").Mutate(ctx, core.Params{ID: 1, Data: core.Record{"title": "Hi"}})
//	result, err := call.Wait(ctx)
package mutator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/database"
	"github.com/rzpsarthak13/mutator/internal/kvstore"
	"github.com/rzpsarthak13/mutator/internal/mutation"
	"github.com/rzpsarthak13/mutator/internal/ops"
	"github.com/rzpsarthak13/mutator/internal/provider"
	"github.com/rzpsarthak13/mutator/internal/querycache"
	"github.com/rzpsarthak13/mutator/internal/registry"
	"github.com/rzpsarthak13/mutator/internal/undo"
	"github.com/rzpsarthak13/mutator/internal/write"
	"github.com/rzpsarthak13/mutator/internal/writeback"
)

// Action names one of the standard mutations.
type Action string

const (
	ActionCreate     Action = "create"
	ActionUpdate     Action = "update"
	ActionUpdateMany Action = "updateMany"
	ActionDelete     Action = "delete"
	ActionDeleteMany Action = "deleteMany"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	provider core.DataProvider
	store    core.KVStore
	queue    core.WriteBackQueue
}

// WithLogger sets the logger of the client and everything it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithProvider replaces the configured data provider. With the "writebehind"
// provider type it becomes the provider the drainer writes to.
func WithProvider(p core.DataProvider) Option {
	return func(o *options) { o.provider = p }
}

// WithKVStore replaces the configured cache persistence store.
func WithKVStore(store core.KVStore) Option {
	return func(o *options) { o.store = store }
}

// WithWriteBackQueue replaces the configured write-back queue.
func WithWriteBackQueue(queue core.WriteBackQueue) Option {
	return func(o *options) { o.queue = queue }
}

// Client owns the collaborators shared by every mutation.
type Client struct {
	configMgr *registry.ConfigManager
	resources *registry.ResourceRegistry
	logger    *slog.Logger

	cache     *querycache.Cache
	persister *querycache.Persister
	store     core.KVStore
	provider  core.DataProvider
	db        core.Database
	wbQueue   core.WriteBackQueue
	drainer   *writeback.Drainer
	undoQueue *undo.Queue
	confirmer *Confirmer

	mu        sync.Mutex
	mutations map[string]*mutation.Mutation
	started   bool
	closed    bool
}

// NewClient creates a client from config. Environment variables prefixed
// with MUTATOR_ override the file configuration.
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	data, err := yaml.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	configMgr := registry.NewConfigManager()
	if err := configMgr.LoadFromYAML(data); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := configMgr.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	c := &Client{
		configMgr: configMgr,
		resources: registry.NewResourceRegistry(configMgr),
		logger:    o.logger.With("component", "client"),
		undoQueue: undo.NewQueue(),
		mutations: make(map[string]*mutation.Mutation),
	}

	if err := c.initialize(o); err != nil {
		_ = c.release()
		return nil, err
	}
	return c, nil
}

func (c *Client) initialize(o options) error {
	cfg := c.configMgr.GetConfig()

	if err := c.initCache(cfg, o); err != nil {
		return err
	}
	if err := c.initProvider(cfg, o); err != nil {
		return err
	}

	c.confirmer = NewConfirmer(c.undoQueue, ConfirmerConfig{
		UndoWindow: cfg.Mutation.UndoWindow,
		Rate:       cfg.Mutation.ConfirmRate,
	}, o.logger)

	c.logger.Info("client ready", "provider", cfg.Provider.Type,
		"persistence", cfg.Cache.Persistence.Type, "default_mode", cfg.Mutation.DefaultMode)
	return nil
}

func (c *Client) initCache(cfg *registry.InternalConfig, o options) error {
	persistence := cfg.Cache.Persistence
	cacheOpts := []querycache.Option{querycache.WithLogger(o.logger)}

	c.store = o.store
	if c.store == nil && persistence.Type != "" && persistence.Type != "none" {
		store, err := kvstore.Create(kvstore.ConfigFromPersistence(persistence, o.logger))
		if err != nil {
			return fmt.Errorf("failed to create %s store: %w", persistence.Type, err)
		}
		c.store = store
	}
	if c.store != nil {
		c.persister = querycache.NewPersister(c.store, querycache.PersisterConfig{
			Prefix: persistence.Prefix,
			TTL:    persistence.TTL,
			Buffer: write.WriteBufferConfig{
				FlushSize:    persistence.BatchSize,
				FlushTimeout: persistence.FlushInterval,
			},
		}, o.logger)
		cacheOpts = append(cacheOpts, querycache.WithPersister(c.persister))
	}

	cache, err := querycache.New(querycache.Config{
		Capacity:  cfg.Cache.Capacity,
		StaleTime: cfg.Cache.StaleTime,
	}, cacheOpts...)
	if err != nil {
		return fmt.Errorf("failed to create query cache: %w", err)
	}
	c.cache = cache
	return nil
}

func (c *Client) initProvider(cfg *registry.InternalConfig, o options) error {
	backing := o.provider
	if backing == nil {
		switch cfg.Provider.Type {
		case "memory":
			backing = provider.NewMemoryProvider()
		case "mysql", "writebehind":
			db, err := database.NewMySQLDatabase(mysqlConfig(cfg.Database), o.logger)
			if err != nil {
				return err
			}
			c.db = db
			backing = provider.NewSQLProvider(db, c.resources, o.logger)
		default:
			return fmt.Errorf("unsupported provider type: %s", cfg.Provider.Type)
		}
	}

	if cfg.Provider.Type != "writebehind" {
		c.provider = backing
		return nil
	}

	queue := o.queue
	if queue == nil {
		var err error
		if queue, err = c.newWriteBackQueue(cfg, o.logger); err != nil {
			return err
		}
	}
	c.wbQueue = queue

	executor, ok := backing.(writeback.OperationExecutor)
	if !ok {
		executor = provider.Executor{Provider: backing}
	}
	wb := cfg.WriteBack
	c.drainer = writeback.NewDrainer(queue, executor, writeback.DrainerConfig{
		DrainRate:       wb.DrainRate,
		BatchSize:       wb.BatchSize,
		PollInterval:    wb.PollInterval,
		MaxRetries:      wb.MaxRetries,
		RetryBackoff:    wb.RetryBackoffBase,
		RetryBackoffMax: wb.RetryBackoffMax,
	}, o.logger)
	c.provider = provider.NewWriteBehindProvider(queue, backing, o.logger)
	return nil
}

func (c *Client) newWriteBackQueue(cfg *registry.InternalConfig, logger *slog.Logger) (core.WriteBackQueue, error) {
	wb := cfg.WriteBack
	switch wb.QueueType {
	case "", "memory":
		return writeback.NewMemoryQueue(wb.QueueBufferSize), nil
	case "redis":
		lists, ok := c.store.(writeback.ListStore)
		if !ok {
			redisCfg := kvstore.ConfigFromPersistence(cfg.Cache.Persistence, logger)
			redisCfg.Type = "redis"
			store, err := kvstore.NewRedisKVStore(context.Background(), redisCfg)
			if err != nil {
				return nil, err
			}
			lists = store
		}
		return writeback.NewRedisQueue(lists, wb.RedisPrefix, logger)
	case "kafka":
		k := wb.Kafka
		return writeback.NewKafkaQueue(writeback.KafkaQueueConfig{
			Brokers:      k.Brokers,
			Topic:        k.Topic,
			GroupID:      k.GroupID,
			BatchSize:    k.BatchSize,
			BatchTimeout: k.BatchTimeout,
			WriteTimeout: k.WriteTimeout,
			ReadTimeout:  k.ReadTimeout,
			RequiredAcks: k.RequiredAcks,
			MinBytes:     k.MinBytes,
			MaxBytes:     k.MaxBytes,
			MaxWait:      k.MaxWait,
		}, logger)
	default:
		return nil, fmt.Errorf("unsupported write-back queue type: %s", wb.QueueType)
	}
}

func mysqlConfig(db registry.InternalDatabaseConfig) database.MySQLConfig {
	return database.MySQLConfig{
		Host:              db.Host,
		Port:              db.Port,
		Database:          db.Database,
		Username:          db.Username,
		Password:          db.Password,
		MaxOpenConns:      db.MaxOpenConns,
		MaxIdleConns:      db.MaxIdleConns,
		ConnMaxLifetime:   db.ConnMaxLifetime,
		ConnMaxIdleTime:   db.ConnMaxIdleTime,
		ConnectionTimeout: db.ConnectionTimeout,
	}
}

func (c *Client) descriptor(action Action) (mutation.Descriptor, error) {
	switch action {
	case ActionCreate:
		return ops.Create(c.provider), nil
	case ActionUpdate:
		return ops.Update(c.provider), nil
	case ActionUpdateMany:
		return ops.UpdateMany(c.provider), nil
	case ActionDelete:
		return ops.Delete(c.provider), nil
	case ActionDeleteMany:
		return ops.DeleteMany(c.provider), nil
	default:
		return mutation.Descriptor{}, fmt.Errorf("unknown action %q", action)
	}
}

// Mutation returns the mutation of action on resource. Mutations are created
// once per resource with the resource's configured mode; callers customise
// single calls with mutation.CallOption.
func (c *Client) Mutation(action Action, resource string) (*mutation.Mutation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := string(action) + ":" + resource
	if m, ok := c.mutations[id]; ok {
		return m, nil
	}

	desc, err := c.descriptor(action)
	if err != nil {
		return nil, err
	}
	m := mutation.New(c.cache, c.undoQueue, desc, mutation.Options{
		Mode:   c.resources.Mode(resource),
		Params: core.Params{Resource: resource},
	},
		mutation.WithLogger(c.logger),
		mutation.WithUndoableFreshness(c.configMgr.GetConfig().Mutation.UndoableFreshness),
	)
	c.mutations[id] = m
	return m, nil
}

func (c *Client) mustMutation(action Action, resource string) *mutation.Mutation {
	m, err := c.Mutation(action, resource)
	if err != nil {
		// Only reachable with an unknown action.
		panic(err)
	}
	return m
}

// Create returns the create mutation of resource.
func (c *Client) Create(resource string) *mutation.Mutation {
	return c.mustMutation(ActionCreate, resource)
}

// Update returns the update mutation of resource.
func (c *Client) Update(resource string) *mutation.Mutation {
	return c.mustMutation(ActionUpdate, resource)
}

// UpdateMany returns the updateMany mutation of resource.
func (c *Client) UpdateMany(resource string) *mutation.Mutation {
	return c.mustMutation(ActionUpdateMany, resource)
}

// Delete returns the delete mutation of resource.
func (c *Client) Delete(resource string) *mutation.Mutation {
	return c.mustMutation(ActionDelete, resource)
}

// DeleteMany returns the deleteMany mutation of resource.
func (c *Client) DeleteMany(resource string) *mutation.Mutation {
	return c.mustMutation(ActionDeleteMany, resource)
}

// GetOne reads a record through the cache.
func (c *Client) GetOne(ctx context.Context, resource string, id interface{}) (core.Record, error) {
	data, err := c.cache.Fetch(ctx, core.GetOneKey(resource, id), func(ctx context.Context) (interface{}, error) {
		result, err := c.provider.GetOne(ctx, resource, core.Params{Resource: resource, ID: id})
		if err != nil {
			return nil, err
		}
		record, ok := result.Record()
		if !ok {
			return nil, fmt.Errorf("getOne %s %v: provider returned %T", resource, id, result.Data)
		}
		return record, nil
	})
	if err != nil {
		return nil, err
	}
	record, _ := data.(core.Record)
	return record, nil
}

// ListKey returns the cache key GetList stores resource's list under.
func ListKey(resource string) core.QueryKey {
	return core.QueryKey{resource, core.OpGetList, map[string]interface{}{}}
}

// GetList reads every record of resource through the cache.
func (c *Client) GetList(ctx context.Context, resource string) (core.ListData, error) {
	data, err := c.cache.Fetch(ctx, ListKey(resource), func(ctx context.Context) (interface{}, error) {
		result, err := c.provider.GetList(ctx, resource, core.Params{Resource: resource})
		if err != nil {
			return nil, err
		}
		list, ok := result.Data.(core.ListData)
		if !ok {
			return nil, fmt.Errorf("getList %s: provider returned %T", resource, result.Data)
		}
		return list, nil
	})
	if err != nil {
		return core.ListData{}, err
	}
	list, _ := data.(core.ListData)
	return list, nil
}

// Cache returns the query cache.
func (c *Client) Cache() *querycache.Cache {
	return c.cache
}

// UndoQueue returns the queue of undoable mutations awaiting a decision.
func (c *Client) UndoQueue() *undo.Queue {
	return c.undoQueue
}

// Confirmer returns the consumer of the undo queue.
func (c *Client) Confirmer() *Confirmer {
	return c.confirmer
}

// Drainer returns the write-back drainer, or nil unless the provider type is
// "writebehind".
func (c *Client) Drainer() *writeback.Drainer {
	return c.drainer
}

// Start starts the confirmer and, for the write-behind provider, the drainer.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}
	if c.started {
		return nil
	}
	if err := c.confirmer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start confirmer: %w", err)
	}
	if c.drainer != nil {
		if err := c.drainer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start drainer: %w", err)
		}
	}
	c.started = true
	return nil
}

// Stop confirms pending undoable mutations, waits for every mutation in
// flight to settle, then stops the drainer.
func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.started {
		return nil
	}
	c.started = false
	return c.stopLocked()
}

func (c *Client) stopLocked() error {
	var errs []error
	if err := c.confirmer.Stop(); err != nil {
		errs = append(errs, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for id, m := range c.mutations {
		if err := m.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush %s: %w", id, err))
		}
	}

	if c.drainer != nil {
		if err := c.drainer.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close stops the client and releases every connection it opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.started {
		c.started = false
		if err := c.stopLocked(); err != nil {
			errs = append(errs, err)
		}
	} else if err := c.confirmer.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := c.release(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// release closes the undo queue and the connections, in dependency order.
func (c *Client) release() error {
	var errs []error
	c.undoQueue.Close()
	if c.persister != nil {
		errs = append(errs, c.persister.Close())
	}
	if c.wbQueue != nil {
		errs = append(errs, c.wbQueue.Close())
	}
	if c.store != nil {
		errs = append(errs, c.store.Close())
	}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}
