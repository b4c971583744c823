package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/write"
)

// Kinds of persisted data, so Hydrate can restore the Go types the ops
// updaters expect.
const (
	kindRecord  = "record"
	kindRecords = "records"
	kindList    = "list"
	kindPages   = "pages"
	kindValue   = "value"
)

// PersisterConfig tunes a Persister.
type PersisterConfig struct {
	// Prefix namespaces the stored keys.
	Prefix string

	// TTL is the expiry of stored entries. Zero keeps them forever.
	TTL time.Duration

	// Buffer configures the batching write buffer.
	Buffer write.WriteBufferConfig
}

// persistedEntry is the stored form of one cache entry.
type persistedEntry struct {
	Key       core.QueryKey   `json:"key"`
	Kind      string          `json:"kind"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Persister mirrors cache writes into a KV store (Redis, DynamoDB) so that a
// restarted process can hydrate its cache. Writes go through a WriteBuffer and
// never block the cache.
type Persister struct {
	store  core.KVStore
	buffer *write.WriteBuffer
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

// NewPersister creates a Persister writing to store.
func NewPersister(store core.KVStore, cfg PersisterConfig, logger *slog.Logger) *Persister {
	if cfg.Prefix == "" {
		cfg.Prefix = "qc"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Persister{
		store:  store,
		buffer: write.NewWriteBuffer(store, cfg.Buffer, logger),
		prefix: cfg.Prefix,
		ttl:    cfg.TTL,
		logger: logger.With("component", "querycache_persister"),
	}
}

func (p *Persister) storeKey(key core.QueryKey) string {
	return fmt.Sprintf("%s:%s", p.prefix, key.Hash())
}

func (p *Persister) save(e *entry) {
	value, err := encodeEntry(e)
	if err != nil {
		p.logger.Warn("entry not persisted", "key", e.key.String(), "error", err)
		return
	}
	w := &write.BufferedWrite{Key: p.storeKey(e.key), Value: value, TTL: p.ttl}
	if err := p.buffer.Write(context.Background(), w); err != nil {
		p.logger.Warn("entry not persisted", "key", e.key.String(), "error", err)
	}
}

func (p *Persister) remove(key core.QueryKey) {
	w := &write.BufferedWrite{Key: p.storeKey(key), Delete: true}
	if err := p.buffer.Write(context.Background(), w); err != nil {
		p.logger.Warn("entry removal not persisted", "key", key.String(), "error", err)
	}
}

// load reads the stored copy of key.
func (p *Persister) load(ctx context.Context, key core.QueryKey) (*entry, bool, error) {
	raw, err := p.store.Get(ctx, p.storeKey(key))
	if errors.Is(err, core.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	e, err := decodeEntry(raw)
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}

// Flush writes every buffered change to the store.
func (p *Persister) Flush(ctx context.Context) error {
	return p.buffer.Flush(ctx)
}

// Close flushes and stops the write buffer. The store itself is not closed.
func (p *Persister) Close() error {
	return p.buffer.Close()
}

// Hydrate loads the persisted copies of keys into the cache. Keys already
// cached are left alone. It returns the number of entries loaded.
func (c *Cache) Hydrate(ctx context.Context, keys ...core.QueryKey) (int, error) {
	if c.persister == nil {
		return 0, nil
	}

	loaded := 0
	for _, key := range keys {
		e, ok, err := c.persister.load(ctx, key)
		if err != nil {
			return loaded, fmt.Errorf("failed to hydrate %s: %w", key, err)
		}
		if !ok {
			continue
		}

		c.mu.Lock()
		hash := key.Hash()
		if !c.entries.Contains(hash) {
			e.key = key
			c.entries.Add(hash, e)
			loaded++
		}
		c.mu.Unlock()
	}
	return loaded, nil
}

func encodeEntry(e *entry) ([]byte, error) {
	kind := kindValue
	switch d := e.data.(type) {
	case core.Record, map[string]interface{}:
		kind = kindRecord
	case []core.Record:
		kind = kindRecords
	case core.ListData:
		kind = kindList
	case []core.ListData:
		kind = kindPages
	case *core.ListData:
		if d != nil {
			kind = kindList
		}
	}

	data, err := json.Marshal(e.data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return json.Marshal(persistedEntry{Key: e.key, Kind: kind, Data: data, UpdatedAt: e.updatedAt})
}

func decodeEntry(raw []byte) (*entry, error) {
	var pe persistedEntry
	if err := json.Unmarshal(raw, &pe); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	var (
		data interface{}
		err  error
	)
	switch pe.Kind {
	case kindRecord:
		var r core.Record
		err = json.Unmarshal(pe.Data, &r)
		data = r
	case kindRecords:
		var rs []core.Record
		err = json.Unmarshal(pe.Data, &rs)
		data = rs
	case kindList:
		var l core.ListData
		err = json.Unmarshal(pe.Data, &l)
		data = l
	case kindPages:
		var pages []core.ListData
		err = json.Unmarshal(pe.Data, &pages)
		data = pages
	default:
		err = json.Unmarshal(pe.Data, &data)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache entry data: %w", err)
	}

	return &entry{key: pe.Key, data: data, updatedAt: pe.UpdatedAt}, nil
}
