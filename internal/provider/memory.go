package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// MemoryProvider is an in-process core.DataProvider. Records are kept per
// resource in insertion order and always handed out as copies.
type MemoryProvider struct {
	mu        sync.RWMutex
	resources map[string]*memoryTable
}

type memoryTable struct {
	order   []string
	records map[string]core.Record
}

// NewMemoryProvider creates an empty provider.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{resources: make(map[string]*memoryTable)}
}

var _ core.DataProvider = (*MemoryProvider)(nil)

func idKey(id interface{}) string {
	return fmt.Sprint(id)
}

func (m *MemoryProvider) table(resource string) *memoryTable {
	t, ok := m.resources[resource]
	if !ok {
		t = &memoryTable{records: make(map[string]core.Record)}
		m.resources[resource] = t
	}
	return t
}

func copyRecord(r core.Record) core.Record {
	return core.Clone(r).(core.Record)
}

// Seed stores records as they are, replacing any with the same id.
func (m *MemoryProvider) Seed(resource string, records ...core.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(resource)
	for _, r := range records {
		id, ok := r.ID()
		if !ok {
			continue
		}
		t.put(idKey(id), copyRecord(r))
	}
}

func (t *memoryTable) put(key string, r core.Record) {
	if _, exists := t.records[key]; !exists {
		t.order = append(t.order, key)
	}
	t.records[key] = r
}

func (t *memoryTable) remove(key string) (core.Record, bool) {
	r, ok := t.records[key]
	if !ok {
		return nil, false
	}
	delete(t.records, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
	return r, true
}

// GetOne returns the record params.ID.
func (m *MemoryProvider) GetOne(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("getOne", params.ID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.resources[resource]
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", resource, params.ID, ErrNotFound)
	}
	r, ok := t.records[idKey(params.ID)]
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", resource, params.ID, ErrNotFound)
	}
	return &core.Result{Data: copyRecord(r)}, nil
}

// GetList returns every record of resource in insertion order.
func (m *MemoryProvider) GetList(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := core.ListData{Data: []core.Record{}}
	if t, ok := m.resources[resource]; ok {
		for _, key := range t.order {
			list.Data = append(list.Data, copyRecord(t.records[key]))
		}
	}
	list.Total = len(list.Data)
	return &core.Result{Data: list}, nil
}

// Create stores params.Data. A record without an id is given a random UUID.
func (m *MemoryProvider) Create(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if params.Data == nil {
		return nil, fmt.Errorf("create: data is required")
	}

	record := copyRecord(params.Data)
	if _, ok := record.ID(); !ok {
		record["id"] = uuid.NewString()
	}
	id, _ := record.ID()

	m.mu.Lock()
	defer m.mu.Unlock()

	t := m.table(resource)
	key := idKey(id)
	if _, exists := t.records[key]; exists {
		return nil, fmt.Errorf("create: %s %v already exists", resource, id)
	}
	t.put(key, record)
	return &core.Result{Data: copyRecord(record)}, nil
}

// Update merges params.Data into the record params.ID.
func (m *MemoryProvider) Update(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("update", params.ID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	updated, err := m.updateLocked(resource, params.ID, params.Data)
	if err != nil {
		return nil, err
	}
	return &core.Result{Data: copyRecord(updated)}, nil
}

func (m *MemoryProvider) updateLocked(resource string, id interface{}, data core.Record) (core.Record, error) {
	t, ok := m.resources[resource]
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
	}
	key := idKey(id)
	current, ok := t.records[key]
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
	}

	updated := merge(current, copyRecord(data))
	updated["id"] = current["id"]
	t.records[key] = updated
	return updated, nil
}

// UpdateMany merges params.Data into every record of params.IDs. Missing
// records fail the whole call before anything is changed.
func (m *MemoryProvider) UpdateMany(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireIDs("updateMany", params.IDs); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkExistLocked(resource, params.IDs); err != nil {
		return nil, err
	}
	for _, id := range params.IDs {
		if _, err := m.updateLocked(resource, id, params.Data); err != nil {
			return nil, err
		}
	}
	return &core.Result{Data: append([]interface{}(nil), params.IDs...)}, nil
}

// Delete removes the record params.ID and returns it.
func (m *MemoryProvider) Delete(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireID("delete", params.ID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.resources[resource]
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", resource, params.ID, ErrNotFound)
	}
	previous, ok := t.remove(idKey(params.ID))
	if !ok {
		return nil, fmt.Errorf("%s %v: %w", resource, params.ID, ErrNotFound)
	}
	return &core.Result{Data: previous}, nil
}

// DeleteMany removes every record of params.IDs. Ids that do not exist are
// ignored.
func (m *MemoryProvider) DeleteMany(ctx context.Context, resource string, params core.Params) (*core.Result, error) {
	if err := requireIDs("deleteMany", params.IDs); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if t, ok := m.resources[resource]; ok {
		for _, id := range params.IDs {
			t.remove(idKey(id))
		}
	}
	return &core.Result{Data: append([]interface{}(nil), params.IDs...)}, nil
}

// ExecuteWriteOperation applies a drained write-back operation.
func (m *MemoryProvider) ExecuteWriteOperation(ctx context.Context, op *core.WriteOperation) error {
	return Apply(ctx, m, op)
}

func (m *MemoryProvider) checkExistLocked(resource string, ids []interface{}) error {
	t, ok := m.resources[resource]
	for _, id := range ids {
		if !ok {
			return fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
		}
		if _, exists := t.records[idKey(id)]; !exists {
			return fmt.Errorf("%s %v: %w", resource, id, ErrNotFound)
		}
	}
	return nil
}
