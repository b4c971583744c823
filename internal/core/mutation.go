package core

import "fmt"

// MutationMode governs the ordering of the cache write and the remote call.
type MutationMode string

const (
	// ModeUnset means no mode was chosen at this level.
	ModeUnset MutationMode = ""

	// ModePessimistic calls the remote executor first and writes the cache on success.
	ModePessimistic MutationMode = "pessimistic"

	// ModeOptimistic writes the cache first, calls the remote executor immediately
	// and rolls the cache back on failure.
	ModeOptimistic MutationMode = "optimistic"

	// ModeUndoable writes the cache first and parks the remote call in the undo
	// queue until it is confirmed or cancelled.
	ModeUndoable MutationMode = "undoable"
)

// ResolveMode picks the first mode that is set, falling back to pessimistic.
func ResolveMode(modes ...MutationMode) MutationMode {
	for _, m := range modes {
		if m != ModeUnset {
			return m
		}
	}
	return ModePessimistic
}

// ParseMode converts a configuration or query-string value into a MutationMode.
// The empty string parses to ModeUnset.
func ParseMode(s string) (MutationMode, error) {
	switch m := MutationMode(s); m {
	case ModeUnset, ModePessimistic, ModeOptimistic, ModeUndoable:
		return m, nil
	default:
		return ModeUnset, fmt.Errorf("unknown mutation mode %q", s)
	}
}

// IsDeferred reports whether the cache is written before the remote result is known.
func (m MutationMode) IsDeferred() bool {
	return m == ModeOptimistic || m == ModeUndoable
}

// Record is a single resource record as exchanged with the remote executor.
type Record map[string]interface{}

// ID returns the record identifier.
func (r Record) ID() (interface{}, bool) {
	id, ok := r["id"]
	return id, ok && id != nil
}

// ListData is the cached shape of list queries (getList, getManyReference).
// Infinite lists cache one ListData per loaded page, as []ListData.
type ListData struct {
	Data  []Record `json:"data"`
	Total int      `json:"total"`
}

// Params is the typed parameter object of one mutation.
type Params struct {
	Resource     string
	ID           interface{}
	IDs          []interface{}
	Data         Record
	PreviousData Record
	Meta         map[string]interface{}
}

// Merge returns p overridden by every non-zero field of override.
// Maps and slices are replaced as a whole, never merged field by field.
func (p Params) Merge(override Params) Params {
	merged := p
	if override.Resource != "" {
		merged.Resource = override.Resource
	}
	if override.ID != nil {
		merged.ID = override.ID
	}
	if override.IDs != nil {
		merged.IDs = override.IDs
	}
	if override.Data != nil {
		merged.Data = override.Data
	}
	if override.PreviousData != nil {
		merged.PreviousData = override.PreviousData
	}
	if override.Meta != nil {
		merged.Meta = override.Meta
	}
	return merged
}

// Clone returns a deep copy of p, detached from the caller's maps and slices.
func (p Params) Clone() Params {
	c := p
	c.ID = Clone(p.ID)
	if p.IDs != nil {
		c.IDs = Clone(p.IDs).([]interface{})
	}
	c.Data = cloneRecord(p.Data)
	c.PreviousData = cloneRecord(p.PreviousData)
	if p.Meta != nil {
		c.Meta = map[string]interface{}(cloneRecord(Record(p.Meta)))
	}
	return c
}

// Result is the payload returned by the remote executor, or synthesized by a
// cache updater as an optimistic result.
type Result struct {
	Data interface{}
	Meta map[string]interface{}
}

// Record returns the result data as a record when it is one.
func (r *Result) Record() (Record, bool) {
	if r == nil {
		return nil, false
	}
	switch d := r.Data.(type) {
	case Record:
		return d, true
	case map[string]interface{}:
		return Record(d), true
	}
	return nil, false
}

// IDs returns the result data as an id list when it is one.
func (r *Result) IDs() ([]interface{}, bool) {
	if r == nil {
		return nil, false
	}
	ids, ok := r.Data.([]interface{})
	return ids, ok
}
