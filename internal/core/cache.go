package core

import (
	"context"
	"time"
)

// Updater computes the new value of a cache entry from its current value.
// exists is false when the entry is not cached.
type Updater func(old interface{}, exists bool) interface{}

// SetOptions tunes a cache write.
type SetOptions struct {
	// UpdatedAt is the freshness timestamp recorded with the write.
	// A timestamp in the future keeps the entry fresh until then, which
	// suppresses background refetches. Zero means now.
	UpdatedAt time.Time

	// Invalidated stores the entry already marked stale.
	Invalidated bool
}

// QueryEntry is one cached (key, value) pair.
type QueryEntry struct {
	Key         QueryKey
	Data        interface{}
	UpdatedAt   time.Time
	Invalidated bool
}

// QueryCache is the client-side key/value cache the mutation engine keeps
// consistent with the remote executor.
//
// Implementations must be safe for concurrent use. Writes are reducer style:
// the updater runs under the implementation's lock so that two writers never
// interleave on the same key.
type QueryCache interface {
	// GetQueryData returns the value cached under the exact key.
	GetQueryData(key QueryKey) (interface{}, bool)

	// GetQueriesData returns every cached entry whose key matches prefix.
	GetQueriesData(prefix QueryKey) []QueryEntry

	// SetQueryData applies updater to the entry stored under key.
	// When the entry does not exist and the updater returns nil, nothing is stored.
	SetQueryData(key QueryKey, updater Updater, opts SetOptions)

	// RemoveQueryData drops the entry stored under key.
	RemoveQueryData(key QueryKey)

	// InvalidateQueries marks every entry matching prefix as stale so that the
	// next read refetches it from the remote executor.
	InvalidateQueries(prefix QueryKey)

	// CancelQueries cancels in-flight reads whose key matches prefix.
	// The results of cancelled reads are discarded.
	CancelQueries(ctx context.Context, prefix QueryKey) error
}

// Set returns an Updater that replaces the entry with value.
func Set(value interface{}) Updater {
	return func(interface{}, bool) interface{} { return value }
}
