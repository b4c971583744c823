// Package snapshot captures the cached values a mutation is about to touch so
// that they can be restored if the mutation fails or is undone.
package snapshot

import (
	"time"

	"github.com/rzpsarthak13/mutator/internal/core"
)

// Pair is one captured cache entry together with its freshness. Absent pairs
// record that the key was not cached at capture time; restoring them removes
// the entry.
type Pair struct {
	Key         core.QueryKey
	Data        interface{}
	UpdatedAt   time.Time
	Invalidated bool
	Absent      bool
}

// Snapshot is an ordered list of captured pairs plus the keys that were
// declared when it was taken. A Snapshot is immutable once captured.
type Snapshot struct {
	keys  []core.QueryKey
	pairs []Pair
}

// Capture records every cached entry matched by any of keys.
//
// Each declared key is used as a prefix: all entries it matches are captured.
// When the declared key itself has no cached entry an absent pair is added for
// it, so that a later restore removes whatever the mutation wrote there.
// Values are deep-copied so later in-place changes cannot leak into the snapshot.
func Capture(cache core.QueryCache, keys []core.QueryKey) *Snapshot {
	snap := &Snapshot{keys: make([]core.QueryKey, len(keys))}
	copy(snap.keys, keys)

	seen := make(map[string]struct{})
	for _, key := range keys {
		for _, entry := range cache.GetQueriesData(key) {
			h := entry.Key.Hash()
			if _, dup := seen[h]; dup {
				continue
			}
			seen[h] = struct{}{}
			snap.pairs = append(snap.pairs, Pair{
				Key:         entry.Key,
				Data:        core.Clone(entry.Data),
				UpdatedAt:   entry.UpdatedAt,
				Invalidated: entry.Invalidated,
			})
		}

		h := key.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		if _, ok := cache.GetQueryData(key); !ok {
			seen[h] = struct{}{}
			snap.pairs = append(snap.pairs, Pair{Key: key, Absent: true})
		}
	}
	return snap
}

// Restore writes every captured pair back into cache in capture order.
//
// Values are written verbatim (a fresh copy each time, so the snapshot can be
// restored more than once) with the UpdatedAt and invalidated flag they had
// when captured, so a key that was stale before the mutation is stale again.
// Writes made to the same keys since the capture are overwritten without
// detection.
func Restore(cache core.QueryCache, snap *Snapshot) {
	if snap == nil {
		return
	}
	for _, p := range snap.pairs {
		if p.Absent {
			cache.RemoveQueryData(p.Key)
			continue
		}
		cache.SetQueryData(p.Key, core.Set(core.Clone(p.Data)), core.SetOptions{
			UpdatedAt:   p.UpdatedAt,
			Invalidated: p.Invalidated,
		})
	}
}

// Keys returns the keys declared at capture time.
func (s *Snapshot) Keys() []core.QueryKey {
	if s == nil {
		return nil
	}
	out := make([]core.QueryKey, len(s.keys))
	copy(out, s.keys)
	return out
}

// Pairs returns a copy of the captured pairs.
func (s *Snapshot) Pairs() []Pair {
	if s == nil {
		return nil
	}
	out := make([]Pair, len(s.pairs))
	copy(out, s.pairs)
	return out
}

// Len returns the number of captured pairs.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.pairs)
}
