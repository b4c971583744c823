// Package ops declares the standard mutations (create, update, updateMany,
// delete, deleteMany) as mutation descriptors over a core.DataProvider.
package ops

import (
	"fmt"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
)

// listOps are the read operations whose cached data holds several records.
var listOps = []string{core.OpGetList, core.OpGetMany, core.OpGetManyRef, core.OpGetInfiniteList}

// listKeys returns one prefix per list operation of resource.
func listKeys(resource string) []core.QueryKey {
	keys := make([]core.QueryKey, 0, len(listOps))
	for _, op := range listOps {
		keys = append(keys, core.ListKey(resource, op))
	}
	return keys
}

// keyOf normalizes an id the way query keys do, so 1 and "1" are equal.
func keyOf(id interface{}) string {
	return fmt.Sprint(id)
}

func sameID(a, b interface{}) bool {
	return keyOf(a) == keyOf(b)
}

func containsID(ids []interface{}, id interface{}) bool {
	for _, candidate := range ids {
		if sameID(candidate, id) {
			return true
		}
	}
	return false
}

// merge returns a new record holding base overridden by every field of patch.
func merge(base, patch core.Record) core.Record {
	out := make(core.Record, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

func asRecord(v interface{}) (core.Record, bool) {
	switch r := v.(type) {
	case core.Record:
		return r, true
	case map[string]interface{}:
		return core.Record(r), true
	}
	return nil, false
}

// mapRecords applies fn to every record of cached list data. fn returns the
// replacement record and whether the record is kept; totals drop by the
// number of records removed.
func mapRecords(data interface{}, fn func(core.Record) (core.Record, bool)) interface{} {
	apply := func(records []core.Record) ([]core.Record, int) {
		out := make([]core.Record, 0, len(records))
		removed := 0
		for _, r := range records {
			next, keep := fn(r)
			if !keep {
				removed++
				continue
			}
			out = append(out, next)
		}
		return out, removed
	}

	switch d := data.(type) {
	case core.ListData:
		records, removed := apply(d.Data)
		return core.ListData{Data: records, Total: max(d.Total-removed, 0)}
	case *core.ListData:
		if d == nil {
			return d
		}
		records, removed := apply(d.Data)
		return &core.ListData{Data: records, Total: max(d.Total-removed, 0)}
	case []core.ListData:
		pages := make([]core.ListData, len(d))
		removedTotal := 0
		for i, page := range d {
			records, removed := apply(page.Data)
			removedTotal += removed
			pages[i] = core.ListData{Data: records, Total: page.Total}
		}
		// Every page carries the grand total.
		for i := range pages {
			pages[i].Total = max(pages[i].Total-removedTotal, 0)
		}
		return pages
	case []core.Record:
		records, _ := apply(d)
		return records
	case []interface{}:
		out := make([]interface{}, 0, len(d))
		for _, item := range d {
			r, ok := asRecord(item)
			if !ok {
				out = append(out, item)
				continue
			}
			if next, keep := fn(r); keep {
				out = append(out, next)
			}
		}
		return out
	default:
		return data
	}
}

// updateLists rewrites every cached list of resource with fn.
func updateLists(uc mutation.UpdateContext, resource string, fn func(core.Record) (core.Record, bool)) {
	for _, prefix := range listKeys(resource) {
		for _, entry := range uc.Cache.GetQueriesData(prefix) {
			uc.Cache.SetQueryData(entry.Key, func(old interface{}, exists bool) interface{} {
				if !exists {
					return nil
				}
				return mapRecords(old, fn)
			}, uc.SetOptions)
		}
	}
}

// cachedRecord returns the getOne entry of id, if cached.
func cachedRecord(cache core.QueryCache, resource string, id interface{}) (core.Record, bool) {
	v, ok := cache.GetQueryData(core.GetOneKey(resource, id))
	if !ok {
		return nil, false
	}
	return asRecord(v)
}

// previousRecord finds the last known state of a record: the caller supplied
// PreviousData, then the getOne entry, then any cached list holding it.
func previousRecord(cache core.QueryCache, params core.Params, id interface{}) core.Record {
	if params.PreviousData != nil && (params.ID == nil || sameID(params.ID, id)) {
		return params.PreviousData
	}
	if rec, ok := cachedRecord(cache, params.Resource, id); ok {
		return rec
	}
	var found core.Record
	for _, prefix := range listKeys(params.Resource) {
		for _, entry := range cache.GetQueriesData(prefix) {
			mapRecords(entry.Data, func(r core.Record) (core.Record, bool) {
				if found == nil && sameID(r["id"], id) {
					found = r
				}
				return r, true
			})
			if found != nil {
				return found
			}
		}
	}
	return nil
}
