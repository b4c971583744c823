package ops

import (
	"context"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
)

// updateKeys are the keys an update of id may touch.
func updateKeys(resource string, ids ...interface{}) []core.QueryKey {
	keys := make([]core.QueryKey, 0, len(ids)+len(listOps))
	for _, id := range ids {
		keys = append(keys, core.GetOneKey(resource, id))
	}
	return append(keys, listKeys(resource)...)
}

// applyUpdate merges patches (by id) into the getOne entries and every cached
// list of resource.
func applyUpdate(uc mutation.UpdateContext, resource string, patches map[string]core.Record, ids []interface{}) {
	for _, id := range ids {
		patch := patches[keyOf(id)]
		uc.Cache.SetQueryData(core.GetOneKey(resource, id), func(old interface{}, exists bool) interface{} {
			prev, _ := asRecord(old)
			return merge(prev, patch)
		}, uc.SetOptions)
	}

	updateLists(uc, resource, func(r core.Record) (core.Record, bool) {
		if patch, ok := patches[keyOf(r["id"])]; ok {
			return merge(r, patch), true
		}
		return r, true
	})
}

// Update declares the update mutation.
//
// The optimistic result is the previous record merged with params.Data. The
// provider result, when it is a record, replaces the cached record fields.
func Update(provider core.DataProvider) mutation.Descriptor {
	return mutation.Descriptor{
		Action: "update",
		Mutate: func(ctx context.Context, params core.Params) (*core.Result, error) {
			return provider.Update(ctx, params.Resource, params)
		},
		Validate: func(params core.Params) error {
			if params.ID == nil {
				return mutation.MissingParam("update", "id")
			}
			if params.Data == nil {
				return mutation.MissingParam("update", "data")
			}
			return nil
		},
		GetQueryKeys: func(params core.Params, mode core.MutationMode) []core.QueryKey {
			return updateKeys(params.Resource, params.ID)
		},
		UpdateCache: func(uc mutation.UpdateContext, params core.Params, result *core.Result) *core.Result {
			patch := params.Data
			if rec, ok := result.Record(); ok {
				patch = rec
			}

			var optimistic *core.Result
			if result == nil {
				prev := previousRecord(uc.Cache, params, params.ID)
				optimistic = &core.Result{Data: merge(prev, patch)}
			}

			applyUpdate(uc, params.Resource, map[string]core.Record{keyOf(params.ID): patch}, []interface{}{params.ID})

			if optimistic != nil {
				return optimistic
			}
			return result
		},
	}
}

// UpdateMany declares the updateMany mutation. The result is the list of
// updated ids.
func UpdateMany(provider core.DataProvider) mutation.Descriptor {
	return mutation.Descriptor{
		Action: "updateMany",
		Mutate: func(ctx context.Context, params core.Params) (*core.Result, error) {
			return provider.UpdateMany(ctx, params.Resource, params)
		},
		Validate: func(params core.Params) error {
			if len(params.IDs) == 0 {
				return mutation.MissingParam("updateMany", "ids")
			}
			if params.Data == nil {
				return mutation.MissingParam("updateMany", "data")
			}
			return nil
		},
		GetQueryKeys: func(params core.Params, mode core.MutationMode) []core.QueryKey {
			return updateKeys(params.Resource, params.IDs...)
		},
		UpdateCache: func(uc mutation.UpdateContext, params core.Params, result *core.Result) *core.Result {
			ids := params.IDs
			if returned, ok := result.IDs(); ok {
				ids = returned
			}

			patches := make(map[string]core.Record, len(ids))
			for _, id := range ids {
				patches[keyOf(id)] = params.Data
			}
			applyUpdate(uc, params.Resource, patches, ids)

			return &core.Result{Data: ids}
		},
	}
}
