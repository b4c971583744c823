package ops

import (
	"context"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
)

// removeFromLists drops ids from every cached list of resource and lowers the
// totals accordingly.
func removeFromLists(uc mutation.UpdateContext, resource string, ids []interface{}) {
	updateLists(uc, resource, func(r core.Record) (core.Record, bool) {
		return r, !containsID(ids, r["id"])
	})
}

// Delete declares the delete mutation. The optimistic result is the record as
// it was before the delete.
func Delete(provider core.DataProvider) mutation.Descriptor {
	return mutation.Descriptor{
		Action: "delete",
		Mutate: func(ctx context.Context, params core.Params) (*core.Result, error) {
			return provider.Delete(ctx, params.Resource, params)
		},
		Validate: func(params core.Params) error {
			if params.ID == nil {
				return mutation.MissingParam("delete", "id")
			}
			return nil
		},
		GetQueryKeys: func(params core.Params, mode core.MutationMode) []core.QueryKey {
			return listKeys(params.Resource)
		},
		UpdateCache: func(uc mutation.UpdateContext, params core.Params, result *core.Result) *core.Result {
			var optimistic *core.Result
			if result == nil {
				optimistic = &core.Result{Data: previousRecord(uc.Cache, params, params.ID)}
			}

			removeFromLists(uc, params.Resource, []interface{}{params.ID})

			if optimistic != nil {
				return optimistic
			}
			return result
		},
	}
}

// DeleteMany declares the deleteMany mutation. The result is the list of
// deleted ids.
func DeleteMany(provider core.DataProvider) mutation.Descriptor {
	return mutation.Descriptor{
		Action: "deleteMany",
		Mutate: func(ctx context.Context, params core.Params) (*core.Result, error) {
			return provider.DeleteMany(ctx, params.Resource, params)
		},
		Validate: func(params core.Params) error {
			if len(params.IDs) == 0 {
				return mutation.MissingParam("deleteMany", "ids")
			}
			return nil
		},
		GetQueryKeys: func(params core.Params, mode core.MutationMode) []core.QueryKey {
			return listKeys(params.Resource)
		},
		UpdateCache: func(uc mutation.UpdateContext, params core.Params, result *core.Result) *core.Result {
			ids := params.IDs
			if returned, ok := result.IDs(); ok {
				ids = returned
			}
			removeFromLists(uc, params.Resource, ids)
			return &core.Result{Data: ids}
		},
	}
}
