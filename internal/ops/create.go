package ops

import (
	"context"

	"github.com/rzpsarthak13/mutator/internal/core"
	"github.com/rzpsarthak13/mutator/internal/mutation"
)

// Create declares the create mutation.
//
// The created record is written to its getOne entry. An optimistic create
// can only be cached when the submitted data already carries an id; otherwise
// no key is affected until the provider answers.
func Create(provider core.DataProvider) mutation.Descriptor {
	return mutation.Descriptor{
		Action: "create",
		Mutate: func(ctx context.Context, params core.Params) (*core.Result, error) {
			return provider.Create(ctx, params.Resource, params)
		},
		Validate: func(params core.Params) error {
			if params.Data == nil {
				return mutation.MissingParam("create", "data")
			}
			return nil
		},
		GetQueryKeys: func(params core.Params, mode core.MutationMode) []core.QueryKey {
			id, ok := params.Data.ID()
			if !ok {
				return nil
			}
			return []core.QueryKey{core.GetOneKey(params.Resource, id)}
		},
		UpdateCache: func(uc mutation.UpdateContext, params core.Params, result *core.Result) *core.Result {
			record := params.Data
			if result != nil {
				rec, ok := result.Record()
				if !ok {
					return result
				}
				record = rec
			}

			id, ok := record.ID()
			if !ok {
				return &core.Result{Data: record}
			}
			uc.Cache.SetQueryData(core.GetOneKey(params.Resource, id), core.Set(record), uc.SetOptions)
			return &core.Result{Data: record}
		},
	}
}
