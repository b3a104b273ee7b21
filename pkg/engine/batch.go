package engine

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// SubmitAll submits a batch of operations, at most maxParallel at a time
// (unbounded when maxParallel <= 0). The batch runs level by level following
// NewBatchPlan: operations on overlapping subtrees keep their batch order and
// the operations of one level run concurrently.
//
// results[i] belongs to ops[i]. The returned error is the first error
// returned by Submit; later levels are then not started and their results
// stay nil. Operation failures are reported in the results only.
func (c *Controller) SubmitAll(ctx context.Context, ops []model.Operation, maxParallel int) ([]*Result, error) {
	results := make([]*Result, len(ops))
	plan := NewBatchPlan(ops)

	for level, indexes := range plan.levels {
		c.logger.Debug().
			Int("level", level).
			Int("operations", len(indexes)).
			Msg("Submitting batch level")

		var g errgroup.Group
		if maxParallel > 0 {
			g.SetLimit(maxParallel)
		}
		for _, i := range indexes {
			g.Go(func() error {
				res, err := c.Submit(ctx, ops[i])
				results[i] = res
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return results, err
		}
	}
	return results, nil
}
