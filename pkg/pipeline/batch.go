package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ravi-parthasarathy/filtergraph/pkg/raster"
)

// EvaluateBatch runs one independent evaluation per input binding, at most
// workers at a time (workers <= 0 means unbounded). Results are returned in
// input order. The first failure cancels the remaining evaluations.
func (e *Engine) EvaluateBatch(ctx context.Context, inputs []map[NodeID]*raster.Image, workers int) ([]*Result, error) {
	results := make([]*Result, len(inputs))

	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, in := range inputs {
		g.Go(func() error {
			slog.Debug("batch item starting", "index", i)
			res, err := e.Evaluate(gctx, in)
			if err != nil {
				return fmt.Errorf("batch item %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
