package service

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/unclebandit/outreach-delivery/internal/model"
)

// DefaultConcurrency bounds simultaneous pipeline runs per cycle.
const DefaultConcurrency = 3

// Deliverer runs one message through the pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, msg *model.QueuedMessage, snap *Snapshot) Outcome
}

// Dispatcher fans a batch out over a bounded number of goroutines.
type Dispatcher struct {
	Pipeline    Deliverer
	Concurrency int
}

// Dispatch blocks until every message has an outcome. Outcomes are returned
// in batch order.
func (d *Dispatcher) Dispatch(ctx context.Context, batch []*model.QueuedMessage, snap *Snapshot) []Outcome {
	outcomes := make([]Outcome, len(batch))
	if len(batch) == 0 {
		return outcomes
	}

	limit := d.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i, msg := range batch {
		g.Go(func() error {
			outcomes[i] = d.Pipeline.Deliver(ctx, msg, snap)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
