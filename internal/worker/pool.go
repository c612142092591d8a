package worker

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool runs an indexed task over a fixed number of items. Callers write
// results into a slice by index, so output order never depends on
// completion order.
type Pool struct {
	workerCount int
}

type PoolOption func(*Pool)

func WithWorkerCount(n int) PoolOption {
	return func(p *Pool) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// NewPool returns a pool that is sequential unless a worker count above one
// is configured.
func NewPool(opts ...PoolOption) *Pool {
	p := &Pool{workerCount: 1}
	for _, opt := range opts {
		opt(p)
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	return p
}

func (p *Pool) Workers() int {
	return p.workerCount
}

// Run calls fn for every index in [0, n). With one worker the calls happen
// one at a time in index order. Run stops scheduling new indices once ctx is
// done and returns ctx.Err() in that case.
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	if n <= 0 {
		return nil
	}
	if p.workerCount == 1 || n == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			fn(ctx, i)
		}
		return nil
	}

	grp, groupCtx := errgroup.WithContext(ctx)
	grp.SetLimit(p.workerCount)
	for i := 0; i < n; i++ {
		if err := groupCtx.Err(); err != nil {
			break
		}
		i := i
		grp.Go(func() error {
			fn(groupCtx, i)
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}
