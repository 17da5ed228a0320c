package aggregate

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"storeledger/backend/internal/domain"
)

// Runner executes AggregateAllStores off the calling goroutine when a worker
// slot is free. Both paths call the same function, so their results are
// identical.
type Runner struct {
	slots       chan struct{}
	parallelism int
	logger      logrus.FieldLogger

	// aggregate is swapped in tests to exercise the fallback path.
	aggregate func(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) *domain.StoreResult
}

// NewRunner creates a runner with the given number of worker slots. Zero
// disables the worker path.
func NewRunner(workers int, logger logrus.FieldLogger) *Runner {
	if workers < 0 {
		workers = 0
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	r := &Runner{
		parallelism: 4,
		logger:      logger.WithField("module", "aggregate.runner"),
		aggregate:   AggregateStore,
	}
	if workers > 0 {
		r.slots = make(chan struct{}, workers)
	}
	return r
}

func (r *Runner) AggregateAll(ctx context.Context, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) (*domain.StoreResults, error) {
	if r.slots == nil {
		return r.runSync(data, settings, daysInMonth)
	}

	select {
	case r.slots <- struct{}{}:
	default:
		r.logger.Debug("no free worker slot, aggregating inline")
		return r.runSync(data, settings, daysInMonth)
	}

	type outcome struct {
		results *domain.StoreResults
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() { <-r.slots }()
		res, err := r.runParallel(ctx, data, settings, daysInMonth)
		done <- outcome{results: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case out := <-done:
		if out.err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			r.logger.WithError(out.err).Warn("worker aggregation failed, falling back to inline")
			return r.runSync(data, settings, daysInMonth)
		}
		return out.results, nil
	}
}

// runSync aggregates on the calling goroutine. A panic in any store is
// returned as an error.
func (r *Runner) runSync(data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) (*domain.StoreResults, error) {
	if data == nil {
		return domain.NewStoreResults(0), nil
	}
	out := domain.NewStoreResults(len(data.Stores))
	for _, s := range data.Stores {
		res, err := r.aggregateStore(s.ID, data, settings, daysInMonth)
		if err != nil {
			return nil, err
		}
		out.Put(res)
	}
	return out, nil
}

func (r *Runner) aggregateStore(storeID string, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) (res *domain.StoreResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res, err = nil, fmt.Errorf("aggregate store %s: panic: %v", storeID, rec)
		}
	}()
	return r.aggregate(storeID, data, settings, daysInMonth), nil
}

func (r *Runner) runParallel(ctx context.Context, data *domain.ImportedData, settings domain.AppSettings, daysInMonth int) (*domain.StoreResults, error) {
	if data == nil {
		return domain.NewStoreResults(0), nil
	}
	indexed := make([]*domain.StoreResult, len(data.Stores))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, s := range data.Stores {
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.aggregateStore(s.ID, data, settings, daysInMonth)
			if err != nil {
				return err
			}
			indexed[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := domain.NewStoreResults(len(indexed))
	for _, res := range indexed {
		out.Put(res)
	}
	return out, nil
}
