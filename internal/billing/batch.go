package billing

import (
	"context"
	"sync/atomic"

	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// JobResult is what a scheduled run reports.
type JobResult struct {
	Processed int
	Failed    int
}

// runBatch applies fn to every record with at most concurrency records in
// flight. A failing or panicking record is logged and counted; it never stops
// the rest of the batch.
func runBatch[T any](ctx context.Context, logger *zap.SugaredLogger, job string, concurrency int, records []T, fn func(context.Context, T) error) JobResult {
	var processed, failed atomic.Int64

	p := pool.New().WithMaxGoroutines(concurrency)
	for _, record := range records {
		p.Go(func() {
			var err error
			var catcher panics.Catcher
			catcher.Try(func() { err = fn(ctx, record) })
			if recovered := catcher.Recovered(); recovered != nil {
				err = recovered.AsError()
			}

			if err != nil {
				failed.Add(1)
				logger.Errorw("scheduled job record failed", "job", job, "record", record, "error", err)
				return
			}
			processed.Add(1)
		})
	}
	p.Wait()

	result := JobResult{Processed: int(processed.Load()), Failed: int(failed.Load())}
	logger.Infow("scheduled job finished", "job", job, "processed", result.Processed, "failed", result.Failed)
	return result
}
