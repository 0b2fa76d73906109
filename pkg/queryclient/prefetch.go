package queryclient

import (
	"context"
	"sync"

	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/workerpool"
)

// Prefetch registers (or reuses) key through fetch/opts, waits for its
// initial hydration attempt, then syncs it: when nothing is cached or the
// cached data has expired it blocks until the fetch completes, and stale
// data is refreshed in the background. The entry is never returned —
// the SSR/cache-warming shape: populate the cache, let a later UseQuery
// call pick up what's already there.
func Prefetch[TRaw, TData any](ctx context.Context, c *QueryClient, key qkey.Key, fetch query.FetchFunc[TRaw], opts query.Options[TRaw, TData]) error {
	q := UseQuery(c, key, fetch, opts)
	if err := q.WaitHydrated(ctx); err != nil {
		return err
	}
	return q.Sync(ctx, false)
}

// PrefetchJob is one unit of work for PrefetchMany: a closure over a
// single Prefetch call, type-erased so jobs of differing TRaw/TData can
// share one fan-out. Callers build these with a small wrapper, e.g.
//
//	func() error { return queryclient.Prefetch(ctx, c, key, fetch, opts) }
type PrefetchJob func(ctx context.Context) error

// PrefetchMany runs every job with at most concurrency fetches in
// flight at once, using a bounded workerpool.Pool so a large prefetch
// list can't stampede the backing store or the upstream API. It waits
// for every job to finish and returns the first non-nil error
// encountered, if any, after all jobs have run.
func PrefetchMany(ctx context.Context, concurrency int, jobs []PrefetchJob) error {
	if len(jobs) == 0 {
		return nil
	}

	pool := workerpool.New(concurrency)
	defer pool.Shutdown()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, job := range jobs {
		job := job
		wg.Add(1)
		if err := pool.SubmitWait(func() {
			defer wg.Done()
			if err := job(ctx); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}); err != nil {
			wg.Done()
			mu.Lock()
			if firstErr == nil {
				firstErr = err
			}
			mu.Unlock()
		}
	}

	wg.Wait()
	return firstErr
}
