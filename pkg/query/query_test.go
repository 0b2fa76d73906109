package query_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/signal"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitHydrated[TRaw, TData any](t *testing.T, q *query.Query[TRaw, TData]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitHydrated(ctx))
}

func TestInitCacheMissTriggersRefetch(t *testing.T) {
	var calls int32
	fetch := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "hello", nil
	}
	opts := query.NewOptions(query.Identity[string])

	q := query.New(store.NewMemoryStore(), qkey.New("greeting"), fetch, opts, 5*time.Minute, 30*time.Minute)
	waitHydrated(t, q)

	// the refetch after a cache miss runs in a goroutine; wait briefly
	require.Eventually(t, func() bool {
		_, ok := q.Data()
		return ok
	}, time.Second, time.Millisecond)

	data, ok := q.Data()
	assert.True(t, ok)
	assert.Equal(t, "hello", data)
	assert.Equal(t, query.StatusSuccess, q.Status())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}

func TestRefetchDeduplicatesConcurrentCallers(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	fetch := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		<-block
		return "v", nil
	}
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false // skip auto-refetch on init so we control timing

	q := query.New(store.NewMemoryStore(), qkey.New("dedupe"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	done := make(chan struct{}, 2)
	go func() { q.Refetch(context.Background()); done <- struct{}{} }()
	go func() { q.Refetch(context.Background()); done <- struct{}{} }()

	time.Sleep(20 * time.Millisecond)
	close(block)
	<-done
	<-done

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRefetchTimeout(t *testing.T) {
	fetch := func(fc query.FetchContext) (string, error) {
		<-fc.Ctx.Done()
		return "", fc.Ctx.Err()
	}
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false
	opts.RequestTimeout = 10 * time.Millisecond

	q := query.New(store.NewMemoryStore(), qkey.New("slow"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	_, err := q.Refetch(context.Background())
	require.Error(t, err)
	var qerr *qerror.QueryError
	require.True(t, errors.As(err, &qerr))
	assert.Equal(t, qerror.KindTimeout, qerr.Kind)
	assert.Equal(t, query.StatusError, q.Status())
}

func TestSetDataOptimisticWrite(t *testing.T) {
	fetch := func(fc query.FetchContext) (string, error) { return "from-fetch", nil }
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false

	q := query.New(store.NewMemoryStore(), qkey.New("opt"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	require.NoError(t, q.SetData(context.Background(), "manual"))
	data, ok := q.Data()
	assert.True(t, ok)
	assert.Equal(t, "manual", data)
	assert.Equal(t, query.StatusSuccess, q.Status())
}

func TestInvalidateMarksStaleAndRefetches(t *testing.T) {
	var calls int32
	fetch := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	opts := query.NewOptions(query.Identity[string])

	q := query.New(store.NewMemoryStore(), qkey.New("inv"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)
	// Invalidate refetches only enabled queries; this one fetches once on
	// its cache miss, so wait for that fetch to settle first
	require.Eventually(t, func() bool {
		_, ok := q.Data()
		return ok
	}, time.Second, time.Millisecond)

	q.Invalidate(context.Background())
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 2
	}, time.Second, time.Millisecond)
}

func TestMarkStaleDoesNotFetch(t *testing.T) {
	var calls int32
	fetch := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false

	q := query.New(store.NewMemoryStore(), qkey.New("markstale"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	q.MarkStale()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
	assert.True(t, q.IsStale())
}

func TestDisposeDropsLateResult(t *testing.T) {
	release := make(chan struct{})
	fetch := func(fc query.FetchContext) (string, error) {
		<-release
		return "late", nil
	}
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false

	q := query.New(store.NewMemoryStore(), qkey.New("dispose"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	go q.Refetch(context.Background())
	time.Sleep(10 * time.Millisecond)
	q.Dispose()
	close(release)
	time.Sleep(20 * time.Millisecond)

	_, ok := q.Data()
	assert.False(t, ok)
}

func TestReactiveSignalRefetch(t *testing.T) {
	var calls int32
	fetch := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	sig := signal.New(1)
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false
	opts.WatchSignals = []signal.Watchable{sig}
	opts.RefetchOnSignalChange = true

	q := query.New(store.NewMemoryStore(), qkey.New("reactive"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	sig.Set(2)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&calls) == 1
	}, time.Second, time.Millisecond)
}

func TestSyncStaleWhileRevalidateServesCacheThenBackgroundRefreshes(t *testing.T) {
	var calls int32
	fetch := func(fc query.FetchContext) (string, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return "a", nil
		}
		return "b", nil
	}
	opts := query.NewOptions(query.Identity[string])
	opts.StaleDuration = 30 * time.Millisecond

	s := store.NewMemoryStore()
	key := qkey.New("posts")

	first := query.New(s, key, fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, first)
	require.Eventually(t, func() bool { _, ok := first.Data(); return ok }, time.Second, time.Millisecond)
	data, _ := first.Data()
	require.Equal(t, "a", data)

	time.Sleep(60 * time.Millisecond) // beyond StaleDuration, well within CacheDuration

	second := query.New(s, key, fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, second)

	// cached value is served immediately, without a loading status, while
	// the background fetch is still in flight
	data, ok := second.Data()
	require.True(t, ok)
	assert.Equal(t, "a", data)
	assert.True(t, second.IsStale())
	assert.NotEqual(t, query.StatusLoading, second.Status())

	require.Eventually(t, func() bool {
		d, _ := second.Data()
		return d == "b"
	}, time.Second, time.Millisecond)
	assert.False(t, second.IsStale())
}

func TestSyncModeSignalMarksStaleWithoutFetch(t *testing.T) {
	var calls int32
	fetch := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v", nil
	}
	sig := signal.New(1)
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false
	opts.WatchSignals = []signal.Watchable{sig}
	opts.RefetchOnSignalChange = false

	q := query.New(store.NewMemoryStore(), qkey.New("syncmode"), fetch, opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	sig.Set(2)
	assert.True(t, q.IsStale())
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}
