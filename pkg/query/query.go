// Package query implements the Query state machine: a single cached,
// deduplicated, stale-while-revalidate data entry addressed by a
// qkey.Key. Its shape follows dougbarrett-gux's QueryCache (status enum,
// cacheEntry, stale/expired classification, background refetch) scaled
// from one shared map-of-entries into a standalone per-entry type whose
// lifecycle a QueryClient registry owns.
package query

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shashiranjanraj/kashvi-query/internal/qlog"
	"github.com/shashiranjanraj/kashvi-query/pkg/qcache"
	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/qmetrics"
	"github.com/shashiranjanraj/kashvi-query/pkg/signal"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

// Status is the lifecycle state of a Query entry.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// FetchContext is handed to a query's FetchFunc. Cancel is cooperative:
// a fetch function that honours ctx.Done() gets timely cancellation on
// timeout/cancel/dispose; one that doesn't simply has its result
// discarded rather than forcibly killed.
type FetchContext struct {
	Ctx      context.Context
	QueryKey qkey.Key
}

// FetchFunc fetches the raw payload for a query.
type FetchFunc[TRaw any] func(fc FetchContext) (TRaw, error)

// Transformer converts a raw fetch payload into the query's public data
// type. The identity transform (TRaw == TData) is provided by Identity.
type Transformer[TRaw, TData any] func(TRaw) (TData, error)

// Identity is the fallback transformer for TRaw == TData.
func Identity[T any](v T) (T, error) { return v, nil }

// Options configures a Query. Build it with NewOptions, which sets
// Enabled, RefetchOnMount and RefetchOnSignalChange to true; a zero-value
// Options has a nil Transformer, which New rejects with a panic.
// StaleDuration and CacheDuration fall back to the client's defaults when
// zero; a zero RequestTimeout means no timeout.
type Options[TRaw, TData any] struct {
	StaleDuration         time.Duration
	CacheDuration         time.Duration
	Enabled               bool
	RefetchOnMount        bool
	Transformer           Transformer[TRaw, TData]
	GranularUpdates       bool
	RequestTimeout        time.Duration
	RefetchInterval       time.Duration
	RefetchIntervalFn     func(data TData, err error) (time.Duration, bool)
	WatchSignals          []signal.Watchable
	RefetchOnSignalChange bool
}

// NewOptions returns Options with the booleans this repo defaults to
// true and transform wired in as the Transformer.
func NewOptions[TRaw, TData any](transform Transformer[TRaw, TData]) Options[TRaw, TData] {
	return Options[TRaw, TData]{
		Enabled:               true,
		RefetchOnMount:        true,
		Transformer:           transform,
		RefetchOnSignalChange: true,
	}
}

// Query is one cached, deduplicated fetch entry.
type Query[TRaw, TData any] struct {
	key   qkey.Key
	fetch FetchFunc[TRaw]
	opts  Options[TRaw, TData]
	cache *qcache.Cache

	staleDuration  time.Duration
	cacheDuration  time.Duration
	requestTimeout time.Duration

	mu             sync.Mutex
	status         Status
	data           TData
	hasData        bool
	err            *qerror.QueryError
	lastFetchedAt  time.Time
	isStaleFlag    bool
	isReused       bool
	disposed       bool
	foregroundBusy bool

	group      singleflight.Group
	cancel     context.CancelFunc
	intervalT  *time.Timer
	hydrated   chan struct{}
	hydrateOne sync.Once

	unwatch        []func()
	signalSnapshot []any

	DataSignal    *signal.Signal[TData]
	StatusSignal  *signal.Signal[Status]
	ErrorSignal   *signal.Signal[*qerror.QueryError]
	IsStaleSignal *signal.Signal[bool]
}

// New constructs a Query and runs its initialization protocol
// synchronously up through the point where hydration completes or a
// background/foreground fetch is kicked off in a goroutine. Callers
// that need to wait for the initial load should select on WaitHydrated.
func New[TRaw, TData any](s store.Store, key qkey.Key, fetch FetchFunc[TRaw], opts Options[TRaw, TData], clientStale, clientCache time.Duration) *Query[TRaw, TData] {
	if opts.Transformer == nil {
		panic("query: Options.Transformer must not be nil")
	}
	stale := opts.StaleDuration
	if stale == 0 {
		stale = clientStale
	}
	cacheDur := opts.CacheDuration
	if cacheDur == 0 {
		cacheDur = clientCache
	}

	q := &Query[TRaw, TData]{
		key:            key,
		fetch:          fetch,
		opts:           opts,
		cache:          qcache.New(s, key),
		staleDuration:  stale,
		cacheDuration:  cacheDur,
		requestTimeout: opts.RequestTimeout,
		status:         StatusIdle,
		hydrated:       make(chan struct{}),
		DataSignal:     signal.New(*new(TData)),
		StatusSignal:   signal.New(StatusIdle),
		ErrorSignal:    signal.New[*qerror.QueryError](nil),
		IsStaleSignal:  signal.New(false),
	}

	q.watchSignals()
	q.init()
	return q
}

func (q *Query[TRaw, TData]) completeHydration() {
	q.hydrateOne.Do(func() { close(q.hydrated) })
}

// WaitHydrated blocks until the entry's initial cache-load attempt has
// completed, or ctx is done.
func (q *Query[TRaw, TData]) WaitHydrated(ctx context.Context) error {
	select {
	case <-q.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Query[TRaw, TData]) init() {
	if !q.opts.Enabled {
		q.setStatus(StatusIdle)
		q.completeHydration()
		return
	}

	ctx := context.Background()
	raw, ts, ok, err := qcache.GetCachedData[TData](ctx, q.cache)
	if err != nil || !ok {
		q.completeHydration()
		go q.Refetch(ctx)
		return
	}

	q.mu.Lock()
	q.data = raw
	q.hasData = true
	q.lastFetchedAt = ts
	q.status = StatusSuccess
	q.mu.Unlock()
	q.DataSignal.Set(raw)
	q.StatusSignal.Set(StatusSuccess)

	q.completeHydration()

	age := time.Since(ts)
	switch {
	case age >= q.cacheDuration:
		go q.Refetch(ctx)
	case age >= q.staleDuration:
		go q.backgroundRefetch(ctx)
	default:
		// fresh: nothing to do
	}
}

// Status returns the current lifecycle status.
func (q *Query[TRaw, TData]) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Data returns the current data and whether any has ever been set.
func (q *Query[TRaw, TData]) Data() (TData, bool) {
	if !q.opts.RefetchOnSignalChange {
		q.diffSignalsOnRead()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.data, q.hasData
}

// IsStale reports whether the entry has been invalidated or marked
// stale, or holds data older than its staleDuration.
func (q *Query[TRaw, TData]) IsStale() bool {
	if !q.opts.RefetchOnSignalChange {
		q.diffSignalsOnRead()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isStaleFlag || (q.hasData && time.Since(q.lastFetchedAt) > q.staleDuration)
}

// Error returns the last terminal error, if any.
func (q *Query[TRaw, TData]) Error() *qerror.QueryError {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// IsReused reports whether this entry was handed back from the client
// registry rather than freshly created (set by QueryClient.UseQuery).
func (q *Query[TRaw, TData]) IsReused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isReused
}

// MarkReused flips the IsReused flag; called only by the owning client.
func (q *Query[TRaw, TData]) MarkReused() {
	q.mu.Lock()
	q.isReused = true
	q.mu.Unlock()
}

// GranularUpdates reports whether this entry was configured for
// per-record granular caching.
func (q *Query[TRaw, TData]) GranularUpdates() bool { return q.opts.GranularUpdates }

func (q *Query[TRaw, TData]) setStatus(s Status) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
	q.StatusSignal.Set(s)
}

// Refetch performs a foreground fetch: status flips to loading, error
// is cleared, and the fetch is deduplicated on the entry's key so
// concurrent callers share one attempt.
func (q *Query[TRaw, TData]) Refetch(ctx context.Context) (TData, error) {
	q.mu.Lock()
	q.foregroundBusy = true
	q.err = nil
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.foregroundBusy = false
		q.mu.Unlock()
	}()

	q.setStatus(StatusLoading)
	q.ErrorSignal.Set(nil)
	return q.doFetch(ctx, false)
}

// backgroundRefetch runs a silent stale-while-revalidate fetch: status
// is never touched, and it bows out entirely if a foreground fetch is
// already in flight.
func (q *Query[TRaw, TData]) backgroundRefetch(ctx context.Context) {
	q.mu.Lock()
	busy := q.foregroundBusy
	q.mu.Unlock()
	if busy {
		return
	}
	_, _ = q.doFetch(ctx, true)
}

func (q *Query[TRaw, TData]) doFetch(ctx context.Context, background bool) (TData, error) {
	var zero TData

	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return zero, context.Canceled
	}
	q.mu.Unlock()

	fetchStart := time.Now()
	qmetrics.InFlightFetches.Inc()
	result, err, _ := q.group.Do(q.key.MapKey(), func() (any, error) {
		fctx, cancel := context.WithCancel(ctx)
		timeout := q.requestTimeout
		var timer *time.Timer
		timedOutCh := make(chan struct{})
		if timeout > 0 {
			timer = time.AfterFunc(timeout, func() {
				close(timedOutCh)
				cancel()
			})
		}

		q.mu.Lock()
		q.cancel = cancel
		q.mu.Unlock()

		raw, ferr := q.fetch(FetchContext{Ctx: fctx, QueryKey: q.key})
		if timer != nil {
			timer.Stop()
		}

		select {
		case <-timedOutCh:
			qlog.FetchTimedOut(ctx, q.key.String(), timeout.String())
			return zero, qerror.Timeout("query: request timed out")
		default:
		}

		if ferr != nil {
			return zero, qerror.Classify(ferr)
		}

		data, terr := q.opts.Transformer(raw)
		if terr != nil {
			return zero, qerror.Parsing("query: transform raw payload", terr)
		}
		return data, nil
	})
	qmetrics.InFlightFetches.Dec()

	q.mu.Lock()
	disposed := q.disposed
	q.mu.Unlock()
	if disposed {
		return zero, context.Canceled
	}

	if err != nil {
		qerr := qerror.Classify(err)
		status := "error"
		if qerr.Kind == qerror.KindTimeout {
			status = "timeout"
		}
		qmetrics.ObserveFetch(status, fetchStart)
		if background {
			qlog.BackgroundFetchFailed(ctx, q.key.String(), string(qerr.Kind), qerr)
			q.mu.Lock()
			q.isStaleFlag = true
			q.mu.Unlock()
			q.IsStaleSignal.Set(true)
			return zero, qerr
		}
		qlog.FetchFailed(ctx, q.key.String(), string(qerr.Kind), qerr)
		q.mu.Lock()
		q.err = qerr
		q.status = StatusError
		q.mu.Unlock()
		q.ErrorSignal.Set(qerr)
		q.StatusSignal.Set(StatusError)
		return zero, qerr
	}
	qmetrics.ObserveFetch("success", fetchStart)

	data := result.(TData)
	now := time.Now()

	q.mu.Lock()
	q.data = data
	q.hasData = true
	q.lastFetchedAt = now
	q.isStaleFlag = false
	if !background {
		q.status = StatusSuccess
	}
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.IsStaleSignal.Set(false)
	if !background {
		q.StatusSignal.Set(StatusSuccess)
	}

	if serr := qcache.SetCachedData(ctx, q.cache, data, now); serr != nil {
		qlog.CacheWriteFailed(ctx, q.key.String(), serr)
	}

	q.rearmInterval(data, nil)
	return data, nil
}

// Sync implements the force/missing/expired/stale/fresh decision table.
func (q *Query[TRaw, TData]) Sync(ctx context.Context, force bool) error {
	if err := q.WaitHydrated(ctx); err != nil {
		return err
	}

	q.mu.Lock()
	hasData := q.hasData
	age := time.Since(q.lastFetchedAt)
	q.mu.Unlock()

	switch {
	case force, !hasData:
		_, err := q.Refetch(ctx)
		return err
	case age >= q.cacheDuration:
		_, err := q.Refetch(ctx)
		return err
	case age >= q.staleDuration:
		go q.backgroundRefetch(ctx)
		return nil
	default:
		return nil
	}
}

// Invalidate marks the entry stale and, if enabled, triggers a refetch.
func (q *Query[TRaw, TData]) Invalidate(ctx context.Context) {
	q.mu.Lock()
	q.isStaleFlag = true
	enabled := q.opts.Enabled
	q.mu.Unlock()
	q.IsStaleSignal.Set(true)
	if enabled {
		go q.Refetch(ctx)
	}
}

// MarkStale sets the staleness flag without fetching.
func (q *Query[TRaw, TData]) MarkStale() {
	q.mu.Lock()
	q.isStaleFlag = true
	q.mu.Unlock()
	q.IsStaleSignal.Set(true)
}

// SetData is an optimistic write: it updates in-memory state and the
// cache without going through fetch/transform.
func (q *Query[TRaw, TData]) SetData(ctx context.Context, data TData) error {
	now := time.Now()
	q.mu.Lock()
	q.data = data
	q.hasData = true
	q.status = StatusSuccess
	q.lastFetchedAt = now
	q.isStaleFlag = false
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.StatusSignal.Set(StatusSuccess)
	q.IsStaleSignal.Set(false)

	if err := qcache.SetCachedData(ctx, q.cache, data, now); err != nil {
		qlog.CacheWriteFailed(ctx, q.key.String(), err)
		return err
	}
	return nil
}

// SetDataNoCache updates in-memory state and signals exactly like
// SetData but never touches the blob cache slot. It exists for
// granular-mode list operations (QueryClient's UpdateQueryListItem and
// friends), which persist through exactly one record write instead and
// would otherwise race an unwanted blob write against that record.
func (q *Query[TRaw, TData]) SetDataNoCache(data TData) {
	now := time.Now()
	q.mu.Lock()
	q.data = data
	q.hasData = true
	q.status = StatusSuccess
	q.lastFetchedAt = now
	q.isStaleFlag = false
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.StatusSignal.Set(StatusSuccess)
	q.IsStaleSignal.Set(false)
}

// Cancel aborts any in-flight fetch; its result is discarded.
func (q *Query[TRaw, TData]) Cancel() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Dispose cancels any in-flight fetch, stops timers and signal
// subscriptions, and disposes every published signal. Safe to call
// more than once.
func (q *Query[TRaw, TData]) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	cancel := q.cancel
	timer := q.intervalT
	unwatch := q.unwatch
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if timer != nil {
		timer.Stop()
	}
	for _, un := range unwatch {
		un()
	}

	q.DataSignal.Dispose()
	q.StatusSignal.Dispose()
	q.ErrorSignal.Dispose()
	q.IsStaleSignal.Dispose()
	qlog.Disposed(q.key.String())
}

func (q *Query[TRaw, TData]) rearmInterval(data TData, err error) {
	q.mu.Lock()
	if q.intervalT != nil {
		q.intervalT.Stop()
		q.intervalT = nil
	}
	if q.disposed || !q.opts.Enabled {
		q.mu.Unlock()
		return
	}
	var next time.Duration
	switch {
	case q.opts.RefetchIntervalFn != nil:
		d, ok := q.opts.RefetchIntervalFn(data, err)
		if !ok {
			q.mu.Unlock()
			return
		}
		next = d
	case q.opts.RefetchInterval > 0:
		next = q.opts.RefetchInterval
	default:
		q.mu.Unlock()
		return
	}
	q.intervalT = time.AfterFunc(next, func() {
		q.backgroundRefetch(context.Background())
	})
	q.mu.Unlock()
}

func (q *Query[TRaw, TData]) watchSignals() {
	if len(q.opts.WatchSignals) == 0 {
		return
	}

	snapshot := make([]any, len(q.opts.WatchSignals))
	for i, w := range q.opts.WatchSignals {
		snapshot[i] = w.AnyValue()
	}
	q.mu.Lock()
	q.signalSnapshot = snapshot
	q.mu.Unlock()

	if !q.opts.RefetchOnSignalChange {
		return
	}

	for _, w := range q.opts.WatchSignals {
		unsub := w.SubscribeAny(func(any) {
			q.mu.Lock()
			if q.disposed {
				q.mu.Unlock()
				return
			}
			q.mu.Unlock()
			q.MarkStale()
			go q.Refetch(context.Background())
		})
		q.mu.Lock()
		q.unwatch = append(q.unwatch, unsub)
		q.mu.Unlock()
	}
}

// diffSignalsOnRead implements the sync-mode watch policy: compare the
// watched signals' current values against the last snapshot taken at
// read time, marking stale (without fetching) on any difference.
func (q *Query[TRaw, TData]) diffSignalsOnRead() {
	if len(q.opts.WatchSignals) == 0 {
		return
	}

	q.mu.Lock()
	changed := false
	for i, w := range q.opts.WatchSignals {
		v := w.AnyValue()
		if i >= len(q.signalSnapshot) || q.signalSnapshot[i] != v {
			changed = true
		}
	}
	if changed {
		snapshot := make([]any, len(q.opts.WatchSignals))
		for i, w := range q.opts.WatchSignals {
			snapshot[i] = w.AnyValue()
		}
		q.signalSnapshot = snapshot
		q.isStaleFlag = true
	}
	q.mu.Unlock()

	if changed {
		q.IsStaleSignal.Set(true)
	}
}
