// Package infinitequery implements InfiniteQuery: a Query-shaped entry
// whose data is a paginated InfiniteData rather than a single value,
// grounded on the same cacheEntry/status machinery as pkg/query but
// adding page-boundary fetch operations.
package infinitequery

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/shashiranjanraj/kashvi-query/internal/qlog"
	"github.com/shashiranjanraj/kashvi-query/pkg/qcache"
	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/signal"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

// InfiniteData is the paginated payload an InfiniteQuery publishes.
type InfiniteData[TPage, TParam any] struct {
	Pages      []TPage `json:"pages"`
	PageParams []TParam `json:"pageParams"`
}

// FetchPageFunc fetches one page given its param.
type FetchPageFunc[TRaw, TParam any] func(fc query.FetchContext, param TParam) (TRaw, error)

// Options configures an InfiniteQuery.
type Options[TRaw, TPage, TParam any] struct {
	StaleDuration     time.Duration
	CacheDuration     time.Duration
	Enabled           bool
	RefetchOnMount    bool
	Transformer       query.Transformer[TRaw, TPage]
	RequestTimeout    time.Duration
	InitialPageParam  TParam
	GetNextPageParam  func(lastPage TPage, pages []TPage) (TParam, bool)
	GetPreviousPageParam func(firstPage TPage, pages []TPage) (TParam, bool)
	WatchSignals      []signal.Watchable
	RefetchOnSignalChange bool
}

// NewOptions returns Options with this repo's usual boolean defaults.
func NewOptions[TRaw, TPage, TParam any](transform query.Transformer[TRaw, TPage], initialParam TParam) Options[TRaw, TPage, TParam] {
	return Options[TRaw, TPage, TParam]{
		Enabled:               true,
		RefetchOnMount:        true,
		Transformer:           transform,
		InitialPageParam:      initialParam,
		RefetchOnSignalChange: true,
	}
}

// InfiniteQuery is a cached, paginated fetch entry.
type InfiniteQuery[TRaw, TPage, TParam any] struct {
	key   qkey.Key
	fetch FetchPageFunc[TRaw, TParam]
	opts  Options[TRaw, TPage, TParam]
	cache *qcache.Cache

	staleDuration  time.Duration
	cacheDuration  time.Duration
	requestTimeout time.Duration

	mu                 sync.Mutex
	status             query.Status
	data               InfiniteData[TPage, TParam]
	hasData            bool
	err                *qerror.QueryError
	lastFetchedAt      time.Time
	isStaleFlag        bool
	isReused           bool
	disposed           bool
	fetchingNextPage   bool
	fetchingPrevPage   bool

	group    singleflight.Group
	cancel   context.CancelFunc
	hydrated chan struct{}
	hydrateOnce sync.Once

	unwatch        []func()
	signalSnapshot []any

	DataSignal    *signal.Signal[InfiniteData[TPage, TParam]]
	StatusSignal  *signal.Signal[query.Status]
	ErrorSignal   *signal.Signal[*qerror.QueryError]
	IsStaleSignal *signal.Signal[bool]
}

// New constructs an InfiniteQuery and runs its first-page fetch
// protocol up through hydration completion (or a background/foreground
// fetch kicked off asynchronously).
func New[TRaw, TPage, TParam any](s store.Store, key qkey.Key, fetch FetchPageFunc[TRaw, TParam], opts Options[TRaw, TPage, TParam], clientStale, clientCache time.Duration) *InfiniteQuery[TRaw, TPage, TParam] {
	if opts.Transformer == nil {
		panic("infinitequery: Options.Transformer must not be nil")
	}
	stale := opts.StaleDuration
	if stale == 0 {
		stale = clientStale
	}
	cacheDur := opts.CacheDuration
	if cacheDur == 0 {
		cacheDur = clientCache
	}

	q := &InfiniteQuery[TRaw, TPage, TParam]{
		key:            key,
		fetch:          fetch,
		opts:           opts,
		cache:          qcache.New(s, key),
		staleDuration:  stale,
		cacheDuration:  cacheDur,
		requestTimeout: opts.RequestTimeout,
		status:         query.StatusIdle,
		hydrated:       make(chan struct{}),
		DataSignal:     signal.New(InfiniteData[TPage, TParam]{}),
		StatusSignal:   signal.New(query.StatusIdle),
		ErrorSignal:    signal.New[*qerror.QueryError](nil),
		IsStaleSignal:  signal.New(false),
	}

	q.watchSignals()
	q.init()
	return q
}

func (q *InfiniteQuery[TRaw, TPage, TParam]) watchSignals() {
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
			disposed := q.disposed
			q.mu.Unlock()
			if disposed {
				return
			}
			q.mu.Lock()
			q.isStaleFlag = true
			q.mu.Unlock()
			q.IsStaleSignal.Set(true)
			go q.Refetch(context.Background())
		})
		q.mu.Lock()
		q.unwatch = append(q.unwatch, unsub)
		q.mu.Unlock()
	}
}

// diffSignalsOnRead implements the sync-mode watch policy for reads,
// mirroring pkg/query's.
func (q *InfiniteQuery[TRaw, TPage, TParam]) diffSignalsOnRead() {
	if len(q.opts.WatchSignals) == 0 || q.opts.RefetchOnSignalChange {
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

func (q *InfiniteQuery[TRaw, TPage, TParam]) completeHydration() {
	q.hydrateOnce.Do(func() { close(q.hydrated) })
}

// WaitHydrated blocks until the entry's initial cache-load attempt has
// completed.
func (q *InfiniteQuery[TRaw, TPage, TParam]) WaitHydrated(ctx context.Context) error {
	select {
	case <-q.hydrated:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *InfiniteQuery[TRaw, TPage, TParam]) init() {
	if !q.opts.Enabled {
		q.completeHydration()
		return
	}

	ctx := context.Background()
	raw, ts, ok, err := q.cache.GetBlob(ctx)
	if err != nil || !ok {
		q.completeHydration()
		go q.fetchFirstPage(ctx, false)
		return
	}

	var decoded InfiniteData[TPage, TParam]
	if uerr := json.Unmarshal([]byte(raw), &decoded); uerr != nil {
		q.completeHydration()
		go q.fetchFirstPage(ctx, false)
		return
	}

	q.mu.Lock()
	q.data = decoded
	q.hasData = true
	q.lastFetchedAt = ts
	q.status = query.StatusSuccess
	q.mu.Unlock()
	q.DataSignal.Set(decoded)
	q.StatusSignal.Set(query.StatusSuccess)

	q.completeHydration()

	age := time.Since(ts)
	switch {
	case age >= q.cacheDuration:
		go q.fetchFirstPage(ctx, false)
	case age >= q.staleDuration:
		go q.fetchFirstPage(ctx, true)
	}
}

// Status returns the current lifecycle status.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Status() query.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.status
}

// Data returns the current paginated data and whether any has loaded.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Data() (InfiniteData[TPage, TParam], bool) {
	q.diffSignalsOnRead()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.data, q.hasData
}

// HasNextPage reports whether a subsequent page is available, per
// GetNextPageParam applied to the last loaded page.
func (q *InfiniteQuery[TRaw, TPage, TParam]) HasNextPage() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.opts.GetNextPageParam == nil || len(q.data.Pages) == 0 {
		return len(q.data.Pages) == 0
	}
	_, ok := q.opts.GetNextPageParam(q.data.Pages[len(q.data.Pages)-1], q.data.Pages)
	return ok
}

// HasPreviousPage reports whether a preceding page is available.
func (q *InfiniteQuery[TRaw, TPage, TParam]) HasPreviousPage() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.opts.GetPreviousPageParam == nil || len(q.data.Pages) == 0 {
		return false
	}
	_, ok := q.opts.GetPreviousPageParam(q.data.Pages[0], q.data.Pages)
	return ok
}

// IsReused reports whether this entry was handed back by the registry.
func (q *InfiniteQuery[TRaw, TPage, TParam]) IsReused() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isReused
}

// MarkReused flips the IsReused flag; called only by the owning client.
func (q *InfiniteQuery[TRaw, TPage, TParam]) MarkReused() {
	q.mu.Lock()
	q.isReused = true
	q.mu.Unlock()
}

// IsStale reports whether the entry has been invalidated or marked
// stale, or holds data older than its staleDuration.
func (q *InfiniteQuery[TRaw, TPage, TParam]) IsStale() bool {
	q.diffSignalsOnRead()
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.isStaleFlag || (q.hasData && time.Since(q.lastFetchedAt) > q.staleDuration)
}

func (q *InfiniteQuery[TRaw, TPage, TParam]) fetchPage(ctx context.Context, param TParam) (TPage, error) {
	var zero TPage
	fctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if q.requestTimeout > 0 {
		var timeoutCancel context.CancelFunc
		fctx, timeoutCancel = context.WithTimeout(fctx, q.requestTimeout)
		defer timeoutCancel()
	}

	q.mu.Lock()
	q.cancel = cancel
	q.mu.Unlock()

	raw, err := q.fetch(query.FetchContext{Ctx: fctx, QueryKey: q.key}, param)
	if err != nil {
		if fctx.Err() == context.DeadlineExceeded {
			return zero, qerror.Timeout("infinitequery: request timed out")
		}
		return zero, qerror.Classify(err)
	}
	page, terr := q.opts.Transformer(raw)
	if terr != nil {
		return zero, qerror.Parsing("infinitequery: transform raw page", terr)
	}
	return page, nil
}

// fetchFirstPage runs (or joins) the first-page fetch. background=true
// leaves status and the error untouched (a failure only marks the entry
// stale), while a success still replaces data, per stale-while-revalidate
// semantics for the "stale but within cache duration" branch.
func (q *InfiniteQuery[TRaw, TPage, TParam]) fetchFirstPage(ctx context.Context, background bool) {
	if !background {
		q.setStatus(query.StatusLoading)
		q.ErrorSignal.Set(nil)
	}

	result, err, _ := q.group.Do(q.key.MapKey()+":first", func() (any, error) {
		return q.fetchPage(ctx, q.opts.InitialPageParam)
	})

	q.mu.Lock()
	disposed := q.disposed
	q.mu.Unlock()
	if disposed {
		return
	}

	if err != nil {
		qerr := qerror.Classify(err)
		if background {
			q.mu.Lock()
			q.isStaleFlag = true
			q.mu.Unlock()
			q.IsStaleSignal.Set(true)
			return
		}
		q.mu.Lock()
		q.err = qerr
		q.status = query.StatusError
		q.mu.Unlock()
		q.ErrorSignal.Set(qerr)
		q.StatusSignal.Set(query.StatusError)
		return
	}

	page := result.(TPage)
	data := InfiniteData[TPage, TParam]{Pages: []TPage{page}, PageParams: []TParam{q.opts.InitialPageParam}}
	now := time.Now()

	q.mu.Lock()
	q.data = data
	q.hasData = true
	q.lastFetchedAt = now
	q.isStaleFlag = false
	if !background {
		q.status = query.StatusSuccess
	}
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.IsStaleSignal.Set(false)
	if !background {
		q.StatusSignal.Set(query.StatusSuccess)
	}

	q.persist(ctx, data, now)
}

// FetchNextPage is a no-op if a next-page fetch is already in flight or
// HasNextPage is false.
func (q *InfiniteQuery[TRaw, TPage, TParam]) FetchNextPage(ctx context.Context) error {
	q.mu.Lock()
	if q.fetchingNextPage || len(q.data.Pages) == 0 {
		q.mu.Unlock()
		return nil
	}
	if !q.HasNextPageLocked() {
		q.mu.Unlock()
		return nil
	}
	param, _ := q.opts.GetNextPageParam(q.data.Pages[len(q.data.Pages)-1], q.data.Pages)
	q.fetchingNextPage = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.fetchingNextPage = false
		q.mu.Unlock()
	}()

	page, err := q.fetchPage(ctx, param)
	if err != nil {
		return err
	}

	now := time.Now()
	q.mu.Lock()
	q.data.Pages = append(q.data.Pages, page)
	q.data.PageParams = append(q.data.PageParams, param)
	q.lastFetchedAt = now
	data := q.data
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.persist(ctx, data, now)
	return nil
}

// FetchPreviousPage mirrors FetchNextPage, prepending instead of
// appending.
func (q *InfiniteQuery[TRaw, TPage, TParam]) FetchPreviousPage(ctx context.Context) error {
	q.mu.Lock()
	if q.fetchingPrevPage || len(q.data.Pages) == 0 {
		q.mu.Unlock()
		return nil
	}
	if q.opts.GetPreviousPageParam == nil {
		q.mu.Unlock()
		return nil
	}
	param, ok := q.opts.GetPreviousPageParam(q.data.Pages[0], q.data.Pages)
	if !ok {
		q.mu.Unlock()
		return nil
	}
	q.fetchingPrevPage = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.fetchingPrevPage = false
		q.mu.Unlock()
	}()

	page, err := q.fetchPage(ctx, param)
	if err != nil {
		return err
	}

	now := time.Now()
	q.mu.Lock()
	q.data.Pages = append([]TPage{page}, q.data.Pages...)
	q.data.PageParams = append([]TParam{param}, q.data.PageParams...)
	q.lastFetchedAt = now
	data := q.data
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.persist(ctx, data, now)
	return nil
}

// HasNextPageLocked is HasNextPage's body for callers already holding
// q.mu (used internally by FetchNextPage to avoid a recursive lock).
func (q *InfiniteQuery[TRaw, TPage, TParam]) HasNextPageLocked() bool {
	if q.opts.GetNextPageParam == nil || len(q.data.Pages) == 0 {
		return len(q.data.Pages) == 0
	}
	_, ok := q.opts.GetNextPageParam(q.data.Pages[len(q.data.Pages)-1], q.data.Pages)
	return ok
}

// RefetchAllPages re-fetches every currently loaded page in order,
// using each page's recorded param, and replaces data atomically on
// success. This is an explicit opt-in beyond the spec's default
// first-page-only refetch policy.
func (q *InfiniteQuery[TRaw, TPage, TParam]) RefetchAllPages(ctx context.Context) error {
	q.mu.Lock()
	params := append([]TParam(nil), q.data.PageParams...)
	q.mu.Unlock()

	if len(params) == 0 {
		return q.Refetch(ctx)
	}

	pages := make([]TPage, 0, len(params))
	for _, p := range params {
		page, err := q.fetchPage(ctx, p)
		if err != nil {
			return err
		}
		pages = append(pages, page)
	}

	now := time.Now()
	data := InfiniteData[TPage, TParam]{Pages: pages, PageParams: params}
	q.mu.Lock()
	q.data = data
	q.hasData = true
	q.lastFetchedAt = now
	q.status = query.StatusSuccess
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.StatusSignal.Set(query.StatusSuccess)
	q.persist(ctx, data, now)
	return nil
}

// Refetch clears loaded data and re-runs the first-page fetch.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Refetch(ctx context.Context) error {
	q.mu.Lock()
	q.data = InfiniteData[TPage, TParam]{}
	q.hasData = false
	q.err = nil
	q.mu.Unlock()
	q.fetchFirstPage(ctx, false)
	if err := q.Error(); err != nil {
		return err
	}
	return nil
}

// Error returns the last terminal error, if any.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Error() *qerror.QueryError {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.err
}

// Sync follows the same force/missing/expired/stale/fresh rules as
// Query.Sync.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Sync(ctx context.Context, force bool) error {
	if err := q.WaitHydrated(ctx); err != nil {
		return err
	}
	q.mu.Lock()
	hasData := q.hasData
	age := time.Since(q.lastFetchedAt)
	q.mu.Unlock()

	switch {
	case force, !hasData:
		return q.Refetch(ctx)
	case age >= q.cacheDuration:
		return q.Refetch(ctx)
	case age >= q.staleDuration:
		go q.fetchFirstPage(ctx, true)
		return nil
	default:
		return nil
	}
}

// Invalidate marks the entry stale and, if enabled, triggers a refetch
// of the first page.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Invalidate(ctx context.Context) {
	q.mu.Lock()
	q.isStaleFlag = true
	enabled := q.opts.Enabled
	q.mu.Unlock()
	q.IsStaleSignal.Set(true)
	if enabled {
		go q.fetchFirstPage(ctx, false)
	}
}

// MarkStale sets the staleness flag without fetching.
func (q *InfiniteQuery[TRaw, TPage, TParam]) MarkStale() {
	q.mu.Lock()
	q.isStaleFlag = true
	q.mu.Unlock()
	q.IsStaleSignal.Set(true)
}

// SetData optimistically overwrites the paginated data and persists it.
func (q *InfiniteQuery[TRaw, TPage, TParam]) SetData(ctx context.Context, data InfiniteData[TPage, TParam]) error {
	now := time.Now()
	q.mu.Lock()
	q.data = data
	q.hasData = true
	q.status = query.StatusSuccess
	q.lastFetchedAt = now
	q.isStaleFlag = false
	q.mu.Unlock()

	q.DataSignal.Set(data)
	q.StatusSignal.Set(query.StatusSuccess)
	q.IsStaleSignal.Set(false)
	return q.persistErr(ctx, data, now)
}

func (q *InfiniteQuery[TRaw, TPage, TParam]) setStatus(s query.Status) {
	q.mu.Lock()
	q.status = s
	q.mu.Unlock()
	q.StatusSignal.Set(s)
}

func (q *InfiniteQuery[TRaw, TPage, TParam]) persist(ctx context.Context, data InfiniteData[TPage, TParam], ts time.Time) {
	if err := q.persistErr(ctx, data, ts); err != nil {
		qlog.CacheWriteFailed(ctx, q.key.String(), err)
	}
}

func (q *InfiniteQuery[TRaw, TPage, TParam]) persistErr(ctx context.Context, data InfiniteData[TPage, TParam], ts time.Time) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return qerror.Parsing("infinitequery: encode cache payload", err)
	}
	return q.cache.SetBlob(ctx, string(raw), ts)
}

// Cancel aborts any in-flight page fetch.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Cancel() {
	q.mu.Lock()
	cancel := q.cancel
	q.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Dispose tears down signals and marks the entry dead.
func (q *InfiniteQuery[TRaw, TPage, TParam]) Dispose() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	q.disposed = true
	cancel := q.cancel
	unwatch := q.unwatch
	q.mu.Unlock()

	if cancel != nil {
		cancel()
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
