// Package queryclient implements QueryClient: the registry that
// instantiates, reuses and tears down Query/InfiniteQuery/Mutation
// entries, coordinates prefix-based invalidation, and hosts the
// granular optimistic list operations. Modeled on dougbarrett-gux's
// single shared QueryCache map-of-entries, generalized from one
// concrete entry type into three registries (query, infinite query,
// mutation) plus the ownership-tracking Scope in scope.go.
package queryclient

import (
	"context"
	"sync"
	"time"

	"github.com/shashiranjanraj/kashvi-query/internal/qlog"
	"github.com/shashiranjanraj/kashvi-query/pkg/infinitequery"
	"github.com/shashiranjanraj/kashvi-query/pkg/mutation"
	"github.com/shashiranjanraj/kashvi-query/pkg/qcache"
	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/qmetrics"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

// registryEntry is the narrow, non-generic surface QueryClient needs
// from any Query[TRaw,TData] or InfiniteQuery[TRaw,TPage,TParam]
// instance. Both satisfy it without any explicit declaration since Go
// interfaces are structural.
type registryEntry interface {
	Invalidate(ctx context.Context)
	MarkStale()
	Dispose()
	IsReused() bool
	MarkReused()
	Sync(ctx context.Context, force bool) error
	WaitHydrated(ctx context.Context) error
}

type disposer interface{ Dispose() }

type namedEntry struct {
	key   qkey.Key
	entry registryEntry
}

// QueryClient owns every Query, InfiniteQuery and Mutation created
// through it, and the PersistedStore they share.
type QueryClient struct {
	store        store.Store
	defaultStale time.Duration
	defaultCache time.Duration

	mu        sync.Mutex
	queries   map[string]*namedEntry
	infinite  map[string]*namedEntry
	mutations map[string]disposer
}

// New builds a QueryClient backed by s, with the given fallback
// staleDuration/cacheDuration used whenever an entry's own Options
// leaves them zero.
func New(s store.Store, defaultStale, defaultCache time.Duration) *QueryClient {
	return &QueryClient{
		store:        s,
		defaultStale: defaultStale,
		defaultCache: defaultCache,
		queries:      make(map[string]*namedEntry),
		infinite:     make(map[string]*namedEntry),
		mutations:    make(map[string]disposer),
	}
}

// UseQuery returns the registered Query for key, marking it reused, or
// creates and registers a new one. Must be a free function (not a
// QueryClient method) because Go forbids type parameters on methods.
func UseQuery[TRaw, TData any](c *QueryClient, key qkey.Key, fetch query.FetchFunc[TRaw], opts query.Options[TRaw, TData]) *query.Query[TRaw, TData] {
	c.mu.Lock()
	if existing, ok := c.queries[key.MapKey()]; ok {
		c.mu.Unlock()
		q := existing.entry.(*query.Query[TRaw, TData])
		q.MarkReused()
		if opts.RefetchOnMount && q.IsStale() {
			go q.Sync(context.Background(), false)
		}
		return q
	}
	c.mu.Unlock()

	q := query.New(c.store, key, fetch, opts, c.defaultStale, c.defaultCache)

	c.mu.Lock()
	c.queries[key.MapKey()] = &namedEntry{key: key, entry: q}
	n := len(c.queries)
	c.mu.Unlock()
	qmetrics.SetEntryCount("query", n)
	return q
}

// UseInfiniteQuery mirrors UseQuery for InfiniteQuery entries.
func UseInfiniteQuery[TRaw, TPage, TParam any](c *QueryClient, key qkey.Key, fetch infinitequery.FetchPageFunc[TRaw, TParam], opts infinitequery.Options[TRaw, TPage, TParam]) *infinitequery.InfiniteQuery[TRaw, TPage, TParam] {
	c.mu.Lock()
	if existing, ok := c.infinite[key.MapKey()]; ok {
		c.mu.Unlock()
		q := existing.entry.(*infinitequery.InfiniteQuery[TRaw, TPage, TParam])
		q.MarkReused()
		if opts.RefetchOnMount && q.IsStale() {
			go q.Sync(context.Background(), false)
		}
		return q
	}
	c.mu.Unlock()

	q := infinitequery.New(c.store, key, fetch, opts, c.defaultStale, c.defaultCache)

	c.mu.Lock()
	c.infinite[key.MapKey()] = &namedEntry{key: key, entry: q}
	n := len(c.infinite)
	c.mu.Unlock()
	qmetrics.SetEntryCount("infinite_query", n)
	return q
}

// UseMutation always returns a fresh Mutation with a unique id;
// mutations are per-caller and are not deduplicated by the registry.
func UseMutation[TVars, TData any](c *QueryClient, fn mutation.MutateFunc[TVars, TData], opts mutation.Options[TVars, TData]) *mutation.Mutation[TVars, TData] {
	m := mutation.New(fn, opts)
	c.mu.Lock()
	c.mutations[m.ID] = m
	c.mu.Unlock()
	return m
}

// InvalidateQueries marks stale (and, where enabled, refetches) every
// registered Query and InfiniteQuery whose key has pattern as a
// prefix. A nil pattern invalidates every entry in both maps.
func (c *QueryClient) InvalidateQueries(ctx context.Context, pattern *qkey.Key) {
	matched := c.matchEntries(pattern)
	for _, e := range matched {
		e.Invalidate(ctx)
	}
	scope, patternStr := "all", ""
	if pattern != nil {
		scope, patternStr = "prefix", pattern.String()
	}
	qmetrics.RecordInvalidation(scope)
	qlog.Invalidated(ctx, patternStr, len(matched))
}

// RemoveQueries drops every matching entry from the registry, purging
// its persisted cache slots and disposing its signals. A nil pattern
// removes every entry. This purges the persisted cache (unlike
// DisposeQuery/DisposeAll, which leave it intact) since removal is a
// stronger, explicit "forget this data" operation.
func (c *QueryClient) RemoveQueries(ctx context.Context, pattern *qkey.Key) {
	c.mu.Lock()
	var toRemove []*namedEntry
	for k, e := range c.queries {
		if pattern == nil || e.key.HasPrefix(*pattern) {
			toRemove = append(toRemove, e)
			delete(c.queries, k)
		}
	}
	for k, e := range c.infinite {
		if pattern == nil || e.key.HasPrefix(*pattern) {
			toRemove = append(toRemove, e)
			delete(c.infinite, k)
		}
	}
	nq, ni := len(c.queries), len(c.infinite)
	c.mu.Unlock()
	qmetrics.SetEntryCount("query", nq)
	qmetrics.SetEntryCount("infinite_query", ni)

	for _, e := range toRemove {
		e.entry.Dispose()
		_ = qcache.New(c.store, e.key).Clear(ctx)
	}

	patternStr := ""
	if pattern != nil {
		patternStr = pattern.String()
	}
	qlog.Removed(ctx, patternStr, len(toRemove))
}

func (c *QueryClient) matchEntries(pattern *qkey.Key) []registryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []registryEntry
	for _, e := range c.queries {
		if pattern == nil || e.key.HasPrefix(*pattern) {
			out = append(out, e.entry)
		}
	}
	for _, e := range c.infinite {
		if pattern == nil || e.key.HasPrefix(*pattern) {
			out = append(out, e.entry)
		}
	}
	return out
}

// DisposeQuery removes and disposes a single Query or InfiniteQuery
// entry, without touching its persisted cache.
func (c *QueryClient) DisposeQuery(key qkey.Key) {
	c.mu.Lock()
	e, ok := c.queries[key.MapKey()]
	if ok {
		delete(c.queries, key.MapKey())
	}
	e2, ok2 := c.infinite[key.MapKey()]
	if ok2 {
		delete(c.infinite, key.MapKey())
	}
	c.mu.Unlock()

	if ok {
		e.entry.Dispose()
	}
	if ok2 {
		e2.entry.Dispose()
	}
}

// DisposeAll tears down every registered entry. The registry is
// snapshotted first so each entry's self-removal (were it to call back
// into the client) cannot mutate the collection being iterated.
func (c *QueryClient) DisposeAll() {
	c.mu.Lock()
	all := make([]registryEntry, 0, len(c.queries)+len(c.infinite))
	for _, e := range c.queries {
		all = append(all, e.entry)
	}
	for _, e := range c.infinite {
		all = append(all, e.entry)
	}
	c.queries = make(map[string]*namedEntry)
	c.infinite = make(map[string]*namedEntry)
	mutations := c.mutations
	c.mutations = make(map[string]disposer)
	c.mu.Unlock()

	for _, e := range all {
		e.Dispose()
	}
	for _, m := range mutations {
		m.Dispose()
	}
}

// EntryCount returns the number of registered Query, InfiniteQuery and
// Mutation entries, for CLI/metrics reporting.
func (c *QueryClient) EntryCount() (queries, infinite, mutations int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queries), len(c.infinite), len(c.mutations)
}

// WaitForHydration resolves once every currently-registered entry has
// completed its initial cache-load attempt.
func (c *QueryClient) WaitForHydration(ctx context.Context) error {
	for _, e := range c.matchEntries(nil) {
		if err := e.WaitHydrated(ctx); err != nil {
			return err
		}
	}
	return nil
}

// WaitForQueriesHydration is the scoped variant of WaitForHydration,
// waiting only on the named keys.
func (c *QueryClient) WaitForQueriesHydration(ctx context.Context, keys []qkey.Key) error {
	c.mu.Lock()
	var entries []registryEntry
	for _, k := range keys {
		if e, ok := c.queries[k.MapKey()]; ok {
			entries = append(entries, e.entry)
		}
		if e, ok := c.infinite[k.MapKey()]; ok {
			entries = append(entries, e.entry)
		}
	}
	c.mu.Unlock()

	for _, e := range entries {
		if err := e.WaitHydrated(ctx); err != nil {
			return err
		}
	}
	return nil
}

// queryFor returns the registered *query.Query[TRaw, TData] for key, or
// a configuration error if none is registered or the types don't match.
func queryFor[TRaw, TData any](c *QueryClient, key qkey.Key) (*query.Query[TRaw, TData], error) {
	c.mu.Lock()
	e, ok := c.queries[key.MapKey()]
	c.mu.Unlock()
	if !ok {
		return nil, qerror.Configuration("queryclient: no query registered for key " + key.String())
	}
	q, ok := e.entry.(*query.Query[TRaw, TData])
	if !ok {
		return nil, qerror.Configuration("queryclient: query registered for key " + key.String() + " has a different type")
	}
	if !q.GranularUpdates() {
		return nil, qerror.Configuration("queryclient: query " + key.String() + " is not in granular mode")
	}
	return q, nil
}

// UpdateQueryListItem replaces, in-memory and as exactly one persisted
// record, the list element whose id (per idFn) matches item's.
func UpdateQueryListItem[TRaw any, TItem qcache.HasID](c *QueryClient, key qkey.Key, item TItem, idFn func(TItem) string, encode func(TItem) ([]byte, error)) error {
	q, err := queryFor[TRaw, []TItem](c, key)
	if err != nil {
		return err
	}
	data, _ := q.Data()
	updated := make([]TItem, len(data))
	copy(updated, data)
	for i, it := range updated {
		if idFn(it) == idFn(item) {
			updated[i] = item
			break
		}
	}
	q.SetDataNoCache(updated)

	raw, err := encode(item)
	if err != nil {
		return qerror.Parsing("queryclient: encode list item", err)
	}
	return qcache.New(c.store, key).SetRecord(context.Background(), store.Record{ID: item.RecordID(), Data: raw})
}

// AddQueryListItem appends item in-memory and writes exactly one new
// persisted record.
func AddQueryListItem[TRaw any, TItem qcache.HasID](c *QueryClient, key qkey.Key, item TItem, encode func(TItem) ([]byte, error)) error {
	q, err := queryFor[TRaw, []TItem](c, key)
	if err != nil {
		return err
	}
	data, _ := q.Data()
	updated := append(append([]TItem(nil), data...), item)
	q.SetDataNoCache(updated)

	raw, err := encode(item)
	if err != nil {
		return qerror.Parsing("queryclient: encode list item", err)
	}
	return qcache.New(c.store, key).SetRecord(context.Background(), store.Record{ID: item.RecordID(), Data: raw})
}

// RemoveQueryListItem filters the matching element out in-memory and
// deletes its single persisted record.
func RemoveQueryListItem[TRaw any, TItem qcache.HasID](c *QueryClient, key qkey.Key, id string, idFn func(TItem) string) error {
	q, err := queryFor[TRaw, []TItem](c, key)
	if err != nil {
		return err
	}
	data, _ := q.Data()
	updated := make([]TItem, 0, len(data))
	for _, it := range data {
		if idFn(it) != id {
			updated = append(updated, it)
		}
	}
	q.SetDataNoCache(updated)

	return qcache.New(c.store, key).DeleteRecord(context.Background(), id)
}
