package queryclient

import (
	"github.com/shashiranjanraj/kashvi-query/pkg/infinitequery"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
)

type ownedKind int

const (
	ownedQuery ownedKind = iota
	ownedInfiniteQuery
)

type ownedRef struct {
	kind ownedKind
	key  qkey.Key
}

// Scope tracks which registry entries a UI scope created (as opposed
// to reused) through it, so that tearing the scope down disposes only
// the entries it owns. A reused entry may still be in active use by
// another scope and must survive.
type Scope struct {
	client *QueryClient
	owned  []ownedRef
}

// NewScope opens an ownership-tracking scope over client.
func NewScope(client *QueryClient) *Scope {
	return &Scope{client: client}
}

func (s *Scope) track(kind ownedKind, key qkey.Key, reused bool) {
	if reused {
		return
	}
	s.owned = append(s.owned, ownedRef{kind: kind, key: key})
}

// ScopedUseQuery calls UseQuery through client and records ownership:
// if this call created a new entry, the scope disposes it on Teardown;
// if it reused an existing one, Teardown leaves it alone.
func ScopedUseQuery[TRaw, TData any](s *Scope, key qkey.Key, fetch query.FetchFunc[TRaw], opts query.Options[TRaw, TData]) *query.Query[TRaw, TData] {
	q := UseQuery(s.client, key, fetch, opts)
	s.track(ownedQuery, key, q.IsReused())
	return q
}

// ScopedUseInfiniteQuery is ScopedUseQuery's InfiniteQuery counterpart.
func ScopedUseInfiniteQuery[TRaw, TPage, TParam any](s *Scope, key qkey.Key, fetch infinitequery.FetchPageFunc[TRaw, TParam], opts infinitequery.Options[TRaw, TPage, TParam]) *infinitequery.InfiniteQuery[TRaw, TPage, TParam] {
	q := UseInfiniteQuery(s.client, key, fetch, opts)
	s.track(ownedInfiniteQuery, key, q.IsReused())
	return q
}

// Teardown disposes every entry this scope created (and only those),
// then forgets its tracked ownership.
func (s *Scope) Teardown() {
	for _, ref := range s.owned {
		switch ref.kind {
		case ownedQuery, ownedInfiniteQuery:
			s.client.DisposeQuery(ref.key)
		}
	}
	s.owned = nil
}
