package queryclient_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shashiranjanraj/kashvi-query/pkg/qcache"
	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/queryclient"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type post struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (p post) RecordID() string { return p.ID }

func encodePost(p post) ([]byte, error) { return json.Marshal(p) }

func idOfPost(p post) string { return p.ID }

func waitHydrated(t *testing.T, q interface {
	WaitHydrated(context.Context) error
}) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitHydrated(ctx))
}

// Scenario: UseQuery on an already-registered key marks the entry
// reused and returns the same instance.
func TestUseQueryReusesExistingEntry(t *testing.T) {
	client := queryclient.New(store.NewMemoryStore(), time.Minute, time.Hour)
	fetch := func(fc query.FetchContext) ([]post, error) {
		return []post{{ID: "1", Title: "a"}}, nil
	}
	opts := query.NewOptions(query.Identity[[]post])
	opts.GranularUpdates = true

	key := qkey.New("posts")
	a := queryclient.UseQuery(client, key, fetch, opts)
	waitHydrated(t, a)
	assert.False(t, a.IsReused())

	b := queryclient.UseQuery(client, key, fetch, opts)
	assert.True(t, b.IsReused())
	assert.Same(t, a, b)
}

// Scenario 6: prefix invalidation marks stale every key with the given
// prefix and only those.
func TestInvalidateQueriesPrefixMatchesOnlyPrefixed(t *testing.T) {
	client := queryclient.New(store.NewMemoryStore(), time.Hour, 24*time.Hour)
	fetch := func(fc query.FetchContext) (string, error) { return "v", nil }
	opts := query.NewOptions(query.Identity[string])
	opts.Enabled = false // keep init from racing the assertions

	qPosts := queryclient.UseQuery(client, qkey.New("posts"), fetch, opts)
	qPost1 := queryclient.UseQuery(client, qkey.New("posts", 1), fetch, opts)
	qComments := queryclient.UseQuery(client, qkey.New("posts", 1, "comments"), fetch, opts)
	qUsers := queryclient.UseQuery(client, qkey.New("users"), fetch, opts)

	waitHydrated(t, qPosts)
	waitHydrated(t, qPost1)
	waitHydrated(t, qComments)
	waitHydrated(t, qUsers)

	pattern := qkey.New("posts")
	client.InvalidateQueries(context.Background(), &pattern)

	assert.True(t, qPosts.IsStale())
	assert.True(t, qPost1.IsStale())
	assert.True(t, qComments.IsStale())
	assert.False(t, qUsers.IsStale())
}

// Scenario: RemoveQueries purges the persisted cache, not just the
// in-memory registry entry.
func TestRemoveQueriesPurgesPersistedCache(t *testing.T) {
	s := store.NewMemoryStore()
	client := queryclient.New(s, time.Hour, 24*time.Hour)
	fetch := func(fc query.FetchContext) (string, error) { return "v", nil }
	opts := query.NewOptions(query.Identity[string])

	key := qkey.New("ephemeral")
	q := queryclient.UseQuery(client, key, fetch, opts)
	waitHydrated(t, q)
	require.Eventually(t, func() bool { _, ok := q.Data(); return ok }, time.Second, time.Millisecond)

	pattern := qkey.New("ephemeral")
	client.RemoveQueries(context.Background(), &pattern)

	_, ok, err := s.Get(context.Background(), "query_data_ephemeral")
	require.NoError(t, err)
	assert.False(t, ok)
}

// Scenario 5: a granular update touches exactly one persisted record,
// leaving the rest untouched.
func TestGranularUpdateTouchesExactlyOneRecord(t *testing.T) {
	s := store.NewMemoryStore()
	client := queryclient.New(s, time.Hour, 24*time.Hour)

	items := make([]post, 10)
	for i := range items {
		items[i] = post{ID: string(rune('0' + i)), Title: "t"}
	}
	fetch := func(fc query.FetchContext) ([]post, error) { return items, nil }
	opts := query.NewOptions(query.Identity[[]post])
	opts.GranularUpdates = true

	key := qkey.New("posts")
	q := queryclient.UseQuery(client, key, fetch, opts)
	waitHydrated(t, q)
	require.Eventually(t, func() bool { _, ok := q.Data(); return ok }, time.Second, time.Millisecond)

	// seed granular records directly, since the initial fetch writes a
	// blob (not yet granular) until the first granular op runs
	cache := qcache.New(s, key)
	before := make(map[string][]byte, len(items))
	for _, it := range items {
		raw, _ := encodePost(it)
		before[it.ID] = raw
		require.NoError(t, cache.SetRecord(context.Background(), store.Record{ID: it.ID, Data: raw}))
	}

	updated := post{ID: "5", Title: "updated"}
	require.NoError(t, queryclient.UpdateQueryListItem[[]post](client, key, updated, idOfPost, encodePost))

	recs, err := cache.GetRecords(context.Background())
	require.NoError(t, err)
	assert.Len(t, recs, 10)

	for _, rec := range recs {
		if rec.ID == "5" {
			var p post
			require.NoError(t, json.Unmarshal(rec.Data, &p))
			assert.Equal(t, "updated", p.Title)
			continue
		}
		assert.Equal(t, before[rec.ID], rec.Data)
	}
}

// Scenario: optimistic list ops on a non-granular query are a
// programmer error.
func TestListOpsOnNonGranularQueryReturnsConfigurationError(t *testing.T) {
	client := queryclient.New(store.NewMemoryStore(), time.Hour, 24*time.Hour)
	fetch := func(fc query.FetchContext) ([]post, error) { return nil, nil }
	opts := query.NewOptions(query.Identity[[]post])
	opts.GranularUpdates = false

	key := qkey.New("nongranular")
	q := queryclient.UseQuery(client, key, fetch, opts)
	waitHydrated(t, q)

	err := queryclient.AddQueryListItem[[]post](client, key, post{ID: "1"}, encodePost)
	require.Error(t, err)
	var qerr *qerror.QueryError
	require.ErrorAs(t, err, &qerr)
	assert.Equal(t, qerror.KindConfiguration, qerr.Kind)
}

// Scenario 7: cross-instance persistence — a second client sharing the
// same store sees cached data before its fetch function ever runs.
func TestCrossInstancePersistenceVisibleBeforeFetch(t *testing.T) {
	s := store.NewMemoryStore()
	clientA := queryclient.New(s, 5*time.Minute, time.Hour)
	fetch := func(fc query.FetchContext) (string, error) { return "v1", nil }
	opts := query.NewOptions(query.Identity[string])

	key := qkey.New("shared")
	qa := queryclient.UseQuery(clientA, key, fetch, opts)
	waitHydrated(t, qa)
	require.Eventually(t, func() bool { d, ok := qa.Data(); return ok && d == "v1" }, time.Second, time.Millisecond)

	var calls int32
	fetchB := func(fc query.FetchContext) (string, error) {
		atomic.AddInt32(&calls, 1)
		return "v2", nil
	}
	// enabled, so hydration reads the cache; the cached value is fresh
	// under the 5-minute stale duration, so no fetch is started
	optsB := query.NewOptions(query.Identity[string])

	clientB := queryclient.New(s, 5*time.Minute, time.Hour)
	qb := queryclient.UseQuery(clientB, key, fetchB, optsB)
	waitHydrated(t, qb)

	data, ok := qb.Data()
	require.True(t, ok)
	assert.Equal(t, "v1", data)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestWaitForHydrationWaitsOnEveryEntry(t *testing.T) {
	client := queryclient.New(store.NewMemoryStore(), time.Hour, 24*time.Hour)
	fetch := func(fc query.FetchContext) (string, error) { return "v", nil }
	opts := query.NewOptions(query.Identity[string])

	queryclient.UseQuery(client, qkey.New("a"), fetch, opts)
	queryclient.UseQuery(client, qkey.New("b"), fetch, opts)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, client.WaitForHydration(ctx))
}

func TestDisposeAllSnapshotsBeforeIterating(t *testing.T) {
	client := queryclient.New(store.NewMemoryStore(), time.Hour, 24*time.Hour)
	fetch := func(fc query.FetchContext) (string, error) { return "v", nil }
	opts := query.NewOptions(query.Identity[string])

	for i := 0; i < 5; i++ {
		q := queryclient.UseQuery(client, qkey.New("k", i), fetch, opts)
		waitHydrated(t, q)
	}

	assert.NotPanics(t, client.DisposeAll)
}
