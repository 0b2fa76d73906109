package infinitequery_test

import (
	"context"
	"testing"
	"time"

	"github.com/shashiranjanraj/kashvi-query/pkg/infinitequery"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/query"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type page struct {
	Items []int `json:"items"`
}

func pagedFetch(t *testing.T) infinitequery.FetchPageFunc[page, int] {
	t.Helper()
	return func(fc query.FetchContext, param int) (page, error) {
		return page{Items: []int{param, param + 1}}, nil
	}
}

func waitHydrated(t *testing.T, q *infinitequery.InfiniteQuery[page, page, int]) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitHydrated(ctx))
}

func baseOpts(t *testing.T) infinitequery.Options[page, page, int] {
	opts := infinitequery.NewOptions(query.Identity[page], 0)
	opts.GetNextPageParam = func(last page, pages []page) (int, bool) {
		if len(last.Items) == 0 {
			return 0, false
		}
		return last.Items[len(last.Items)-1] + 1, true
	}
	opts.GetPreviousPageParam = func(first page, pages []page) (int, bool) {
		if first.Items[0] == 0 {
			return 0, false
		}
		return first.Items[0] - 2, true
	}
	return opts
}

func TestFirstPageFetchOnInit(t *testing.T) {
	opts := baseOpts(t)
	q := infinitequery.New[page, page, int](store.NewMemoryStore(), qkey.New("feed"), pagedFetch(t), opts, time.Minute, time.Hour)
	waitHydrated(t, q)

	require.Eventually(t, func() bool {
		_, ok := q.Data()
		return ok
	}, time.Second, time.Millisecond)

	data, ok := q.Data()
	require.True(t, ok)
	require.Len(t, data.Pages, 1)
	assert.Equal(t, []int{0, 1}, data.Pages[0].Items)
}

func TestFetchNextPageAppends(t *testing.T) {
	opts := baseOpts(t)
	q := infinitequery.New[page, page, int](store.NewMemoryStore(), qkey.New("feed2"), pagedFetch(t), opts, time.Minute, time.Hour)
	waitHydrated(t, q)
	require.Eventually(t, func() bool { _, ok := q.Data(); return ok }, time.Second, time.Millisecond)

	require.NoError(t, q.FetchNextPage(context.Background()))

	data, _ := q.Data()
	require.Len(t, data.Pages, 2)
	assert.Equal(t, []int{2, 3}, data.Pages[1].Items)
}

func TestRefetchClearsThenReloadsFirstPage(t *testing.T) {
	opts := baseOpts(t)
	q := infinitequery.New[page, page, int](store.NewMemoryStore(), qkey.New("feed3"), pagedFetch(t), opts, time.Minute, time.Hour)
	waitHydrated(t, q)
	require.Eventually(t, func() bool { _, ok := q.Data(); return ok }, time.Second, time.Millisecond)
	require.NoError(t, q.FetchNextPage(context.Background()))

	require.NoError(t, q.Refetch(context.Background()))

	data, ok := q.Data()
	require.True(t, ok)
	require.Len(t, data.Pages, 1)
}
