package queryclient

import (
	"context"

	"github.com/shashiranjanraj/kashvi-query/pkg/infinitequery"
	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
)

// infiniteQueryFor returns the registered *infinitequery.InfiniteQuery for
// key, or a configuration error if none is registered or the types don't
// match. Unlike queryFor, it does not require GranularUpdates: the three
// helpers below rewrite a page's item slice wholesale and persist the
// resulting InfiniteData through the normal blob path, not per-record.
func infiniteQueryFor[TRaw, TPage, TParam any](c *QueryClient, key qkey.Key) (*infinitequery.InfiniteQuery[TRaw, TPage, TParam], error) {
	c.mu.Lock()
	e, ok := c.infinite[key.MapKey()]
	c.mu.Unlock()
	if !ok {
		return nil, qerror.Configuration("queryclient: no infinite query registered for key " + key.String())
	}
	q, ok := e.entry.(*infinitequery.InfiniteQuery[TRaw, TPage, TParam])
	if !ok {
		return nil, qerror.Configuration("queryclient: infinite query registered for key " + key.String() + " has a different type")
	}
	return q, nil
}

// UpdateInfiniteQueryItem finds the page containing the item whose id (per
// idFn) matches item's, and replaces it in place. getItems/setItems extract
// and rebuild a page's item slice so this helper stays agnostic to whatever
// shape TPage actually has.
func UpdateInfiniteQueryItem[TRaw, TPage, TParam any, TItem any](c *QueryClient, key qkey.Key, item TItem, idFn func(TItem) string, getItems func(TPage) []TItem, setItems func(TPage, []TItem) TPage) error {
	q, err := infiniteQueryFor[TRaw, TPage, TParam](c, key)
	if err != nil {
		return err
	}
	data, ok := q.Data()
	if !ok {
		return qerror.Configuration("queryclient: infinite query " + key.String() + " has no data yet")
	}

	pages := make([]TPage, len(data.Pages))
	copy(pages, data.Pages)
	for i, page := range pages {
		items := getItems(page)
		for j, it := range items {
			if idFn(it) == idFn(item) {
				updated := make([]TItem, len(items))
				copy(updated, items)
				updated[j] = item
				pages[i] = setItems(page, updated)
				data.Pages = pages
				return q.SetData(context.Background(), data)
			}
		}
	}
	return nil
}

// AddToInfiniteQueryFirstPage prepends item to page 0's item slice. Noop
// (returns a configuration error) if the query has no pages yet.
func AddToInfiniteQueryFirstPage[TRaw, TPage, TParam any, TItem any](c *QueryClient, key qkey.Key, item TItem, getItems func(TPage) []TItem, setItems func(TPage, []TItem) TPage) error {
	q, err := infiniteQueryFor[TRaw, TPage, TParam](c, key)
	if err != nil {
		return err
	}
	data, ok := q.Data()
	if !ok || len(data.Pages) == 0 {
		return qerror.Configuration("queryclient: infinite query " + key.String() + " has no first page yet")
	}

	pages := make([]TPage, len(data.Pages))
	copy(pages, data.Pages)
	items := getItems(pages[0])
	updated := append([]TItem{item}, items...)
	pages[0] = setItems(pages[0], updated)
	data.Pages = pages
	return q.SetData(context.Background(), data)
}

// RemoveFromInfiniteQuery removes the item whose id (per idFn) matches id
// from every page's item slice.
func RemoveFromInfiniteQuery[TRaw, TPage, TParam any, TItem any](c *QueryClient, key qkey.Key, id string, idFn func(TItem) string, getItems func(TPage) []TItem, setItems func(TPage, []TItem) TPage) error {
	q, err := infiniteQueryFor[TRaw, TPage, TParam](c, key)
	if err != nil {
		return err
	}
	data, ok := q.Data()
	if !ok {
		return qerror.Configuration("queryclient: infinite query " + key.String() + " has no data yet")
	}

	pages := make([]TPage, len(data.Pages))
	copy(pages, data.Pages)
	changed := false
	for i, page := range pages {
		items := getItems(page)
		filtered := make([]TItem, 0, len(items))
		for _, it := range items {
			if idFn(it) != id {
				filtered = append(filtered, it)
			} else {
				changed = true
			}
		}
		pages[i] = setItems(page, filtered)
	}
	if !changed {
		return nil
	}
	data.Pages = pages
	return q.SetData(context.Background(), data)
}
