package store_test

import (
	"context"
	"testing"

	"github.com/shashiranjanraj/kashvi-query/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFlatKV(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	_, ok, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, "k", "v1"))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, _ = s.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryStoreRecords(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.SetRecord(ctx, "posts", store.Record{ID: "1", Data: []byte(`{"id":"1"}`)}))
	require.NoError(t, s.SetRecord(ctx, "posts", store.Record{ID: "2", Data: []byte(`{"id":"2"}`)}))

	recs, err := s.GetRecords(ctx, "posts")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, s.DeleteRecord(ctx, "posts", "1"))
	recs, _ = s.GetRecords(ctx, "posts")
	assert.Len(t, recs, 1)
	assert.Equal(t, "2", recs[0].ID)
}

func TestMemoryStoreSetRecordsReplaces(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.SetRecord(ctx, "posts", store.Record{ID: "stale", Data: []byte(`{}`)}))
	require.NoError(t, s.SetRecords(ctx, "posts", []store.Record{
		{ID: "1", Data: []byte(`{"id":"1"}`)},
	}))

	recs, err := s.GetRecords(ctx, "posts")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "1", recs[0].ID)
}

func TestMemoryStoreClearStore(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	require.NoError(t, s.SetRecord(ctx, "posts", store.Record{ID: "1", Data: []byte(`{}`)}))
	require.NoError(t, s.ClearStore(ctx, "posts"))

	recs, _ := s.GetRecords(ctx, "posts")
	assert.Empty(t, recs)
}
