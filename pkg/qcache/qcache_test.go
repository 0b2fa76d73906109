package qcache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shashiranjanraj/kashvi-query/pkg/qcache"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type user struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func (u user) RecordID() string { return u.ID }

func TestBlobRoundTripStruct(t *testing.T) {
	ctx := context.Background()
	c := qcache.New(store.NewMemoryStore(), qkey.New("users", 42))

	now := time.UnixMilli(1000)
	require.NoError(t, qcache.SetCachedData(ctx, c, user{ID: "1", Name: "Ada"}, now))

	got, ts, ok, err := qcache.GetCachedData[user](ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, user{ID: "1", Name: "Ada"}, got)
	assert.True(t, ts.Equal(now))
}

func TestBlobPrimitivePassthrough(t *testing.T) {
	ctx := context.Background()
	c := qcache.New(store.NewMemoryStore(), qkey.New("counter"))

	require.NoError(t, qcache.SetCachedData(ctx, c, 42, time.UnixMilli(5)))

	raw, _, ok, err := c.GetBlob(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "42", raw) // verbatim, not JSON-quoted or wrapped

	got, _, ok, err := qcache.GetCachedData[int](ctx, c)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestCacheMissReturnsNotOK(t *testing.T) {
	ctx := context.Background()
	c := qcache.New(store.NewMemoryStore(), qkey.New("missing"))

	_, _, ok, err := qcache.GetCachedData[user](ctx, c)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGranularRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := qcache.New(store.NewMemoryStore(), qkey.New("users"))

	users := []user{{ID: "1", Name: "Ada"}, {ID: "2", Name: "Grace"}}
	encode := func(u user) ([]byte, error) { return json.Marshal(u) }
	decode := func(b []byte) (user, error) {
		var u user
		err := json.Unmarshal(b, &u)
		return u, err
	}

	require.NoError(t, qcache.SetCachedRecords(ctx, c, users, encode, time.UnixMilli(10)))

	got, ts, ok, err := qcache.GetCachedRecords(ctx, c, decode)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, users, got)
	assert.True(t, ts.Equal(time.UnixMilli(10)))
}

func TestGranularSingleRecordOps(t *testing.T) {
	ctx := context.Background()
	c := qcache.New(store.NewMemoryStore(), qkey.New("users"))

	require.NoError(t, c.SetRecord(ctx, store.Record{ID: "1", Data: []byte(`{"id":"1","name":"Ada"}`)}))
	require.NoError(t, c.SetRecord(ctx, store.Record{ID: "2", Data: []byte(`{"id":"2","name":"Grace"}`)}))

	recs, err := c.GetRecords(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	require.NoError(t, c.DeleteRecord(ctx, "1"))
	recs, err = c.GetRecords(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2", recs[0].ID)
}

func TestClearRemovesBothSlots(t *testing.T) {
	ctx := context.Background()
	c := qcache.New(store.NewMemoryStore(), qkey.New("users"))

	require.NoError(t, qcache.SetCachedData(ctx, c, user{ID: "1"}, time.UnixMilli(1)))
	require.NoError(t, c.Clear(ctx))

	_, _, ok, err := c.GetBlob(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = c.Timestamp(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
