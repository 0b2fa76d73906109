// Package qcache is the cache layer sitting between a Query entry and a
// store.Store. It owns the two persistence slots an entry occupies —
// the data slot (blob payload or granular record store) and the time
// slot (last-write timestamp) — and the blob/granular encode-decode
// choice described for this repo's Query state machine.
package qcache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/shashiranjanraj/kashvi-query/pkg/qerror"
	"github.com/shashiranjanraj/kashvi-query/pkg/qkey"
	"github.com/shashiranjanraj/kashvi-query/pkg/qmetrics"
	"github.com/shashiranjanraj/kashvi-query/pkg/store"
)

const (
	dataSlotPrefix = "query_data_"
	timeSlotPrefix = "query_time_"
)

// HasID is the capability granular-mode list elements must expose: a
// stable string identity used as that item's record key. Mirrors the
// `{id: string}` duck-typing constraint the entry's list operations
// are built around.
type HasID interface {
	RecordID() string
}

// Cache is the persistence-backed half of one Query/InfiniteQuery
// entry, addressed by its QueryKey. Slot names follow key.String(),
// e.g. "users_42" -> "query_data_users_42" / "query_time_users_42".
type Cache struct {
	store    store.Store
	dataSlot string
	timeSlot string
}

// New builds a Cache for key backed by s.
func New(s store.Store, key qkey.Key) *Cache {
	k := key.String()
	return &Cache{store: s, dataSlot: dataSlotPrefix + k, timeSlot: timeSlotPrefix + k}
}

// Timestamp returns the last-written time for this entry, if any.
func (c *Cache) Timestamp(ctx context.Context) (time.Time, bool, error) {
	raw, ok, err := c.store.Get(ctx, c.timeSlot)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}
	ms, perr := strconv.ParseInt(raw, 10, 64)
	if perr != nil {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (c *Cache) writeTimestamp(ctx context.Context, ts time.Time) error {
	return c.store.Set(ctx, c.timeSlot, strconv.FormatInt(ts.UnixMilli(), 10))
}

// GetBlob reads the raw serialized payload for a blob-mode entry along
// with its timestamp. ok is false when nothing has been cached yet.
func (c *Cache) GetBlob(ctx context.Context) (raw string, ts time.Time, ok bool, err error) {
	raw, ok, err = c.store.Get(ctx, c.dataSlot)
	if err == nil {
		qmetrics.RecordCacheRead(c.store.Driver(), ok)
	}
	if err != nil || !ok {
		return "", time.Time{}, ok, err
	}
	ts, _, err = c.Timestamp(ctx)
	return raw, ts, true, err
}

// SetBlob best-effort persists raw and stamps ts as the entry's last
// write time. Persistence errors are returned but are meant to be
// logged and swallowed by the caller: the in-memory state, not the
// cache, is authoritative for observers.
func (c *Cache) SetBlob(ctx context.Context, raw string, ts time.Time) error {
	if err := c.store.Set(ctx, c.dataSlot, raw); err != nil {
		return err
	}
	return c.writeTimestamp(ctx, ts)
}

// GetRecords reads every record in this entry's granular record store.
func (c *Cache) GetRecords(ctx context.Context) ([]store.Record, error) {
	recs, err := c.store.GetRecords(ctx, c.dataSlot)
	if err == nil {
		qmetrics.RecordCacheRead(c.store.Driver(), len(recs) > 0)
	}
	return recs, err
}

// SetRecords replaces this entry's granular record store wholesale and
// stamps the entry's timestamp. Used for whole-list writes through
// SetCachedRecords; Query and InfiniteQuery fetch results are written
// through SetBlob instead.
func (c *Cache) SetRecords(ctx context.Context, records []store.Record, ts time.Time) error {
	if err := c.store.SetRecords(ctx, c.dataSlot, records); err != nil {
		return err
	}
	return c.writeTimestamp(ctx, ts)
}

// SetRecord writes exactly one granular record without touching the
// rest of the store — the primitive behind UpdateQueryListItem and
// AddQueryListItem.
func (c *Cache) SetRecord(ctx context.Context, rec store.Record) error {
	return c.store.SetRecord(ctx, c.dataSlot, rec)
}

// DeleteRecord deletes exactly one granular record — the primitive
// behind RemoveQueryListItem.
func (c *Cache) DeleteRecord(ctx context.Context, id string) error {
	return c.store.DeleteRecord(ctx, c.dataSlot, id)
}

// Clear purges both the data slot (blob value and granular record
// store alike) and the timestamp slot.
func (c *Cache) Clear(ctx context.Context) error {
	if err := c.store.Delete(ctx, c.dataSlot); err != nil {
		return err
	}
	if err := c.store.ClearStore(ctx, c.dataSlot); err != nil {
		return err
	}
	return c.store.Delete(ctx, c.timeSlot)
}

// EncodePrimitive returns the verbatim string form of v and true when v
// is one of the scalar types a blob slot stores without JSON-wrapping.
func EncodePrimitive(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

func decodePrimitive[T any](raw string) (value T, matched bool, err error) {
	var zero T
	switch any(zero).(type) {
	case string:
		return any(raw).(T), true, nil
	case int:
		n, perr := strconv.Atoi(raw)
		if perr != nil {
			return zero, true, perr
		}
		return any(n).(T), true, nil
	case int64:
		n, perr := strconv.ParseInt(raw, 10, 64)
		if perr != nil {
			return zero, true, perr
		}
		return any(n).(T), true, nil
	case float64:
		f, perr := strconv.ParseFloat(raw, 64)
		if perr != nil {
			return zero, true, perr
		}
		return any(f).(T), true, nil
	case bool:
		b, perr := strconv.ParseBool(raw)
		if perr != nil {
			return zero, true, perr
		}
		return any(b).(T), true, nil
	}
	return zero, false, nil
}

// GetCachedData loads a blob-mode payload of type T, decoding a stored
// primitive verbatim and falling back to JSON decode for everything
// else. ok is false on a cache miss.
func GetCachedData[T any](ctx context.Context, c *Cache) (data T, ts time.Time, ok bool, err error) {
	raw, ts, ok, err := c.GetBlob(ctx)
	if err != nil || !ok {
		return data, ts, ok, err
	}
	if decoded, matched, derr := decodePrimitive[T](raw); matched {
		if derr != nil {
			return data, ts, false, qerror.Parsing("qcache: decode primitive payload", derr)
		}
		return decoded, ts, true, nil
	}
	if uerr := json.Unmarshal([]byte(raw), &data); uerr != nil {
		return data, ts, false, qerror.Parsing("qcache: decode blob payload", uerr)
	}
	return data, ts, true, nil
}

// SetCachedData writes a blob-mode payload of type T, storing primitive
// scalars verbatim and JSON-encoding everything else.
func SetCachedData[T any](ctx context.Context, c *Cache, data T, ts time.Time) error {
	if raw, matched := EncodePrimitive(any(data)); matched {
		return c.SetBlob(ctx, raw, ts)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return qerror.Parsing("qcache: encode blob payload", err)
	}
	return c.SetBlob(ctx, string(raw), ts)
}

// GetCachedRecords loads a granular-mode list of T, decoding each
// record's raw bytes with decode. ok is false when the record store is
// empty (no granular write has ever happened for this entry).
func GetCachedRecords[T HasID](ctx context.Context, c *Cache, decode func([]byte) (T, error)) (items []T, ts time.Time, ok bool, err error) {
	recs, err := c.GetRecords(ctx)
	if err != nil {
		return nil, time.Time{}, false, err
	}
	if len(recs) == 0 {
		return nil, time.Time{}, false, nil
	}
	items = make([]T, 0, len(recs))
	for _, rec := range recs {
		item, derr := decode(rec.Data)
		if derr != nil {
			return nil, time.Time{}, false, qerror.Parsing("qcache: decode record", derr)
		}
		items = append(items, item)
	}
	ts, _, err = c.Timestamp(ctx)
	return items, ts, true, err
}

// SetCachedRecords replaces a granular-mode entry's record store with
// items, encoding each with encode and keying it by RecordID.
func SetCachedRecords[T HasID](ctx context.Context, c *Cache, items []T, encode func(T) ([]byte, error), ts time.Time) error {
	records := make([]store.Record, len(items))
	for i, item := range items {
		data, err := encode(item)
		if err != nil {
			return qerror.Parsing("qcache: encode record", err)
		}
		records[i] = store.Record{ID: item.RecordID(), Data: data}
	}
	return c.SetRecords(ctx, records, ts)
}
