// Package qlog is the thin logging façade every query cache package logs
// through. It wraps pkg/logger's *slog.Logger exactly the way the rest of
// this repository does (logger.WithCtx + leveled shorthands), tagging every
// line with the entry's key string so related lifecycle events can be
// grepped together.
package qlog

import (
	"context"

	"github.com/shashiranjanraj/kashvi-query/pkg/logger"
)

// CacheWriteFailed logs a best-effort persistence failure. Per spec, cache
// writes are non-fatal: the in-memory state stays authoritative, but a
// silently dropped write is still worth a line for anyone debugging a
// "why didn't this survive a restart" report.
func CacheWriteFailed(ctx context.Context, key string, err error) {
	logger.WithCtx(ctx).Warn("query: cache write failed, continuing with in-memory state",
		"key", key, "error", err)
}

// FetchTimedOut logs a request-timeout termination.
func FetchTimedOut(ctx context.Context, key string, timeout string) {
	logger.WithCtx(ctx).Warn("query: fetch timed out", "key", key, "timeout", timeout)
}

// FetchFailed logs a terminal foreground fetch error.
func FetchFailed(ctx context.Context, key string, kind string, err error) {
	logger.WithCtx(ctx).Error("query: fetch failed", "key", key, "kind", kind, "error", err)
}

// BackgroundFetchFailed logs a swallowed stale-while-revalidate error.
func BackgroundFetchFailed(ctx context.Context, key string, kind string, err error) {
	logger.WithCtx(ctx).Debug("query: background refetch failed, entry marked stale",
		"key", key, "kind", kind, "error", err)
}

// Invalidated logs a prefix (or global) invalidation sweep.
func Invalidated(ctx context.Context, pattern string, count int) {
	logger.WithCtx(ctx).Info("queryclient: invalidated entries", "pattern", pattern, "count", count)
}

// Removed logs a registry removal that also purged the persisted cache.
func Removed(ctx context.Context, pattern string, count int) {
	logger.WithCtx(ctx).Info("queryclient: removed entries and purged cache", "pattern", pattern, "count", count)
}

// Disposed logs entry teardown at the debug level lifecycle events use.
func Disposed(key string) {
	logger.Debug("query: entry disposed", "key", key)
}
