package folio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"foliosync/internal/model"
)

// CacheEngine tracks per-key staleness metadata and drives cache-first
// reads with background refresh. Failures leave previously cached
// payloads untouched; a key that failed to refresh serves stale data
// until the next successful pass.
type CacheEngine struct {
	store  Store
	clock  Clock
	logger Logger
}

// NewCacheEngine creates a CacheEngine.
func NewCacheEngine(store Store, clock Clock, logger Logger) *CacheEngine {
	return &CacheEngine{store: store, clock: clock, logger: logger}
}

// ShouldRefresh reports whether key is due for a refresh: true when no
// metadata exists, the last attempt failed, or the last success is
// older than maxAge. A fetch already in flight is never re-triggered.
func (e *CacheEngine) ShouldRefresh(ctx context.Context, key string, maxAge time.Duration) bool {
	meta, err := e.store.GetCacheMetadata(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.logger.Warn("cache metadata unavailable, treating key as stale", "key", key, "error", err)
		}
		return true
	}

	switch meta.Status {
	case model.CacheFetching:
		return false
	case model.CacheFailed:
		return true
	}

	if meta.LastSyncedAt == nil {
		return true
	}
	return e.clock.Now().Sub(*meta.LastSyncedAt) > maxAge
}

// MarkFetching records that a refresh for key has started.
func (e *CacheEngine) MarkFetching(ctx context.Context, key string) error {
	meta, err := e.store.GetCacheMetadata(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	var lastSynced *time.Time
	if meta != nil {
		lastSynced = meta.LastSyncedAt
	}
	return e.store.PutCacheMetadata(ctx, model.CacheMetadata{
		Key:          key,
		Status:       model.CacheFetching,
		LastSyncedAt: lastSynced,
	})
}

// MarkSuccess records a completed refresh for key at the current time.
func (e *CacheEngine) MarkSuccess(ctx context.Context, key string) error {
	now := e.clock.Now()
	return e.store.PutCacheMetadata(ctx, model.CacheMetadata{
		Key:          key,
		Status:       model.CacheSuccess,
		LastSyncedAt: &now,
	})
}

// MarkFailed records a failed refresh for key. The previous successful
// sync time is preserved so staleness remains measurable, and the
// cached payload itself is never touched.
func (e *CacheEngine) MarkFailed(ctx context.Context, key string, cause error) error {
	meta, err := e.store.GetCacheMetadata(ctx, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	var lastSynced *time.Time
	if meta != nil {
		lastSynced = meta.LastSyncedAt
	}
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	return e.store.PutCacheMetadata(ctx, model.CacheMetadata{
		Key:          key,
		Status:       model.CacheFailed,
		LastSyncedAt: lastSynced,
		Error:        msg,
	})
}

// ResetInterrupted demotes every key left in the fetching state to
// failed. A fetching row can only outlive a pass when the process died
// between MarkFetching and the terminal mark; left alone it would
// suppress every future refresh of that key. Called once at startup,
// before any pass runs.
func (e *CacheEngine) ResetInterrupted(ctx context.Context) error {
	metas, err := e.store.ListCacheMetadata(ctx)
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if meta.Status != model.CacheFetching {
			continue
		}
		e.logger.Warn("resetting interrupted cache refresh", "key", meta.Key)
		meta.Status = model.CacheFailed
		meta.Error = "refresh interrupted by shutdown"
		if err := e.store.PutCacheMetadata(ctx, meta); err != nil {
			return err
		}
	}
	return nil
}

// CacheFirst returns the last-known local value for key immediately
// and refreshes it in the background when stale. read loads the local
// value (ErrNotFound yields the zero value), fetch retrieves and
// persists the fresh value, and onUpdate is invoked only when the
// fresh value differs from the cached one. The returned channel
// resolves once the refresh settles; it yields nil immediately when no
// refresh was due.
//
// This is the read path for interactive consumers (UI, future CLI
// views); the background scheduler drives its refreshes through the
// engine directly.
func CacheFirst[T any](ctx context.Context, e *CacheEngine, key string, maxAge time.Duration,
	read func(context.Context) (T, error),
	fetch func(context.Context) (T, error),
	onUpdate func(T),
) (T, <-chan error) {
	done := make(chan error, 1)

	cached, err := read(ctx)
	if err != nil && !errors.Is(err, ErrNotFound) {
		e.logger.Warn("cache read failed, serving zero value", "key", key, "error", err)
	}

	if !e.ShouldRefresh(ctx, key, maxAge) {
		done <- nil
		close(done)
		return cached, done
	}

	if err := e.MarkFetching(ctx, key); err != nil {
		e.logger.Warn("marking cache key as fetching failed", "key", key, "error", err)
	}

	go func() {
		defer close(done)

		fresh, err := fetch(ctx)
		if err != nil {
			if merr := e.MarkFailed(ctx, key, err); merr != nil {
				e.logger.Warn("recording cache failure failed", "key", key, "error", merr)
			}
			e.logger.Warn("background refresh failed", "key", key, "error", err)
			done <- err
			return
		}

		if err := e.MarkSuccess(ctx, key); err != nil {
			e.logger.Warn("recording cache success failed", "key", key, "error", err)
		}

		if onUpdate != nil && !jsonEqual(cached, fresh) {
			onUpdate(fresh)
		}
		done <- nil
	}()

	return cached, done
}

// jsonEqual compares two values by their JSON encoding. Entities here
// are plain data structs and slices, for which this is a faithful
// equality check.
func jsonEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	if aerr != nil || berr != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}
