package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/tinywideclouds/go-notification-trigger/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands the read-aside cache needs.
type CacheClient interface {
	// Get returns the value or an error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// CachedTriggerStore is a Decorator that remembers settled triggers so that
// re-deliveries are answered without a Firestore read.
// Only processed records are cached; an unprocessed record is always read
// from the real store.
type CachedTriggerStore struct {
	realStore dispatch.TriggerStore
	cache     CacheClient
	ttl       time.Duration
}

func NewCachedTriggerStore(realStore dispatch.TriggerStore, cache CacheClient, ttl time.Duration) *CachedTriggerStore {
	return &CachedTriggerStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// --- READ PATH (Read-Aside) ---

func (s *CachedTriggerStore) Get(ctx context.Context, triggerID string) (*dispatch.TriggerRecord, error) {
	key := s.cacheKey(triggerID)

	var cached dispatch.TriggerRecord
	if err := s.cache.Get(ctx, key, &cached); err == nil && cached.Processed {
		return &cached, nil
	}

	fresh, err := s.realStore.Get(ctx, triggerID)
	if err != nil {
		return nil, err
	}

	if fresh.Processed {
		// Caching is an optimization; a Redis failure just means the next read goes to Firestore.
		_ = s.cache.Set(ctx, key, fresh, s.ttl)
	}
	return fresh, nil
}

// --- WRITE PATH (Write-Through) ---

// MarkProcessed writes to the source of truth first and only then records the
// settlement in the cache.
func (s *CachedTriggerStore) MarkProcessed(ctx context.Context, triggerID string, outcome dispatch.Outcome) error {
	if err := s.realStore.MarkProcessed(ctx, triggerID, outcome); err != nil {
		// The record may or may not have changed; force the next read to the store.
		_ = s.cache.Del(ctx, s.cacheKey(triggerID))
		return err
	}

	success := outcome.Success
	settled := &dispatch.TriggerRecord{
		ID:        triggerID,
		Processed: true,
		Success:   &success,
		Error:     outcome.Error,
	}
	_ = s.cache.Set(ctx, s.cacheKey(triggerID), settled, s.ttl)
	return nil
}

func (s *CachedTriggerStore) cacheKey(triggerID string) string {
	return fmt.Sprintf("notify:trigger:%s", triggerID)
}
