package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Index tracks the member keys of list-style caches (paginated or filtered
// views) under a single index key, so a write can invalidate every list
// variant that might include the changed entity instead of patching pages.
type Index struct {
	cache    Cache
	indexKey string
	ttl      time.Duration
}

func NewIndex(c Cache, indexKey string, ttl time.Duration) *Index {
	return &Index{cache: c, indexKey: indexKey, ttl: ttl}
}

// Track records key as a member of the index. Concurrent callers may race and
// drop each other's member; the worst outcome is one list page surviving a
// single invalidation cycle until its TTL fires.
func (i *Index) Track(ctx context.Context, key string) error {
	members, err := i.members(ctx)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m == key {
			return nil
		}
	}
	members = append(members, key)
	raw, err := json.Marshal(members)
	if err != nil {
		return err
	}
	return i.cache.Set(ctx, i.indexKey, raw, i.ttl)
}

// Invalidate removes every tracked member and the index itself.
func (i *Index) Invalidate(ctx context.Context) error {
	members, err := i.members(ctx)
	if err != nil {
		return err
	}
	return i.cache.Del(ctx, append(members, i.indexKey)...)
}

func (i *Index) members(ctx context.Context) ([]string, error) {
	raw, ok, err := i.cache.Get(ctx, i.indexKey)
	if err != nil || !ok {
		return nil, err
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		// Treat a corrupt index as empty; entries expire via TTL.
		return nil, nil
	}
	return members, nil
}
