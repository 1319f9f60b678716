package cache

import "errors"

// ErrCacheMiss indicates the requested key was not found in cache.
// It is expected when a key was never cached or has expired; callers fall
// back to the backing store.
//
//	err := c.Get(ctx, key, &profile)
//	if errors.Is(err, cache.ErrCacheMiss) {
//	    // load from PostgreSQL
//	}
var ErrCacheMiss = errors.New("cache miss")
