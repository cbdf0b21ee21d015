// Package cache implements a bounded, size-aware LRU block cache.
//
// It backs blobstore.CachingStore: fixed-size byte ranges of a blob, keyed
// by blob path and block index, evicted by least-recent-use once the
// configured byte budget is exceeded.
package cache
