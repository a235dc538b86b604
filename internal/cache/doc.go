// Package cache implements the disk-backed tile cache. Tiles are grouped by
// source; every source owns one embedded key-value store under
// StoragePath/db-<source>/. Open stores are tracked by a registry bounded by
// MaxOpenStores and evicted by recency, the cache root is guarded by an
// advisory lock file, and every on-disk mutation runs inside a critical
// section that defers context cancellation until the engine call returns.
// Read and write failures degrade to misses and dropped writes; callers only
// see lock contention at construction and cancellation.
package cache
