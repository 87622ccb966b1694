// Package fastcollection implements five persistent, shared-memory-
// backed container types — List, Set, Map, Queue, and Stack — each
// storing opaque byte blobs with a per-entry TTL. Every container is
// backed by a single memory-mapped file owned by an internal/store
// Manager, so multiple processes opening the same path observe the
// same data.
//
//   - List: ordered sequence, O(1) at both ends, O(n) indexed access
//     with a single-entry sequential-access cache.
//   - Set: hash set over a fixed bucket array with per-bucket locking.
//   - Map: hash map, same bucket structure as Set plus atomic
//     conditional operations (PutIfAbsent, Replace, ReplaceExpected).
//   - Queue: doubly-linked deque under one collection-wide lock, with
//     a front/back skip protocol that unlinks expired prefixes lazily.
//   - Stack: LIFO chain. Push, Pop and the structural sweeps take the
//     collection-wide lock; Peek, Search and Size read without it. Push
//     and Pop are not lock-free.
//
// Every operation that inserts a payload takes a ttlSeconds argument:
// -1 (TTLInfinite) never expires, 0 is already expired, and a positive
// value expires that many seconds after the entry is written.
package fastcollection
