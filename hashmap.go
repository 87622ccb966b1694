package fastcollection

import (
	"time"

	"github.com/ajsinha/fastcollection/internal/store"
)

// Map is a hash map of opaque key/value byte blobs, structurally
// identical to Set but with key+value payloads and atomic conditional
// operations. Writers take the owning bucket's mutex; reads are
// lock-free chain probes. Every method additionally guards its touches
// of the mapped bytes with the manager's growth guard
// (store.Manager.RLock), since neither the bucket mutex nor lock-free
// reads protect against a concurrent Grow remapping the backing file.
//
// Manager.RLock is always acquired before the bucket lock, never the
// reverse — every method follows this order, with no exceptions. Doing
// it the other way round for even one writer is a real deadlock, not
// just a style nit: a goroutine holding the bucket lock while calling
// Allocate (which may invoke Grow, itself blocking on Manager's write
// lock until all outstanding RLocks drain) can be stuck forever behind
// a second goroutine that took its RLock first and is now waiting on
// that same bucket lock. Methods that only free space (Deallocate never
// grows) hold RLock and the bucket lock for their whole body; Get,
// GetTTL and the ForEach family hold only RLock and walk the chains
// without the bucket lock. Methods that may need to allocate (Put, PutIfAbsent,
// Replace, ReplaceExpected) never hold either lock across Allocate:
// they release both beforehand, allocate lock-free, then reacquire
// Manager.RLock and the bucket lock fresh (in that order) to re-find
// and link — re-validating rather than trusting anything observed
// before the gap, since a concurrent writer on the same key could have
// run while neither lock was held.
type Map struct {
	mgr     *store.Manager
	header  store.Region
	buckets store.Region
	locks   *store.BucketLocks

	stats opStats
}

// Stats returns a snapshot of this handle's operation counters.
func (m *Map) Stats() OpStats { return m.stats.snapshot() }

// OpenMap opens or creates a Map at path.
func OpenMap(path string, opts Options) (*Map, error) {
	mgr, err := store.Open(path, opts.InitialBytes, opts.CreateNew)
	if err != nil {
		return nil, translateStoreError(err)
	}

	bucketCount := store.ComputeBucketCount(opts.BucketCount)

	header, err := mgr.FindOrConstructRegion("map_header", store.HashHeaderSize, 1, func(buf []byte) {
		store.InitHashHeader(buf, uint64(store.KindMap), bucketCount)
	})
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	bucketCount = store.HashBucketCount(mgr.At(header.Offset, header.Size))

	buckets, err := mgr.FindOrConstructRegion("map_buckets", store.BucketSize, uint32(bucketCount), func(buf []byte) {
		store.InitBuckets(buf, bucketCount)
	})
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	return &Map{mgr: mgr, header: header, buckets: buckets, locks: store.NewBucketLocks(bucketCount)}, nil
}

// Close flushes and releases the backing file.
func (m *Map) Close() error {
	if err := m.mgr.Flush(); err != nil {
		return translateStoreError(err)
	}

	return translateStoreError(m.mgr.Close())
}

func (m *Map) headerBuf() []byte  { return m.mgr.At(m.header.Offset, m.header.Size) }
func (m *Map) bucketsBuf() []byte { return m.mgr.At(m.buckets.Offset, m.buckets.Size) }

func (m *Map) bucketIndex(hash uint32) uint64 {
	count := store.HashBucketCount(m.headerBuf())

	return uint64(hash) & (count - 1)
}

func (m *Map) kvBuf(offset int64) []byte {
	hdr := m.mgr.At(uint64(offset), store.EntryHeaderSize)
	dataSize := store.KVHeader(hdr).DataSize

	return m.mgr.At(uint64(offset), store.KVTotalSize(dataSize))
}

func (m *Map) headerTouch() { store.HeaderTouch(m.headerBuf()) }

// findLocked walks key's bucket chain, returning the matching record's
// offset and buffer (alive or expired) if one exists. Caller must hold
// the bucket lock and the manager's RLock.
func (m *Map) findLocked(idx uint64, hash uint32, key []byte) (int64, []byte, bool) {
	bb := m.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := m.kvBuf(cur)
		hdr := store.KVHeader(buf)

		if hdr.HashCode == hash && bytesEqual(store.KVKey(buf), key) {
			return cur, buf, true
		}

		cur = store.KVNext(buf)
	}

	return 0, nil, false
}

// Put inserts or overwrites key's value unconditionally.
//
// The pre-check and the in-place (same-size) update happen together
// under one Manager.RLock + bucket-lock span, acquired in that order —
// matching Remove/SetTTL/RemoveExpired/... and never the reverse, since a
// writer that holds the bucket lock across a call that can invoke Grow
// (which takes Manager's write lock) would deadlock against any reader
// parked on that same bucket lock. The resize/insert path can't avoid
// calling Allocate, so it runs with neither lock held and then re-finds
// key fresh under a new lock pair before linking, rather than trust
// anything observed during the gap.
func (m *Map) Put(key, value []byte, ttlSeconds int64) {
	m.stats.recordWrite()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)

	m.mgr.RLock()
	m.locks.Lock(idx)

	if _, buf, ok := m.findLocked(idx, hash, key); ok && store.KVValueSize(buf) == uint32(len(value)) {
		store.OverwriteKVValue(buf, value)
		store.RebaseTTL(buf, ttlSeconds)
		m.headerTouch()
		m.locks.Unlock(idx)
		m.mgr.RUnlock()

		return
	}

	m.locks.Unlock(idx)
	m.mgr.RUnlock()

	newOff, err := m.allocKV(hash, key, value, ttlSeconds)
	if err != nil {
		return
	}

	m.mgr.RLock()
	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)
	defer m.mgr.RUnlock()

	if off, buf, ok := m.findLocked(idx, hash, key); ok {
		m.unlinkLocked(idx, off, buf)
	}

	m.linkNewLocked(idx, newOff)
}

// Get returns the alive value for key, or (nil, false) if absent/expired.
func (m *Map) Get(key []byte) ([]byte, bool) {
	m.stats.recordRead()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)
	now := time.Now().UnixNano()

	bb := m.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := m.kvBuf(cur)
		hdr := store.KVHeader(buf)

		if hdr.HashCode == hash && hdr.IsAlive(now) && bytesEqual(store.KVKey(buf), key) {
			m.stats.recordHit()

			return append([]byte(nil), store.KVValue(buf)...), true
		}

		cur = store.KVNext(buf)
	}

	m.stats.recordMiss()

	return nil, false
}

// PutIfAbsent inserts (key, value) only if no alive record exists for
// key. If an expired record exists, it is unlinked first and a fresh
// record inserted (the deliberate asymmetry with Set.Add — see
// design notes on the set/map revive-vs-unlink distinction).
//
// Manager.RLock is acquired before the bucket lock for the pre-check,
// matching Remove/SetTTL; both are released before the Allocate call a
// fresh insert needs. insertIfAbsentLocked re-validates fresh under a
// new lock pair before linking, since a concurrent Put/PutIfAbsent on
// the same key could have won the race while neither lock was held.
func (m *Map) PutIfAbsent(key, value []byte, ttlSeconds int64) bool {
	m.stats.recordWrite()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)
	now := time.Now().UnixNano()

	m.mgr.RLock()
	m.locks.Lock(idx)

	off, buf, ok := m.findLocked(idx, hash, key)
	if ok && store.KVHeader(buf).IsAlive(now) {
		m.locks.Unlock(idx)
		m.mgr.RUnlock()
		m.stats.recordMiss()

		return false
	}

	if ok {
		m.unlinkLocked(idx, off, buf)
	}

	m.locks.Unlock(idx)
	m.mgr.RUnlock()

	if !m.insertIfAbsentLocked(idx, hash, key, value, ttlSeconds) {
		m.stats.recordMiss()

		return false
	}

	m.stats.recordHit()

	return true
}

// insertIfAbsentLocked allocates a new record for key with no locks
// held (Allocate may invoke Grow), then links it in only if key is
// still absent an alive record once Manager.RLock and the bucket lock
// are reacquired fresh. Frees the unused allocation and returns false
// if a concurrent writer inserted an alive record for key in the gap.
func (m *Map) insertIfAbsentLocked(idx uint64, hash uint32, key, value []byte, ttlSeconds int64) bool {
	newOff, err := m.allocKV(hash, key, value, ttlSeconds)
	if err != nil {
		return false
	}

	m.mgr.RLock()
	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)
	defer m.mgr.RUnlock()

	now := time.Now().UnixNano()

	if off, buf, ok := m.findLocked(idx, hash, key); ok {
		if store.KVHeader(buf).IsAlive(now) {
			_ = m.mgr.Deallocate(uint64(newOff))

			return false
		}

		m.unlinkLocked(idx, off, buf)
	}

	m.linkNewLocked(idx, newOff)

	return true
}

// Replace sets key's value only if an alive record exists for key.
func (m *Map) Replace(key, value []byte, ttlSeconds int64) bool {
	m.stats.recordWrite()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)
	now := time.Now().UnixNano()

	m.mgr.RLock()
	m.locks.Lock(idx)

	_, buf, ok := m.findLocked(idx, hash, key)
	alive := ok && store.KVHeader(buf).IsAlive(now)

	if alive && store.KVValueSize(buf) == uint32(len(value)) {
		store.OverwriteKVValue(buf, value)
		store.RebaseTTL(buf, ttlSeconds)
		m.headerTouch()
		m.locks.Unlock(idx)
		m.mgr.RUnlock()
		m.stats.recordHit()

		return true
	}

	m.locks.Unlock(idx)
	m.mgr.RUnlock()

	if !alive {
		m.stats.recordMiss()

		return false
	}

	match := func(buf []byte, now int64) bool { return store.KVHeader(buf).IsAlive(now) }
	if !m.resizeOverwriteLocked(idx, hash, key, value, ttlSeconds, match) {
		m.stats.recordMiss()

		return false
	}

	m.stats.recordHit()

	return true
}

// ReplaceExpected is a CAS-style replace: it succeeds only if key is
// alive and its current value equals expectedValue.
func (m *Map) ReplaceExpected(key, expectedValue, newValue []byte, ttlSeconds int64) bool {
	m.stats.recordWrite()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)
	now := time.Now().UnixNano()

	m.mgr.RLock()
	m.locks.Lock(idx)

	_, buf, ok := m.findLocked(idx, hash, key)
	matches := ok && store.KVHeader(buf).IsAlive(now) && bytesEqual(store.KVValue(buf), expectedValue)

	if matches && store.KVValueSize(buf) == uint32(len(newValue)) {
		store.OverwriteKVValue(buf, newValue)
		store.RebaseTTL(buf, ttlSeconds)
		m.headerTouch()
		m.locks.Unlock(idx)
		m.mgr.RUnlock()
		m.stats.recordHit()

		return true
	}

	m.locks.Unlock(idx)
	m.mgr.RUnlock()

	if !matches {
		m.stats.recordMiss()

		return false
	}

	match := func(buf []byte, now int64) bool {
		return store.KVHeader(buf).IsAlive(now) && bytesEqual(store.KVValue(buf), expectedValue)
	}
	if !m.resizeOverwriteLocked(idx, hash, key, newValue, ttlSeconds, match) {
		m.stats.recordMiss()

		return false
	}

	m.stats.recordHit()

	return true
}

// Remove deletes key only if its current alive value equals
// expectedValue. Unlinking only ever frees space, never grows the
// file, so the manager's RLock can be held for the whole call.
func (m *Map) Remove(key, expectedValue []byte) bool {
	m.stats.recordWrite()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)

	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)

	now := time.Now().UnixNano()

	off, buf, ok := m.findLocked(idx, hash, key)
	if !ok || !store.KVHeader(buf).IsAlive(now) || !bytesEqual(store.KVValue(buf), expectedValue) {
		m.stats.recordMiss()

		return false
	}

	m.unlinkLocked(idx, off, buf)
	m.stats.recordHit()

	return true
}

// SetTTL updates the TTL of an alive record for key.
func (m *Map) SetTTL(key []byte, ttlSeconds int64) bool {
	m.mgr.RLock()
	defer m.mgr.RUnlock()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)

	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)

	now := time.Now().UnixNano()

	_, buf, ok := m.findLocked(idx, hash, key)
	if !ok || !store.KVHeader(buf).IsAlive(now) {
		return false
	}

	store.RebaseTTL(buf, ttlSeconds)
	m.headerTouch()

	return true
}

// GetTTL returns the remaining TTL for key (-1 infinite), or false if
// key is absent or expired.
func (m *Map) GetTTL(key []byte) (int64, bool) {
	m.stats.recordRead()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	hash := store.HashBytes(key)
	idx := m.bucketIndex(hash)
	now := time.Now().UnixNano()

	bb := m.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := m.kvBuf(cur)
		hdr := store.KVHeader(buf)

		if hdr.HashCode == hash && hdr.IsAlive(now) && bytesEqual(store.KVKey(buf), key) {
			if hdr.ExpiresAt == 0 {
				return TTLInfinite, true
			}

			return (hdr.ExpiresAt - now) / int64(time.Second), true
		}

		cur = store.KVNext(buf)
	}

	return 0, false
}

// allocKV allocates and publishes a new key/value record, returning its
// offset. It never holds Manager.RLock across the Allocate call (that
// call may itself invoke Grow, which takes the write lock) — only
// around the write into the freshly allocated buffer afterward. The
// record is unreachable from any bucket until a caller links it in, so
// no bucket lock is needed here either.
func (m *Map) allocKV(hash uint32, key, value []byte, ttlSeconds int64) (int64, error) {
	size := store.KVSize(uint32(len(key)), uint32(len(value)))

	off, err := m.mgr.Allocate(uint32(size))
	if err != nil {
		return 0, err
	}

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	hdr := store.NewEntryHeader(hash, uint32(len(key)+len(value)), ttlSeconds)
	buf := m.mgr.At(off, size)
	store.WriteKeyValue(buf, hdr, -1, -1, key, value)
	store.PublishValid(buf)

	return int64(off), nil
}

// resizeOverwriteLocked reallocates key's record when the replacement
// value's size differs from the current one's (the only case that
// needs Allocate). It runs with no locks held for the allocation, then
// reacquires Manager.RLock and the bucket lock, in that order, and
// re-finds key fresh before deciding anything: match is evaluated
// against whatever is actually there now, not against state observed
// before the gap. If match fails — a concurrent writer changed or
// removed key's record in the meantime — the freshly allocated
// replacement is freed unused and this returns false.
func (m *Map) resizeOverwriteLocked(idx uint64, hash uint32, key, newValue []byte, ttlSeconds int64, match func(buf []byte, now int64) bool) bool {
	newOff, err := m.allocKV(hash, key, newValue, ttlSeconds)
	if err != nil {
		return false
	}

	m.mgr.RLock()
	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)
	defer m.mgr.RUnlock()

	now := time.Now().UnixNano()

	off, buf, ok := m.findLocked(idx, hash, key)
	if !ok || !match(buf, now) {
		_ = m.mgr.Deallocate(uint64(newOff))

		return false
	}

	m.unlinkLocked(idx, off, buf)
	m.linkNewLocked(idx, newOff)

	return true
}

// linkNewLocked links a freshly allocated, already-published KV record
// at off onto bucket idx's head and updates header accounting. Caller
// must hold idx's bucket lock and the manager's RLock.
func (m *Map) linkNewLocked(idx uint64, off int64) {
	bb := m.bucketsBuf()
	head := store.BucketHead(bb, idx)

	buf := m.kvBuf(off)
	store.SetKVNext(buf, head)

	if head != -1 {
		store.SetKVPrev(m.kvBuf(head), off)
	}

	store.SetBucketHead(bb, idx, off)
	store.BucketCountAdd(bb, idx, 1)

	size := store.KVSize(store.KVKeySize(buf), store.KVValueSize(buf))
	store.HashTotalBytesAdd(m.headerBuf(), int64(size))
	store.HeaderSizeAdd(m.headerBuf(), 1)
	m.headerTouch()
}

// unlinkLocked splices off out of bucket idx's chain and frees it.
// Deallocate never grows the file, so this is safe to call from within
// an already-held Manager.RLock span.
func (m *Map) unlinkLocked(idx uint64, off int64, buf []byte) {
	prev, next := store.KVPrev(buf), store.KVNext(buf)
	bb := m.bucketsBuf()

	if prev == -1 {
		store.SetBucketHead(bb, idx, next)
	} else {
		store.SetKVNext(m.kvBuf(prev), next)
	}

	if next != -1 {
		store.SetKVPrev(m.kvBuf(next), prev)
	}

	size := store.KVSize(store.KVKeySize(buf), store.KVValueSize(buf))

	store.MarkDeletedAndFree(m.mgr, off, buf)
	store.BucketCountAdd(bb, idx, -1)
	store.HashTotalBytesAdd(m.headerBuf(), -int64(size))
	store.HeaderSizeAdd(m.headerBuf(), -1)
	m.headerTouch()
}

// ForEach yields every alive (key, value) pair. Returning false from cb
// stops iteration early.
func (m *Map) ForEach(cb func(key, value []byte) bool) {
	m.stats.recordRead()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	count := store.HashBucketCount(m.headerBuf())
	now := time.Now().UnixNano()

	for idx := uint64(0); idx < count; idx++ {
		bb := m.bucketsBuf()
		cur := store.BucketHead(bb, idx)

		for cur != -1 {
			buf := m.kvBuf(cur)
			hdr := store.KVHeader(buf)

			if hdr.IsAlive(now) {
				if !cb(store.KVKey(buf), store.KVValue(buf)) {
					return
				}
			}

			cur = store.KVNext(buf)
		}
	}
}

// ForEachWithTTL yields every alive (key, value, remainingTTLSeconds).
// It walks the buckets directly rather than composing ForEach with
// GetTTL, since GetTTL takes its own growth-guard RLock and nesting it
// inside ForEach's already-held RLock risks deadlocking against a
// writer that arrives in between.
func (m *Map) ForEachWithTTL(cb func(key, value []byte, ttlSeconds int64) bool) {
	m.mgr.RLock()
	defer m.mgr.RUnlock()

	count := store.HashBucketCount(m.headerBuf())
	now := time.Now().UnixNano()

	for idx := uint64(0); idx < count; idx++ {
		bb := m.bucketsBuf()
		cur := store.BucketHead(bb, idx)

		for cur != -1 {
			buf := m.kvBuf(cur)
			hdr := store.KVHeader(buf)

			if hdr.IsAlive(now) {
				ttl := TTLInfinite
				if hdr.ExpiresAt != 0 {
					ttl = (hdr.ExpiresAt - now) / int64(time.Second)
				}

				if !cb(store.KVKey(buf), store.KVValue(buf), ttl) {
					return
				}
			}

			cur = store.KVNext(buf)
		}
	}
}

// ForEachKey yields every alive key.
func (m *Map) ForEachKey(cb func(key []byte) bool) {
	m.ForEach(func(key, _ []byte) bool { return cb(key) })
}

// ForEachValue yields every alive value.
func (m *Map) ForEachValue(cb func(value []byte) bool) {
	m.ForEach(func(_, value []byte) bool { return cb(value) })
}

// KeySet returns a copy of every alive key.
func (m *Map) KeySet() [][]byte {
	var out [][]byte

	m.ForEachKey(func(key []byte) bool {
		out = append(out, append([]byte(nil), key...))

		return true
	})

	return out
}

// Values returns a copy of every alive value.
func (m *Map) Values() [][]byte {
	var out [][]byte

	m.ForEachValue(func(value []byte) bool {
		out = append(out, append([]byte(nil), value...))

		return true
	})

	return out
}

// ContainsValue reports whether any alive record holds value. Unlike
// Get/Contains, it does not settle for a lock-free probe: it takes
// each bucket's mutex in turn while scanning, same as RetainIf/Clear/
// RemoveExpired, since a lock-free walk could race a concurrent writer
// relinking the very chain being traversed. O(n*m), not indexed.
func (m *Map) ContainsValue(value []byte) bool {
	m.stats.recordRead()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	count := store.HashBucketCount(m.headerBuf())
	now := time.Now().UnixNano()

	for idx := uint64(0); idx < count; idx++ {
		if m.bucketContainsValueLocked(idx, value, now) {
			m.stats.recordHit()

			return true
		}
	}

	m.stats.recordMiss()

	return false
}

func (m *Map) bucketContainsValueLocked(idx uint64, value []byte, now int64) bool {
	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)

	bb := m.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := m.kvBuf(cur)
		hdr := store.KVHeader(buf)

		if hdr.IsAlive(now) && bytesEqual(store.KVValue(buf), value) {
			return true
		}

		cur = store.KVNext(buf)
	}

	return false
}

// RemoveExpired sweeps all buckets, unlinking expired records, and
// returns the count removed. Unlinking only frees space, so the whole
// sweep can run under one RLock span.
func (m *Map) RemoveExpired() uint64 {
	m.stats.recordWrite()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	count := store.HashBucketCount(m.headerBuf())

	var removed uint64

	for idx := uint64(0); idx < count; idx++ {
		removed += m.removeExpiredBucket(idx)
	}

	return removed
}

func (m *Map) removeExpiredBucket(idx uint64) uint64 {
	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)

	now := time.Now().UnixNano()
	bb := m.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	var removed uint64

	for cur != -1 {
		buf := m.kvBuf(cur)
		next := store.KVNext(buf)
		hdr := store.KVHeader(buf)

		if hdr.State == store.StateValid && !hdr.IsAlive(now) {
			m.unlinkLocked(idx, cur, buf)
			removed++
		}

		cur = next
	}

	return removed
}

// Size returns the number of alive entries, recomputed across all
// buckets: authoritative over header.size.
func (m *Map) Size() int {
	count := 0

	m.ForEach(func(_, _ []byte) bool {
		count++

		return true
	})

	return count
}

// IsEmpty reports whether Size() == 0.
func (m *Map) IsEmpty() bool { return m.Size() == 0 }

// Clear removes and frees every entry across all buckets.
func (m *Map) Clear() {
	m.stats.recordWrite()

	m.mgr.RLock()
	defer m.mgr.RUnlock()

	count := store.HashBucketCount(m.headerBuf())

	for idx := uint64(0); idx < count; idx++ {
		m.clearBucket(idx)
	}

	store.StoreHeaderSize(m.headerBuf(), 0)
	m.headerTouch()
}

func (m *Map) clearBucket(idx uint64) {
	m.locks.Lock(idx)
	defer m.locks.Unlock(idx)

	bb := m.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := m.kvBuf(cur)
		next := store.KVNext(buf)
		store.MarkDeletedAndFree(m.mgr, cur, buf)
		cur = next
	}

	store.SetBucketHead(bb, idx, -1)
	store.BucketCountAdd(bb, idx, -int32(store.BucketCount(bb, idx)))
}
