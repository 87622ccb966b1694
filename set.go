package fastcollection

import (
	"time"

	"github.com/ajsinha/fastcollection/internal/store"
)

// Set is a hash set of opaque byte blobs over a fixed-size bucket array
// with doubly-linked chaining. Writers take the owning bucket's mutex;
// reads are lock-free chain probes. Every method additionally guards
// its touches of the mapped bytes with the manager's growth guard
// (store.Manager.RLock), since neither the bucket mutex nor lock-free
// reads protect against a concurrent Grow remapping the backing file.
//
// Manager.RLock is always acquired before the bucket lock, never the
// reverse — every method follows this order, with no exceptions.
// Taking them the other way round for even one writer is a real
// deadlock: a goroutine holding the bucket lock while calling Allocate
// (which may invoke Grow, itself blocking on Manager's write lock
// until all outstanding RLocks drain) can be stuck forever behind a
// second goroutine that took its RLock first and is now waiting on
// that same bucket lock. Add never holds either lock across Allocate:
// it releases both before calling insertAtBucketHeadIfAbsent, which
// allocates lock-free and then reacquires Manager.RLock and the bucket
// lock fresh (in that order) to re-check and link.
type Set struct {
	mgr     *store.Manager
	header  store.Region
	buckets store.Region
	locks   *store.BucketLocks

	stats opStats
}

// Stats returns a snapshot of this handle's operation counters.
func (s *Set) Stats() OpStats { return s.stats.snapshot() }

// OpenSet opens or creates a Set at path.
func OpenSet(path string, opts Options) (*Set, error) {
	mgr, err := store.Open(path, opts.InitialBytes, opts.CreateNew)
	if err != nil {
		return nil, translateStoreError(err)
	}

	bucketCount := store.ComputeBucketCount(opts.BucketCount)

	header, err := mgr.FindOrConstructRegion("set_header", store.HashHeaderSize, 1, func(buf []byte) {
		store.InitHashHeader(buf, uint64(store.KindSet), bucketCount)
	})
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	bucketCount = store.HashBucketCount(mgr.At(header.Offset, header.Size))

	buckets, err := mgr.FindOrConstructRegion("set_buckets", store.BucketSize, uint32(bucketCount), func(buf []byte) {
		store.InitBuckets(buf, bucketCount)
	})
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	return &Set{mgr: mgr, header: header, buckets: buckets, locks: store.NewBucketLocks(bucketCount)}, nil
}

// Close flushes and releases the backing file.
func (s *Set) Close() error {
	if err := s.mgr.Flush(); err != nil {
		return translateStoreError(err)
	}

	return translateStoreError(s.mgr.Close())
}

func (s *Set) headerBuf() []byte  { return s.mgr.At(s.header.Offset, s.header.Size) }
func (s *Set) bucketsBuf() []byte { return s.mgr.At(s.buckets.Offset, s.buckets.Size) }

func (s *Set) bucketIndex(hash uint32) uint64 {
	count := store.HashBucketCount(s.headerBuf())

	return uint64(hash) & (count - 1)
}

func (s *Set) nodeBuf(offset int64) []byte {
	hdr := s.mgr.At(uint64(offset), store.EntryHeaderSize)
	dataSize := store.NodeHeader(hdr).DataSize

	return s.mgr.At(uint64(offset), store.NodeSize(dataSize))
}

// findLocked walks data's bucket chain, returning the matching record's
// offset and buffer (alive or expired) if one exists. Caller must hold
// idx's bucket lock and the manager's RLock.
func (s *Set) findLocked(idx uint64, hash uint32, data []byte) (int64, []byte, bool) {
	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			return cur, buf, true
		}

		cur = store.NodeNext(buf)
	}

	return 0, nil, false
}

// Add inserts data with the given TTL. If an expired record for the same
// bytes exists, it is revived in place (TTL updated, marked Valid again)
// rather than replaced. If a live record for the same bytes already
// exists, Add returns false without modification.
//
// The pre-check takes Manager.RLock before the bucket lock, matching
// Remove/SetTTL/RetainIf/.... Both are released before a fresh insert's
// Allocate call, and insertAtBucketHeadIfAbsent re-validates under a new
// lock pair before linking, since a concurrent Add on the same bytes
// could have won the race while neither lock was held.
func (s *Set) Add(data []byte, ttlSeconds int64) bool {
	s.stats.recordWrite()

	hash := store.HashBytes(data)
	idx := s.bucketIndex(hash)

	for {
		now := time.Now().UnixNano()

		s.mgr.RLock()
		s.locks.Lock(idx)

		if _, buf, ok := s.findLocked(idx, hash, data); ok {
			hdr := store.NodeHeader(buf)
			alive := hdr.IsAlive(now)

			if !alive {
				store.RebaseTTL(buf, ttlSeconds)
				store.PublishValid(buf)
				s.headerTouch()
			}

			s.locks.Unlock(idx)
			s.mgr.RUnlock()

			return !alive
		}

		s.locks.Unlock(idx)
		s.mgr.RUnlock()

		inserted, err := s.insertAtBucketHeadIfAbsent(idx, hash, data, ttlSeconds)
		if err != nil {
			return false
		}

		if inserted {
			return true
		}
		// Lost a race with a concurrent insert of the same bytes: loop
		// back around, which will now find and revive/reject it.
	}
}

// insertAtBucketHeadIfAbsent allocates a new node and links it at bucket
// idx's head, but only if no record for data appeared in the meantime.
// The Allocate call happens with no locks held (it may itself invoke
// Grow); Manager.RLock and the bucket lock are acquired only afterward,
// in that order, around the re-check and the write/link. Returns false
// without inserting (freeing the unused allocation) if a concurrent
// writer won the race for the same bytes. Returns the allocation error,
// without inserting, if Allocate fails.
func (s *Set) insertAtBucketHeadIfAbsent(idx uint64, hash uint32, data []byte, ttlSeconds int64) (bool, error) {
	size := store.NodeSize(uint32(len(data)))

	off, err := s.mgr.Allocate(uint32(size))
	if err != nil {
		return false, err
	}

	s.mgr.RLock()
	s.locks.Lock(idx)
	defer s.locks.Unlock(idx)
	defer s.mgr.RUnlock()

	if _, _, exists := s.findLocked(idx, hash, data); exists {
		_ = s.mgr.Deallocate(off)

		return false, nil
	}

	hdr := store.NewEntryHeader(hash, uint32(len(data)), ttlSeconds)
	buf := s.mgr.At(off, size)

	bb := s.bucketsBuf()
	head := store.BucketHead(bb, idx)

	store.WriteNode(buf, hdr, -1, head, data)
	store.PublishValid(buf)

	if head != -1 {
		store.SetNodePrev(s.nodeBuf(head), int64(off))
	}

	store.SetBucketHead(bb, idx, int64(off))
	store.BucketCountAdd(bb, idx, 1)
	store.HashTotalBytesAdd(s.headerBuf(), int64(size))
	store.HeaderSizeAdd(s.headerBuf(), 1)
	s.headerTouch()

	return true, nil
}

func (s *Set) headerTouch() { store.HeaderTouch(s.headerBuf()) }

// Remove deletes data if present and alive.
func (s *Set) Remove(data []byte) bool {
	s.stats.recordWrite()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hash := store.HashBytes(data)
	idx := s.bucketIndex(hash)

	s.locks.Lock(idx)
	defer s.locks.Unlock(idx)

	now := time.Now().UnixNano()
	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)
		next := store.NodeNext(buf)

		if hdr.HashCode == hash && hdr.IsAlive(now) && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			s.unlinkLocked(idx, cur, buf)
			s.stats.recordHit()

			return true
		}

		cur = next
	}

	s.stats.recordMiss()

	return false
}

// unlinkLocked splices offset out of bucket idx's chain and frees it.
// Caller must hold the bucket lock.
func (s *Set) unlinkLocked(idx uint64, offset int64, buf []byte) {
	prev, next := store.NodePrev(buf), store.NodeNext(buf)
	bb := s.bucketsBuf()

	if prev == -1 {
		store.SetBucketHead(bb, idx, next)
	} else {
		store.SetNodeNext(s.nodeBuf(prev), next)
	}

	if next != -1 {
		store.SetNodePrev(s.nodeBuf(next), prev)
	}

	size := store.NodeSize(store.NodeHeader(buf).DataSize)
	store.MarkDeletedAndFree(s.mgr, offset, buf)
	store.BucketCountAdd(bb, idx, -1)
	store.HashTotalBytesAdd(s.headerBuf(), -int64(size))
	store.HeaderSizeAdd(s.headerBuf(), -1)
	s.headerTouch()
}

// Contains performs a lock-free probe of data's bucket chain, guarded
// only against a concurrent Grow (not against concurrent writers).
func (s *Set) Contains(data []byte) bool {
	s.stats.recordRead()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hash := store.HashBytes(data)
	idx := s.bucketIndex(hash)
	now := time.Now().UnixNano()

	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.HashCode == hash && hdr.IsAlive(now) && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			s.stats.recordHit()

			return true
		}

		cur = store.NodeNext(buf)
	}

	s.stats.recordMiss()

	return false
}

// GetTTL returns the remaining TTL in seconds (-1 infinite), or false if
// data is absent or expired.
func (s *Set) GetTTL(data []byte) (int64, bool) {
	s.stats.recordRead()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hash := store.HashBytes(data)
	idx := s.bucketIndex(hash)
	now := time.Now().UnixNano()

	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.HashCode == hash && hdr.IsAlive(now) && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			if hdr.ExpiresAt == 0 {
				return TTLInfinite, true
			}

			remaining := (hdr.ExpiresAt - now) / int64(time.Second)

			return remaining, true
		}

		cur = store.NodeNext(buf)
	}

	return 0, false
}

// SetTTL updates the TTL of an alive record for data.
func (s *Set) SetTTL(data []byte, ttlSeconds int64) bool {
	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hash := store.HashBytes(data)
	idx := s.bucketIndex(hash)

	s.locks.Lock(idx)
	defer s.locks.Unlock(idx)

	now := time.Now().UnixNano()
	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.HashCode == hash && hdr.IsAlive(now) && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			store.RebaseTTL(buf, ttlSeconds)
			s.headerTouch()

			return true
		}

		cur = store.NodeNext(buf)
	}

	return false
}

// AddAll inserts every element, returning the number actually added.
func (s *Set) AddAll(items [][]byte, ttlSeconds int64) int {
	added := 0

	for _, item := range items {
		if s.Add(item, ttlSeconds) {
			added++
		}
	}

	return added
}

// RemoveAll removes every element, returning the number actually removed.
func (s *Set) RemoveAll(items [][]byte) int {
	removed := 0

	for _, item := range items {
		if s.Remove(item) {
			removed++
		}
	}

	return removed
}

// RetainIf removes every alive element for which keep returns false,
// walking all buckets sequentially under each bucket's exclusive lock.
func (s *Set) RetainIf(keep func(data []byte) bool) {
	s.stats.recordWrite()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	count := store.HashBucketCount(s.headerBuf())

	for idx := uint64(0); idx < count; idx++ {
		s.retainBucket(idx, keep)
	}
}

func (s *Set) retainBucket(idx uint64, keep func(data []byte) bool) {
	s.locks.Lock(idx)
	defer s.locks.Unlock(idx)

	now := time.Now().UnixNano()
	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		next := store.NodeNext(buf)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			data := store.NodePayload(buf, hdr.DataSize)
			if !keep(data) {
				s.unlinkLocked(idx, cur, buf)
			}
		}

		cur = next
	}
}

// RemoveExpired sweeps all buckets, unlinking expired records, and
// returns the count removed.
func (s *Set) RemoveExpired() uint64 {
	s.stats.recordWrite()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	count := store.HashBucketCount(s.headerBuf())

	var removed uint64

	for idx := uint64(0); idx < count; idx++ {
		removed += s.removeExpiredBucket(idx)
	}

	return removed
}

func (s *Set) removeExpiredBucket(idx uint64) uint64 {
	s.locks.Lock(idx)
	defer s.locks.Unlock(idx)

	now := time.Now().UnixNano()
	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	var removed uint64

	for cur != -1 {
		buf := s.nodeBuf(cur)
		next := store.NodeNext(buf)
		hdr := store.NodeHeader(buf)

		if hdr.State == store.StateValid && !hdr.IsAlive(now) {
			s.unlinkLocked(idx, cur, buf)
			removed++
		}

		cur = next
	}

	return removed
}

// ForEach yields every alive element across all buckets, in unspecified
// order. Returning false from cb stops iteration early.
func (s *Set) ForEach(cb func(data []byte) bool) {
	s.stats.recordRead()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	count := store.HashBucketCount(s.headerBuf())
	now := time.Now().UnixNano()

	for idx := uint64(0); idx < count; idx++ {
		bb := s.bucketsBuf()
		cur := store.BucketHead(bb, idx)

		for cur != -1 {
			buf := s.nodeBuf(cur)
			hdr := store.NodeHeader(buf)

			if hdr.IsAlive(now) {
				if !cb(store.NodePayload(buf, hdr.DataSize)) {
					return
				}
			}

			cur = store.NodeNext(buf)
		}
	}
}

// ToArray returns a copy of every alive element.
func (s *Set) ToArray() [][]byte {
	var out [][]byte

	s.ForEach(func(data []byte) bool {
		out = append(out, append([]byte(nil), data...))

		return true
	})

	return out
}

// Size returns the number of alive elements, recomputed across all
// buckets: authoritative over header.size.
func (s *Set) Size() int {
	count := 0

	s.ForEach(func([]byte) bool {
		count++

		return true
	})

	return count
}

// IsEmpty reports whether Size() == 0.
func (s *Set) IsEmpty() bool { return s.Size() == 0 }

// Clear removes and frees every element across all buckets.
func (s *Set) Clear() {
	s.stats.recordWrite()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	count := store.HashBucketCount(s.headerBuf())

	for idx := uint64(0); idx < count; idx++ {
		s.clearBucket(idx)
	}

	store.StoreHeaderSize(s.headerBuf(), 0)
	s.headerTouch()
}

func (s *Set) clearBucket(idx uint64) {
	s.locks.Lock(idx)
	defer s.locks.Unlock(idx)

	bb := s.bucketsBuf()
	cur := store.BucketHead(bb, idx)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		next := store.NodeNext(buf)
		store.MarkDeletedAndFree(s.mgr, cur, buf)
		cur = next
	}

	store.SetBucketHead(bb, idx, -1)
	store.BucketCountAdd(bb, idx, -int32(store.BucketCount(bb, idx)))
}
