package fastcollection

import (
	"time"

	"github.com/ajsinha/fastcollection/internal/store"
)

// List is an ordered sequence of opaque byte blobs backed by a
// memory-mapped file, each element carrying its own TTL.
//
// Every operation, including reads, takes the collection's global
// rw-lock in exclusive mode: the implementation does not attempt shared
// reads.
type List struct {
	mgr    *store.Manager
	header store.Region

	// cache is the single-threaded access-cache hint: the last index
	// returned and the offset it lived at, so a sequential scan from
	// there is O(1) amortised. It is invalidated on every structural
	// mutation and is not persisted across process restarts.
	cache struct {
		valid  bool
		index  int
		offset int64
	}

	stats opStats
}

// Stats returns a snapshot of this handle's operation counters.
func (l *List) Stats() OpStats { return l.stats.snapshot() }

// OpenList opens or creates a List at path.
func OpenList(path string, opts Options) (*List, error) {
	mgr, err := store.Open(path, opts.InitialBytes, opts.CreateNew)
	if err != nil {
		return nil, translateStoreError(err)
	}

	region, err := mgr.FindOrConstructRegion("list_header", store.ListHeaderSize, 1, store.InitListHeader)
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	return &List{mgr: mgr, header: region}, nil
}

// Close flushes and releases the backing file.
func (l *List) Close() error {
	if err := l.mgr.Flush(); err != nil {
		return translateStoreError(err)
	}

	return translateStoreError(l.mgr.Close())
}

func (l *List) headerBuf() []byte { return l.mgr.At(l.header.Offset, l.header.Size) }

func (l *List) invalidateCache() { l.cache.valid = false }

// nodeBuf returns the full record slice for the node at offset, resolving
// its variable size from the Entry-header's data_size field.
func (l *List) nodeBuf(offset int64) []byte {
	hdr := l.mgr.At(uint64(offset), store.EntryHeaderSize)
	dataSize := store.NodeHeader(hdr).DataSize
	size := store.NodeSize(dataSize)

	return l.mgr.At(uint64(offset), size)
}

func (l *List) isAlive(buf []byte, now int64) bool {
	return store.NodeHeader(buf).IsAlive(now)
}

// Add appends data to the tail. Equivalent to AddAt(Size(), data, ttl).
func (l *List) Add(data []byte, ttlSeconds int64) error {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	return l.appendTail(data, ttlSeconds)
}

// AddFirst prepends data to the head.
func (l *List) AddFirst(data []byte, ttlSeconds int64) error {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	return l.prependHead(data, ttlSeconds)
}

func (l *List) allocNode(data []byte, ttlSeconds int64) (int64, []byte, error) {
	size := store.NodeSize(uint32(len(data)))

	off, err := l.mgr.Allocate(uint32(size))
	if err != nil {
		return 0, nil, translateStoreError(err)
	}

	hdr := store.NewEntryHeader(store.HashBytes(data), uint32(len(data)), ttlSeconds)
	buf := l.mgr.At(off, size)
	store.WriteNode(buf, hdr, -1, -1, data)
	store.PublishValid(buf)

	return int64(off), buf, nil
}

func (l *List) appendTail(data []byte, ttlSeconds int64) error {
	off, buf, err := l.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	hb := l.headerBuf()
	tail := store.ListTail(hb)

	if tail == -1 {
		store.SetListHead(hb, off)
		store.SetListTail(hb, off)
	} else {
		tailBuf := l.nodeBuf(tail)
		store.SetNodeNext(tailBuf, off)
		store.SetNodePrev(buf, tail)
		store.SetListTail(hb, off)
	}

	store.HeaderSizeAdd(hb, 1)
	store.HeaderTouch(hb)
	l.invalidateCache()

	return nil
}

func (l *List) prependHead(data []byte, ttlSeconds int64) error {
	off, buf, err := l.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	hb := l.headerBuf()
	head := store.ListHead(hb)

	if head == -1 {
		store.SetListHead(hb, off)
		store.SetListTail(hb, off)
	} else {
		headBuf := l.nodeBuf(head)
		store.SetNodePrev(headBuf, off)
		store.SetNodeNext(buf, head)
		store.SetListHead(hb, off)
	}

	store.HeaderSizeAdd(hb, 1)
	store.HeaderTouch(hb)
	l.invalidateCache()

	return nil
}

// AddAt inserts data before index i. i == Size() appends; i == 0 prepends.
// Returns ErrIndexOutOfBounds if i > Size().
func (l *List) AddAt(i int, data []byte, ttlSeconds int64) error {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	size := l.sizeLocked()
	if i < 0 || i > size {
		return ErrIndexOutOfBounds
	}

	if i == size {
		return l.appendTail(data, ttlSeconds)
	}

	if i == 0 {
		return l.prependHead(data, ttlSeconds)
	}

	targetOff, targetBuf, ok := l.nodeAtIndexLocked(i)
	if !ok {
		return ErrIndexOutOfBounds
	}

	prevOff := store.NodePrev(targetBuf)

	off, buf, err := l.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	prevBuf := l.nodeBuf(prevOff)
	store.SetNodeNext(prevBuf, off)
	store.SetNodePrev(buf, prevOff)
	store.SetNodeNext(buf, targetOff)
	store.SetNodePrev(targetBuf, off)

	hb := l.headerBuf()
	store.HeaderSizeAdd(hb, 1)
	store.HeaderTouch(hb)
	l.invalidateCache()

	return nil
}

// nodeAtIndexLocked walks the chain to the i-th alive node, using and
// updating the access cache. Caller must hold the collection lock.
func (l *List) nodeAtIndexLocked(i int) (int64, []byte, bool) {
	now := time.Now().UnixNano()
	hb := l.headerBuf()

	if l.cache.valid {
		if l.cache.index == i {
			buf := l.nodeBuf(l.cache.offset)
			if l.isAlive(buf, now) {
				return l.cache.offset, buf, true
			}

			l.invalidateCache()
		} else if l.cache.index+1 == i {
			buf := l.nodeBuf(l.cache.offset)
			next := store.NodeNext(buf)

			if next != -1 {
				nbuf := l.nodeBuf(next)
				if l.isAlive(nbuf, now) {
					l.cache.index = i
					l.cache.offset = next

					return next, nbuf, true
				}
			}

			l.invalidateCache()
		} else if l.cache.index-1 == i {
			buf := l.nodeBuf(l.cache.offset)
			prev := store.NodePrev(buf)

			if prev != -1 {
				pbuf := l.nodeBuf(prev)
				if l.isAlive(pbuf, now) {
					l.cache.index = i
					l.cache.offset = prev

					return prev, pbuf, true
				}
			}

			l.invalidateCache()
		}
	}

	idx := 0
	cur := store.ListHead(hb)

	for cur != -1 {
		buf := l.nodeBuf(cur)
		if l.isAlive(buf, now) {
			if idx == i {
				l.cache.valid = true
				l.cache.index = i
				l.cache.offset = cur

				return cur, buf, true
			}

			idx++
		}

		cur = store.NodeNext(buf)
	}

	return 0, nil, false
}

// Get returns the payload at index i, or (nil, false) if absent/expired.
func (l *List) Get(i int) ([]byte, bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	_, buf, ok := l.nodeAtIndexLocked(i)
	if !ok {
		l.stats.recordMiss()
		return nil, false
	}

	l.stats.recordHit()

	return append([]byte(nil), store.NodePayload(buf, store.NodeHeader(buf).DataSize)...), true
}

// GetFirst returns the first alive element, skipping any expired prefix.
func (l *List) GetFirst() ([]byte, bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	payload, ok := l.endPayload(true)
	if ok {
		l.stats.recordHit()
	} else {
		l.stats.recordMiss()
	}

	return payload, ok
}

// GetLast returns the last alive element, skipping any expired suffix.
func (l *List) GetLast() ([]byte, bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	payload, ok := l.endPayload(false)
	if ok {
		l.stats.recordHit()
	} else {
		l.stats.recordMiss()
	}

	return payload, ok
}

func (l *List) endPayload(fromHead bool) ([]byte, bool) {
	now := time.Now().UnixNano()
	hb := l.headerBuf()

	var cur int64
	if fromHead {
		cur = store.ListHead(hb)
	} else {
		cur = store.ListTail(hb)
	}

	for cur != -1 {
		buf := l.nodeBuf(cur)
		if l.isAlive(buf, now) {
			return append([]byte(nil), store.NodePayload(buf, store.NodeHeader(buf).DataSize)...), true
		}

		if fromHead {
			cur = store.NodeNext(buf)
		} else {
			cur = store.NodePrev(buf)
		}
	}

	return nil, false
}

// Set overwrites the element at index i. If the new payload is the same
// size as the old, it is updated in place; otherwise the node is
// reallocated and relinked at the same position.
func (l *List) Set(i int, data []byte, ttlSeconds int64) error {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	off, buf, ok := l.nodeAtIndexLocked(i)
	if !ok {
		return ErrIndexOutOfBounds
	}

	oldHdr := store.NodeHeader(buf)
	if uint32(len(data)) == oldHdr.DataSize {
		newHdr := store.NewEntryHeader(store.HashBytes(data), uint32(len(data)), ttlSeconds)
		newHdr.CreatedAt = oldHdr.CreatedAt

		prev, next := store.NodePrev(buf), store.NodeNext(buf)
		store.WriteNode(buf, newHdr, prev, next, data)
		store.PublishValid(buf)
		l.headerTouch()

		return nil
	}

	prevOff, nextOff := store.NodePrev(buf), store.NodeNext(buf)

	newOff, newBuf, err := l.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	store.SetNodePrev(newBuf, prevOff)
	store.SetNodeNext(newBuf, nextOff)

	hb := l.headerBuf()

	if prevOff == -1 {
		store.SetListHead(hb, newOff)
	} else {
		store.SetNodeNext(l.nodeBuf(prevOff), newOff)
	}

	if nextOff == -1 {
		store.SetListTail(hb, newOff)
	} else {
		store.SetNodePrev(l.nodeBuf(nextOff), newOff)
	}

	store.MarkDeletedAndFree(l.mgr, off, buf)
	l.invalidateCache()
	l.headerTouch()

	return nil
}

func (l *List) headerTouch() { store.HeaderTouch(l.headerBuf()) }

// SetTTL updates the TTL (and rebases created_at) of the alive element at
// index i. Returns false if i is out of range or the element is expired.
func (l *List) SetTTL(i int, ttlSeconds int64) bool {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	_, buf, ok := l.nodeAtIndexLocked(i)
	if !ok {
		return false
	}

	store.RebaseTTL(buf, ttlSeconds)
	l.headerTouch()

	return true
}

// Remove removes and returns the element at index i.
func (l *List) Remove(i int) ([]byte, bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	off, buf, ok := l.nodeAtIndexLocked(i)
	if !ok {
		l.stats.recordMiss()
		return nil, false
	}

	l.stats.recordHit()

	payload := append([]byte(nil), store.NodePayload(buf, store.NodeHeader(buf).DataSize)...)
	l.unlinkLocked(off, buf)
	l.invalidateCache()

	return payload, true
}

// RemoveFirst removes and returns the current first alive element.
func (l *List) RemoveFirst() ([]byte, bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	payload, ok := l.removeEnd(true)
	if ok {
		l.stats.recordHit()
	} else {
		l.stats.recordMiss()
	}

	return payload, ok
}

// RemoveLast removes and returns the current last alive element.
func (l *List) RemoveLast() ([]byte, bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	payload, ok := l.removeEnd(false)
	if ok {
		l.stats.recordHit()
	} else {
		l.stats.recordMiss()
	}

	return payload, ok
}

func (l *List) removeEnd(fromHead bool) ([]byte, bool) {
	now := time.Now().UnixNano()
	hb := l.headerBuf()

	var cur int64
	if fromHead {
		cur = store.ListHead(hb)
	} else {
		cur = store.ListTail(hb)
	}

	for cur != -1 {
		buf := l.nodeBuf(cur)
		if l.isAlive(buf, now) {
			payload := append([]byte(nil), store.NodePayload(buf, store.NodeHeader(buf).DataSize)...)
			l.unlinkLocked(cur, buf)
			l.invalidateCache()

			return payload, true
		}

		if fromHead {
			cur = store.NodeNext(buf)
		} else {
			cur = store.NodePrev(buf)
		}
	}

	return nil, false
}

// unlinkLocked splices offset out of the chain and frees its storage.
// Caller must hold the collection lock.
func (l *List) unlinkLocked(offset int64, buf []byte) {
	prev, next := store.NodePrev(buf), store.NodeNext(buf)
	hb := l.headerBuf()

	if prev == -1 {
		store.SetListHead(hb, next)
	} else {
		store.SetNodeNext(l.nodeBuf(prev), next)
	}

	if next == -1 {
		store.SetListTail(hb, prev)
	} else {
		store.SetNodePrev(l.nodeBuf(next), prev)
	}

	store.MarkDeletedAndFree(l.mgr, offset, buf)
	store.HeaderSizeAdd(hb, -1)
	store.HeaderTouch(hb)
}

// RemoveElement removes the first occurrence of data, pre-filtering by
// hash code before a byte-for-byte comparison.
func (l *List) RemoveElement(data []byte) bool {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	now := time.Now().UnixNano()
	hash := store.HashBytes(data)
	hb := l.headerBuf()
	cur := store.ListHead(hb)

	for cur != -1 {
		buf := l.nodeBuf(cur)
		next := store.NodeNext(buf)

		if l.isAlive(buf, now) {
			hdr := store.NodeHeader(buf)
			if hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
				l.unlinkLocked(cur, buf)
				l.invalidateCache()
				l.stats.recordHit()

				return true
			}
		}

		cur = next
	}

	l.stats.recordMiss()

	return false
}

// RemoveExpired sweeps the whole chain, unlinking and freeing every
// expired node, and returns the count removed.
func (l *List) RemoveExpired() uint64 {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	now := time.Now().UnixNano()
	hb := l.headerBuf()
	cur := store.ListHead(hb)

	var count uint64

	for cur != -1 {
		buf := l.nodeBuf(cur)
		next := store.NodeNext(buf)
		hdr := store.NodeHeader(buf)

		if hdr.State == store.StateValid && !hdr.IsAlive(now) {
			l.unlinkLocked(cur, buf)
			count++
		}

		cur = next
	}

	if count > 0 {
		l.invalidateCache()
	}

	return count
}

// Contains reports whether data is present (visible-only).
func (l *List) Contains(data []byte) bool {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	found := l.indexOfLocked(data, false) >= 0
	if found {
		l.stats.recordHit()
	} else {
		l.stats.recordMiss()
	}

	return found
}

// IndexOf returns the index of the first occurrence, or -1.
func (l *List) IndexOf(data []byte) int {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	return l.indexOfLocked(data, false)
}

// LastIndexOf returns the index of the last occurrence, or -1.
func (l *List) LastIndexOf(data []byte) int {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	return l.indexOfLocked(data, true)
}

func (l *List) indexOfLocked(data []byte, last bool) int {
	now := time.Now().UnixNano()
	hash := store.HashBytes(data)
	hb := l.headerBuf()
	cur := store.ListHead(hb)

	idx := 0
	found := -1

	for cur != -1 {
		buf := l.nodeBuf(cur)
		if l.isAlive(buf, now) {
			hdr := store.NodeHeader(buf)
			if hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
				found = idx
				if !last {
					return found
				}
			}

			idx++
		}

		cur = store.NodeNext(buf)
	}

	return found
}

// Size returns the number of alive elements, recomputed by walking the
// chain: authoritative over header.size, which is O(n) too.
func (l *List) Size() int {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	return l.sizeLocked()
}

func (l *List) sizeLocked() int {
	now := time.Now().UnixNano()
	hb := l.headerBuf()
	cur := store.ListHead(hb)

	count := 0

	for cur != -1 {
		buf := l.nodeBuf(cur)
		if l.isAlive(buf, now) {
			count++
		}

		cur = store.NodeNext(buf)
	}

	return count
}

// IsEmpty reports whether Size() == 0.
func (l *List) IsEmpty() bool { return l.Size() == 0 }

// Clear removes and frees every element.
func (l *List) Clear() {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordWrite()

	hb := l.headerBuf()
	cur := store.ListHead(hb)

	for cur != -1 {
		buf := l.nodeBuf(cur)
		next := store.NodeNext(buf)
		store.MarkDeletedAndFree(l.mgr, cur, buf)
		cur = next
	}

	store.SetListHead(hb, -1)
	store.SetListTail(hb, -1)
	store.StoreHeaderSize(hb, 0)
	store.HeaderTouch(hb)
	l.invalidateCache()
}

// ForEach yields alive nodes in head->tail order. Returning false from cb
// stops iteration early.
func (l *List) ForEach(cb func(data []byte) bool) {
	l.mgr.Lock()
	defer l.mgr.Unlock()

	l.stats.recordRead()

	now := time.Now().UnixNano()
	hb := l.headerBuf()
	cur := store.ListHead(hb)

	for cur != -1 {
		buf := l.nodeBuf(cur)
		if l.isAlive(buf, now) {
			hdr := store.NodeHeader(buf)
			if !cb(store.NodePayload(buf, hdr.DataSize)) {
				return
			}
		}

		cur = store.NodeNext(buf)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}
