package fastcollection

import (
	"time"

	"github.com/ajsinha/fastcollection/internal/store"
)

// Stack is a LIFO singly-linked chain over the Deque-header's front
// link. Every write — Push, Pop, and the structural sweeps
// (remove_element, remove_expired, clear) — takes the collection's
// exclusive rw-lock (store.Manager Lock/Unlock, the registry+
// interprocess pair) for its whole body, the same way List and Queue
// do. An earlier version let Push/Pop race the front pointer against
// the sweeps via a CAS loop on just that one field; that's not enough,
// since a sweep can observe a node as the current front and then lose
// a race to a concurrent Pop that frees it before the sweep gets to
// unlink it, which no amount of care on the front-pointer write alone
// closes. Taking Lock/Unlock for the whole operation is what List and
// Queue already do, and removes the hazard at its root instead of
// patching around it. That lock is a different mutex from the one that
// guards the backing mapping's address against Grow, so every method
// here additionally holds the manager's growth guard
// (store.Manager.RLock) for its whole access span.
type Stack struct {
	mgr    *store.Manager
	header store.Region

	stats opStats
}

// Stats returns a snapshot of this handle's operation counters.
func (s *Stack) Stats() OpStats { return s.stats.snapshot() }

// OpenStack opens or creates a Stack at path.
func OpenStack(path string, opts Options) (*Stack, error) {
	mgr, err := store.Open(path, opts.InitialBytes, opts.CreateNew)
	if err != nil {
		return nil, translateStoreError(err)
	}

	region, err := mgr.FindOrConstructRegion("stack_header", store.DequeHeaderSize, 1, func(buf []byte) {
		store.InitDequeHeader(buf, store.KindStack)
	})
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	return &Stack{mgr: mgr, header: region}, nil
}

// Close flushes and releases the backing file.
func (s *Stack) Close() error {
	if err := s.mgr.Flush(); err != nil {
		return translateStoreError(err)
	}

	return translateStoreError(s.mgr.Close())
}

func (s *Stack) headerBuf() []byte { return s.mgr.At(s.header.Offset, s.header.Size) }

func (s *Stack) nodeBuf(offset int64) []byte {
	hdr := s.mgr.At(uint64(offset), store.EntryHeaderSize)
	dataSize := store.NodeHeader(hdr).DataSize

	return s.mgr.At(uint64(offset), store.NodeSize(dataSize))
}

// allocNode allocates a new node and writes its payload, returning its
// offset. The Allocate call happens with no Manager.RLock held (it may
// itself invoke Grow, which takes the write lock); RLock is acquired
// only afterward, around the write into the freshly allocated buffer.
func (s *Stack) allocNode(data []byte, ttlSeconds int64) (int64, error) {
	size := store.NodeSize(uint32(len(data)))

	off, err := s.mgr.Allocate(uint32(size))
	if err != nil {
		return 0, translateStoreError(err)
	}

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hdr := store.NewEntryHeader(store.HashBytes(data), uint32(len(data)), ttlSeconds)
	buf := s.mgr.At(off, size)
	store.WriteNode(buf, hdr, -1, -1, data)

	return int64(off), nil
}

// Push publishes a new top-of-stack node. The allocation happens with
// no locks held (see allocNode; it may itself invoke Grow); Lock and
// RLock are taken only afterward, around linking the freshly allocated
// node onto the front.
func (s *Stack) Push(data []byte, ttlSeconds int64) error {
	s.stats.recordWrite()

	off, err := s.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	s.mgr.Lock()
	defer s.mgr.Unlock()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	buf := s.nodeBuf(off)
	hb := s.headerBuf()
	top := store.DequeFront(hb)

	store.SetNodeNext(buf, top)
	store.SetNodePrev(buf, -1)
	store.PublishValid(buf)

	if top != -1 {
		store.SetNodePrev(s.nodeBuf(top), off)
	} else {
		store.SetDequeBack(hb, off)
	}

	store.SetDequeFront(hb, off)
	store.HeaderSizeAdd(hb, 1)
	store.HeaderTouch(hb)

	return nil
}

// Pop removes and returns the current top, skipping (and discarding)
// any expired prefix first.
func (s *Stack) Pop() ([]byte, bool) {
	s.stats.recordWrite()

	s.mgr.Lock()
	defer s.mgr.Unlock()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hb := s.headerBuf()

	for {
		top := store.DequeFront(hb)
		if top == -1 {
			s.stats.recordMiss()
			return nil, false
		}

		buf := s.nodeBuf(top)
		hdr := store.NodeHeader(buf)
		next := store.NodeNext(buf)

		store.SetDequeFront(hb, next)

		if next == -1 {
			store.SetDequeBack(hb, -1)
		} else {
			store.SetNodePrev(s.nodeBuf(next), -1)
		}

		store.HeaderSizeAdd(hb, -1)
		store.HeaderTouch(hb)

		if !hdr.IsAlive(time.Now().UnixNano()) {
			store.MarkDeletedAndFree(s.mgr, top, buf)

			continue
		}

		payload := append([]byte(nil), store.NodePayload(buf, hdr.DataSize)...)
		store.MarkDeletedAndFree(s.mgr, top, buf)
		s.stats.recordHit()

		return payload, true
	}
}

// Peek returns the current top without removing it, walking past (but
// not unlinking) any expired prefix. Lock-free.
func (s *Stack) Peek() ([]byte, bool) {
	s.stats.recordRead()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	now := time.Now().UnixNano()
	hb := s.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			s.stats.recordHit()

			return append([]byte(nil), store.NodePayload(buf, hdr.DataSize)...), true
		}

		cur = store.NodeNext(buf)
	}

	s.stats.recordMiss()

	return nil, false
}

// Search returns the 1-based distance of data from the top (skipping
// expired nodes without counting them), or -1 if not present. Lock-free.
func (s *Stack) Search(data []byte) int {
	s.stats.recordRead()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	now := time.Now().UnixNano()
	hash := store.HashBytes(data)
	hb := s.headerBuf()
	cur := store.DequeFront(hb)

	pos := 0

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			pos++

			if hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
				return pos
			}
		}

		cur = store.NodeNext(buf)
	}

	return -1
}

// Contains reports whether data is present among the alive elements.
func (s *Stack) Contains(data []byte) bool { return s.Search(data) != -1 }

// Size returns the number of alive elements. Lock-free: walks the
// chain counting entries whose state is Valid and unexpired.
func (s *Stack) Size() int {
	s.mgr.RLock()
	defer s.mgr.RUnlock()

	now := time.Now().UnixNano()
	hb := s.headerBuf()
	cur := store.DequeFront(hb)

	count := 0

	for cur != -1 {
		buf := s.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			count++
		}

		cur = store.NodeNext(buf)
	}

	return count
}

// IsEmpty reports whether Size() == 0.
func (s *Stack) IsEmpty() bool { return s.Size() == 0 }

// RemoveElement removes the first occurrence of data, searching from
// the top. Takes the collection's exclusive rw-lock: splicing out of
// the middle of the chain can't be expressed as a single CAS.
func (s *Stack) RemoveElement(data []byte) bool {
	s.stats.recordWrite()

	s.mgr.Lock()
	defer s.mgr.Unlock()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hash := store.HashBytes(data)
	hb := s.headerBuf()
	cur := store.DequeFront(hb)
	prev := int64(-1)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		next := store.NodeNext(buf)
		hdr := store.NodeHeader(buf)

		if hdr.State == store.StateValid && hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			s.spliceOutLocked(hb, cur, buf, prev, next)
			s.stats.recordHit()

			return true
		}

		prev = cur
		cur = next
	}

	s.stats.recordMiss()

	return false
}

func (s *Stack) spliceOutLocked(hb []byte, offset int64, buf []byte, prev, next int64) {
	if prev == -1 {
		store.SetDequeFront(hb, next)
	} else {
		store.SetNodeNext(s.nodeBuf(prev), next)
	}

	if next == -1 {
		store.SetDequeBack(hb, prev)
	} else {
		store.SetNodePrev(s.nodeBuf(next), prev)
	}

	store.MarkDeletedAndFree(s.mgr, offset, buf)
	store.HeaderSizeAdd(hb, -1)
	store.HeaderTouch(hb)
}

// RemoveExpired sweeps the whole chain and unlinks every expired entry,
// under the exclusive rw-lock.
func (s *Stack) RemoveExpired() uint64 {
	s.stats.recordWrite()

	s.mgr.Lock()
	defer s.mgr.Unlock()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	now := time.Now().UnixNano()
	hb := s.headerBuf()
	cur := store.DequeFront(hb)
	prev := int64(-1)

	var removed uint64

	for cur != -1 {
		buf := s.nodeBuf(cur)
		next := store.NodeNext(buf)
		hdr := store.NodeHeader(buf)

		if hdr.State == store.StateValid && !hdr.IsAlive(now) {
			s.spliceOutLocked(hb, cur, buf, prev, next)
			removed++
			cur = next

			continue
		}

		prev = cur
		cur = next
	}

	return removed
}

// Clear removes and frees every element, under the exclusive rw-lock.
func (s *Stack) Clear() {
	s.stats.recordWrite()

	s.mgr.Lock()
	defer s.mgr.Unlock()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	hb := s.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := s.nodeBuf(cur)
		next := store.NodeNext(buf)
		store.MarkDeletedAndFree(s.mgr, cur, buf)
		cur = next
	}

	store.SetDequeFront(hb, -1)
	store.SetDequeBack(hb, -1)
	store.StoreHeaderSize(hb, 0)
	store.HeaderTouch(hb)
}

// ForEach yields alive elements top->bottom, under the exclusive
// rw-lock so a concurrent push/pop can't unlink a node mid-walk.
// Returning false from cb stops iteration early.
func (s *Stack) ForEach(cb func(data []byte) bool) {
	s.stats.recordRead()

	s.mgr.Lock()
	defer s.mgr.Unlock()

	s.mgr.RLock()
	defer s.mgr.RUnlock()

	now := time.Now().UnixNano()
	hb := s.headerBuf()
	cur := store.DequeFront(hb)

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
