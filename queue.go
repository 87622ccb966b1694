package fastcollection

import (
	"context"
	"time"

	"github.com/ajsinha/fastcollection/internal/store"
)

// queuePollBackoff is the cooperative sleep between retries in Take and
// Poll-with-timeout. There is no condition-variable wake-up across
// processes, so blocking calls poll on a millisecond-scale backoff.
const queuePollBackoff = time.Millisecond

// Queue is a doubly-linked deque of opaque byte blobs under one global
// rw-lock, with a TTL-aware front/back skip protocol.
type Queue struct {
	mgr    *store.Manager
	header store.Region

	stats opStats
}

// Stats returns a snapshot of this handle's operation counters.
func (q *Queue) Stats() OpStats { return q.stats.snapshot() }

// OpenQueue opens or creates a Queue at path.
func OpenQueue(path string, opts Options) (*Queue, error) {
	mgr, err := store.Open(path, opts.InitialBytes, opts.CreateNew)
	if err != nil {
		return nil, translateStoreError(err)
	}

	region, err := mgr.FindOrConstructRegion("queue_header", store.DequeHeaderSize, 1, func(buf []byte) {
		store.InitDequeHeader(buf, store.KindQueue)
	})
	if err != nil {
		_ = mgr.Close()

		return nil, translateStoreError(err)
	}

	return &Queue{mgr: mgr, header: region}, nil
}

// Close flushes and releases the backing file.
func (q *Queue) Close() error {
	if err := q.mgr.Flush(); err != nil {
		return translateStoreError(err)
	}

	return translateStoreError(q.mgr.Close())
}

func (q *Queue) headerBuf() []byte { return q.mgr.At(q.header.Offset, q.header.Size) }

func (q *Queue) nodeBuf(offset int64) []byte {
	hdr := q.mgr.At(uint64(offset), store.EntryHeaderSize)
	dataSize := store.NodeHeader(hdr).DataSize

	return q.mgr.At(uint64(offset), store.NodeSize(dataSize))
}

func (q *Queue) headerTouch() { store.HeaderTouch(q.headerBuf()) }

// skipFrontLocked unlinks any expired prefix from the front, freeing
// each node's storage, per the front-skip protocol. Caller must hold
// the collection lock.
func (q *Queue) skipFrontLocked(now int64) {
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.State != store.StateValid || hdr.IsAlive(now) {
			return
		}

		next := store.NodeNext(buf)
		q.unlinkFrontNode(hb, cur, buf, next)
		cur = next
	}
}

// skipBackLocked applies the inverse protocol from the back.
func (q *Queue) skipBackLocked(now int64) {
	hb := q.headerBuf()
	cur := store.DequeBack(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.State != store.StateValid || hdr.IsAlive(now) {
			return
		}

		prev := store.NodePrev(buf)
		q.unlinkBackNode(hb, cur, buf, prev)
		cur = prev
	}
}

func (q *Queue) unlinkFrontNode(hb []byte, offset int64, buf []byte, next int64) {
	store.SetDequeFront(hb, next)

	if next == -1 {
		store.SetDequeBack(hb, -1)
	} else {
		store.SetNodePrev(q.nodeBuf(next), -1)
	}

	store.MarkDeletedAndFree(q.mgr, offset, buf)
	store.HeaderSizeAdd(hb, -1)
}

func (q *Queue) unlinkBackNode(hb []byte, offset int64, buf []byte, prev int64) {
	store.SetDequeBack(hb, prev)

	if prev == -1 {
		store.SetDequeFront(hb, -1)
	} else {
		store.SetNodeNext(q.nodeBuf(prev), -1)
	}

	store.MarkDeletedAndFree(q.mgr, offset, buf)
	store.HeaderSizeAdd(hb, -1)
}

func (q *Queue) allocNode(data []byte, ttlSeconds int64) (int64, []byte, error) {
	size := store.NodeSize(uint32(len(data)))

	off, err := q.mgr.Allocate(uint32(size))
	if err != nil {
		return 0, nil, translateStoreError(err)
	}

	hdr := store.NewEntryHeader(store.HashBytes(data), uint32(len(data)), ttlSeconds)
	buf := q.mgr.At(off, size)
	store.WriteNode(buf, hdr, -1, -1, data)
	store.PublishValid(buf)

	return int64(off), buf, nil
}

// Offer appends data to the tail. Always succeeds (the queue is
// unbounded). Add and Put are aliases.
func (q *Queue) Offer(data []byte, ttlSeconds int64) error {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordWrite()

	return q.offerLastLocked(data, ttlSeconds)
}

// Add is an alias for Offer.
func (q *Queue) Add(data []byte, ttlSeconds int64) error { return q.Offer(data, ttlSeconds) }

// Put is an alias for Offer.
func (q *Queue) Put(data []byte, ttlSeconds int64) error { return q.Offer(data, ttlSeconds) }

// OfferLast is an alias for Offer.
func (q *Queue) OfferLast(data []byte, ttlSeconds int64) error { return q.Offer(data, ttlSeconds) }

func (q *Queue) offerLastLocked(data []byte, ttlSeconds int64) error {
	off, buf, err := q.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	hb := q.headerBuf()
	back := store.DequeBack(hb)

	if back == -1 {
		store.SetDequeFront(hb, off)
		store.SetDequeBack(hb, off)
	} else {
		backBuf := q.nodeBuf(back)
		store.SetNodeNext(backBuf, off)
		store.SetNodePrev(buf, back)
		store.SetDequeBack(hb, off)
	}

	store.HeaderSizeAdd(hb, 1)
	q.headerTouch()

	return nil
}

// OfferFirst prepends data to the head.
func (q *Queue) OfferFirst(data []byte, ttlSeconds int64) error {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordWrite()

	off, buf, err := q.allocNode(data, ttlSeconds)
	if err != nil {
		return err
	}

	hb := q.headerBuf()
	front := store.DequeFront(hb)

	if front == -1 {
		store.SetDequeFront(hb, off)
		store.SetDequeBack(hb, off)
	} else {
		frontBuf := q.nodeBuf(front)
		store.SetNodePrev(frontBuf, off)
		store.SetNodeNext(buf, front)
		store.SetDequeFront(hb, off)
	}

	store.HeaderSizeAdd(hb, 1)
	q.headerTouch()

	return nil
}

// Poll removes and returns the current front, skipping expired nodes
// first. Remove and Take (non-blocking path) share this behavior.
func (q *Queue) Poll() ([]byte, bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordWrite()

	payload, ok := q.pollFrontLocked()
	if ok {
		q.stats.recordHit()
	} else {
		q.stats.recordMiss()
	}

	return payload, ok
}

// Remove is an alias for Poll.
func (q *Queue) Remove() ([]byte, bool) { return q.Poll() }

func (q *Queue) pollFrontLocked() ([]byte, bool) {
	now := time.Now().UnixNano()
	q.skipFrontLocked(now)

	hb := q.headerBuf()
	front := store.DequeFront(hb)

	if front == -1 {
		return nil, false
	}

	buf := q.nodeBuf(front)
	hdr := store.NodeHeader(buf)
	payload := append([]byte(nil), store.NodePayload(buf, hdr.DataSize)...)

	next := store.NodeNext(buf)
	q.unlinkFrontNode(hb, front, buf, next)
	q.headerTouch()

	return payload, true
}

// PollLast removes and returns the current back, skipping expired nodes
// first (the inverse protocol).
func (q *Queue) PollLast() ([]byte, bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordWrite()

	now := time.Now().UnixNano()
	q.skipBackLocked(now)

	hb := q.headerBuf()
	back := store.DequeBack(hb)

	if back == -1 {
		q.stats.recordMiss()
		return nil, false
	}

	buf := q.nodeBuf(back)
	hdr := store.NodeHeader(buf)
	payload := append([]byte(nil), store.NodePayload(buf, hdr.DataSize)...)

	prev := store.NodePrev(buf)
	q.unlinkBackNode(hb, back, buf, prev)
	q.headerTouch()
	q.stats.recordHit()

	return payload, true
}

// Take blocks until an element is available at the front or ctx is done,
// polling with a millisecond-scale cooperative backoff.
func (q *Queue) Take(ctx context.Context) ([]byte, error) {
	for {
		if data, ok := q.Poll(); ok {
			return data, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-time.After(queuePollBackoff):
		}
	}
}

// PollTimeout blocks until an element is available or timeout elapses.
func (q *Queue) PollTimeout(timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return q.Take(ctx)
}

// OfferTimeout is equivalent to Offer: the queue is unbounded and always
// succeeds immediately.
func (q *Queue) OfferTimeout(data []byte, ttlSeconds int64, _ time.Duration) error {
	return q.Offer(data, ttlSeconds)
}

// Peek returns the current front without removing it, walking past (but
// not unlinking) expired nodes. Element is an alias.
func (q *Queue) Peek() ([]byte, bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordRead()

	now := time.Now().UnixNano()
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			q.stats.recordHit()

			return append([]byte(nil), store.NodePayload(buf, hdr.DataSize)...), true
		}

		cur = store.NodeNext(buf)
	}

	q.stats.recordMiss()

	return nil, false
}

// Element is an alias for Peek.
func (q *Queue) Element() ([]byte, bool) { return q.Peek() }

// PeekLast returns the current back without removing it.
func (q *Queue) PeekLast() ([]byte, bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	now := time.Now().UnixNano()
	hb := q.headerBuf()
	cur := store.DequeBack(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			return append([]byte(nil), store.NodePayload(buf, hdr.DataSize)...), true
		}

		cur = store.NodePrev(buf)
	}

	return nil, false
}

// PeekTTL returns the remaining TTL of the first alive element.
func (q *Queue) PeekTTL() (int64, bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	now := time.Now().UnixNano()
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			if hdr.ExpiresAt == 0 {
				return TTLInfinite, true
			}

			return (hdr.ExpiresAt - now) / int64(time.Second), true
		}

		cur = store.NodeNext(buf)
	}

	return 0, false
}

// Contains reports whether data is present (visible-only).
func (q *Queue) Contains(data []byte) bool {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordRead()

	now := time.Now().UnixNano()
	hash := store.HashBytes(data)
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) && hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			q.stats.recordHit()

			return true
		}

		cur = store.NodeNext(buf)
	}

	q.stats.recordMiss()

	return false
}

// RemoveElement removes the first occurrence of data.
func (q *Queue) RemoveElement(data []byte) bool {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordWrite()

	hash := store.HashBytes(data)
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		next := store.NodeNext(buf)
		hdr := store.NodeHeader(buf)

		if hdr.State == store.StateValid && hdr.HashCode == hash && bytesEqual(store.NodePayload(buf, hdr.DataSize), data) {
			prev := store.NodePrev(buf)
			q.spliceOutLocked(hb, cur, buf, prev, next)
			q.stats.recordHit()

			return true
		}

		cur = next
	}

	q.stats.recordMiss()

	return false
}

func (q *Queue) spliceOutLocked(hb []byte, offset int64, buf []byte, prev, next int64) {
	if prev == -1 {
		store.SetDequeFront(hb, next)
	} else {
		store.SetNodeNext(q.nodeBuf(prev), next)
	}

	if next == -1 {
		store.SetDequeBack(hb, prev)
	} else {
		store.SetNodePrev(q.nodeBuf(next), prev)
	}

	store.MarkDeletedAndFree(q.mgr, offset, buf)
	store.HeaderSizeAdd(hb, -1)
	q.headerTouch()
}

// Clear removes and frees every element.
func (q *Queue) Clear() {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordWrite()

	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		next := store.NodeNext(buf)
		store.MarkDeletedAndFree(q.mgr, cur, buf)
		cur = next
	}

	store.SetDequeFront(hb, -1)
	store.SetDequeBack(hb, -1)
	store.StoreHeaderSize(hb, 0)
	q.headerTouch()
}

// Size returns the number of alive elements, recomputed by walking the
// chain after a front/back skip.
func (q *Queue) Size() int {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	now := time.Now().UnixNano()
	q.skipFrontLocked(now)
	q.skipBackLocked(now)

	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	count := 0

	for cur != -1 {
		buf := q.nodeBuf(cur)
		if store.NodeHeader(buf).IsAlive(now) {
			count++
		}

		cur = store.NodeNext(buf)
	}

	return count
}

// IsEmpty reports whether Size() == 0.
func (q *Queue) IsEmpty() bool { return q.Size() == 0 }

// ForEach yields alive elements front->back. Returning false from cb
// stops iteration early.
func (q *Queue) ForEach(cb func(data []byte) bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	q.stats.recordRead()

	now := time.Now().UnixNano()
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			if !cb(store.NodePayload(buf, hdr.DataSize)) {
				return
			}
		}

		cur = store.NodeNext(buf)
	}
}

// ForEachWithTTL yields alive elements with their remaining TTL.
func (q *Queue) ForEachWithTTL(cb func(data []byte, ttlSeconds int64) bool) {
	q.mgr.Lock()
	defer q.mgr.Unlock()

	now := time.Now().UnixNano()
	hb := q.headerBuf()
	cur := store.DequeFront(hb)

	for cur != -1 {
		buf := q.nodeBuf(cur)
		hdr := store.NodeHeader(buf)

		if hdr.IsAlive(now) {
			ttl := TTLInfinite
			if hdr.ExpiresAt != 0 {
				ttl = (hdr.ExpiresAt - now) / int64(time.Second)
			}

			if !cb(store.NodePayload(buf, hdr.DataSize), ttl) {
				return
			}
		}

		cur = store.NodeNext(buf)
	}
}

// DrainTo repeatedly polls the front and invokes cb with each payload,
// stopping when cb has been invoked max times (0 means unbounded) or the
// queue is empty. Returns the number of elements drained.
func (q *Queue) DrainTo(cb func(data []byte), max int) int {
	drained := 0

	for max == 0 || drained < max {
		data, ok := q.Poll()
		if !ok {
			break
		}

		cb(data)
		drained++
	}

	return drained
}
