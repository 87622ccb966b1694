package store

import "math/bits"

// minBlockSize is the smallest block the allocator will ever hand out or
// keep on a free list (including the 8-byte size prefix).
const minBlockSize = 64

// sizeClassOf returns the free-list class index for a block of the given
// total size (prefix included). Class i holds blocks in
// [2^(i+6), 2^(i+7)-1].
func sizeClassOf(size uint64) int {
	if size < minBlockSize {
		size = minBlockSize
	}

	class := bits.Len64(size) - 7 // bits.Len64(64) == 7
	if class < 0 {
		class = 0
	}

	if class >= freeListClasses {
		class = freeListClasses - 1
	}

	return class
}

// freeListHeadOffset returns the mmap byte offset of the free-list head
// slot for the given class, inside the ManagerHeader.
func freeListHeadOffset(class int) int {
	return offMgrFreeListHeads + class*8
}

// blockSizeAt reads the 8-byte size prefix stored immediately before
// payloadOffset.
func (m *Manager) blockSizeAt(blockStart uint64) uint64 {
	return loadU64(m.data, int(blockStart))
}

// Allocate reserves n bytes from the heap and returns the byte offset of
// the first usable (payload) byte. On out-of-memory, it attempts exactly
// one Grow and retries.
//
// Allocate must be called with Manager.RLock NOT held by the caller: it
// may itself invoke Grow, which takes the write lock, and a goroutine
// already holding the read lock would deadlock waiting on itself.
// Callers that need to touch the returned offset's bytes should take
// RLock only after Allocate returns, and re-derive any slice via At
// rather than reuse one obtained before the call.
func (m *Manager) Allocate(n uint32) (uint64, error) {
	if n == 0 {
		return 0, ErrInvalidArgument
	}

	off, err := m.tryAllocate(uint64(n))
	if err == nil {
		return off, nil
	}

	growBy := uint64(n) + growthStepBytes
	if growErr := m.Grow(growBy); growErr != nil {
		return 0, ErrOutOfMemory
	}

	off, err = m.tryAllocate(uint64(n))
	if err != nil {
		return 0, ErrOutOfMemory
	}

	return off, nil
}

// tryAllocate services a request from the free lists, falling back to
// carving a fresh block from the heap's highwater mark. It never grows
// the file itself.
func (m *Manager) tryAllocate(n uint64) (uint64, error) {
	need := align8(n) + 8 // 8-byte size prefix
	if need < minBlockSize {
		need = minBlockSize
	}

	if off, ok := m.popFreeBlock(need); ok {
		return off + 8, nil
	}

	for {
		hw := loadU64(m.data, offMgrHeapHighwater)
		fileSize := loadU64(m.data, offMgrFileSize)

		if hw+need > fileSize {
			return 0, ErrOutOfMemory
		}

		if !casU64(m.data, offMgrHeapHighwater, hw, hw+need) {
			continue
		}

		storeU64(m.data, int(hw), need)
		addU64(m.data, offMgrHeapUsed, need)

		return hw + 8, nil
	}
}

// freeLinkOffset is where a free block stores its free-list link,
// measured from the block start: past the 8-byte size prefix and the
// first payload word, so a freed record keeps its state and data_size
// fields as they were when it was freed.
const freeLinkOffset = 16

// popFreeBlock takes a block able to satisfy need bytes from the free
// lists, starting at need's own class and widening upward. Only the
// head block of each class's list is examined. It does not split
// oversized blocks; internal fragmentation is tolerated.
func (m *Manager) popFreeBlock(need uint64) (uint64, bool) {
	startClass := sizeClassOf(need)

	for class := startClass; class < freeListClasses; class++ {
		headOff := freeListHeadOffset(class)

		for {
			head := loadU64(m.data, headOff)
			if head == sentinelOffset {
				break
			}

			size := m.blockSizeAt(head)
			if size < need {
				// Class boundaries are approximate; if the popped
				// candidate can't fit, push it back and move up a class.
				// (Only possible at the start class due to rounding.)
				next := loadU64(m.data, int(head)+freeLinkOffset)
				if !casU64(m.data, headOff, head, next) {
					continue
				}

				m.pushFreeBlockAt(head, size)

				break
			}

			next := loadU64(m.data, int(head)+freeLinkOffset)
			if !casU64(m.data, headOff, head, next) {
				continue
			}

			addU64(m.data, offMgrHeapUsed, size)

			return head, true
		}
	}

	return 0, false
}

// pushFreeBlockAt links blockStart (size bytes, prefix included) onto the
// free list for its size class.
func (m *Manager) pushFreeBlockAt(blockStart, size uint64) {
	class := sizeClassOf(size)
	headOff := freeListHeadOffset(class)

	for {
		head := loadU64(m.data, headOff)
		storeU64(m.data, int(blockStart)+freeLinkOffset, head)

		if casU64(m.data, headOff, head, blockStart) {
			return
		}
	}
}

// Deallocate returns a previously allocated block (identified by its
// payload offset, as returned by Allocate) to the heap. Unlike Allocate,
// it never grows the file, so callers may freely hold Manager.RLock
// across this call.
func (m *Manager) Deallocate(payloadOffset uint64) error {
	if payloadOffset < 8 {
		return ErrInvalidArgument
	}

	blockStart := payloadOffset - 8
	size := m.blockSizeAt(blockStart)

	if size < minBlockSize {
		return ErrCorrupt
	}

	m.pushFreeBlockAt(blockStart, size)
	addU64(m.data, offMgrHeapUsed, ^(size - 1)) // subtract size (two's complement trick)

	return nil
}

// FreeSpace returns the number of bytes not currently allocated:
// file size minus bytes in use.
func (m *Manager) FreeSpace() uint64 {
	fileSize := loadU64(m.data, offMgrFileSize)
	heapOffset := loadU64(m.data, offMgrHeapOffset)
	used := loadU64(m.data, offMgrHeapUsed)

	return fileSize - heapOffset - used
}
