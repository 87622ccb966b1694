package store

import "fmt"

// Region is a handle to a named, typed region of the mapped file. Offset
// and Size are stable across Grow (and across process restarts); callers
// must re-derive byte slices from Manager.At rather than caching []byte
// views, since Grow can remap the file to a new address.
type Region struct {
	Offset uint64
	Size   uint64
}

// directorySlotOffset returns the byte offset of directory slot i.
func (m *Manager) directorySlotOffset(i uint32) uint64 {
	dirOffset := getU64(m.data, offMgrDirectoryOffset)

	return dirOffset + uint64(i)*direntrySize
}

// findRegion scans the directory for a region with the given name.
// Returns ok=false if absent. The directory is small (<= DirectoryCapacity
// entries) so a linear scan is appropriate.
func (m *Manager) findRegion(name string) (Region, bool) {
	count := getU32(m.data, offMgrDirectoryCount)

	nameBytes := [direntryNameLen]byte{}
	copy(nameBytes[:], name)

	for i := uint32(0); i < count; i++ {
		slot := m.directorySlotOffset(i)
		entryName := m.data[slot : slot+direntryNameLen]

		if string(trimZero(entryName)) == name {
			offset := getU64(m.data, int(slot)+direntryOffOffset)
			size := getU64(m.data, int(slot)+direntryOffSize)

			return Region{Offset: offset, Size: size}, true
		}
	}

	return Region{}, false
}

// trimZero returns b without its trailing zero bytes.
func trimZero(b []byte) []byte {
	end := len(b)
	for end > 0 && b[end-1] == 0 {
		end--
	}

	return b[:end]
}

// addRegion appends a new directory entry. Callers must hold
// Manager.Lock (regions are created only at construction time, by
// FindOrConstructRegion, which holds it).
func (m *Manager) addRegion(name string, kind, elemSize, count uint32, offset, size uint64) error {
	dirCount := getU32(m.data, offMgrDirectoryCount)
	dirCap := getU32(m.data, offMgrDirectoryCap)

	if dirCount >= dirCap {
		return fmt.Errorf("directory full (capacity %d): %w", dirCap, ErrOutOfMemory)
	}

	if len(name) > direntryNameLen {
		return fmt.Errorf("region name %q exceeds %d bytes: %w", name, direntryNameLen, ErrInvalidArgument)
	}

	slot := m.directorySlotOffset(dirCount)

	nameBuf := m.data[slot : slot+direntryNameLen]
	for i := range nameBuf {
		nameBuf[i] = 0
	}

	copy(nameBuf, name)

	putU32(m.data, int(slot)+direntryOffKind, kind)
	putU32(m.data, int(slot)+direntryOffElemSize, elemSize)
	putU32(m.data, int(slot)+direntryOffCount, count)
	putU64(m.data, int(slot)+direntryOffOffset, offset)
	putU64(m.data, int(slot)+direntryOffSize, size)

	putU32(m.data, offMgrDirectoryCount, dirCount+1)

	return nil
}

// FindOrConstructRegion returns the named region if it already exists
// (validating its size matches elemSize*count), or allocates
// elemSize*count bytes from the heap, zero-initializes them, invokes
// init, records the region in the directory, and returns it.
//
// Go has no portable way to overlay an arbitrary type T onto mmap'd
// bytes across process boundaries, so callers pass the byte size of
// their record layout instead of a type parameter.
func (m *Manager) FindOrConstructRegion(name string, elemSize, count uint32, init func(buf []byte)) (Region, error) {
	if err := m.Lock(); err != nil {
		return Region{}, err
	}
	defer m.Unlock()

	if r, ok := m.findRegion(name); ok {
		wantSize := uint64(elemSize) * uint64(count)
		if r.Size != wantSize {
			return Region{}, fmt.Errorf("region %q size mismatch (have %d, want %d): %w", name, r.Size, wantSize, ErrIncompatible)
		}

		return r, nil
	}

	total := uint64(elemSize) * uint64(count)
	if total == 0 || total > uint64(^uint32(0)) {
		return Region{}, ErrInvalidArgument
	}

	offset, err := m.Allocate(uint32(total))
	if err != nil {
		return Region{}, err
	}

	buf := m.data[offset : offset+total]
	for i := range buf {
		buf[i] = 0
	}

	if init != nil {
		init(buf)
	}

	kind := RegionKindBytes
	if count > 1 {
		kind = RegionKindArray
	}

	if err := m.addRegion(name, kind, elemSize, count, offset, total); err != nil {
		return Region{}, err
	}

	return Region{Offset: offset, Size: total}, nil
}

// FindRegion performs a non-constructing lookup.
func (m *Manager) FindRegion(name string) (Region, bool) {
	return m.findRegion(name)
}

// At returns a fresh []byte view into the mapped file for [offset,
// offset+size). Must be called again after any Grow, since Grow may
// remap the file to a new base address. At does not itself take
// Manager.RLock: callers that don't already hold the collection's
// full per-op lock (List, Queue) must hold RLock themselves for as
// long as the returned slice is in use.
func (m *Manager) At(offset, size uint64) []byte {
	return m.data[offset : offset+size]
}
