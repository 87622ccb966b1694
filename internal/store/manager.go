package store

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ajsinha/fastcollection/internal/fs"
)

// defaultFS is the filesystem Open uses for every stat/open/truncate call
// ahead of the raw mmap, swappable in tests that need fault injection
// without touching the mmap/unix path itself.
var defaultFS fs.FS = fs.NewReal()

// growthStepBytes is added on top of the requested size whenever Grow is
// invoked from Allocate's retry path, to amortize the cost of repeated
// small grows.
const growthStepBytes = 4 << 20 // 4 MiB

// initialFileBytes is the default size for newly created files, large
// enough to hold the ManagerHeader, the directory, and a modest heap
// without an immediate grow.
const initialFileBytes = 1 << 20 // 1 MiB

// Manager owns one memory-mapped file: a typed named-region directory
// and a free-list heap. Every linked record in every container is
// addressed through it by byte offset, never by a
// live pointer, since Grow may remap the file to a new virtual address.
//
// Manager is safe for concurrent use: the heap allocator is lock-free
// (CAS-based), and directory construction happens only under the
// exclusive Create/Open path before any container exposes the handle.
type Manager struct {
	mu sync.RWMutex // guards data/fd/closed across Grow and Close

	path string
	fd   int
	data []byte

	closed bool

	identity fileIdentity
	registry *registryEntry
	ipLock   *InterprocessLock
}

// Lock acquires the collection's global rw-lock in exclusive mode:
// first the in-process registry entry (coordinating multiple Manager
// handles open on the same file within this process), then the
// interprocess advisory lock.
func (m *Manager) Lock() error {
	m.registry.mu.Lock()

	lk, err := AcquireInterprocessLock(m.path)
	if err != nil {
		m.registry.mu.Unlock()

		return err
	}

	m.ipLock = lk

	return nil
}

// Unlock releases what Lock acquired.
func (m *Manager) Unlock() {
	if m.ipLock != nil {
		_ = m.ipLock.Close()
		m.ipLock = nil
	}

	m.registry.mu.Unlock()
}

// RLock guards m.data itself against Grow, which Munmaps the old
// backing array and replaces m.data with a fresh mapping. It is
// independent of Lock/Unlock above (those coordinate whole-collection
// access across handles and processes; this only protects the mapping's
// address from moving underneath an in-flight read or write).
//
// Containers whose operations each already hold Lock/Unlock for their
// full duration (List, Queue) need nothing further, since Grow can then
// only run inside that same exclusive section. Containers with per-bucket
// locking or reads outside Lock (Set, Map, Stack) must hold RLock for as
// long as they retain any []byte view obtained via At or Deallocate.
//
// RLock must never be held across a call to Allocate: Allocate may
// itself invoke Grow, which takes this same mutex in write mode, and a
// goroutine holding the read lock would deadlock waiting on its own
// call. Callers that allocate release RLock (if held) before calling
// Allocate and re-acquire a fresh one afterward, re-deriving any slice
// via At rather than reusing one obtained before the call.
func (m *Manager) RLock() { m.mu.RLock() }

// RUnlock releases what RLock acquired.
func (m *Manager) RUnlock() { m.mu.RUnlock() }

// Open opens an existing mapped file, or creates one with initialBytes if
// createNew is true or the file is absent.
func Open(path string, initialBytes uint64, createNew bool) (*Manager, error) {
	if !Is64Bit || !isLittleEndian {
		return nil, fmt.Errorf("store requires a 64-bit little-endian host: %w", ErrIncompatible)
	}

	if initialBytes == 0 {
		initialBytes = initialFileBytes
	}

	flags := os.O_RDWR
	existed := true

	if _, err := defaultFS.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}

		existed = false
	}

	if !existed || createNew {
		flags |= os.O_CREATE
	}

	f, err := defaultFS.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}

	size := uint64(info.Size())
	mustInit := !existed || createNew || size == 0

	if mustInit {
		size = align64(initialBytes)
		if err := truncateToSize(f, int64(size)); err != nil {
			return nil, fmt.Errorf("truncate %s: %w", path, err)
		}
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}

	// Re-open our own fd so the Manager owns an independent descriptor
	// that outlives the deferred Close above (the mapping itself keeps
	// no reference to the original fd once established).
	ownFd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		_ = unix.Munmap(data)

		return nil, fmt.Errorf("reopen %s: %w", path, err)
	}

	identity, err := getFileIdentity(ownFd)
	if err != nil {
		_ = unix.Munmap(data)
		_ = unix.Close(ownFd)

		return nil, err
	}

	m := &Manager{
		path:     path,
		fd:       ownFd,
		data:     data,
		identity: identity,
		registry: acquireRegistryEntry(identity),
	}

	if mustInit {
		if err := m.initHeader(size); err != nil {
			releaseRegistryEntry(identity)
			_ = unix.Munmap(data)
			_ = unix.Close(ownFd)

			return nil, err
		}

		return m, nil
	}

	if err := m.validateHeader(size); err != nil {
		releaseRegistryEntry(identity)
		_ = unix.Munmap(data)
		_ = unix.Close(ownFd)

		return nil, err
	}

	return m, nil
}

// truncateToSize truncates file to size. fs.File doesn't expose Truncate
// directly (os.File is the only realistic implementation that needs it),
// so this asserts down to *os.File rather than widen the interface for
// one caller.
func truncateToSize(file fs.File, size int64) error {
	osFile, ok := file.(*os.File)
	if !ok {
		return errors.New("truncate: not an *os.File")
	}

	if err := osFile.Truncate(size); err != nil {
		return fmt.Errorf("truncate: %w", err)
	}

	return nil
}

// initHeader writes a fresh ManagerHeader into a newly truncated file.
func (m *Manager) initHeader(fileSize uint64) error {
	now := time.Now().UnixNano()

	buf := m.data
	copy(buf[offMgrMagic:], mgrMagic[:])
	putU32(buf, offMgrVersion, mgrVersion)
	putU32(buf, offMgrHeaderSize, mgrHeaderSize)
	putI64(buf, offMgrCreatedAt, now)
	storeI64(buf, offMgrModifiedAt, now)
	storeU64(buf, offMgrFileSize, fileSize)

	dirOffset := uint64(mgrHeaderSize)
	heapOffset := dirOffset + uint64(DirectoryCapacity)*direntrySize

	putU64(buf, offMgrDirectoryOffset, dirOffset)
	putU32(buf, offMgrDirectoryCap, DirectoryCapacity)
	putU32(buf, offMgrDirectoryCount, 0)

	putU64(buf, offMgrHeapOffset, heapOffset)
	storeU64(buf, offMgrHeapHighwater, heapOffset)
	storeU64(buf, offMgrHeapUsed, 0)

	for class := 0; class < freeListClasses; class++ {
		storeU64(buf, freeListHeadOffset(class), sentinelOffset)
	}

	crc := headerCRC32C(buf[:mgrHeaderSize])
	putU32(buf, offMgrCRC32, crc)

	return nil
}

// validateHeader checks magic/version/CRC on an existing file.
func (m *Manager) validateHeader(fileSize uint64) error {
	buf := m.data

	if uint64(len(buf)) < uint64(mgrHeaderSize) {
		return fmt.Errorf("file too small for header: %w", ErrCorrupt)
	}

	if [4]byte(buf[offMgrMagic:offMgrMagic+4]) != mgrMagic {
		return fmt.Errorf("bad magic: %w", ErrCorrupt)
	}

	if getU32(buf, offMgrVersion) != mgrVersion {
		return fmt.Errorf("unsupported version %d: %w", getU32(buf, offMgrVersion), ErrIncompatible)
	}

	storedCRC := getU32(buf, offMgrCRC32)
	if headerCRC32C(buf[:mgrHeaderSize]) != storedCRC {
		return fmt.Errorf("header checksum mismatch: %w", ErrCorrupt)
	}

	storeU64(buf, offMgrFileSize, fileSize)

	return nil
}

// Grow resizes the backing file by at least additionalBytes and remaps
// it. Any raw byte-slice view obtained before Grow is invalidated; only
// offsets remain valid. Callers must re-derive slices via Manager.At /
// region accessors afterward.
func (m *Manager) Grow(additionalBytes uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	oldSize := uint64(len(m.data))
	newSize := align64(oldSize + additionalBytes)

	if err := unix.Ftruncate(m.fd, int64(newSize)); err != nil {
		return fmt.Errorf("ftruncate: %w", err)
	}

	if err := unix.Munmap(m.data); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}

	data, err := unix.Mmap(m.fd, 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remap: %w", err)
	}

	m.data = data
	storeU64(m.data, offMgrFileSize, newSize)

	return nil
}

// Flush synchronously persists the mapping to disk.
func (m *Manager) Flush() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}

	return unix.Msync(m.data, unix.MS_SYNC)
}

// Size returns the current total file size in bytes.
func (m *Manager) Size() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return loadU64(m.data, offMgrFileSize)
}

// Path returns the filesystem path the manager was opened with.
func (m *Manager) Path() string { return m.path }

// CreatedAt / ModifiedAt return header timestamps (unix nanoseconds).
func (m *Manager) CreatedAt() int64 { return getI64(m.data, offMgrCreatedAt) }
func (m *Manager) ModifiedAt() int64 { return loadI64(m.data, offMgrModifiedAt) }

// Touch updates ModifiedAt to now. The containers do not call it; they
// record their modification time in their own collection header
// (HeaderTouch) instead.
func (m *Manager) Touch() {
	storeI64(m.data, offMgrModifiedAt, time.Now().UnixNano())
}

// HeapUsed returns bytes currently allocated from the heap.
func (m *Manager) HeapUsed() uint64 { return loadU64(m.data, offMgrHeapUsed) }

// Close unmaps and closes the underlying file descriptor. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true

	var err error
	if m.data != nil {
		err = unix.Munmap(m.data)
		m.data = nil
	}

	if m.fd >= 0 {
		if cerr := unix.Close(m.fd); cerr != nil && err == nil {
			err = cerr
		}

		m.fd = -1
	}

	releaseRegistryEntry(m.identity)

	return err
}

// Fd returns the OS file descriptor backing the mapping, for use by the
// interprocess lock machinery (see lock.go).
func (m *Manager) Fd() int { return m.fd }
