// Package store implements the shared-memory storage substrate underneath
// the five FastCollection container types: a memory-mapped file manager
// with a typed named-region directory and a free-list heap, plus the
// Entry-header/Node/KeyValue record encoding shared by every container.
package store

import (
	"encoding/binary"
	"hash/crc32"
	"hash/fnv"
	"sync/atomic"
	"unsafe"
)

// isLittleEndian reports whether the host CPU is little-endian. The on-disk
// format is fixed little-endian; atomic word ops rely on native byte order
// matching it.
var isLittleEndian = func() bool {
	var x uint32 = 0x01020304

	return *(*byte)(unsafe.Pointer(&x)) == 0x04
}()

// Is64Bit reports whether the host has 64-bit pointers, required for the
// atomic 64-bit offset and generation operations the containers rely on.
var Is64Bit = unsafe.Sizeof(uintptr(0)) >= 8

// ManagerHeader layout. All fields are little-endian. Sized generously
// (512 bytes) so the directory and heap start on a round boundary.
const (
	offMgrMagic            = 0x000 // [4]byte
	offMgrVersion          = 0x004 // uint32
	offMgrHeaderSize       = 0x008 // uint32
	offMgrCreatedAt        = 0x010 // int64
	offMgrModifiedAt       = 0x018 // int64 (atomic)
	offMgrFileSize         = 0x020 // uint64 (atomic)
	offMgrHeapOffset       = 0x028 // uint64
	offMgrHeapHighwater    = 0x030 // uint64 (atomic)
	offMgrHeapUsed         = 0x038 // uint64 (atomic)
	offMgrDirectoryOffset  = 0x040 // uint64
	offMgrDirectoryCap     = 0x048 // uint32
	offMgrDirectoryCount   = 0x04C // uint32
	offMgrCRC32            = 0x050 // uint32
	offMgrReserved         = 0x054
	offMgrFreeListHeads    = 0x060 // [freeListClasses]uint64 (atomic)
	mgrHeaderSize   uint32 = 512
)

// Magic bytes stored at offMgrMagic, spelling "FCS1" (FastCollection Store v1).
var mgrMagic = [4]byte{'F', 'C', 'S', '1'}

const mgrVersion uint32 = 1

// DirectoryEntry layout: fixed-capacity array of named regions immediately
// following the ManagerHeader.
const (
	direntrySize        = 64
	direntryNameLen     = 32
	direntryOffName     = 0
	direntryOffKind     = 32 // uint32
	direntryOffElemSize = 36 // uint32
	direntryOffCount    = 40 // uint32
	direntryOffPad      = 44
	direntryOffOffset   = 48 // uint64
	direntryOffSize     = 56 // uint64

	// DirectoryCapacity is the fixed maximum number of named regions per
	// file. Each container uses at most two (header, buckets), so this is
	// generous headroom.
	DirectoryCapacity uint32 = 8
)

// Region kinds recorded in a directory entry.
const (
	RegionKindBytes uint32 = 0
	RegionKindArray uint32 = 1
)

// freeListClasses is the number of power-of-two size classes the heap
// allocator maintains free lists for. Class i covers block sizes in
// [2^(i+6), 2^(i+7)-1], i.e. a minimum block of 64 bytes.
const freeListClasses = 48

// sentinelOffset marks an empty link (free-list head, prev/next pointer).
const sentinelOffset = ^uint64(0)

// Collection-header (List/Deque/Hash) shared prefix. Every concrete
// container header begins with this prefix; container-specific fields
// follow immediately after offCHExtra.
const (
	offCHMagic      = 0x00 // uint32 = 0xFAC01EC0
	offCHVersion    = 0x04 // uint32 = 1
	offCHCreatedAt  = 0x08 // int64
	offCHModifiedAt = 0x10 // int64 (atomic)
	offCHSize       = 0x18 // uint64 (atomic)
	offCHKind       = 0x20 // uint32
	offCHPad        = 0x24
	offCHExtra      = 0x28

	// CollectionMagic is shared by every collection header variant.
	CollectionMagic   uint32 = 0xFAC01EC0
	CollectionVersion uint32 = 1
)

// Collection kinds recorded at offCHKind, for diagnostics and Open-time
// sanity checks (the directory entry's name already disambiguates usage).
const (
	KindList  uint32 = 1
	KindSet   uint32 = 2
	KindMap   uint32 = 3
	KindQueue uint32 = 4
	KindStack uint32 = 5
)

// ListHeader extra fields (after the shared prefix).
const (
	ListHeaderSize        = offCHExtra + 16
	offListHead           = offCHExtra + 0 // int64 (atomic)
	offListTail           = offCHExtra + 8 // int64 (atomic)
)

// DequeHeader extra fields, shared by Queue and Stack.
const (
	DequeHeaderSize = offCHExtra + 16
	offDequeFront   = offCHExtra + 0 // int64 (atomic)
	offDequeBack    = offCHExtra + 8 // int64 (atomic)
)

// HashHeader extra fields, shared by Set and Map.
const (
	HashHeaderSize        = offCHExtra + 24
	offHashBucketCount    = offCHExtra + 0  // uint64
	offHashLoadFactorPct  = offCHExtra + 8  // uint32
	offHashPad            = offCHExtra + 12 // uint32
	offHashTotalBytes     = offCHExtra + 16 // uint64 (atomic)
)

// Bucket layout: head offset + live count. The mutex protecting writers is
// an in-process, per-handle construct (see store.BucketLocks); it has no
// on-disk representation because Go offers no portable process-shared
// mutex over mmap'd memory.
const (
	BucketSize        = 16
	offBucketHead     = 0 // int64 (atomic)
	offBucketCount    = 8 // uint32 (atomic)
	offBucketPad      = 12
)

// Entry-header layout (64 bytes, cache-line aligned). Shared by every
// payload-bearing record (Node, KeyValue).
const (
	EntryHeaderSize = 64

	offEntryState     = 0x00 // uint32 (atomic)
	offEntryDataSize  = 0x04 // uint32
	offEntryHashCode  = 0x08 // uint32
	offEntryPad       = 0x0C
	offEntryTTL       = 0x10 // int64
	offEntryCreatedAt = 0x18 // int64
	offEntryExpiresAt = 0x20 // int64
	offEntryVersion   = 0x28 // uint64 (atomic, also the ABA generation tag)
	// 0x30..0x40 reserved, must stay zero.
)

// Entry states.
const (
	StateEmpty   uint32 = 0
	StateWriting uint32 = 1
	StateValid   uint32 = 2
	StateDeleted uint32 = 3
	StateExpired uint32 = 4
)

// Node extra fields (after the Entry-header).
const (
	offNodePrev    = EntryHeaderSize + 0 // int64 (atomic)
	offNodeNext    = EntryHeaderSize + 8 // int64 (atomic)
	NodeFixedSize  = EntryHeaderSize + 16
)

// KeyValue extra fields (after the Entry-header).
const (
	offKVPrev      = EntryHeaderSize + 0  // int64 (atomic)
	offKVNext      = EntryHeaderSize + 8  // int64 (atomic)
	offKVKeySize   = EntryHeaderSize + 16 // uint32
	offKVValueSize = EntryHeaderSize + 20 // uint32
	KVFixedSize    = EntryHeaderSize + 24
)

// TTLInfinite is the sentinel TTL meaning "never expires".
const TTLInfinite int64 = -1

// align8 rounds x up to the next multiple of 8.
func align8(x uint64) uint64 { return (x + 7) &^ 7 }

// align64 rounds x up to the next multiple of 64.
func align64(x uint64) uint64 { return (x + 63) &^ 63 }

// fnv1a32 computes the 32-bit FNV-1a hash over b, used to populate an
// Entry-header's hash_code field.
func fnv1a32(b []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(b)

	return h.Sum32()
}

// HashBytes exposes fnv1a32 to callers outside the package: every
// container hashes its key-equivalent payload the same way, for the
// Entry-header's hash_code pre-filter.
func HashBytes(b []byte) uint32 { return fnv1a32(b) }

// headerCRC32C computes CRC32-C over buf with the CRC field itself (at
// offMgrCRC32, 4 bytes) and every field that changes after the header is
// initialized (modified_at, file_size, heap highwater and used bytes,
// directory count, free-list heads) treated as zero.
func headerCRC32C(buf []byte) uint32 {
	tmp := make([]byte, len(buf))
	copy(tmp, buf)

	for _, r := range [][2]int{
		{offMgrModifiedAt, offMgrHeapOffset},
		{offMgrHeapHighwater, offMgrDirectoryOffset},
		{offMgrDirectoryCount, offMgrCRC32 + 4},
		{offMgrFreeListHeads, offMgrFreeListHeads + freeListClasses*8},
	} {
		for i := r[0]; i < r[1]; i++ {
			tmp[i] = 0
		}
	}

	return crc32.Checksum(tmp, crc32.MakeTable(crc32.Castagnoli))
}

// --- atomic helpers over raw mmap'd byte slices ---
//
// Go's sync/atomic requires 8-byte alignment on the target address, which the
// fixed little-endian file layout guarantees by construction (every
// atomic field sits at an 8-byte-aligned offset).

func loadU32(buf []byte, off int) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(&buf[off])))
}

func storeU32(buf []byte, off int, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(&buf[off])), v)
}

func casU32(buf []byte, off int, old, new uint32) bool {
	return atomic.CompareAndSwapUint32((*uint32)(unsafe.Pointer(&buf[off])), old, new)
}

func addU32(buf []byte, off int, delta int32) uint32 {
	return atomic.AddUint32((*uint32)(unsafe.Pointer(&buf[off])), uint32(delta))
}

func loadU64(buf []byte, off int) uint64 {
	return atomic.LoadUint64((*uint64)(unsafe.Pointer(&buf[off])))
}

func storeU64(buf []byte, off int, v uint64) {
	atomic.StoreUint64((*uint64)(unsafe.Pointer(&buf[off])), v)
}

func addU64(buf []byte, off int, delta uint64) uint64 {
	return atomic.AddUint64((*uint64)(unsafe.Pointer(&buf[off])), delta)
}

func casU64(buf []byte, off int, old, new uint64) bool {
	return atomic.CompareAndSwapUint64((*uint64)(unsafe.Pointer(&buf[off])), old, new)
}

func loadI64(buf []byte, off int) int64 {
	return atomic.LoadInt64((*int64)(unsafe.Pointer(&buf[off])))
}

func storeI64(buf []byte, off int, v int64) {
	atomic.StoreInt64((*int64)(unsafe.Pointer(&buf[off])), v)
}

func casI64(buf []byte, off int, old, new int64) bool {
	return atomic.CompareAndSwapInt64((*int64)(unsafe.Pointer(&buf[off])), old, new)
}

// plain (non-atomic) little-endian accessors, used for fields only ever
// touched while the caller already holds the appropriate lock.

func getU32(buf []byte, off int) uint32 { return binary.LittleEndian.Uint32(buf[off:]) }
func putU32(buf []byte, off int, v uint32) { binary.LittleEndian.PutUint32(buf[off:], v) }
func getU64(buf []byte, off int) uint64 { return binary.LittleEndian.Uint64(buf[off:]) }
func putU64(buf []byte, off int, v uint64) { binary.LittleEndian.PutUint64(buf[off:], v) }

func getI64(buf []byte, off int) int64 { return int64(binary.LittleEndian.Uint64(buf[off:])) }
func putI64(buf []byte, off int, v int64) { binary.LittleEndian.PutUint64(buf[off:], uint64(v)) }
