package store

import "time"

// InitCollectionHeader stamps the shared Collection-header prefix into
// buf: magic, version, timestamps, size=0, and the container kind tag.
// Callers must size buf for their concrete variant (ListHeaderSize,
// DequeHeaderSize, or HashHeaderSize) before calling.
func InitCollectionHeader(buf []byte, kind uint32) {
	now := time.Now().UnixNano()

	putU32(buf, offCHMagic, CollectionMagic)
	putU32(buf, offCHVersion, CollectionVersion)
	putI64(buf, offCHCreatedAt, now)
	storeI64(buf, offCHModifiedAt, now)
	storeU64(buf, offCHSize, 0)
	putU32(buf, offCHKind, kind)
}

// ValidateCollectionHeader checks magic/version/kind on an existing
// header region.
func ValidateCollectionHeader(buf []byte, wantKind uint32) error {
	if getU32(buf, offCHMagic) != CollectionMagic {
		return ErrCorrupt
	}

	if getU32(buf, offCHVersion) != CollectionVersion {
		return ErrIncompatible
	}

	if getU32(buf, offCHKind) != wantKind {
		return ErrIncompatible
	}

	return nil
}

func HeaderCreatedAt(buf []byte) int64  { return getI64(buf, offCHCreatedAt) }
func HeaderModifiedAt(buf []byte) int64 { return loadI64(buf, offCHModifiedAt) }
func HeaderTouch(buf []byte)            { storeI64(buf, offCHModifiedAt, time.Now().UnixNano()) }

func HeaderSize(buf []byte) uint64        { return loadU64(buf, offCHSize) }
func StoreHeaderSize(buf []byte, v uint64) { storeU64(buf, offCHSize, v) }
func HeaderSizeAdd(buf []byte, delta int64) uint64 {
	if delta >= 0 {
		return addU64(buf, offCHSize, uint64(delta))
	}

	return addU64(buf, offCHSize, ^(uint64(-delta) - 1))
}

// --- List-header ---

func ListHead(buf []byte) int64      { return loadI64(buf, offListHead) }
func ListTail(buf []byte) int64      { return loadI64(buf, offListTail) }
func SetListHead(buf []byte, v int64) { storeI64(buf, offListHead, v) }
func SetListTail(buf []byte, v int64) { storeI64(buf, offListTail, v) }
func CasListHead(buf []byte, old, new int64) bool { return casI64(buf, offListHead, old, new) }
func CasListTail(buf []byte, old, new int64) bool { return casI64(buf, offListTail, old, new) }

// InitListHeader initializes a List-header with empty head/tail.
func InitListHeader(buf []byte) {
	InitCollectionHeader(buf, KindList)
	SetListHead(buf, sentinelInt)
	SetListTail(buf, sentinelInt)
}

// --- Deque-header (Queue, Stack) ---

func DequeFront(buf []byte) int64       { return loadI64(buf, offDequeFront) }
func DequeBack(buf []byte) int64        { return loadI64(buf, offDequeBack) }
func SetDequeFront(buf []byte, v int64) { storeI64(buf, offDequeFront, v) }
func SetDequeBack(buf []byte, v int64)  { storeI64(buf, offDequeBack, v) }
func CasDequeFront(buf []byte, old, new int64) bool { return casI64(buf, offDequeFront, old, new) }
func CasDequeBack(buf []byte, old, new int64) bool  { return casI64(buf, offDequeBack, old, new) }

// InitDequeHeader initializes a Deque-header with empty front/back.
func InitDequeHeader(buf []byte, kind uint32) {
	InitCollectionHeader(buf, kind)
	SetDequeFront(buf, sentinelInt)
	SetDequeBack(buf, sentinelInt)
}

// --- Hash-header (Set, Map) ---

func HashBucketCount(buf []byte) uint64      { return getU64(buf, offHashBucketCount) }
func HashLoadFactorPct(buf []byte) uint32    { return getU32(buf, offHashLoadFactorPct) }
func HashTotalBytes(buf []byte) uint64       { return loadU64(buf, offHashTotalBytes) }
func HashTotalBytesAdd(buf []byte, d int64) uint64 {
	if d >= 0 {
		return addU64(buf, offHashTotalBytes, uint64(d))
	}

	return addU64(buf, offHashTotalBytes, ^(uint64(-d) - 1))
}

// InitHashHeader initializes a Hash-header for a hash container with the
// given bucket count (must already be a power of two; see
// ComputeBucketCount).
func InitHashHeader(buf []byte, kind, bucketCount uint64) {
	InitCollectionHeader(buf, uint32(kind))
	putU64(buf, offHashBucketCount, bucketCount)
	putU32(buf, offHashLoadFactorPct, 50)
	storeU64(buf, offHashTotalBytes, 0)
}

// sentinelInt is the -1 null-link sentinel used by every offset field.
const sentinelInt int64 = -1

// --- Bucket array ---

func BucketHead(buf []byte, idx uint64) int64 {
	off := int(idx)*BucketSize + offBucketHead

	return loadI64(buf, off)
}

func CasBucketHead(buf []byte, idx uint64, old, new int64) bool {
	off := int(idx)*BucketSize + offBucketHead

	return casI64(buf, off, old, new)
}

func SetBucketHead(buf []byte, idx uint64, v int64) {
	off := int(idx)*BucketSize + offBucketHead
	storeI64(buf, off, v)
}

func BucketCount(buf []byte, idx uint64) uint32 {
	off := int(idx)*BucketSize + offBucketCount

	return loadU32(buf, off)
}

func BucketCountAdd(buf []byte, idx uint64, delta int32) uint32 {
	off := int(idx)*BucketSize + offBucketCount

	return addU32(buf, off, delta)
}

// InitBuckets sets every bucket's head to the null sentinel. buf must be
// exactly bucketCount*BucketSize bytes.
func InitBuckets(buf []byte, bucketCount uint64) {
	for i := uint64(0); i < bucketCount; i++ {
		SetBucketHead(buf, i, sentinelInt)
	}
}

// ComputeBucketCount returns nextPow2(max(hint, 2)); with no hint
// it defaults to a 16384-bucket table.
func ComputeBucketCount(hint uint64) uint64 {
	if hint == 0 {
		hint = 16384
	}

	needed := hint
	if needed < 2 {
		needed = 2
	}

	return nextPow2(needed)
}

func nextPow2(v uint64) uint64 {
	if v == 0 {
		return 1
	}

	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32

	return v + 1
}
